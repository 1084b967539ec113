package radio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAddress indicates a string that is not a 64-bit hex address.
var ErrInvalidAddress = errors.New("invalid radio address")

// FormatAddress renders a 64-bit address as 16 hex digits.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("%016X", addr)
}

// ParseAddress parses a hex address such as "0013A20040A1B2C3".
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" || len(s) > 16 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

// SetAddressHalf merges a 32-bit SH or SL register value into addr.
func SetAddressHalf(addr uint64, at string, value []byte) uint64 {
	var half uint64
	for _, b := range value {
		half = half<<8 | uint64(b)
	}
	half &= 0xFFFFFFFF
	switch at {
	case "SH":
		return addr&0x00000000FFFFFFFF | half<<32
	case "SL":
		return addr&0xFFFFFFFF00000000 | half
	default:
		return addr
	}
}
