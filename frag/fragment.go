package frag

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/radiolink/limits"
)

var (
	// ErrChecksum indicates a reassembled payload did not match its crc32.
	ErrChecksum = errors.New("fragment checksum mismatch")

	// ErrPayloadTooLarge indicates a payload needs more fragments than the codec can number.
	ErrPayloadTooLarge = errors.New("payload too large for fragment codec")

	// ErrBadMagic indicates the first byte is not this codec's magic value.
	ErrBadMagic = errors.New("bad fragment magic")

	// ErrShortFragment indicates a fragment shorter than the codec header.
	ErrShortFragment = errors.New("fragment shorter than header")

	// ErrMissingFragment indicates the terminal fragment arrived while earlier indices are absent.
	ErrMissingFragment = errors.New("missing fragment")

	// ErrInvalidThreshold indicates a split threshold that cannot hold any data.
	ErrInvalidThreshold = errors.New("invalid fragment threshold")

	// ErrIndexOutOfRange indicates a fragment index or total the codec cannot encode.
	ErrIndexOutOfRange = errors.New("fragment index out of range")
)

const (
	wideMagic   = 0x17
	narrowMagic = 0x15
)

// Fragment is one numbered piece of a payload.
type Fragment struct {
	// Total is the zero-based index of the last fragment of the message.
	Total uint16
	Index uint16
	// CRC is the crc32 of the whole payload, identical in every fragment.
	CRC  uint32
	Data []byte
}

// Terminal reports whether this is the last fragment of its message.
func (f Fragment) Terminal() bool {
	return f.Index == f.Total
}

// Codec is a fragment wire format.
type Codec struct {
	name         string
	magic        byte
	headerSize   int
	maxFragments int
}

// Wide is the default codec, numbering up to 65536 fragments.
var Wide = Codec{name: "wide", magic: wideMagic, headerSize: 9, maxFragments: limits.MaxWideFragments}

// Narrow is the legacy codec for very small MTUs, numbering up to 16 fragments.
var Narrow = Codec{name: "narrow", magic: narrowMagic, headerSize: 6, maxFragments: limits.MaxNarrowFragments}

// Name returns the codec name.
func (c Codec) Name() string { return c.name }

// HeaderSize returns the per-fragment overhead in bytes.
func (c Codec) HeaderSize() int { return c.headerSize }

// MaxFragments returns the largest fragment count the codec can carry.
func (c Codec) MaxFragments() int { return c.maxFragments }

// Magic returns the leading byte identifying the codec on the wire.
func (c Codec) Magic() byte { return c.magic }

// Marshal encodes a fragment, rejecting indices the codec cannot represent.
func (c Codec) Marshal(f Fragment) ([]byte, error) {
	if int(f.Total) >= c.maxFragments || f.Index > f.Total {
		return nil, fmt.Errorf("%w: index %d total %d (%s codec)", ErrIndexOutOfRange, f.Index, f.Total, c.name)
	}
	return c.encode(f), nil
}

func (c Codec) encode(f Fragment) []byte {
	buf := make([]byte, c.headerSize+len(f.Data))
	buf[0] = c.magic
	switch c.magic {
	case narrowMagic:
		buf[1] = byte(f.Total<<4) | byte(f.Index&0x0f)
		binary.BigEndian.PutUint32(buf[2:6], f.CRC)
	default:
		binary.BigEndian.PutUint16(buf[1:3], f.Total)
		binary.BigEndian.PutUint16(buf[3:5], f.Index)
		binary.BigEndian.PutUint32(buf[5:9], f.CRC)
	}
	copy(buf[c.headerSize:], f.Data)
	return buf
}

// Unmarshal decodes one fragment. The returned Data aliases b.
func (c Codec) Unmarshal(b []byte) (Fragment, error) {
	if len(b) == 0 {
		return Fragment{}, fmt.Errorf("%w: empty", ErrShortFragment)
	}
	// Magic first, so a fragment of the other variant is reported as such
	// even when it is shorter than this header.
	if b[0] != c.magic {
		return Fragment{}, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrBadMagic, b[0], c.magic)
	}
	if len(b) < c.headerSize {
		return Fragment{}, fmt.Errorf("%w: %d bytes", ErrShortFragment, len(b))
	}
	var f Fragment
	switch c.magic {
	case narrowMagic:
		f.Total = uint16(b[1] >> 4)
		f.Index = uint16(b[1] & 0x0f)
		f.CRC = binary.BigEndian.Uint32(b[2:6])
	default:
		f.Total = binary.BigEndian.Uint16(b[1:3])
		f.Index = binary.BigEndian.Uint16(b[3:5])
		f.CRC = binary.BigEndian.Uint32(b[5:9])
	}
	if f.Index > f.Total {
		return Fragment{}, fmt.Errorf("%w: index %d beyond total %d", ErrIndexOutOfRange, f.Index, f.Total)
	}
	f.Data = b[c.headerSize:]
	return f, nil
}
