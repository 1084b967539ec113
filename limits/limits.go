// Package limits provides centralized size limits for the radio link.
// This ensures consistent validation across framing, fragmentation and transfer code.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxAPIFrameData is the largest frame data an API frame can carry.
	// The length field on the wire is a 16-bit big-endian integer.
	MaxAPIFrameData = 0xFFFF

	// MaxWideFragments is the fragment count ceiling of the wide codec.
	// Indices are carried in 16 bits.
	MaxWideFragments = 1 << 16

	// MaxNarrowFragments is the fragment count ceiling of the legacy codec.
	// Index and total share a single header byte, 4 bits each.
	MaxNarrowFragments = 1 << 4

	// DefaultChunkSize is the size of one xTP transfer unit (6 KiB).
	DefaultChunkSize = 6 * 1024

	// HashPrefixSize is how many leading bytes of a file the verification hash covers.
	HashPrefixSize = 6 * 1024

	// MaxRemotePath is the maximum length of a remote file path in bytes.
	// Paths travel inside a single radio frame.
	MaxRemotePath = 200

	// MaxProcessingBuffer is the absolute maximum for any reassembled payload.
	// This prevents memory exhaustion from a peer announcing huge messages (4MB limit)
	MaxProcessingBuffer = 4 * 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrTooManyFragments indicates a payload needs more fragments than a codec can number
	ErrTooManyFragments = errors.New("too many fragments")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFrameData validates API frame data against MaxAPIFrameData.
func ValidateFrameData(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxAPIFrameData {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxAPIFrameData)
	}
	return nil
}

// ValidateFragmentCount checks that count fragments fit a codec numbering at most maxCount.
func ValidateFragmentCount(count, maxCount int) error {
	if count > maxCount {
		return fmt.Errorf("%w: count %d exceeds limit %d", ErrTooManyFragments, count, maxCount)
	}
	return nil
}

// ValidateRemotePath validates the encoded length of a remote path.
func ValidateRemotePath(path string) error {
	if len(path) == 0 {
		return ErrMessageEmpty
	}
	if len(path) > MaxRemotePath {
		return fmt.Errorf("%w: path length %d exceeds limit %d", ErrMessageTooLarge, len(path), MaxRemotePath)
	}
	return nil
}

// ValidateProcessingBuffer validates data against the absolute maximum (MaxProcessingBuffer).
// Returns an error with context if the data is empty or exceeds the limit.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}
