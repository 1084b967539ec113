// Package limits provides centralized size constants and validation functions
// for the radio link. Framing, fragmentation and file transfer code share these
// values so that every layer agrees on what fits where.
//
// # Size Hierarchy
//
//   - MaxAPIFrameData (65535 bytes): the largest frame data the modem's API
//     framing can describe with its 16-bit length field.
//
//   - MaxWideFragments / MaxNarrowFragments: how many fragments each fragment
//     codec can number. Payloads that would need more are rejected up front.
//
//   - DefaultChunkSize and HashPrefixSize (6 KiB): the xTP transfer unit and
//     the number of leading file bytes covered by the verification hash.
//
//   - MaxProcessingBuffer (4MB): the absolute maximum for a reassembled
//     payload.
//
// # Validation Functions
//
//	err := limits.ValidateFragmentCount(n, limits.MaxNarrowFragments)
//	if errors.Is(err, limits.ErrTooManyFragments) {
//	    // payload must be split with the wide codec
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
