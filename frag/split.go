package frag

import (
	"fmt"
	"hash/crc32"
	"iter"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/limits"
)

// Sequence is the ordered set of fragments of one payload. Fragments are
// produced on demand and the sequence can be walked any number of times.
type Sequence struct {
	codec     Codec
	payload   []byte
	threshold int
	count     int
	crc       uint32
}

// Split cuts payload into chunks of at most threshold bytes.
//
// The fragment count is ceil(len/threshold); an empty payload still yields
// one empty fragment so the receiver sees a terminal fragment. Split fails
// with ErrPayloadTooLarge when the count exceeds the codec's maximum.
func (c Codec) Split(payload []byte, threshold int) (*Sequence, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}

	count := (len(payload) + threshold - 1) / threshold
	if count == 0 {
		count = 1
	}
	if err := limits.ValidateFragmentCount(count, c.maxFragments); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadTooLarge, err)
	}

	seq := &Sequence{
		codec:     c,
		payload:   payload,
		threshold: threshold,
		count:     count,
		crc:       crc32.ChecksumIEEE(payload),
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Split",
		"codec":     c.name,
		"size":      len(payload),
		"threshold": threshold,
		"fragments": count,
	}).Debug("Split payload into fragments")

	return seq, nil
}

// Len returns the number of fragments.
func (s *Sequence) Len() int { return s.count }

// CRC returns the crc32 of the whole payload.
func (s *Sequence) CRC() uint32 { return s.crc }

// LastIndex returns the zero-based index of the terminal fragment.
func (s *Sequence) LastIndex() uint16 { return uint16(s.count - 1) }

// At returns fragment i. It panics if i is out of range.
func (s *Sequence) At(i int) Fragment {
	if i < 0 || i >= s.count {
		panic(fmt.Sprintf("frag: index %d out of range [0,%d)", i, s.count))
	}
	start := i * s.threshold
	end := min(start+s.threshold, len(s.payload))
	return Fragment{
		Total: s.LastIndex(),
		Index: uint16(i),
		CRC:   s.crc,
		Data:  s.payload[start:end],
	}
}

// All yields every fragment in index order.
func (s *Sequence) All() iter.Seq2[int, Fragment] {
	return func(yield func(int, Fragment) bool) {
		for i := 0; i < s.count; i++ {
			if !yield(i, s.At(i)) {
				return
			}
		}
	}
}

// Encoded yields every fragment in index order, already marshaled.
func (s *Sequence) Encoded() iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		for i, f := range s.All() {
			if !yield(i, s.codec.encode(f)) {
				return
			}
		}
	}
}
