package frag

import (
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/limits"
)

// Buffer collects the fragments of one in-flight message.
//
// A later message that reuses an index overwrites the stale entry; only
// fragments carrying the terminal fragment's crc count toward reassembly.
type Buffer struct {
	mu       sync.Mutex
	frags    map[uint16]Fragment
	terminal *Fragment
}

// NewBuffer creates an empty reassembly buffer.
func NewBuffer() *Buffer {
	return &Buffer{frags: make(map[uint16]Fragment)}
}

// Receive stores f and attempts reassembly once the terminal fragment has
// been seen. It returns the payload when the message is complete and nil
// while fragments are still outstanding.
//
// When the terminal fragment arrives with earlier indices absent, Receive
// returns an error wrapping ErrMissingFragment. The stored fragments are
// kept, so a late arrival can still complete the message.
func (b *Buffer) Receive(f Fragment) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.terminal != nil && f.CRC != b.terminal.CRC {
		// A different message started before the previous one completed.
		logrus.WithFields(logrus.Fields{
			"function": "Buffer.Receive",
			"old_crc":  b.terminal.CRC,
			"new_crc":  f.CRC,
		}).Debug("Discarding incomplete message")
		b.reset()
	}

	stored := f
	stored.Data = append([]byte(nil), f.Data...)
	b.frags[f.Index] = stored

	if f.Terminal() {
		term := stored
		b.terminal = &term
	}
	if b.terminal == nil {
		return nil, nil
	}

	missing, ok := b.firstMissing()
	if !ok {
		if f.Terminal() {
			return nil, fmt.Errorf("%w: index %d of %d", ErrMissingFragment, missing, int(b.terminal.Total)+1)
		}
		return nil, nil
	}
	return b.assemble()
}

// Pending returns the number of stored fragments.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frags)
}

// Reset discards all stored fragments.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Buffer) reset() {
	b.frags = make(map[uint16]Fragment)
	b.terminal = nil
}

func (b *Buffer) firstMissing() (uint16, bool) {
	for i := 0; i <= int(b.terminal.Total); i++ {
		got, ok := b.frags[uint16(i)]
		if !ok || got.CRC != b.terminal.CRC || got.Total != b.terminal.Total {
			return uint16(i), false
		}
	}
	return 0, true
}

func (b *Buffer) assemble() ([]byte, error) {
	defer b.reset()

	size := 0
	for i := 0; i <= int(b.terminal.Total); i++ {
		size += len(b.frags[uint16(i)].Data)
	}
	if size > limits.MaxProcessingBuffer {
		return nil, fmt.Errorf("%w: reassembled size %d exceeds limit %d", ErrPayloadTooLarge, size, limits.MaxProcessingBuffer)
	}

	payload := make([]byte, 0, size)
	for i := 0; i <= int(b.terminal.Total); i++ {
		payload = append(payload, b.frags[uint16(i)].Data...)
	}

	if got := crc32.ChecksumIEEE(payload); got != b.terminal.CRC {
		return nil, fmt.Errorf("%w: got 0x%08x want 0x%08x", ErrChecksum, got, b.terminal.CRC)
	}
	return payload, nil
}

// Reassembler keeps one Buffer per source address.
type Reassembler struct {
	codec   Codec
	mu      sync.Mutex
	buffers map[uint64]*Buffer
}

// NewReassembler creates a reassembler decoding with codec.
func NewReassembler(codec Codec) *Reassembler {
	return &Reassembler{
		codec:   codec,
		buffers: make(map[uint64]*Buffer),
	}
}

// Receive decodes raw and routes it to the buffer of src.
func (r *Reassembler) Receive(src uint64, raw []byte) ([]byte, error) {
	f, err := r.codec.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	return r.ReceiveFragment(src, f)
}

// ReceiveFragment routes an already decoded fragment to the buffer of src.
func (r *Reassembler) ReceiveFragment(src uint64, f Fragment) ([]byte, error) {
	payload, err := r.buffer(src).Receive(f)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reassembler.ReceiveFragment",
			"source":   fmt.Sprintf("%016x", src),
			"index":    f.Index,
			"total":    f.Total,
			"error":    err.Error(),
		}).Debug("Reassembly incomplete")
	}
	return payload, err
}

// Forget drops any partial message from src.
func (r *Reassembler) Forget(src uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, src)
}

// Sources returns the number of peers with a buffer.
func (r *Reassembler) Sources() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

func (r *Reassembler) buffer(src uint64) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[src]
	if !ok {
		b = NewBuffer()
		r.buffers[src] = b
	}
	return b
}
