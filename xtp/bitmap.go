package xtp

import "math/bits"

// Bitmap is an acknowledgement bitset, one bit per fragment index.
// Bits are packed most significant first, so index 0 is the 0x80 bit of
// the first byte.
type Bitmap struct {
	n    int
	bits []byte
}

// NewBitmap returns an all-clear bitmap of n bits.
func NewBitmap(n int) *Bitmap {
	return &Bitmap{n: n, bits: make([]byte, (n+7)/8)}
}

// BitmapFromBytes interprets b as a bitmap of n bits. Missing trailing
// bytes read as clear.
func BitmapFromBytes(b []byte, n int) *Bitmap {
	bm := NewBitmap(n)
	copy(bm.bits, b)
	if rem := n % 8; rem != 0 && len(bm.bits) > 0 {
		bm.bits[len(bm.bits)-1] &= byte(0xFF << (8 - rem))
	}
	return bm
}

// Len returns the number of bits.
func (b *Bitmap) Len() int { return b.n }

// Set marks index i. Out of range indices are ignored.
func (b *Bitmap) Set(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.bits[i/8] |= 0x80 >> (i % 8)
}

// Test reports whether index i is set.
func (b *Bitmap) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.bits[i/8]&(0x80>>(i%8)) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	c := 0
	for _, v := range b.bits {
		c += bits.OnesCount8(v)
	}
	return c
}

// Full reports whether every bit is set.
func (b *Bitmap) Full() bool {
	return b.Count() == b.n
}

// Missing returns the clear indices in ascending order.
func (b *Bitmap) Missing() []int {
	var out []int
	for i := 0; i < b.n; i++ {
		if !b.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// Bytes returns the packed representation.
func (b *Bitmap) Bytes() []byte {
	return append([]byte(nil), b.bits...)
}

// Merge marks every index the peer reports as received. Indices at or past
// the peer's count are taken as received, so a peer expecting fewer
// fragments cannot stall completion.
func (b *Bitmap) Merge(peer *Bitmap) {
	for i := 0; i < b.n; i++ {
		if i >= peer.Len() || peer.Test(i) {
			b.Set(i)
		}
	}
}
