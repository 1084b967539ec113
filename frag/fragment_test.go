package frag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireLayout(t *testing.T) {
	f := Fragment{Total: 2, Index: 1, CRC: 0xDEADBEEF, Data: []byte("ab")}

	wide, err := Wide.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x17, 0x00, 0x02, 0x00, 0x01, 0xDE, 0xAD, 0xBE, 0xEF, 'a', 'b'}, wide)

	narrow, err := Narrow.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x15, 0x21, 0xDE, 0xAD, 0xBE, 0xEF, 'a', 'b'}, narrow)

	for _, c := range []Codec{Wide, Narrow} {
		raw, _ := c.Marshal(f)
		got, err := c.Unmarshal(raw)
		require.NoError(t, err, c.Name())
		assert.Equal(t, f, got, c.Name())
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		raw   []byte
		want  error
	}{
		{"short wide", Wide, []byte{0x17, 0, 0}, ErrShortFragment},
		{"short narrow", Narrow, []byte{0x15}, ErrShortFragment},
		{"empty", Wide, nil, ErrShortFragment},
		{"short narrow fragment on wide", Wide, []byte{0x15, 0x10, 0, 0, 0, 0, 'h', 'i'}, ErrBadMagic},
		{"narrow magic on wide", Wide, []byte{0x15, 0, 0, 0, 0, 0, 0, 0, 0}, ErrBadMagic},
		{"wide magic on narrow", Narrow, []byte{0x17, 0, 0, 0, 0, 0}, ErrBadMagic},
		{"index beyond total", Wide, []byte{0x17, 0, 1, 0, 2, 0, 0, 0, 0}, ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.codec.Unmarshal(tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarshalRejectsUnencodable(t *testing.T) {
	_, err := Narrow.Marshal(Fragment{Total: 16, Index: 0})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = Wide.Marshal(Fragment{Total: 1, Index: 2})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSplitCounts(t *testing.T) {
	tests := []struct {
		size      int
		wantCount int
	}{
		{0, 1},
		{1, 1},
		{testThreshold - 1, 1},
		{testThreshold, 1},
		{testThreshold + 1, 2},
		{2 * testThreshold, 2},
		{2*testThreshold + 1, 3},
	}
	for _, tt := range tests {
		seq, err := Wide.Split(make([]byte, tt.size), testThreshold)
		require.NoError(t, err)
		assert.Equal(t, tt.wantCount, seq.Len(), "size %d", tt.size)
		assert.Equal(t, uint16(tt.wantCount-1), seq.LastIndex(), "size %d", tt.size)

		total := 0
		for i, f := range seq.All() {
			assert.Equal(t, uint16(i), f.Index)
			assert.Equal(t, seq.LastIndex(), f.Total)
			assert.LessOrEqual(t, len(f.Data), testThreshold)
			total += len(f.Data)
		}
		assert.Equal(t, tt.size, total)
	}
}

func TestSplitBoundary(t *testing.T) {
	_, err := Narrow.Split(make([]byte, 16*testThreshold), testThreshold)
	assert.NoError(t, err, "16 fragments fit the narrow codec")

	_, err = Narrow.Split(make([]byte, 16*testThreshold+1), testThreshold)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Wide.Split(make([]byte, 65536), 1)
	assert.NoError(t, err, "65536 fragments fit the wide codec")

	_, err = Wide.Split(make([]byte, 65537), 1)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Wide.Split([]byte("x"), 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestSequenceIsRestartable(t *testing.T) {
	seq := mustSplit(Wide, loremPayload, testThreshold)

	var first, second [][]byte
	for _, wire := range seq.Encoded() {
		first = append(first, wire)
	}
	for _, wire := range seq.Encoded() {
		second = append(second, wire)
	}
	assert.Equal(t, first, second)
	assert.Len(t, first, seq.Len())

	var stopped int
	for i := range seq.All() {
		stopped = i
		if i == 2 {
			break
		}
	}
	assert.Equal(t, 2, stopped)
}

func TestFragmentsFitThreshold(t *testing.T) {
	seq := mustSplit(Narrow, loremPayload[:1000], testThreshold)
	for _, wire := range seq.Encoded() {
		assert.LessOrEqual(t, len(wire), testThreshold+Narrow.HeaderSize())
	}
	assert.True(t, bytes.HasPrefix(loremPayload, seq.At(0).Data))
}
