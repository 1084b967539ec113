package frag

import "bytes"

const testThreshold = 121

var loremPayload = bytes.Repeat([]byte("Lorem ipsum dolor sit amet, consectetur adipiscing elit. "), 30)

func mustSplit(c Codec, payload []byte, threshold int) *Sequence {
	seq, err := c.Split(payload, threshold)
	if err != nil {
		panic(err)
	}
	return seq
}
