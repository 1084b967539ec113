// Package frag splits payloads into numbered, checksummed fragments small
// enough for one radio frame, and reassembles them on the receiving side.
//
// # Wire Format
//
// Two codecs share the same model. Wide is the default:
//
//	magic(0x17) | total u16 | index u16 | crc32 u32 | chunk
//
// Narrow is the legacy format for very small MTUs and carries at most 16
// fragments:
//
//	magic(0x15) | total<<4 | index | crc32 u32 | chunk
//
// All integers are big-endian. total is the zero-based index of the last
// fragment, and crc32 (IEEE) covers the whole original payload.
//
// # Usage
//
//	seq, err := frag.Wide.Split(payload, mtu-frag.Wide.HeaderSize())
//	if err != nil {
//	    return err
//	}
//	for _, wire := range seq.Encoded() {
//	    send(wire)
//	}
//
// On the receiving side a Reassembler keeps one Buffer per source address,
// so interleaved messages from different peers cannot corrupt each other:
//
//	r := frag.NewReassembler(frag.Wide)
//	payload, err := r.Receive(src, wire)
//	if payload != nil {
//	    deliver(payload)
//	}
//
// A Buffer only attempts reassembly once the terminal fragment has been
// seen. The terminal fragment need not arrive last.
package frag
