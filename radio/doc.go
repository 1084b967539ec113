// Package radio encodes and decodes the binary API frames spoken by XBee
// radio modems.
//
// Two layers live here. The framing layer wraps frame data in the modem's
// API envelope (start delimiter, 16-bit length, checksum, optional byte
// escaping) and extracts frames from a byte stream:
//
//	fr := radio.NewFrameReader(port, true)
//	for {
//	    data, err := fr.Next()
//	    ...
//	}
//
// The command layer turns named commands into frame data and frame data back
// into responses. Each hardware family implements Codec; the transport is
// handed a Codec and never looks at frame layouts itself:
//
//	codec, err := radio.Lookup("900hp")
//	data, err := codec.Encode(radio.Command{Kind: radio.CommandAT, FrameID: 1, AT: "SL"})
package radio
