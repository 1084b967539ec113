package radio

import (
	"encoding/binary"
	"fmt"
)

const (
	apiS1Transmit64   = 0x00
	apiS1Receive64    = 0x80
	apiS1Receive16    = 0x81
	apiS1TransmitStat = 0x89
)

var txStatusS1 = map[byte]string{
	0x00: "Success",
	0x01: "No ACK",
	0x02: "CCA failure",
	0x03: "Purged",
}

// XBeeS1 is the codec for the XBee Series 1 (802.15.4) family.
type XBeeS1 struct{}

// Name returns "s1".
func (XBeeS1) Name() string { return "s1" }

// MTU returns the maximum RF payload of one transmit request.
func (XBeeS1) MTU() int { return 100 }

// Setup switches the MAC to 802.15.4 without ACKs; xTP does its own acknowledgement.
func (XBeeS1) Setup() []Setting {
	return []Setting{{AT: "MM", Parameter: []byte{0x01}}}
}

// Encode builds frame data for cmd.
func (XBeeS1) Encode(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case CommandAT:
		return encodeAT(cmd)
	case CommandTransmit:
		out := make([]byte, 0, 11+len(cmd.Data))
		out = append(out, apiS1Transmit64, cmd.FrameID)
		out = binary.BigEndian.AppendUint64(out, cmd.Dest)
		out = append(out, 0x00)
		return append(out, cmd.Data...), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidCommand, cmd.Kind)
	}
}

// Decode parses frame data from the modem.
func (XBeeS1) Decode(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	switch data[0] {
	case apiATResponse:
		return decodeATResponse(data)
	case apiModemStatus:
		return decodeModemStatus(data)
	case apiS1TransmitStat:
		if len(data) < 3 {
			return nil, fmt.Errorf("%w: tx status of %d bytes", ErrMalformedFrame, len(data))
		}
		return &Response{Kind: ResponseTxStatus, FrameID: data[1], Status: data[2]}, nil
	case apiS1Receive64:
		// id, source(8), rssi, options, data
		if len(data) < 11 {
			return nil, fmt.Errorf("%w: rx64 of %d bytes", ErrMalformedFrame, len(data))
		}
		return &Response{
			Kind:   ResponseReceive,
			Source: binary.BigEndian.Uint64(data[1:9]),
			RSSI:   int(data[9]),
			Data:   append([]byte(nil), data[11:]...),
		}, nil
	case apiS1Receive16:
		if len(data) < 5 {
			return nil, fmt.Errorf("%w: rx16 of %d bytes", ErrMalformedFrame, len(data))
		}
		return &Response{
			Kind:   ResponseReceive,
			Source: uint64(binary.BigEndian.Uint16(data[1:3])),
			RSSI:   int(data[3]),
			Data:   append([]byte(nil), data[5:]...),
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFrame, data[0])
	}
}

// TxStatusText names a delivery status code.
func (XBeeS1) TxStatusText(status byte) string {
	if s, ok := txStatusS1[status]; ok {
		return s
	}
	return fmt.Sprintf("Unknown status 0x%02x", status)
}
