package radio

import (
	"encoding/binary"
	"fmt"
)

const (
	api900TransmitRequest = 0x10
	api900TransmitStatus  = 0x8B
	api900Receive         = 0x90
)

// Transmit option bit selecting point-to-multipoint delivery.
const txOptionPointMultipoint = 0x40

var txStatus900HP = map[byte]string{
	0x00: "Success",
	0x01: "MAC ACK failure",
	0x02: "Collision Avoidance Failure",
	0x21: "Network ACK Failure",
	0x25: "Route Not Found",
	0x31: "Internal Resource Error",
	0x32: "Internal Error",
	0x74: "Payload too large",
	0x75: "Indirect message unrequested",
}

// XBee900HP is the codec for the XBee-PRO 900HP family.
type XBee900HP struct{}

// Name returns "900hp".
func (XBee900HP) Name() string { return "900hp" }

// MTU returns the maximum RF payload of one transmit request.
func (XBee900HP) MTU() int { return 256 }

// Setup sets the default transmit options to point-to-multipoint.
func (XBee900HP) Setup() []Setting {
	return []Setting{{AT: "TO", Parameter: []byte{txOptionPointMultipoint}}}
}

// Encode builds frame data for cmd.
func (XBee900HP) Encode(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case CommandAT:
		return encodeAT(cmd)
	case CommandTransmit:
		out := make([]byte, 0, 14+len(cmd.Data))
		out = append(out, api900TransmitRequest, cmd.FrameID)
		out = binary.BigEndian.AppendUint64(out, cmd.Dest)
		// reserved 16-bit address, broadcast radius, transmit options
		out = append(out, 0xFF, 0xFE, 0x00, 0x00)
		return append(out, cmd.Data...), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidCommand, cmd.Kind)
	}
}

// Decode parses frame data from the modem.
func (XBee900HP) Decode(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	switch data[0] {
	case apiATResponse:
		return decodeATResponse(data)
	case apiModemStatus:
		return decodeModemStatus(data)
	case api900TransmitStatus:
		// id, frame id, reserved(2), retries, delivery status, discovery status
		if len(data) < 7 {
			return nil, fmt.Errorf("%w: tx status of %d bytes", ErrMalformedFrame, len(data))
		}
		return &Response{Kind: ResponseTxStatus, FrameID: data[1], Status: data[5]}, nil
	case api900Receive:
		// id, source(8), reserved(2), options, data
		if len(data) < 12 {
			return nil, fmt.Errorf("%w: rx of %d bytes", ErrMalformedFrame, len(data))
		}
		return &Response{
			Kind:   ResponseReceive,
			Source: binary.BigEndian.Uint64(data[1:9]),
			Data:   append([]byte(nil), data[12:]...),
		}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFrame, data[0])
	}
}

// TxStatusText names a delivery status code.
func (XBee900HP) TxStatusText(status byte) string {
	if s, ok := txStatus900HP[status]; ok {
		return s
	}
	return fmt.Sprintf("Unknown status 0x%02x", status)
}
