package radio

import (
	"errors"
	"fmt"
	"strings"
)

// BroadcastAddress is the 64-bit destination that reaches every node in range.
const BroadcastAddress uint64 = 0x000000000000FFFF

var (
	// ErrUnknownFrame indicates an API identifier the codec does not handle.
	ErrUnknownFrame = errors.New("unknown api frame")

	// ErrMalformedFrame indicates frame data too short for its API identifier.
	ErrMalformedFrame = errors.New("malformed api frame")

	// ErrUnknownVariant indicates a hardware variant name Lookup does not know.
	ErrUnknownVariant = errors.New("unknown radio variant")

	// ErrInvalidCommand indicates a command that cannot be encoded.
	ErrInvalidCommand = errors.New("invalid radio command")
)

// CommandKind selects the frame a Command encodes to.
type CommandKind uint8

const (
	// CommandAT is a local AT command (query or set a device register).
	CommandAT CommandKind = iota
	// CommandTransmit sends Data over the air to Dest.
	CommandTransmit
)

// Command is a named request for the modem.
type Command struct {
	Kind    CommandKind
	FrameID byte
	// AT is the two-letter command name for CommandAT.
	AT        string
	Parameter []byte
	Dest      uint64
	Data      []byte
}

// ResponseKind identifies a decoded frame.
type ResponseKind uint8

const (
	// ResponseAT answers a local AT command.
	ResponseAT ResponseKind = iota
	// ResponseTxStatus reports the outcome of a transmit request.
	ResponseTxStatus
	// ResponseReceive carries data received over the air.
	ResponseReceive
	// ResponseModemStatus is an unsolicited device status notification.
	ResponseModemStatus
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseAT:
		return "at_response"
	case ResponseTxStatus:
		return "tx_status"
	case ResponseReceive:
		return "rx"
	case ResponseModemStatus:
		return "modem_status"
	default:
		return fmt.Sprintf("response(%d)", uint8(k))
	}
}

// Response is a decoded frame from the modem.
type Response struct {
	Kind    ResponseKind
	FrameID byte
	AT      string
	Status  byte
	// Parameter is the AT command's returned value.
	Parameter []byte
	Source    uint64
	// RSSI is the received signal strength in -dBm, zero when the frame carries none.
	RSSI int
	Data []byte
}

// Setting is an AT register write applied when a transport opens.
type Setting struct {
	AT        string
	Parameter []byte
}

// Codec translates named commands to frame data and frame data to responses
// for one hardware family.
type Codec interface {
	// Name identifies the variant, as accepted by Lookup.
	Name() string
	// MTU is the largest payload a single transmit frame can carry.
	MTU() int
	// Setup lists the register writes the link layer relies on.
	Setup() []Setting
	Encode(cmd Command) ([]byte, error)
	Decode(data []byte) (*Response, error)
	// TxStatusText names a transmit status code.
	TxStatusText(status byte) string
}

// Lookup returns the codec for a variant name.
func Lookup(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "900hp", "xbee900hp", "":
		return XBee900HP{}, nil
	case "s1", "802.15.4", "xbees1":
		return XBeeS1{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

func encodeAT(cmd Command) ([]byte, error) {
	if len(cmd.AT) != 2 {
		return nil, fmt.Errorf("%w: AT command %q must be two characters", ErrInvalidCommand, cmd.AT)
	}
	out := make([]byte, 0, 4+len(cmd.Parameter))
	out = append(out, apiATCommand, cmd.FrameID, cmd.AT[0], cmd.AT[1])
	return append(out, cmd.Parameter...), nil
}

func decodeATResponse(data []byte) (*Response, error) {
	// id, frame id, command(2), status, value
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: at response of %d bytes", ErrMalformedFrame, len(data))
	}
	return &Response{
		Kind:      ResponseAT,
		FrameID:   data[1],
		AT:        string(data[2:4]),
		Status:    data[4],
		Parameter: append([]byte(nil), data[5:]...),
	}, nil
}

func decodeModemStatus(data []byte) (*Response, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: modem status of %d bytes", ErrMalformedFrame, len(data))
	}
	return &Response{Kind: ResponseModemStatus, Status: data[1]}, nil
}

const (
	apiATCommand   = 0x08
	apiATResponse  = 0x88
	apiModemStatus = 0x8A
)

var modemStatusText = map[byte]string{
	0x00: "Hardware reset",
	0x01: "Watchdog timer reset",
	0x02: "Joined network",
	0x03: "Disassociated",
	0x06: "Coordinator started",
	0x0B: "Network woke up",
	0x0C: "Network went to sleep",
}

// ModemStatusText names a modem status code.
func ModemStatusText(status byte) string {
	if s, ok := modemStatusText[status]; ok {
		return s
	}
	return fmt.Sprintf("Unknown modem status 0x%02x", status)
}
