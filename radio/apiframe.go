package radio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/limits"
)

const (
	startDelimiter = 0x7E
	escapeByte     = 0x7D
	xonByte        = 0x11
	xoffByte       = 0x13
	escapeMask     = 0x20
)

var (
	// ErrChecksum indicates an API frame whose checksum did not verify.
	ErrChecksum = errors.New("api frame checksum mismatch")

	// errResync signals a start delimiter found inside a frame.
	errResync = errors.New("start delimiter inside frame")
)

// Checksum computes the API frame checksum over frame data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

func needsEscape(b byte) bool {
	return b == startDelimiter || b == escapeByte || b == xonByte || b == xoffByte
}

// EncodeFrame wraps frame data in an API envelope. With escaped set, every
// byte after the start delimiter that collides with a control byte is sent
// as 0x7D followed by the byte xor 0x20.
func EncodeFrame(data []byte, escaped bool) ([]byte, error) {
	if err := limits.ValidateFrameData(data); err != nil {
		return nil, err
	}

	raw := make([]byte, 0, len(data)+4)
	raw = binary.BigEndian.AppendUint16(raw, uint16(len(data)))
	raw = append(raw, data...)
	raw = append(raw, Checksum(data))

	out := make([]byte, 0, len(raw)+8)
	out = append(out, startDelimiter)
	for _, b := range raw {
		if escaped && needsEscape(b) {
			out = append(out, escapeByte, b^escapeMask)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// WriteFrame encodes data and writes the whole envelope to w.
func WriteFrame(w io.Writer, data []byte, escaped bool) error {
	frame, err := EncodeFrame(data, escaped)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write api frame: %w", err)
	}
	return nil
}

// FrameReader extracts API frames from a byte stream.
type FrameReader struct {
	r       *bufio.Reader
	escaped bool
	inFrame bool
	dropped int
}

// NewFrameReader creates a reader. escaped must match the modem's API mode.
func NewFrameReader(r io.Reader, escaped bool) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), escaped: escaped}
}

// Next returns the frame data of the next frame. Bytes preceding a start
// delimiter are discarded. A frame with a bad checksum yields ErrChecksum;
// the reader stays usable and the following call resynchronises.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		if !fr.inFrame {
			if err := fr.seekStart(); err != nil {
				return nil, err
			}
		}
		fr.inFrame = false

		data, err := fr.readBody()
		if errors.Is(err, errResync) {
			fr.inFrame = true
			continue
		}
		return data, err
	}
}

func (fr *FrameReader) seekStart() error {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return err
		}
		if b == startDelimiter {
			if fr.dropped > 0 {
				logrus.WithFields(logrus.Fields{
					"function": "FrameReader.Next",
					"dropped":  fr.dropped,
				}).Debug("Discarded bytes before start delimiter")
				fr.dropped = 0
			}
			return nil
		}
		fr.dropped++
	}
}

func (fr *FrameReader) readBody() ([]byte, error) {
	var hdr [2]byte
	for i := range hdr {
		b, err := fr.readByte()
		if err != nil {
			return nil, err
		}
		hdr[i] = b
	}
	length := int(binary.BigEndian.Uint16(hdr[:]))

	data := make([]byte, length)
	for i := range data {
		b, err := fr.readByte()
		if err != nil {
			return nil, err
		}
		data[i] = b
	}

	sum, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	if want := Checksum(data); sum != want {
		return nil, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrChecksum, sum, want)
	}
	return data, nil
}

func (fr *FrameReader) readByte() (byte, error) {
	b, err := fr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if !fr.escaped {
		return b, nil
	}
	if b == startDelimiter {
		return 0, errResync
	}
	if b == escapeByte {
		next, err := fr.r.ReadByte()
		if err != nil {
			return 0, err
		}
		return next ^ escapeMask, nil
	}
	return b, nil
}
