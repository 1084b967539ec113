package transport

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/opd-ai/radiolink/radio"
)

// ErrInvalidSerialSpec indicates a malformed "device:baud:8N1" string.
var ErrInvalidSerialSpec = errors.New("invalid serial port spec")

// SerialConfig describes a serial device and its line settings.
type SerialConfig struct {
	Device   string
	Baud     int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// ParseSerialSpec parses "device:baud" or "device:baud:8N1".
func ParseSerialSpec(spec string) (SerialConfig, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || parts[0] == "" {
		return SerialConfig{}, fmt.Errorf("%w: %q", ErrInvalidSerialSpec, spec)
	}

	cfg := SerialConfig{Device: parts[0], DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	baud, err := strconv.Atoi(parts[1])
	if err != nil || baud <= 0 {
		return SerialConfig{}, fmt.Errorf("%w: baud %q", ErrInvalidSerialSpec, parts[1])
	}
	cfg.Baud = baud

	if len(parts) > 2 {
		if err := cfg.parseFraming(parts[2]); err != nil {
			return SerialConfig{}, err
		}
	}
	if len(parts) > 3 {
		return SerialConfig{}, fmt.Errorf("%w: trailing fields in %q", ErrInvalidSerialSpec, spec)
	}
	return cfg, nil
}

func (c *SerialConfig) parseFraming(f string) error {
	if len(f) != 3 {
		return fmt.Errorf("%w: framing %q", ErrInvalidSerialSpec, f)
	}

	bits, err := strconv.Atoi(f[:1])
	if err != nil || bits < 5 || bits > 8 {
		return fmt.Errorf("%w: data bits %q", ErrInvalidSerialSpec, f[:1])
	}
	c.DataBits = bits

	switch strings.ToUpper(f[1:2]) {
	case "N":
		c.Parity = serial.NoParity
	case "E":
		c.Parity = serial.EvenParity
	case "O":
		c.Parity = serial.OddParity
	case "M":
		c.Parity = serial.MarkParity
	case "S":
		c.Parity = serial.SpaceParity
	default:
		return fmt.Errorf("%w: parity %q", ErrInvalidSerialSpec, f[1:2])
	}

	switch f[2:] {
	case "1":
		c.StopBits = serial.OneStopBit
	case "2":
		c.StopBits = serial.TwoStopBits
	default:
		return fmt.Errorf("%w: stop bits %q", ErrInvalidSerialSpec, f[2:])
	}
	return nil
}

// Mode returns the settings in the form serial.Open expects.
func (c SerialConfig) Mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.Baud,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}

// ReadTimeout returns min(100ms, 800/baud s), roughly the time to receive
// 80 characters, so reads return promptly at low line rates too.
func (c SerialConfig) ReadTimeout() time.Duration {
	timeout := 100 * time.Millisecond
	if c.Baud > 0 {
		perLine := time.Duration(float64(time.Second) * 800 / float64(c.Baud))
		timeout = min(timeout, perLine)
	}
	return timeout
}

func (c SerialConfig) String() string {
	return fmt.Sprintf("%s:%d", c.Device, c.Baud)
}

// SerialPort is the subset of serial.Port the link layer needs.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenSerialPort opens a serial device. Tests replace it.
var OpenSerialPort = func(cfg SerialConfig) (SerialPort, error) {
	port, err := serial.Open(cfg.Device, cfg.Mode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg, err)
	}
	return port, nil
}

// OpenRadio opens the serial device named by spec and starts a radio
// transport on it.
func OpenRadio(spec string, codec radio.Codec, cfg Config) (*RadioTransport, error) {
	serialCfg, err := ParseSerialSpec(spec)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenRadio",
		"device":   serialCfg.Device,
		"baud":     serialCfg.Baud,
		"variant":  codec.Name(),
	}).Info("Opening radio serial port")

	port, err := OpenSerialPort(serialCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceFailure, err)
	}
	return Open(port, codec, cfg)
}
