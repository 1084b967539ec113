package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/transport"
)

// Serial is a raw serial port endpoint.
type Serial struct {
	peerSlot

	cfg  transport.SerialConfig
	port transport.SerialPort
	wmu  sync.Mutex
}

// OpenSerial opens the port with a read timeout short enough for the
// serve loop to notice cancellation.
func OpenSerial(cfg transport.SerialConfig) (*Serial, error) {
	port, err := transport.OpenSerialPort(cfg)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "OpenSerial",
		"device":       cfg.Device,
		"baud":         cfg.Baud,
		"read_timeout": cfg.ReadTimeout(),
	}).Info("Serial endpoint opened")
	return &Serial{cfg: cfg, port: port}, nil
}

func (s *Serial) String() string {
	return "serial:" + s.cfg.String()
}

// Write sends data to the port.
func (s *Serial) Write(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", s.cfg, err)
	}
	return nil
}

// Serve polls the port and forwards what it reads.
func (s *Serial) Serve(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := s.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", s.cfg, err)
		}
		if n == 0 {
			// read timeout
			continue
		}
		if err := s.forward(s.String(), append([]byte(nil), buf[:n]...)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the port.
func (s *Serial) Close() error {
	return s.port.Close()
}
