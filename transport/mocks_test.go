package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/radiolink/radio"
)

var (
	testAddrHigh = []byte{0x00, 0x13, 0xA2, 0x00}
	testAddrLow  = []byte{0x40, 0xA1, 0xB2, 0xC3}
)

const testAddr uint64 = 0x0013A20040A1B2C3

// fakeModem answers API frames on the far side of a pipe the way an XBee
// 900HP in API mode 2 would.
type fakeModem struct {
	conn net.Conn

	mu       sync.Mutex
	silent   bool
	txStatus byte
	commands [][]byte
}

func newFakeModem(t *testing.T) (net.Conn, *fakeModem) {
	t.Helper()
	host, device := net.Pipe()
	m := &fakeModem{conn: device}
	go m.run()
	t.Cleanup(func() { device.Close() })
	return host, m
}

func (m *fakeModem) run() {
	fr := radio.NewFrameReader(m.conn, true)
	for {
		data, err := fr.Next()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.commands = append(m.commands, data)
		silent, status := m.silent, m.txStatus
		m.mu.Unlock()

		switch data[0] {
		case 0x08:
			m.answerAT(data[1], string(data[2:4]))
		case 0x10:
			if !silent {
				m.inject([]byte{0x8B, data[1], 0xFF, 0xFE, 0x00, status, 0x00})
			}
		}
	}
}

func (m *fakeModem) answerAT(frameID byte, at string) {
	var value []byte
	switch at {
	case "SH":
		value = testAddrHigh
	case "SL":
		value = testAddrLow
	case "ED":
		value = []byte{0x30, 0x45, 0x52}
	}
	resp := append([]byte{0x88, frameID, at[0], at[1], 0x00}, value...)
	m.inject(resp)
}

func (m *fakeModem) inject(frameData []byte) {
	_ = radio.WriteFrame(m.conn, frameData, true)
}

func (m *fakeModem) setSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

func (m *fakeModem) setTxStatus(status byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txStatus = status
}

func (m *fakeModem) sawCommand(prefix []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commands {
		if len(c) >= len(prefix) && string(c[:len(prefix)]) == string(prefix) {
			return true
		}
	}
	return false
}

// testConfig keeps timeouts short.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 500 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func openTestTransport(t *testing.T, cfg Config) (*RadioTransport, *fakeModem) {
	t.Helper()
	host, modem := newFakeModem(t)
	tr, err := Open(host, radio.XBee900HP{}, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, modem
}

// pipePort adapts a pipe end to SerialPort.
type pipePort struct {
	net.Conn
}

func (pipePort) SetReadTimeout(time.Duration) error { return nil }

// stubTransport is a minimal Transport for supervisor tests.
type stubTransport struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newStubTransport() *stubTransport {
	return &stubTransport{done: make(chan struct{})}
}

func (s *stubTransport) Send([]byte, uint64) error { return nil }
func (s *stubTransport) SendAndWait([]byte, uint64, time.Duration) (*radio.Response, error) {
	return &radio.Response{Kind: radio.ResponseTxStatus}, nil
}
func (s *stubTransport) Flush(time.Duration) error     { return nil }
func (s *stubTransport) LocalAddr() uint64             { return 1 }
func (s *stubTransport) MTU() int                      { return 100 }
func (s *stubTransport) Timeout() time.Duration        { return time.Second }
func (s *stubTransport) RegisterHandler(PacketHandler) {}
func (s *stubTransport) Done() <-chan struct{}         { return s.done }
func (s *stubTransport) Err() error                    { return nil }
func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func stubOpener(transports ...*stubTransport) (Opener, *int) {
	calls := 0
	return func(context.Context) (Transport, error) {
		t := transports[calls]
		calls++
		return t, nil
	}, &calls
}
