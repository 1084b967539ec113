package transport

import (
	"time"

	"github.com/opd-ai/radiolink/radio"
)

// PacketHandler processes data received over the air from src.
// Handlers run on the transport's reader goroutine and must not block on
// the transport that invoked them.
type PacketHandler func(src uint64, data []byte)

// ScanHandler receives energy-scan and neighbor-discovery AT responses.
type ScanHandler func(resp *radio.Response)

// Transport defines the radio link used by the transfer and proxy layers.
// This abstraction lets the same protocol code run over a serial modem or
// an in-memory simulated network.
type Transport interface {
	// Send queues data for dest without waiting for delivery status.
	Send(data []byte, dest uint64) error

	// SendAndWait sends data and waits for the modem's transmit status.
	SendAndWait(data []byte, dest uint64, timeout time.Duration) (*radio.Response, error)

	// Flush blocks until every outstanding frame has been answered.
	Flush(timeout time.Duration) error

	// LocalAddr returns the 64-bit address of this radio.
	LocalAddr() uint64

	// MTU returns the largest payload Send accepts.
	MTU() int

	// Timeout returns the default wait for a single frame.
	Timeout() time.Duration

	// RegisterHandler sets the receiver of inbound data.
	RegisterHandler(handler PacketHandler)

	// Done is closed once the transport is unusable.
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	// Close shuts down the transport.
	Close() error
}
