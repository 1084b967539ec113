// Package transport drives a radio modem over a serial line and exposes it
// as a packet transport addressed by 64-bit radio addresses.
//
// # Architecture
//
// Protocol layers depend on the Transport interface:
//
//	type Transport interface {
//	    Send(data []byte, dest uint64) error
//	    SendAndWait(data []byte, dest uint64, timeout time.Duration) (*radio.Response, error)
//	    Flush(timeout time.Duration) error
//	    LocalAddr() uint64
//	    MTU() int
//	    RegisterHandler(handler PacketHandler)
//	    ...
//	}
//
// RadioTransport implements it on top of an io.ReadWriteCloser and a
// radio.Codec. Every outbound frame gets a frame id (1..255, wrapping, 0 is
// never used) and a single-use result slot. A dedicated reader goroutine
// resolves slots as responses arrive and routes unsolicited frames: received
// data to the PacketHandler, energy scan and neighbor discovery results to
// the ScanHandler, the SH/SL address halves into LocalAddr.
//
// # Flow Control
//
// At most MaxPending+1 frames are outstanding; further sends poll until a
// slot frees or Timeout elapses (ErrTransportTimeout). Flush waits for all
// outstanding frames and, on timeout, drops them.
//
// # Failure Handling
//
// Timeouts are transient and counted. An answered frame resets the count;
// exceeding MaxConsecutiveTimeouts, or any serial I/O error, declares the
// device dead (ErrDeviceFailure) and closes Done. Supervisor reopens the
// device from scratch when that happens:
//
//	s := &transport.Supervisor{Open: open}
//	err := s.Run(ctx, func(ctx context.Context, t transport.Transport) error {
//	    return server.Serve(ctx, t)
//	})
//
// # Serial Ports
//
// Ports are named "device:baud:8N1" and opened with go.bug.st/serial:
//
//	t, err := transport.OpenRadio("/dev/ttyUSB0:38400:8N1", radio.XBee900HP{}, transport.DefaultConfig())
package transport
