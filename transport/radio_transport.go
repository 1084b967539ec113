package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/limits"
	"github.com/opd-ai/radiolink/radio"
)

var (
	// ErrTransportTimeout indicates a frame or flush was not answered in time.
	// It is recoverable; callers retry.
	ErrTransportTimeout = errors.New("radio transport timeout")

	// ErrDeviceFailure indicates the modem stopped answering or the serial
	// port failed. The transport is dead and must be reopened.
	ErrDeviceFailure = errors.New("radio device failure")

	// ErrFrameDropped indicates a waiter abandoned by a flush timeout or a reused frame id.
	ErrFrameDropped = errors.New("frame dropped")

	// ErrClosed indicates use of a closed transport.
	ErrClosed = errors.New("transport closed")
)

// Config tunes a RadioTransport.
type Config struct {
	// Timeout bounds a single wait for a frame and the transmit backpressure wait.
	Timeout time.Duration
	// MaxPending is how many unanswered frames may be outstanding before sends block.
	MaxPending int
	// MaxConsecutiveTimeouts is how many timeouts in a row are tolerated before
	// the device is declared dead.
	MaxConsecutiveTimeouts int
	// Escaped selects API mode 2 byte escaping.
	Escaped bool
	// PollInterval is the backpressure polling period.
	PollInterval time.Duration
}

// DefaultConfig returns the settings the link layer was tuned with.
func DefaultConfig() Config {
	return Config{
		Timeout:                5 * time.Second,
		MaxPending:             3,
		MaxConsecutiveTimeouts: 5,
		Escaped:                true,
		PollInterval:           50 * time.Millisecond,
	}
}

// RadioTransport exchanges API frames with a modem over a byte stream.
// It correlates requests to responses by frame id, limits the number of
// frames in flight and dispatches unsolicited frames.
//
// It satisfies the Transport interface.
type RadioTransport struct {
	port  io.ReadWriteCloser
	codec radio.Codec
	cfg   Config

	writeMu sync.Mutex

	mu          sync.Mutex
	nextID      byte
	pending     map[byte]*Pending
	idle        chan struct{}
	timeouts    int
	addr        uint64
	handler     PacketHandler
	scanHandler ScanHandler
	closed      bool
	err         error

	done chan struct{}
}

// Open starts a transport on port: it launches the reader, applies the
// codec's setup registers, reads the modem's address and flushes.
func Open(port io.ReadWriteCloser, codec radio.Codec, cfg Config) (*RadioTransport, error) {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaults.MaxPending
	}
	if cfg.MaxConsecutiveTimeouts <= 0 {
		cfg.MaxConsecutiveTimeouts = defaults.MaxConsecutiveTimeouts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	idle := make(chan struct{})
	close(idle)
	t := &RadioTransport{
		port:    port,
		codec:   codec,
		cfg:     cfg,
		pending: make(map[byte]*Pending),
		idle:    idle,
		done:    make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"variant":  codec.Name(),
		"escaped":  cfg.Escaped,
	}).Info("Opening radio transport")

	go t.readLoop()

	// A modem that does not answer its setup commands is treated as dead so
	// a supervisor keeps retrying the open.
	if err := t.initialize(); err != nil {
		t.Close()
		if !errors.Is(err, ErrDeviceFailure) {
			err = fmt.Errorf("%w: %w", ErrDeviceFailure, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"error":    err.Error(),
		}).Error("Radio did not initialise")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"address":  radio.FormatAddress(t.LocalAddr()),
		"mtu":      codec.MTU(),
	}).Info("Radio transport ready")
	return t, nil
}

func (t *RadioTransport) initialize() error {
	for _, s := range t.codec.Setup() {
		if _, err := t.CommandAndWait(s.AT, s.Parameter, t.cfg.Timeout); err != nil {
			return fmt.Errorf("apply %s: %w", s.AT, err)
		}
	}
	for _, at := range []string{"SH", "SL"} {
		if _, err := t.Command(at, nil); err != nil {
			return fmt.Errorf("query %s: %w", at, err)
		}
	}
	if err := t.Flush(t.cfg.Timeout); err != nil {
		return fmt.Errorf("read address: %w", err)
	}
	return nil
}

// Codec returns the hardware codec in use.
func (t *RadioTransport) Codec() radio.Codec { return t.codec }

// SendCommand encodes cmd under a fresh frame id and writes it. It returns
// as soon as the frame is written; the Pending resolves when the modem answers.
//
// While more than MaxPending frames are outstanding SendCommand polls, and
// fails with ErrTransportTimeout once Timeout has elapsed.
func (t *RadioTransport) SendCommand(cmd radio.Command) (*Pending, error) {
	if err := t.Err(); err != nil {
		return nil, err
	}
	if err := t.waitForSlot(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	id := t.allocID()
	cmd.FrameID = id
	p := newPending(t, id)
	if old, ok := t.pending[id]; ok {
		// frame id wrapped onto a frame the modem never answered
		old.complete(nil, ErrFrameDropped)
	} else if len(t.pending) == 0 {
		t.idle = make(chan struct{})
	}
	t.pending[id] = p
	t.mu.Unlock()

	data, err := t.codec.Encode(cmd)
	if err == nil {
		err = t.writeFrame(data)
	}
	if err != nil {
		t.mu.Lock()
		t.removeLocked(p)
		t.mu.Unlock()
		p.complete(nil, err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendCommand",
		"frame_id": id,
		"kind":     cmd.Kind,
		"at":       cmd.AT,
		"size":     len(cmd.Data),
	}).Debug("Frame written")
	return p, nil
}

// SendCommandAndWait sends cmd and waits up to timeout for its answer.
func (t *RadioTransport) SendCommandAndWait(cmd radio.Command, timeout time.Duration) (*radio.Response, error) {
	p, err := t.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	return p.Wait(timeout)
}

// Command sends a local AT command.
func (t *RadioTransport) Command(at string, param []byte) (*Pending, error) {
	return t.SendCommand(radio.Command{Kind: radio.CommandAT, AT: at, Parameter: param})
}

// CommandAndWait sends a local AT command and waits for the response.
func (t *RadioTransport) CommandAndWait(at string, param []byte, timeout time.Duration) (*radio.Response, error) {
	return t.SendCommandAndWait(radio.Command{Kind: radio.CommandAT, AT: at, Parameter: param}, timeout)
}

// Transmit queues data for transmission to dest.
func (t *RadioTransport) Transmit(dest uint64, data []byte) (*Pending, error) {
	if err := limits.ValidateMessageSize(data, t.codec.MTU()); err != nil {
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return t.SendCommand(radio.Command{Kind: radio.CommandTransmit, Dest: dest, Data: data})
}

// Send queues data for dest without waiting for delivery status.
func (t *RadioTransport) Send(data []byte, dest uint64) error {
	_, err := t.Transmit(dest, data)
	return err
}

// SendAndWait sends data and waits for the transmit status.
func (t *RadioTransport) SendAndWait(data []byte, dest uint64, timeout time.Duration) (*radio.Response, error) {
	p, err := t.Transmit(dest, data)
	if err != nil {
		return nil, err
	}
	return p.Wait(timeout)
}

// Flush blocks until no frame is outstanding. On timeout every waiter is
// dropped and the timeout counts toward the device failure ceiling.
func (t *RadioTransport) Flush(timeout time.Duration) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-t.done:
		return t.Err()
	case <-timer.C:
	}

	t.mu.Lock()
	dropped := t.pending
	if len(dropped) == 0 {
		t.mu.Unlock()
		return nil
	}
	t.pending = make(map[byte]*Pending)
	close(t.idle)
	t.timeouts++
	count := t.timeouts
	t.mu.Unlock()

	for _, p := range dropped {
		p.complete(nil, ErrFrameDropped)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Flush",
		"dropped":     len(dropped),
		"consecutive": count,
	}).Warn("Flush timed out, dropping outstanding frames")

	if count > t.cfg.MaxConsecutiveTimeouts {
		err := fmt.Errorf("%w: %d consecutive timeouts", ErrDeviceFailure, count)
		t.fail(err)
		return err
	}
	return fmt.Errorf("%w: flush dropped %d frames", ErrTransportTimeout, len(dropped))
}

// LocalAddr returns the 64-bit address assembled from the SH and SL registers.
func (t *RadioTransport) LocalAddr() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// MTU returns the codec's maximum transmit payload.
func (t *RadioTransport) MTU() int { return t.codec.MTU() }

// Timeout returns the configured frame timeout.
func (t *RadioTransport) Timeout() time.Duration { return t.cfg.Timeout }

// RegisterHandler sets the receiver of inbound data.
func (t *RadioTransport) RegisterHandler(handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// SetScanHandler sets the receiver of ED and ND responses.
func (t *RadioTransport) SetScanHandler(handler ScanHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanHandler = handler
}

// Done is closed once the transport is closed or the device has failed.
func (t *RadioTransport) Done() <-chan struct{} { return t.done }

// Err returns nil while the transport is usable.
func (t *RadioTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Pending returns the number of outstanding frames.
func (t *RadioTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close shuts down the transport and the underlying port.
func (t *RadioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.fail(ErrClosed)
	return t.port.Close()
}

func (t *RadioTransport) allocID() byte {
	t.nextID++
	if t.nextID == 0 {
		t.nextID = 1
	}
	return t.nextID
}

func (t *RadioTransport) removeLocked(p *Pending) {
	if t.pending[p.FrameID] != p {
		return
	}
	delete(t.pending, p.FrameID)
	if len(t.pending) == 0 {
		close(t.idle)
	}
}

func (t *RadioTransport) waitForSlot() error {
	start := time.Now()
	for {
		t.mu.Lock()
		n := len(t.pending)
		t.mu.Unlock()
		if n <= t.cfg.MaxPending {
			return nil
		}
		if time.Since(start) >= t.cfg.Timeout {
			logrus.WithFields(logrus.Fields{
				"function": "SendCommand",
				"pending":  n,
			}).Warn("Transmit overrun")
			return fmt.Errorf("%w: tx overrun with %d frames pending", ErrTransportTimeout, n)
		}
		select {
		case <-t.done:
			return t.Err()
		case <-time.After(t.cfg.PollInterval):
		}
	}
}

// expire removes a frame whose waiter gave up and applies the timeout ceiling.
// It returns nil when the frame was answered in the meantime.
func (t *RadioTransport) expire(p *Pending) error {
	t.mu.Lock()
	if t.pending[p.FrameID] != p {
		t.mu.Unlock()
		return nil
	}
	t.removeLocked(p)
	t.timeouts++
	count := t.timeouts
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Pending.Wait",
		"frame_id":    p.FrameID,
		"consecutive": count,
	}).Warn("Frame timed out")

	if count > t.cfg.MaxConsecutiveTimeouts {
		err := fmt.Errorf("%w: %d consecutive timeouts", ErrDeviceFailure, count)
		t.fail(err)
		return err
	}
	return fmt.Errorf("%w: frame %d", ErrTransportTimeout, p.FrameID)
}

func (t *RadioTransport) writeFrame(data []byte) error {
	frame, err := radio.EncodeFrame(data, t.cfg.Escaped)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	_, err = t.port.Write(frame)
	t.writeMu.Unlock()
	if err != nil {
		failure := fmt.Errorf("%w: write: %v", ErrDeviceFailure, err)
		t.fail(failure)
		return failure
	}
	return nil
}

// fail marks the transport dead and releases every waiter with err.
func (t *RadioTransport) fail(err error) {
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return
	}
	t.err = err
	dropped := t.pending
	t.pending = make(map[byte]*Pending)
	if len(dropped) > 0 {
		close(t.idle)
	}
	t.mu.Unlock()

	close(t.done)
	for _, p := range dropped {
		p.complete(nil, err)
	}

	if !errors.Is(err, ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "fail",
			"error":    err.Error(),
		}).Error("Radio device failed")
	}
}

func (t *RadioTransport) readLoop() {
	fr := radio.NewFrameReader(t.port, t.cfg.Escaped)
	for {
		data, err := fr.Next()
		if err != nil {
			if errors.Is(err, radio.ErrChecksum) {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"error":    err.Error(),
				}).Warn("Discarding corrupt frame")
				continue
			}
			t.fail(fmt.Errorf("%w: read: %v", ErrDeviceFailure, err))
			return
		}

		resp, err := t.codec.Decode(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
			}).Debug("Ignoring undecodable frame")
			continue
		}
		t.dispatch(resp)
	}
}

func (t *RadioTransport) dispatch(resp *radio.Response) {
	var p *Pending
	t.mu.Lock()
	if resp.Kind == radio.ResponseAT && resp.Status == 0 && (resp.AT == "SH" || resp.AT == "SL") {
		t.addr = radio.SetAddressHalf(t.addr, resp.AT, resp.Parameter)
	}
	if resp.Kind == radio.ResponseAT || resp.Kind == radio.ResponseTxStatus {
		if found, ok := t.pending[resp.FrameID]; ok && resp.FrameID != 0 {
			p = found
			t.removeLocked(found)
			t.timeouts = 0
		}
	}
	handler := t.handler
	scanHandler := t.scanHandler
	t.mu.Unlock()

	switch resp.Kind {
	case radio.ResponseAT:
		t.handleATResponse(resp, scanHandler)
	case radio.ResponseTxStatus:
		if resp.Status != 0 {
			logrus.WithFields(logrus.Fields{
				"function": "dispatch",
				"frame_id": resp.FrameID,
				"status":   resp.Status,
				"reason":   t.codec.TxStatusText(resp.Status),
			}).Warn("Transmit failed")
		}
	case radio.ResponseReceive:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"source":   radio.FormatAddress(resp.Source),
			"size":     len(resp.Data),
		}).Debug("Received data")
		if handler != nil {
			handler(resp.Source, resp.Data)
		}
	case radio.ResponseModemStatus:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"status":   radio.ModemStatusText(resp.Status),
		}).Info("Modem status")
	}

	if p != nil {
		p.complete(resp, nil)
	}
}

func (t *RadioTransport) handleATResponse(resp *radio.Response, scanHandler ScanHandler) {
	if resp.Status != 0 {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"at":       resp.AT,
			"status":   resp.Status,
		}).Warn("AT command returned an error status")
		return
	}
	if (resp.AT == "ED" || resp.AT == "ND") && scanHandler != nil {
		scanHandler(resp)
	}
}
