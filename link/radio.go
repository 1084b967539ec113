package link

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/frag"
	"github.com/opd-ai/radiolink/limits"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/transport"
)

// Handshake frames.
var (
	helloBasestation = []byte("HELLOBASESTATION")
	helloRemote      = []byte("HELLOREMOTE")
	helloAck         = []byte("HELLOACK")
)

// radioInboxSize bounds reassembled payloads waiting for the serve loop.
const radioInboxSize = 64

type reply struct {
	dst   uint64
	frame []byte
}

// Radio carries a byte stream over a radio transport.
type Radio struct {
	peerSlot

	t           transport.Transport
	basestation bool
	opts        Options
	reasm       *frag.Reassembler
	inbox       chan []byte
	replies     chan reply

	mu       sync.Mutex
	remote   uint64
	linked   bool
	linkedCh chan struct{}

	wmu    sync.Mutex
	lastTx time.Time
}

// NewRadio wraps t. basestation selects which side starts the handshake.
func NewRadio(t transport.Transport, basestation bool, opts Options) *Radio {
	r := &Radio{
		t:           t,
		basestation: basestation,
		opts:        opts.withDefaults(),
		reasm:       frag.NewReassembler(frag.Wide),
		inbox:       make(chan []byte, radioInboxSize),
		replies:     make(chan reply, 8),
		linkedCh:    make(chan struct{}),
	}
	t.RegisterHandler(r.handlePacket)
	return r
}

func (r *Radio) String() string {
	role := "remote"
	if r.basestation {
		role = "basestation"
	}
	return fmt.Sprintf("xbee:%s:%s", radio.FormatAddress(r.t.LocalAddr()), role)
}

// Remote returns the peer radio address once the handshake completed.
func (r *Radio) Remote() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remote, r.linked
}

func (r *Radio) setRemote(addr uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linked && r.remote == addr {
		return
	}
	r.remote = addr
	if !r.linked {
		r.linked = true
		close(r.linkedCh)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Radio.setRemote",
		"remote":   radio.FormatAddress(addr),
	}).Info("Radio link established")
}

// handlePacket runs on the transport's reader and must not send, so
// handshake replies are queued for the serve loop.
func (r *Radio) handlePacket(src uint64, data []byte) {
	switch {
	case bytes.Equal(data, helloBasestation):
		if !r.basestation {
			r.queueReply(src, helloRemote)
		}
		return
	case bytes.Equal(data, helloRemote):
		if r.basestation {
			r.setRemote(src)
			r.queueReply(src, helloAck)
		}
		return
	case bytes.Equal(data, helloAck):
		if !r.basestation {
			r.setRemote(src)
		}
		return
	}

	packed, err := r.reasm.Receive(src, data)
	if err != nil {
		if !errors.Is(err, frag.ErrMissingFragment) {
			logrus.WithFields(logrus.Fields{
				"function": "Radio.handlePacket",
				"source":   radio.FormatAddress(src),
				"error":    err.Error(),
			}).Warn("Dropping fragment")
		}
		return
	}
	if packed == nil {
		return
	}

	payload, err := gunzip(packed)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Radio.handlePacket",
			"source":   radio.FormatAddress(src),
			"error":    err.Error(),
		}).Warn("Dropping undecodable payload")
		return
	}

	select {
	case r.inbox <- payload:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Radio.handlePacket",
			"size":     len(payload),
		}).Warn("Radio inbox full, dropping payload")
	}
}

func (r *Radio) queueReply(dst uint64, frame []byte) {
	select {
	case r.replies <- reply{dst: dst, frame: frame}:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Radio.queueReply",
			"frame":    string(frame),
		}).Debug("Handshake reply already queued")
	}
}

// Serve runs the handshake and forwards reassembled payloads.
func (r *Radio) Serve(ctx context.Context) error {
	var hello <-chan time.Time
	if r.basestation {
		ticker := time.NewTicker(r.helloInterval())
		defer ticker.Stop()
		hello = ticker.C
		r.sendHello()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.t.Done():
			return r.t.Err()
		case <-hello:
			if _, ok := r.Remote(); !ok {
				r.sendHello()
			}
		case rep := <-r.replies:
			if err := r.t.Send(rep.frame, rep.dst); err != nil {
				if errors.Is(err, transport.ErrDeviceFailure) {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"function": "Radio.Serve",
					"frame":    string(rep.frame),
					"error":    err.Error(),
				}).Warn("Handshake reply failed")
			}
		case payload := <-r.inbox:
			if err := r.forward(r.String(), payload); err != nil {
				return err
			}
		}
	}
}

func (r *Radio) helloInterval() time.Duration {
	return max(r.opts.HandshakeTimeout/5, 10*time.Millisecond)
}

func (r *Radio) sendHello() {
	if err := r.t.Send(helloBasestation, radio.BroadcastAddress); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Radio.sendHello",
			"error":    err.Error(),
		}).Warn("Handshake broadcast failed")
	}
}

func (r *Radio) waitRemote() (uint64, error) {
	if addr, ok := r.Remote(); ok {
		return addr, nil
	}
	timer := time.NewTimer(r.opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-r.linkedCh:
		addr, _ := r.Remote()
		return addr, nil
	case <-r.t.Done():
		return 0, r.t.Err()
	case <-timer.C:
		return 0, fmt.Errorf("%w: no radio handshake within %s", ErrPeerUnavailable, r.opts.HandshakeTimeout)
	}
}

// Write compresses data, splits it into fragments and sends each with up
// to FragmentRetries attempts.
func (r *Radio) Write(data []byte) error {
	remote, err := r.waitRemote()
	if err != nil {
		return err
	}

	packed, err := gzipBytes(data)
	if err != nil {
		return err
	}
	seq, err := frag.Wide.Split(packed, r.t.MTU()-frag.Wide.HeaderSize())
	if err != nil {
		return err
	}

	r.wmu.Lock()
	defer r.wmu.Unlock()

	for i, encoded := range seq.Encoded() {
		if err := r.sendFragment(remote, encoded); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Radio.Write",
				"index":     i,
				"fragments": seq.Len(),
				"error":     err.Error(),
			}).Error("Aborting write")
			return fmt.Errorf("fragment %d of %d: %w", i, seq.Len(), err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Radio.Write",
		"size":       len(data),
		"compressed": len(packed),
		"fragments":  seq.Len(),
	}).Debug("Payload sent over radio")
	return nil
}

func (r *Radio) sendFragment(remote uint64, encoded []byte) error {
	var lastErr error
	for attempt := 1; attempt <= r.opts.FragmentRetries; attempt++ {
		r.throttle()
		resp, err := r.t.SendAndWait(encoded, remote, r.t.Timeout())
		r.lastTx = time.Now()
		switch {
		case errors.Is(err, transport.ErrDeviceFailure) || errors.Is(err, transport.ErrClosed):
			return err
		case err != nil:
			lastErr = err
		case resp != nil && resp.Status != 0:
			lastErr = fmt.Errorf("tx status 0x%02x", resp.Status)
		default:
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "Radio.sendFragment",
			"attempt":  attempt,
			"error":    lastErr.Error(),
		}).Debug("Fragment not delivered")
	}
	return fmt.Errorf("%w: %w", ErrWriteAborted, lastErr)
}

// throttle keeps transmissions at least Throttle apart.
func (r *Radio) throttle() {
	if r.opts.Throttle <= 0 || r.lastTx.IsZero() {
		return
	}
	if wait := r.opts.Throttle - time.Since(r.lastTx); wait > 0 {
		time.Sleep(wait)
	}
}

// Close closes the radio transport.
func (r *Radio) Close() error {
	return r.t.Close()
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, limits.MaxProcessingBuffer+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if err := limits.ValidateProcessingBuffer(out); err != nil {
		return nil, err
	}
	return out, nil
}
