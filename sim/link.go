package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/limits"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/transport"
)

type delivery struct {
	from *Link
	data []byte
}

// Link is one radio attached to a Network. It implements
// transport.Transport.
type Link struct {
	net  *Network
	addr uint64

	mu        sync.Mutex
	handler   transport.PacketHandler
	reachable bool
	inflight  int
	idle      chan struct{}
	err       error

	inbox     chan delivery
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Link)(nil)

func newLink(n *Network, addr uint64) *Link {
	idle := make(chan struct{})
	close(idle)
	l := &Link{
		net:       n,
		addr:      addr,
		reachable: true,
		idle:      idle,
		inbox:     make(chan delivery, n.cfg.QueueSize),
		done:      make(chan struct{}),
	}
	go l.deliverLoop()
	return l
}

func (l *Link) deliverLoop() {
	for {
		select {
		case d := <-l.inbox:
			l.deliver(d)
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *Link) deliver(d delivery) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(d.from.addr, d.data)
	}
	d.from.finish()
}

// drain releases senders waiting on frames this link will never handle.
func (l *Link) drain() {
	for {
		select {
		case d := <-l.inbox:
			d.from.finish()
		default:
			return
		}
	}
}

func (l *Link) enqueue(from *Link, data []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	from.start()
	select {
	case l.inbox <- delivery{from: from, data: append([]byte(nil), data...)}:
		return true
	default:
		from.finish()
		return false
	}
}

func (l *Link) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight == 0 {
		l.idle = make(chan struct{})
	}
	l.inflight++
}

func (l *Link) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight--
	if l.inflight == 0 {
		close(l.idle)
	}
}

// SetReachable takes the link on or off the air. Frames to or from an
// unreachable link are lost.
func (l *Link) SetReachable(ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reachable = ok
}

// Reachable reports whether the link is on the air.
func (l *Link) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable
}

// Send offers data to the medium without waiting.
func (l *Link) Send(data []byte, dest uint64) error {
	_, err := l.send(data, dest)
	return err
}

func (l *Link) send(data []byte, dest uint64) (bool, error) {
	if err := l.Err(); err != nil {
		return false, err
	}
	if err := limits.ValidateMessageSize(data, l.net.cfg.MTU); err != nil {
		return false, fmt.Errorf("transmit: %w", err)
	}
	delivered := l.net.route(l, dest, data)
	logrus.WithFields(logrus.Fields{
		"function":  "Link.Send",
		"source":    radio.FormatAddress(l.addr),
		"dest":      radio.FormatAddress(dest),
		"size":      len(data),
		"delivered": delivered,
	}).Debug("Frame offered")
	return delivered, nil
}

// SendAndWait sends data and returns a transmit status. Lost unicast
// frames report StatusNoAck.
func (l *Link) SendAndWait(data []byte, dest uint64, timeout time.Duration) (*radio.Response, error) {
	delivered, err := l.send(data, dest)
	if err != nil {
		return nil, err
	}
	resp := &radio.Response{Kind: radio.ResponseTxStatus}
	if !delivered && dest != radio.BroadcastAddress {
		resp.Status = StatusNoAck
	}
	return resp, nil
}

// Flush waits until every frame this link sent has been handled.
func (l *Link) Flush(timeout time.Duration) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return nil
	case <-l.done:
		return l.Err()
	case <-timer.C:
		return transport.ErrTransportTimeout
	}
}

// LocalAddr returns the link address.
func (l *Link) LocalAddr() uint64 { return l.addr }

// MTU returns the medium's payload limit.
func (l *Link) MTU() int { return l.net.cfg.MTU }

// Timeout returns the medium's frame timeout.
func (l *Link) Timeout() time.Duration { return l.net.cfg.Timeout }

// RegisterHandler sets the receiver of inbound frames.
func (l *Link) RegisterHandler(handler transport.PacketHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

// Done is closed when the link is closed or failed.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err reports why Done was closed.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Fail marks the link dead with transport.ErrDeviceFailure.
func (l *Link) Fail() {
	l.shutdown(transport.ErrDeviceFailure)
}

// Close detaches the link from the network.
func (l *Link) Close() error {
	l.shutdown(transport.ErrClosed)
	return nil
}

func (l *Link) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.net.detach(l)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)

		logrus.WithFields(logrus.Fields{
			"function": "Link.shutdown",
			"address":  radio.FormatAddress(l.addr),
			"reason":   err.Error(),
		}).Debug("Link closed")
	})
}
