package sim

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/radio"
)

// StatusNoAck is the transmit status reported for a lost unicast frame.
const StatusNoAck = 0x01

// DropFunc reports whether a frame from src to dst is lost.
type DropFunc func(src, dst uint64, data []byte) bool

// Config describes the simulated medium.
type Config struct {
	// MTU is the largest payload a link accepts.
	MTU int
	// Timeout is what each link reports as its frame timeout.
	Timeout time.Duration
	// QueueSize bounds frames waiting for delivery per link.
	QueueSize int
}

// DefaultConfig returns a 900HP-sized medium with short timeouts.
func DefaultConfig() Config {
	return Config{
		MTU:       256,
		Timeout:   200 * time.Millisecond,
		QueueSize: 4096,
	}
}

// DeliveryRecord describes one frame offered to the medium.
type DeliveryRecord struct {
	Src       uint64
	Dst       uint64
	Size      int
	Delivered bool
	Timestamp time.Time
}

// Network is a shared in-memory medium.
type Network struct {
	cfg Config

	mu      sync.RWMutex
	links   map[uint64]*Link
	drop    DropFunc
	records []DeliveryRecord
}

// NewNetwork creates an empty network.
func NewNetwork(cfg Config) *Network {
	d := DefaultConfig()
	if cfg.MTU <= 0 {
		cfg.MTU = d.MTU
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	return &Network{cfg: cfg, links: make(map[uint64]*Link)}
}

// SetDropPolicy installs f as the loss model. nil delivers everything.
func (n *Network) SetDropPolicy(f DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// Attach adds a link with address addr. Attaching an address twice
// replaces the earlier link, which is closed.
func (n *Network) Attach(addr uint64) *Link {
	l := newLink(n, addr)

	n.mu.Lock()
	old := n.links[addr]
	n.links[addr] = l
	n.mu.Unlock()

	if old != nil {
		old.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Network.Attach",
		"address":  radio.FormatAddress(addr),
	}).Debug("Link attached")
	return l
}

func (n *Network) detach(l *Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[l.addr] == l {
		delete(n.links, l.addr)
	}
}

// Records returns a copy of the delivery log.
func (n *Network) Records() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]DeliveryRecord, len(n.records))
	copy(out, n.records)
	return out
}

// ClearRecords empties the delivery log.
func (n *Network) ClearRecords() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = nil
}

// route offers one frame to the medium and reports whether any link
// accepted it.
func (n *Network) route(from *Link, dst uint64, data []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	var targets []*Link
	if dst == radio.BroadcastAddress {
		for addr, l := range n.links {
			if addr != from.addr {
				targets = append(targets, l)
			}
		}
	} else if l, ok := n.links[dst]; ok && l != from {
		targets = append(targets, l)
	}

	delivered := false
	for _, to := range targets {
		if !from.Reachable() || !to.Reachable() {
			continue
		}
		if n.drop != nil && n.drop(from.addr, to.addr, data) {
			continue
		}
		if to.enqueue(from, data) {
			delivered = true
		}
	}

	n.records = append(n.records, DeliveryRecord{
		Src:       from.addr,
		Dst:       dst,
		Size:      len(data),
		Delivered: delivered,
		Timestamp: time.Now(),
	})
	return delivered
}
