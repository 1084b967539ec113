package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/transport"
)

var (
	// ErrPeerUnavailable indicates nobody was there to receive a write.
	// It is not fatal to a proxy.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrInvalidURL indicates a malformed endpoint URL.
	ErrInvalidURL = errors.New("invalid link url")

	// ErrWriteAborted indicates a radio write gave up after a fragment
	// exhausted its retries.
	ErrWriteAborted = errors.New("write aborted")
)

// Endpoint is one side of a proxy.
type Endpoint interface {
	// Write delivers data out of this endpoint.
	Write(data []byte) error
	// Serve receives data and forwards it to the bound peer until ctx is
	// cancelled or forwarding fails.
	Serve(ctx context.Context) error
	// Bind sets the endpoint that received data is forwarded to.
	Bind(peer Endpoint)
	Close() error
	String() string
}

// Kind names an endpoint type.
type Kind string

const (
	KindTCPServer Kind = "tcpserver"
	KindTCPClient Kind = "tcpclient"
	KindSerial    Kind = "serial"
	KindRadio     Kind = "xbee"
)

// Spec is a parsed endpoint URL.
type Spec struct {
	Kind Kind
	// Address is host:port for TCP kinds.
	Address string
	// SerialSpec is "device:baud[:8N1]" for serial and radio kinds.
	SerialSpec string
	Serial     transport.SerialConfig
	// Basestation selects the handshake role of a radio endpoint.
	Basestation bool
}

func (s Spec) String() string {
	switch s.Kind {
	case KindTCPServer, KindTCPClient:
		return fmt.Sprintf("%s:%s", s.Kind, s.Address)
	case KindRadio:
		return fmt.Sprintf("%s:%s:%t", s.Kind, s.SerialSpec, s.Basestation)
	default:
		return fmt.Sprintf("%s:%s", s.Kind, s.SerialSpec)
	}
}

// ParseURL parses an endpoint URL.
func ParseURL(raw string) (Spec, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || rest == "" {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	spec := Spec{Kind: Kind(strings.ToLower(scheme))}
	switch spec.Kind {
	case KindTCPServer, KindTCPClient:
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q: %w", ErrInvalidURL, raw, err)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Spec{}, fmt.Errorf("%w: port %q", ErrInvalidURL, port)
		}
		if spec.Kind == KindTCPClient && host == "" {
			return Spec{}, fmt.Errorf("%w: %q: missing host", ErrInvalidURL, raw)
		}
		spec.Address = net.JoinHostPort(host, port)

	case KindSerial:
		cfg, err := transport.ParseSerialSpec(rest)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		spec.SerialSpec, spec.Serial = rest, cfg

	case KindRadio:
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			return Spec{}, fmt.Errorf("%w: %q: missing basestation flag", ErrInvalidURL, raw)
		}
		base, err := strconv.ParseBool(rest[i+1:])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: basestation flag %q", ErrInvalidURL, rest[i+1:])
		}
		cfg, err := transport.ParseSerialSpec(rest[:i])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		spec.SerialSpec, spec.Serial, spec.Basestation = rest[:i], cfg, base

	default:
		return Spec{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidURL, scheme)
	}
	return spec, nil
}

// Options tunes endpoint construction.
type Options struct {
	// Dialer connects tcpclient endpoints. nil dials directly.
	Dialer proxy.Dialer
	// Throttle is the minimum spacing between radio transmissions.
	Throttle time.Duration
	// FragmentRetries bounds attempts per radio fragment.
	FragmentRetries int
	// HandshakeTimeout bounds how long a radio write waits for a peer.
	HandshakeTimeout time.Duration
	// Variant selects the radio command codec.
	Variant string
	// Radio configures the radio transport.
	Radio transport.Config
}

// DefaultOptions returns direct dialing, a 100ms throttle and three
// attempts per fragment.
func DefaultOptions() Options {
	return Options{
		Dialer:           proxy.Direct,
		Throttle:         100 * time.Millisecond,
		FragmentRetries:  3,
		HandshakeTimeout: 5 * time.Second,
		Variant:          "900hp",
		Radio:            transport.DefaultConfig(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Dialer == nil {
		o.Dialer = d.Dialer
	}
	if o.FragmentRetries <= 0 {
		o.FragmentRetries = d.FragmentRetries
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.Radio.Timeout <= 0 {
		o.Radio = d.Radio
	}
	return o
}

// NewDialer returns a SOCKS5 dialer for socksAddr, or a direct dialer when
// socksAddr is empty.
func NewDialer(socksAddr string) (proxy.Dialer, error) {
	if socksAddr == "" {
		return proxy.Direct, nil
	}
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewDialer",
			"proxy_addr": socksAddr,
			"error":      err.Error(),
		}).Error("Failed to create SOCKS5 dialer")
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":   "NewDialer",
		"proxy_addr": socksAddr,
	}).Info("SOCKS5 proxy configured")
	return dialer, nil
}

// Open constructs the endpoint described by spec.
func Open(spec Spec, opts Options) (Endpoint, error) {
	opts = opts.withDefaults()
	switch spec.Kind {
	case KindTCPServer:
		srv, err := ListenTCP(spec.Address)
		if err != nil {
			return nil, err
		}
		return srv, nil
	case KindTCPClient:
		return NewTCPClient(spec.Address, opts.Dialer), nil
	case KindSerial:
		s, err := OpenSerial(spec.Serial)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindRadio:
		codec, err := radio.Lookup(opts.Variant)
		if err != nil {
			return nil, err
		}
		t, err := transport.OpenRadio(spec.SerialSpec, codec, opts.Radio)
		if err != nil {
			return nil, err
		}
		return NewRadio(t, spec.Basestation, opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidURL, spec.Kind)
	}
}

// peerSlot holds the bound peer and forwards to it.
type peerSlot struct {
	mu   sync.RWMutex
	peer Endpoint
}

// Bind sets the forwarding target.
func (p *peerSlot) Bind(peer Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peer = peer
}

// forward writes data to the peer. ErrPeerUnavailable is logged and
// swallowed; any other error is returned as fatal.
func (p *peerSlot) forward(from string, data []byte) error {
	p.mu.RLock()
	peer := p.peer
	p.mu.RUnlock()

	if peer == nil {
		logrus.WithFields(logrus.Fields{
			"function": "forward",
			"from":     from,
			"size":     len(data),
		}).Warn("No peer bound, dropping data")
		return nil
	}

	err := peer.Write(data)
	if errors.Is(err, ErrPeerUnavailable) {
		logrus.WithFields(logrus.Fields{
			"function": "forward",
			"from":     from,
			"to":       peer.String(),
			"size":     len(data),
		}).Warn("Peer unavailable, data dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("forward %s -> %s: %w", from, peer, err)
	}
	return nil
}
