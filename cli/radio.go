package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/radiolink/config"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/transport"
)

// errNoPort is returned when neither --port nor radio.port is set.
var errNoPort = errors.New("no radio port configured (use --port or radio.port)")

// openTransport opens the configured radio. Tests swap it for a simulated link.
var openTransport = func(c *config.Config) (transport.Transport, error) {
	t, err := openRadio(c)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func openRadio(c *config.Config) (*transport.RadioTransport, error) {
	if c.Radio.Port == "" {
		return nil, errNoPort
	}
	codec, err := radio.Lookup(c.Radio.Variant)
	if err != nil {
		return nil, err
	}
	return transport.OpenRadio(c.Radio.Port, codec, c.TransportConfig())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
