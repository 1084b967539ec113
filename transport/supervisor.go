package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBackoff is the pause between a device failure and the reopen.
const DefaultBackoff = 2 * time.Second

// Opener creates a fresh transport.
type Opener func(ctx context.Context) (Transport, error)

// ServeFunc runs protocol work on a transport until it returns.
type ServeFunc func(ctx context.Context, t Transport) error

// Supervisor keeps a transport alive across device failures. When the
// modem stops answering, the whole transport is closed and reopened from
// scratch rather than reset in place.
type Supervisor struct {
	Open    Opener
	Backoff time.Duration
}

// Run opens a transport and calls serve until ctx is cancelled or serve
// returns an error other than a device failure.
func (s *Supervisor) Run(ctx context.Context, serve ServeFunc) error {
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	for attempt := 1; ; attempt++ {
		t, err := s.Open(ctx)
		if err == nil {
			err = serve(ctx, t)
			t.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, ErrDeviceFailure) {
			return err
		}
		if err == nil {
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"function": "Supervisor.Run",
			"attempt":  attempt,
			"backoff":  backoff,
			"error":    err.Error(),
		}).Warn("Radio device failed, reinitialising")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}
