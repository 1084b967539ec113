package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Proxy forwards traffic between two endpoints.
type Proxy struct {
	a, b Endpoint
}

// NewProxy opens the endpoints named by urlA and urlB and binds them to
// each other. If the second endpoint fails to open, the first is closed.
func NewProxy(urlA, urlB string, opts Options) (*Proxy, error) {
	specA, err := ParseURL(urlA)
	if err != nil {
		return nil, err
	}
	specB, err := ParseURL(urlB)
	if err != nil {
		return nil, err
	}

	a, err := Open(specA, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", specA, err)
	}
	b, err := Open(specB, opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open %s: %w", specB, err)
	}
	return Bridge(a, b), nil
}

// Bridge binds two already open endpoints.
func Bridge(a, b Endpoint) *Proxy {
	a.Bind(b)
	b.Bind(a)
	return &Proxy{a: a, b: b}
}

// Endpoints returns both sides.
func (p *Proxy) Endpoints() (Endpoint, Endpoint) {
	return p.a, p.b
}

// Run serves both endpoints until ctx is cancelled or one serve loop
// fails. The first failure is returned after both loops stopped.
func (p *Proxy) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"function": "Proxy.Run",
		"a":        p.a.String(),
		"b":        p.b.String(),
	}).Info("Proxy started")

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, e := range []Endpoint{p.a, p.b} {
		wg.Add(1)
		go func(e Endpoint) {
			defer wg.Done()
			if err := e.Serve(ctx); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Proxy.Run",
					"endpoint": e.String(),
					"error":    err.Error(),
				}).Error("Serve loop failed")
				once.Do(func() { firstErr = err })
				cancel()
			}
		}(e)
	}
	wg.Wait()
	return firstErr
}

// Close closes both endpoints.
func (p *Proxy) Close() error {
	errA := p.a.Close()
	errB := p.b.Close()
	if errA != nil {
		return errA
	}
	return errB
}
