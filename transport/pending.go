package transport

import (
	"sync"
	"time"

	"github.com/opd-ai/radiolink/radio"
)

// Pending is the single-use result slot of one outstanding frame.
type Pending struct {
	FrameID byte

	owner *RadioTransport
	done  chan struct{}
	once  sync.Once
	resp  *radio.Response
	err   error
}

func newPending(owner *RadioTransport, id byte) *Pending {
	return &Pending{FrameID: id, owner: owner, done: make(chan struct{})}
}

func (p *Pending) complete(resp *radio.Response, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
	})
}

// Done is closed when the frame has been answered or dropped.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the modem answers the frame or timeout elapses. A
// timeout removes the frame from the transport and counts toward the
// consecutive-timeout ceiling.
func (p *Pending) Wait(timeout time.Duration) (*radio.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.resp, p.err
	case <-timer.C:
	}

	if err := p.owner.expire(p); err != nil {
		p.complete(nil, err)
	}
	<-p.done
	return p.resp, p.err
}
