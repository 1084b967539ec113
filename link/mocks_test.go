package link

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/radiolink/transport"
)

// recorder is an Endpoint that stores what is written to it.
type recorder struct {
	peerSlot
	name string

	mu     sync.Mutex
	writes [][]byte
	err    error
}

func newRecorder(name string) *recorder {
	return &recorder{name: name}
}

func (r *recorder) Write(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, append([]byte(nil), data...))
	return nil
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recorder) joined() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, w := range r.writes {
		out = append(out, w...)
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recorder) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *recorder) Close() error   { return nil }
func (r *recorder) String() string { return "recorder:" + r.name }

// fakePort is a SerialPort whose reads are fed by the test.
type fakePort struct {
	incoming chan []byte
	readErr  chan error
	timeout  time.Duration

	mu      sync.Mutex
	written []byte
	closed  bool
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		readErr:  make(chan error, 1),
		timeout:  10 * time.Millisecond,
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.incoming:
		return copy(b, data), nil
	case err := <-p.readErr:
		return 0, err
	case <-time.After(p.timeout):
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return 0, io.EOF
		}
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) output() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// useFakePort makes transport.OpenSerialPort return port (or err) until
// the returned restore func runs.
func useFakePort(port *fakePort, err error) func() {
	orig := transport.OpenSerialPort
	transport.OpenSerialPort = func(transport.SerialConfig) (transport.SerialPort, error) {
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	return func() { transport.OpenSerialPort = orig }
}

// pipeDialer hands out net.Pipe connections. The first fail dials return
// a connection whose far end is already closed.
type pipeDialer struct {
	mu    sync.Mutex
	fail  int
	dials int
	peers chan net.Conn
}

func newPipeDialer(fail int) *pipeDialer {
	return &pipeDialer{fail: fail, peers: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(network, addr string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	local, remote := net.Pipe()
	if d.dials <= d.fail {
		remote.Close()
	} else {
		d.peers <- remote
	}
	return local, nil
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
