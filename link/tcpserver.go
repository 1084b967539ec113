package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	readBufferSize = 4096
	writeTimeout   = 5 * time.Second
)

// TCPServer accepts any number of clients. Data read from a client is
// forwarded to the peer; writes fan out to every connected client.
type TCPServer struct {
	peerSlot

	listener net.Listener
	mu       sync.RWMutex
	clients  map[string]net.Conn
	closed   chan struct{}
	once     sync.Once
}

// ListenTCP starts listening on addr. Connections are accepted once Serve
// runs.
func ListenTCP(addr string) (*TCPServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenTCP",
		"address":  listener.Addr().String(),
	}).Info("TCP server listening")

	return &TCPServer{
		listener: listener,
		clients:  make(map[string]net.Conn),
		closed:   make(chan struct{}),
	}, nil
}

// Addr returns the listening address.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TCPServer) String() string {
	return "tcpserver:" + s.listener.Addr().String()
}

// Clients returns the number of connected clients.
func (s *TCPServer) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Write sends data to every connected client. Clients that fail the write
// are dropped. With no clients, or none left, it returns
// ErrPeerUnavailable.
func (s *TCPServer) Write(data []byte) error {
	s.mu.RLock()
	conns := make(map[string]net.Conn, len(s.clients))
	for k, c := range s.clients {
		conns[k] = c
	}
	s.mu.RUnlock()

	if len(conns) == 0 {
		return ErrPeerUnavailable
	}

	delivered := 0
	for addr, conn := range conns {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err == nil {
			if _, err = conn.Write(data); err == nil {
				delivered++
				continue
			}
		}
		logrus.WithFields(logrus.Fields{
			"function": "TCPServer.Write",
			"client":   addr,
		}).Warn("Dropping client after failed write")
		s.unregisterClient(addr, conn)
	}

	if delivered == 0 {
		return ErrPeerUnavailable
	}
	logrus.WithFields(logrus.Fields{
		"function": "TCPServer.Write",
		"size":     len(data),
		"clients":  delivered,
	}).Debug("Data written to clients")
	return nil
}

// Serve accepts clients and forwards their data until ctx is cancelled or
// a forward fails.
func (s *TCPServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	go s.acceptConnections(ctx, fatal)

	select {
	case <-ctx.Done():
		s.Close()
		return nil
	case <-s.closed:
		return nil
	case err := <-fatal:
		return err
	}
}

func (s *TCPServer) acceptConnections(ctx context.Context, fatal chan<- error) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "TCPServer.acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}
		go s.handleConnection(ctx, conn, fatal)
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn, fatal chan<- error) {
	addr := conn.RemoteAddr().String()
	s.registerClient(addr, conn)
	defer s.unregisterClient(addr, conn)

	logrus.WithFields(logrus.Fields{
		"function": "TCPServer.handleConnection",
		"client":   addr,
	}).Info("Client connected")

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if ferr := s.forward(s.String(), data); ferr != nil {
				select {
				case fatal <- ferr:
				default:
				}
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "TCPServer.handleConnection",
					"client":   addr,
					"error":    err.Error(),
				}).Info("Client disconnected")
			}
			return
		}
	}
}

func (s *TCPServer) registerClient(addr string, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[addr] = conn
}

// unregisterClient closes conn and removes it if it is still the
// registered connection for addr.
func (s *TCPServer) unregisterClient(addr string, conn net.Conn) {
	s.mu.Lock()
	if s.clients[addr] == conn {
		delete(s.clients, addr)
	}
	s.mu.Unlock()
	conn.Close()
}

// Close stops listening and disconnects every client.
func (s *TCPServer) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.listener.Close()

		s.mu.Lock()
		for addr, conn := range s.clients {
			conn.Close()
			delete(s.clients, addr)
		}
		s.mu.Unlock()
	})
	return err
}
