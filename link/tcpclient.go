package link

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// TCPClient connects to a remote server on the first write. A failed write
// drops the connection and is retried once on a fresh one.
type TCPClient struct {
	peerSlot

	addr   string
	dialer proxy.Dialer

	mu        sync.Mutex
	conn      net.Conn
	connected chan struct{}
	closed    chan struct{}
	once      sync.Once
}

// NewTCPClient creates a client for addr. nil dialer dials directly.
func NewTCPClient(addr string, dialer proxy.Dialer) *TCPClient {
	if dialer == nil {
		dialer = proxy.Direct
	}
	return &TCPClient{
		addr:      addr,
		dialer:    dialer,
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (c *TCPClient) String() string {
	return "tcpclient:" + c.addr
}

// Connected reports whether a connection is open.
func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Write sends data, connecting first if needed.
func (c *TCPClient) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	err := c.writeLocked(data)
	if err == nil {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "TCPClient.Write",
		"address":  c.addr,
		"error":    err.Error(),
	}).Warn("Write failed, reconnecting")
	c.dropLocked()

	if err := c.writeLocked(data); err != nil {
		c.dropLocked()
		return fmt.Errorf("write %s: %w", c.addr, err)
	}
	return nil
}

func (c *TCPClient) writeLocked(data []byte) error {
	if c.conn == nil {
		conn, err := c.dialer.Dial("tcp", c.addr)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		c.conn = conn
		close(c.connected)
		c.connected = make(chan struct{})

		logrus.WithFields(logrus.Fields{
			"function": "TCPClient.writeLocked",
			"address":  c.addr,
		}).Info("Connected")
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

func (c *TCPClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *TCPClient) drop(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.dropLocked()
	}
}

// waitConn returns the current connection, waiting for one to be made.
func (c *TCPClient) waitConn(ctx context.Context) (net.Conn, bool) {
	for {
		c.mu.Lock()
		conn, next := c.conn, c.connected
		c.mu.Unlock()
		if conn != nil {
			return conn, true
		}

		select {
		case <-next:
		case <-ctx.Done():
			return nil, false
		case <-c.closed:
			return nil, false
		}
	}
}

// Serve forwards data read from the current connection. Between
// connections it waits for the next write to connect.
func (c *TCPClient) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		conn, ok := c.waitConn(ctx)
		if !ok {
			return nil
		}

		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				if ferr := c.forward(c.String(), data); ferr != nil {
					return ferr
				}
			}
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "TCPClient.Serve",
					"address":  c.addr,
					"error":    err.Error(),
				}).Debug("Connection closed")
				c.drop(conn)
				break
			}
		}
	}
}

// Close drops the connection and stops Serve.
func (c *TCPClient) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		c.dropLocked()
		c.mu.Unlock()
	})
	return nil
}
