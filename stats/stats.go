package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Token identifies one transfer in the audit trail.
type Token string

// EventType classifies an audit event.
type EventType string

const (
	EventAcks     EventType = "acks"
	EventChecksum EventType = "crc"
	EventHash     EventType = "hash"
	EventDone     EventType = "done"
)

// ErrUnknownBackend indicates an Options.Backend value Open does not know.
var ErrUnknownBackend = errors.New("unknown stats backend")

// TransferInfo describes a transfer when it begins.
type TransferInfo struct {
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Offset    uint32    `json:"offset"`
	TotalSize uint32    `json:"total_size"`
	Fragments uint32    `json:"fragments"`
	Started   time.Time `json:"started"`
}

// Event is one entry appended to a transfer.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Value   any       `json:"value,omitempty"`
	Time    time.Time `json:"time"`
}

// Backend persists the audit trail.
type Backend interface {
	Begin(ctx context.Context, token Token, info TransferInfo) error
	Append(ctx context.Context, token Token, ev Event) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "none", "log", "memory", "postgres", "etcd".
	Backend   string
	DSN       string
	Endpoints []string
	Prefix    string
}

// Open creates the backend named by opts.
func Open(opts Options) (Backend, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "none":
		return Nop{}, nil
	case "log":
		return LogBackend{}, nil
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(opts.DSN)
	case "etcd":
		return NewEtcd(opts.Endpoints, opts.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

type op struct {
	token Token
	info  *TransferInfo
	event *Event
}

// Logger is the non-blocking front end the protocol records through.
type Logger struct {
	backend Backend
	queue   chan op
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLogger starts a logger draining into backend. queueSize bounds how
// many records may wait; further records are dropped.
func NewLogger(backend Backend, queueSize int) *Logger {
	if queueSize <= 0 {
		queueSize = 128
	}
	l := &Logger{
		backend: backend,
		queue:   make(chan op, queueSize),
		timeout: 5 * time.Second,
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// Discard returns a logger that records nothing.
func Discard() *Logger {
	return NewLogger(Nop{}, 1)
}

// BeginTransfer opens a transfer record and returns its token.
func (l *Logger) BeginTransfer(info TransferInfo) Token {
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	tok := Token(uuid.NewString())
	l.enqueue(op{token: tok, info: &info})
	return tok
}

// AppendEvent adds an event to the transfer identified by token.
func (l *Logger) AppendEvent(token Token, typ EventType, message string, value any) {
	ev := Event{Type: typ, Message: message, Value: value, Time: time.Now()}
	l.enqueue(op{token: token, event: &ev})
}

func (l *Logger) enqueue(o op) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- o:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Logger.enqueue",
			"token":    o.token,
		}).Warn("Stats queue full, dropping record")
	}
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for o := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		var err error
		if o.info != nil {
			err = l.backend.Begin(ctx, o.token, *o.info)
		} else {
			err = l.backend.Append(ctx, o.token, *o.event)
		}
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Logger.drain",
				"token":    o.token,
				"error":    err.Error(),
			}).Warn("Stats backend write failed")
		}
	}
}

// Close flushes queued records and closes the backend.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	return l.backend.Close()
}

// Nop discards all records.
type Nop struct{}

func (Nop) Begin(context.Context, Token, TransferInfo) error { return nil }
func (Nop) Append(context.Context, Token, Event) error       { return nil }
func (Nop) Close() error                                     { return nil }

// LogBackend writes records as structured log lines.
type LogBackend struct{}

// Begin logs the start of a transfer.
func (LogBackend) Begin(_ context.Context, token Token, info TransferInfo) error {
	logrus.WithFields(logrus.Fields{
		"function":   "LogBackend.Begin",
		"token":      token,
		"source":     info.Source,
		"path":       info.Path,
		"offset":     info.Offset,
		"total_size": info.TotalSize,
		"fragments":  info.Fragments,
	}).Info("Transfer started")
	return nil
}

// Append logs one event.
func (LogBackend) Append(_ context.Context, token Token, ev Event) error {
	logrus.WithFields(logrus.Fields{
		"function": "LogBackend.Append",
		"token":    token,
		"type":     ev.Type,
		"value":    ev.Value,
	}).Info(ev.Message)
	return nil
}

// Close is a no-op.
func (LogBackend) Close() error { return nil }
