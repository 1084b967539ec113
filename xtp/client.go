package xtp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/file"
	"github.com/opd-ai/radiolink/frag"
	"github.com/opd-ai/radiolink/limits"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/transport"
)

// inboxSize bounds replies buffered between the receive handler and the
// sender state machine. Replies beyond it are dropped and retried for.
const inboxSize = 32

type inbound struct {
	src uint64
	msg Message
}

// ChunkResult describes one acknowledged chunk.
type ChunkResult struct {
	Offset    uint32
	Bytes     int
	Fragments int
	// Rounds is the number of DATA/GET_ACKS rounds the chunk needed.
	Rounds int
	// Sent counts DATA transmissions, retransmissions included.
	Sent     int
	Duration time.Duration
	Kbps     float64
}

// FileResult describes one file send.
type FileResult struct {
	Path       string
	RemotePath string
	Size       int64
	Chunks     int
	Duration   time.Duration
	Kbps       float64
	Verified   bool
}

// Client is the sending side of the protocol. It runs one transfer at a
// time.
type Client struct {
	t   transport.Transport
	cfg Config

	mu       sync.Mutex
	remote   uint64
	found    bool
	remoteCh chan struct{}

	inbox chan inbound
	sendM sync.Mutex
}

// NewClient creates a sender on t and takes over t's packet handler.
func NewClient(t transport.Transport, cfg Config) *Client {
	c := &Client{
		t:        t,
		cfg:      cfg.withDefaults(),
		remoteCh: make(chan struct{}),
		inbox:    make(chan inbound, inboxSize),
	}
	t.RegisterHandler(c.handlePacket)
	return c
}

func (c *Client) handlePacket(src uint64, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.handlePacket",
			"source":   radio.FormatAddress(src),
			"error":    err.Error(),
		}).Debug("Ignoring undecodable packet")
		return
	}

	if _, ok := msg.(Hello); ok {
		c.mu.Lock()
		if !c.found || c.remote != src {
			logrus.WithFields(logrus.Fields{
				"function": "Client.handlePacket",
				"remote":   radio.FormatAddress(src),
			}).Info("Remote discovered")
		}
		c.remote = src
		if !c.found {
			c.found = true
			close(c.remoteCh)
		}
		c.mu.Unlock()
		return
	}

	select {
	case c.inbox <- inbound{src: src, msg: msg}:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Client.handlePacket",
			"kind":     msg.Kind().String(),
		}).Warn("Reply inbox full, dropping message")
	}
}

// Remote returns the discovered receiver address.
func (c *Client) Remote() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote, c.found
}

// WaitForRemote blocks until a HELLO beacon has been seen or the discovery
// timeout elapses.
func (c *Client) WaitForRemote(ctx context.Context) (uint64, error) {
	timer := time.NewTimer(c.cfg.DiscoveryTimeout)
	defer timer.Stop()

	select {
	case <-c.remoteCh:
		addr, _ := c.Remote()
		return addr, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.t.Done():
		return 0, c.t.Err()
	case <-timer.C:
		logrus.WithFields(logrus.Fields{
			"function": "Client.WaitForRemote",
			"timeout":  c.cfg.DiscoveryTimeout,
		}).Warn("No remote discovered")
		return 0, fmt.Errorf("%w after %s", ErrNoRemote, c.cfg.DiscoveryTimeout)
	}
}

func (c *Client) responseTimeout() time.Duration {
	if c.cfg.ResponseTimeout > 0 {
		return c.cfg.ResponseTimeout
	}
	return c.t.Timeout()
}

func (c *Client) drainInbox() {
	for {
		select {
		case <-c.inbox:
		default:
			return
		}
	}
}

// await waits for a message from remote accepted by match.
func (c *Client) await(ctx context.Context, remote uint64, match func(Message) bool) (Message, error) {
	timer := time.NewTimer(c.responseTimeout())
	defer timer.Stop()

	for {
		select {
		case in := <-c.inbox:
			if in.src == remote && match(in.msg) {
				return in.msg, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.t.Done():
			return nil, c.t.Err()
		case <-timer.C:
			return nil, transport.ErrTransportTimeout
		}
	}
}

// exchange sends m to remote until a reply accepted by match arrives or
// the retry budget is spent.
func (c *Client) exchange(ctx context.Context, remote uint64, m Message, match func(Message) bool) (Message, error) {
	c.drainInbox()
	payload := Encode(m)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if _, err := c.t.SendAndWait(payload, remote, c.t.Timeout()); err != nil {
			if errors.Is(err, transport.ErrDeviceFailure) || errors.Is(err, transport.ErrClosed) {
				return nil, err
			}
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"function": "Client.exchange",
				"kind":     m.Kind().String(),
				"attempt":  attempt,
				"error":    err.Error(),
			}).Debug("Send failed, retrying")
			continue
		}

		reply, err := c.await(ctx, remote, match)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, transport.ErrTransportTimeout) {
			return nil, err
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"function": "Client.exchange",
			"kind":     m.Kind().String(),
			"attempt":  attempt,
		}).Debug("No reply, retrying")
	}
	return nil, lastErr
}

func isKind(k Kind) func(Message) bool {
	return func(m Message) bool { return m.Kind() == k }
}

func (c *Client) checkPath(remotePath string) error {
	if err := limits.ValidateRemotePath(remotePath); err != nil {
		return fmt.Errorf("%w: %w", ErrPathTooLong, err)
	}
	if room := c.t.MTU() - hashCheckHeaderSize; len(remotePath) > room {
		return fmt.Errorf("%w: %d bytes, frame has room for %d", ErrPathTooLong, len(remotePath), room)
	}
	if _, err := file.ValidatePath(remotePath); err != nil {
		return err
	}
	return nil
}

// SendChunk transfers data as the chunk of remotePath starting at offset.
// fileSize is the size of the whole file.
func (c *Client) SendChunk(ctx context.Context, data []byte, remotePath string, fileSize, offset uint32) (*ChunkResult, error) {
	c.sendM.Lock()
	defer c.sendM.Unlock()

	if err := c.checkPath(remotePath); err != nil {
		return nil, err
	}
	remote, err := c.WaitForRemote(ctx)
	if err != nil {
		return nil, err
	}

	seq, err := frag.Wide.Split(data, c.t.MTU()-dataHeaderSize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	req := Request{
		Offset:    offset,
		TotalSize: fileSize,
		LastIndex: uint32(seq.Len() - 1),
		CRC:       seq.CRC(),
		Path:      remotePath,
	}
	logrus.WithFields(logrus.Fields{
		"function":  "Client.SendChunk",
		"path":      remotePath,
		"offset":    offset,
		"size":      len(data),
		"fragments": seq.Len(),
	}).Debug("Requesting chunk transfer")

	if _, err := c.exchange(ctx, remote, req, isKind(KindBegin)); err != nil {
		if errors.Is(err, transport.ErrDeviceFailure) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrBeginRefused, err)
	}

	result := &ChunkResult{Offset: offset, Bytes: len(data), Fragments: seq.Len()}
	acked := NewBitmap(seq.Len())
	for result.Rounds < c.cfg.Retries && !acked.Full() {
		result.Rounds++

		for _, i := range acked.Missing() {
			msg := Data{Index: uint32(i), Chunk: seq.At(i).Data}
			if err := c.t.Send(Encode(msg), remote); err != nil {
				if errors.Is(err, transport.ErrDeviceFailure) || errors.Is(err, transport.ErrClosed) {
					return nil, err
				}
				logrus.WithFields(logrus.Fields{
					"function": "Client.SendChunk",
					"index":    i,
					"error":    err.Error(),
				}).Warn("Fragment send failed")
			}
			result.Sent++
		}
		if err := c.t.Flush(c.t.Timeout()); err != nil {
			if errors.Is(err, transport.ErrDeviceFailure) || errors.Is(err, transport.ErrClosed) {
				return nil, err
			}
			logrus.WithFields(logrus.Fields{
				"function": "Client.SendChunk",
				"error":    err.Error(),
			}).Warn("Flush timed out")
		}

		reply, err := c.exchange(ctx, remote, GetAcks{}, isKind(KindAcks))
		if err != nil {
			if errors.Is(err, transport.ErrDeviceFailure) || ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrNoAcks, err)
		}
		acks := reply.(Acks)
		acked.Merge(BitmapFromBytes(acks.Bitmap, int(acks.Count)))

		logrus.WithFields(logrus.Fields{
			"function": "Client.SendChunk",
			"round":    result.Rounds,
			"acked":    acked.Count(),
			"total":    acked.Len(),
		}).Debug("Acknowledgements received")
	}

	if !acked.Full() {
		return nil, fmt.Errorf("%w: %d of %d fragments unacknowledged after %d rounds",
			ErrRetriesExhausted, acked.Len()-acked.Count(), acked.Len(), result.Rounds)
	}

	if err := c.t.Send(Encode(TransferDone{}), remote); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.SendChunk",
			"error":    err.Error(),
		}).Debug("TransferDone not sent")
	}

	result.Duration = time.Since(start)
	result.Kbps = file.Kbps(uint64(len(data)), result.Duration)
	logrus.WithFields(logrus.Fields{
		"function": "Client.SendChunk",
		"path":     remotePath,
		"offset":   offset,
		"rounds":   result.Rounds,
		"sent":     result.Sent,
		"kbps":     fmt.Sprintf("%.2f", result.Kbps),
	}).Info("Chunk acknowledged")
	return result, nil
}

// SendFile sends the file at path as remotePath chunk by chunk, then
// verifies it with HASH_CHECK. Each chunk is retried ChunkRetries times.
func (c *Client) SendFile(ctx context.Context, path, remotePath string) (*FileResult, error) {
	src, err := file.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	size := src.Size()
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, size)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.SendFile",
		"path":     path,
		"remote":   remotePath,
		"size":     size,
	}).Info("Sending file")

	result := &FileResult{Path: path, RemotePath: remotePath, Size: size}
	meter := file.NewMeter()
	start := time.Now()

	for offset := int64(0); offset < size || (size == 0 && result.Chunks == 0); offset += int64(c.cfg.ChunkSize) {
		data, err := src.ReadChunk(offset, c.cfg.ChunkSize)
		if err != nil {
			return nil, err
		}
		if err := c.sendChunkWithRetry(ctx, data, remotePath, uint32(size), uint32(offset)); err != nil {
			return nil, err
		}
		meter.Add(len(data))
		result.Chunks++
	}

	result.Duration = time.Since(start)
	result.Kbps = file.Kbps(uint64(size), result.Duration)

	ok, err := c.Verify(ctx, path, remotePath)
	if err != nil {
		return result, err
	}
	result.Verified = ok

	logrus.WithFields(logrus.Fields{
		"function": "Client.SendFile",
		"path":     path,
		"chunks":   result.Chunks,
		"kbps":     fmt.Sprintf("%.2f", result.Kbps),
		"smoothed": fmt.Sprintf("%.2f", meter.Kbps()),
		"verified": ok,
	}).Info("File sent")
	return result, nil
}

func (c *Client) sendChunkWithRetry(ctx context.Context, data []byte, remotePath string, size, offset uint32) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ChunkRetries; attempt++ {
		_, err := c.SendChunk(ctx, data, remotePath, size, offset)
		if err == nil {
			return nil
		}
		if errors.Is(err, transport.ErrDeviceFailure) || errors.Is(err, transport.ErrClosed) ||
			errors.Is(err, ErrNoRemote) || errors.Is(err, ErrPathTooLong) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"function": "Client.sendChunkWithRetry",
			"offset":   offset,
			"attempt":  attempt,
			"error":    err.Error(),
		}).Warn("Chunk failed, retrying")
	}
	return fmt.Errorf("chunk at offset %d: %w", offset, lastErr)
}

// Verify asks the receiver to hash its copy of remotePath and compares the
// result with the local file. Only the first HashPrefix bytes are hashed.
func (c *Client) Verify(ctx context.Context, path, remotePath string) (bool, error) {
	if err := c.checkPath(remotePath); err != nil {
		return false, err
	}
	local, err := file.HashFilePrefix(path, c.cfg.HashPrefix)
	if err != nil {
		return false, err
	}
	remote, err := c.WaitForRemote(ctx)
	if err != nil {
		return false, err
	}

	c.sendM.Lock()
	defer c.sendM.Unlock()

	reply, err := c.exchange(ctx, remote, HashCheck{RemoteHash: local, Path: remotePath}, func(m Message) bool {
		hc, ok := m.(HashCheck)
		return ok && hc.Path == remotePath
	})
	if err != nil {
		return false, fmt.Errorf("hash check: %w", err)
	}

	computed := reply.(HashCheck).ComputedHash
	ok := computed != [16]byte{} && computed == local
	logrus.WithFields(logrus.Fields{
		"function": "Client.Verify",
		"path":     remotePath,
		"local":    fmt.Sprintf("%x", local),
		"remote":   fmt.Sprintf("%x", computed),
		"match":    ok,
	}).Info("Hash check complete")
	return ok, nil
}
