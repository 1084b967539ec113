package xtp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/file"
	"github.com/opd-ai/radiolink/limits"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/stats"
	"github.com/opd-ai/radiolink/transport"
)

// txQueueSize bounds replies waiting for the run loop.
const txQueueSize = 64

// Recorder receives the receiver's audit trail. stats.Logger satisfies it.
type Recorder interface {
	BeginTransfer(info stats.TransferInfo) stats.Token
	AppendEvent(token stats.Token, typ stats.EventType, message string, value any)
}

type nopRecorder struct{}

func (nopRecorder) BeginTransfer(stats.TransferInfo) stats.Token          { return "" }
func (nopRecorder) AppendEvent(stats.Token, stats.EventType, string, any) {}

type outbound struct {
	dst  uint64
	msg  Message
	sent func()
}

// Server is the receiving side of the protocol.
type Server struct {
	store    *file.Store
	cfg      Config
	recorder Recorder
	clock    file.TimeProvider

	mu           sync.Mutex
	sessions     map[uint64]*Session
	lastActivity time.Time

	txq chan outbound
}

// NewServer creates a receiver writing into store. recorder may be nil.
func NewServer(store *file.Store, cfg Config, recorder Recorder) *Server {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Server{
		store:    store,
		cfg:      cfg.withDefaults(),
		recorder: recorder,
		clock:    file.DefaultTimeProvider{},
		sessions: make(map[uint64]*Session),
		txq:      make(chan outbound, txQueueSize),
	}
}

// SetTimeProvider replaces the clock used for session timestamps.
func (s *Server) SetTimeProvider(tp file.TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tp
}

// Serve handles protocol traffic on t until ctx is cancelled or t fails.
// It matches transport.ServeFunc so a Supervisor can restart it on a fresh
// transport; sessions survive restarts.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	t.RegisterHandler(s.HandlePacket)

	logrus.WithFields(logrus.Fields{
		"function": "Server.Serve",
		"local":    radio.FormatAddress(t.LocalAddr()),
		"root":     s.store.Root,
	}).Info("Receiver started")

	beacon := time.NewTicker(s.cfg.BeaconInterval)
	defer beacon.Stop()
	s.touch()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Done():
			return t.Err()
		case out := <-s.txq:
			if err := s.transmit(t, out); err != nil {
				return err
			}
		case <-beacon.C:
			if s.quietFor() < s.cfg.BeaconInterval {
				continue
			}
			if err := t.Send(Encode(Hello{}), radio.BroadcastAddress); err != nil {
				if errors.Is(err, transport.ErrDeviceFailure) {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"function": "Server.Serve",
					"error":    err.Error(),
				}).Warn("Beacon failed")
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function": "Server.Serve",
			}).Debug("Beacon sent")
		}
	}
}

func (s *Server) transmit(t transport.Transport, out outbound) error {
	_, err := t.SendAndWait(Encode(out.msg), out.dst, t.Timeout())
	if err != nil {
		if errors.Is(err, transport.ErrDeviceFailure) {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function": "Server.transmit",
			"kind":     out.msg.Kind().String(),
			"dest":     radio.FormatAddress(out.dst),
			"error":    err.Error(),
		}).Warn("Reply not confirmed")
		return nil
	}
	if out.sent != nil {
		out.sent()
	}
	return nil
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

func (s *Server) quietFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Since(s.lastActivity)
}

func (s *Server) reply(dst uint64, m Message, sent func()) {
	select {
	case s.txq <- outbound{dst: dst, msg: m, sent: sent}:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Server.reply",
			"kind":     m.Kind().String(),
		}).Warn("Transmit queue full, dropping reply")
	}
}

// HandlePacket processes one inbound packet. Replies are queued for the
// run loop and never sent from here.
func (s *Server) HandlePacket(src uint64, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.HandlePacket",
			"source":   radio.FormatAddress(src),
			"error":    err.Error(),
		}).Debug("Ignoring undecodable packet")
		return
	}

	switch m := msg.(type) {
	case Hello:
		// another receiver's beacon
		return
	case Request:
		s.handleRequest(src, m)
	case Data:
		s.handleData(src, m)
	case GetAcks:
		s.handleGetAcks(src)
	case TransferDone:
		s.handleTransferDone(src)
	case HashCheck:
		s.handleHashCheck(src, m)
	case Begin, Acks:
		logrus.WithFields(logrus.Fields{
			"function": "Server.HandlePacket",
			"kind":     m.Kind().String(),
		}).Debug("Ignoring sender-bound message")
		return
	}
	s.touch()
}

func (s *Server) handleRequest(src uint64, req Request) {
	fields := logrus.Fields{
		"function": "Server.handleRequest",
		"source":   radio.FormatAddress(src),
		"path":     req.Path,
		"offset":   req.Offset,
		"count":    uint64(req.LastIndex) + 1,
	}
	if _, err := s.store.Resolve(req.Path); err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Rejecting request")
		return
	}
	if err := limits.ValidateFragmentCount(int(req.LastIndex)+1, limits.MaxWideFragments); err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Rejecting request")
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[src]
	if ok && sess.State != StateDone && sess.matches(req) {
		// BEGIN was lost; keep what has arrived
		s.mu.Unlock()
		logrus.WithFields(fields).Debug("Duplicate request")
		s.reply(src, Begin{}, s.markBegun(src, sess))
		return
	}
	sess = newSession(src, req, s.clock.Now())
	sess.token = s.recorder.BeginTransfer(stats.TransferInfo{
		Source:    radio.FormatAddress(src),
		Path:      req.Path,
		Offset:    req.Offset,
		TotalSize: req.TotalSize,
		Fragments: req.LastIndex + 1,
		Started:   sess.Started,
	})
	s.sessions[src] = sess
	s.mu.Unlock()

	logrus.WithFields(fields).Info("Chunk requested")
	s.reply(src, Begin{}, s.markBegun(src, sess))
}

func (s *Server) markBegun(src uint64, sess *Session) func() {
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sessions[src] == sess && sess.State == StateRequested {
			sess.State = StateBegun
		}
	}
}

func (s *Server) handleData(src uint64, m Data) {
	s.mu.Lock()
	sess, ok := s.sessions[src]
	if !ok || sess.State == StateDone {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleData",
			"source":   radio.FormatAddress(src),
			"index":    m.Index,
		}).Debug("No open session for fragment")
		return
	}
	sess.Updated = s.clock.Now()
	if sess.State == StateRequested {
		sess.State = StateBegun
	}
	if !sess.store(m.Index, m.Chunk) {
		s.mu.Unlock()
		return
	}

	data, crcOK := sess.assemble()
	sess.CRCOK = crcOK
	sess.State = StateDone
	req := sess.Request
	token := sess.token
	s.mu.Unlock()

	fields := logrus.Fields{
		"function": "Server.handleData",
		"source":   radio.FormatAddress(src),
		"path":     req.Path,
		"offset":   req.Offset,
		"size":     len(data),
	}
	if !crcOK {
		logrus.WithFields(fields).Error("Chunk failed checksum")
		s.recorder.AppendEvent(token, stats.EventChecksum, "crc mismatch", false)
		return
	}
	s.recorder.AppendEvent(token, stats.EventChecksum, "crc ok", true)

	if err := s.store.WriteChunk(req.Path, int64(req.Offset), data); err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Error("Chunk write failed")
		return
	}
	logrus.WithFields(fields).Info("Chunk received")
}

func (s *Server) handleGetAcks(src uint64) {
	s.mu.Lock()
	sess, ok := s.sessions[src]
	if !ok {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleGetAcks",
			"source":   radio.FormatAddress(src),
		}).Debug("No session to acknowledge")
		return
	}
	msg := sess.ackMessage()
	received, count := sess.Received(), sess.Count()
	if sess.State != StateDone {
		sess.State = StateAcksSent
	}
	sess.Updated = s.clock.Now()
	token := sess.token
	s.mu.Unlock()

	s.recorder.AppendEvent(token, stats.EventAcks, fmt.Sprintf("received %d/%d", received, count),
		map[string]int{"received": received, "missing": count - received})
	s.reply(src, msg, nil)
}

func (s *Server) handleTransferDone(src uint64) {
	s.mu.Lock()
	sess, ok := s.sessions[src]
	var token stats.Token
	var path string
	if ok {
		token = sess.token
		path = sess.Request.Path
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.handleTransferDone",
		"source":   radio.FormatAddress(src),
		"path":     path,
	}).Debug("Sender finished chunk")
	s.recorder.AppendEvent(token, stats.EventDone, "transfer done", nil)
}

func (s *Server) handleHashCheck(src uint64, m HashCheck) {
	fields := logrus.Fields{
		"function": "Server.handleHashCheck",
		"source":   radio.FormatAddress(src),
		"path":     m.Path,
	}

	var token stats.Token
	s.mu.Lock()
	if sess, ok := s.sessions[src]; ok && sess.Request.Path == m.Path {
		token = sess.token
	}
	s.mu.Unlock()

	computed, err := s.store.PrefixHash(m.Path, s.cfg.HashPrefix)
	switch {
	case err != nil:
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Cannot hash received file")
		computed = [16]byte{}
	case computed != m.RemoteHash:
		fields["local"] = fmt.Sprintf("%x", computed)
		fields["remote"] = fmt.Sprintf("%x", m.RemoteHash)
		logrus.WithFields(fields).Error("Hash mismatch, discarding file")
		if err := s.store.Discard(m.Path); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.handleHashCheck",
				"error":    err.Error(),
			}).Warn("Discard failed")
		}
		computed = [16]byte{}
	default:
		if _, err := s.store.Finalize(m.Path); err != nil {
			fields["error"] = err.Error()
			logrus.WithFields(fields).Error("Finalize failed")
			computed = [16]byte{}
		}
	}

	ok := computed != [16]byte{}
	s.recorder.AppendEvent(token, stats.EventHash, fmt.Sprintf("hash %x", computed), ok)
	s.reply(src, HashCheck{RemoteHash: m.RemoteHash, ComputedHash: computed, Path: m.Path}, nil)
}

// Sessions returns a snapshot of every session, ordered by source.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
