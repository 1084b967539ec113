package xtp

import (
	"bytes"
	"hash/crc32"
	"time"

	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/stats"
)

// State is the receiver-side progress of one chunk.
type State int

const (
	// StateRequested means a REQUEST was accepted and BEGIN is queued.
	StateRequested State = iota
	// StateBegun means BEGIN went out and DATA may arrive.
	StateBegun
	// StateAcksSent means at least one ACKS reply went out.
	StateAcksSent
	// StateDone means every fragment arrived and the chunk was handled.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateBegun:
		return "begun"
	case StateAcksSent:
		return "acks_sent"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Session is the receiver's record of the chunk a source is sending.
type Session struct {
	Source  uint64
	Request Request
	State   State
	// CRCOK reports whether the completed chunk matched the REQUEST CRC.
	CRCOK   bool
	Started time.Time
	Updated time.Time

	acks  *Bitmap
	frags [][]byte
	token stats.Token
}

func newSession(src uint64, req Request, now time.Time) *Session {
	n := int(req.LastIndex) + 1
	return &Session{
		Source:  src,
		Request: req,
		State:   StateRequested,
		Started: now,
		Updated: now,
		acks:    NewBitmap(n),
		frags:   make([][]byte, n),
	}
}

// Count returns the number of DATA fragments the chunk consists of.
func (s *Session) Count() int { return s.acks.Len() }

// Received returns the number of distinct fragments held.
func (s *Session) Received() int { return s.acks.Count() }

// matches reports whether req describes the chunk this session is receiving.
func (s *Session) matches(req Request) bool {
	return s.Request == req
}

// store records fragment i and reports whether the chunk is now complete.
func (s *Session) store(i uint32, chunk []byte) bool {
	if int(i) >= s.Count() {
		return false
	}
	if !s.acks.Test(int(i)) {
		s.frags[i] = chunk
		s.acks.Set(int(i))
	}
	return s.acks.Full()
}

// assemble joins the fragments and checks them against the REQUEST CRC.
func (s *Session) assemble() ([]byte, bool) {
	data := bytes.Join(s.frags, nil)
	return data, crc32.ChecksumIEEE(data) == s.Request.CRC
}

func (s *Session) ackMessage() Acks {
	return Acks{Count: uint32(s.Count()), Bitmap: s.acks.Bytes()}
}

// SessionInfo is a read-only snapshot of a Session.
type SessionInfo struct {
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Offset    uint32    `json:"offset"`
	TotalSize uint32    `json:"total_size"`
	Fragments int       `json:"fragments"`
	Received  int       `json:"received"`
	State     string    `json:"state"`
	CRCOK     bool      `json:"crc_ok"`
	Started   time.Time `json:"started"`
	Updated   time.Time `json:"updated"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		Source:    radio.FormatAddress(s.Source),
		Path:      s.Request.Path,
		Offset:    s.Request.Offset,
		TotalSize: s.Request.TotalSize,
		Fragments: s.Count(),
		Received:  s.Received(),
		State:     s.State.String(),
		CRCOK:     s.CRCOK,
		Started:   s.Started,
		Updated:   s.Updated,
	}
}
