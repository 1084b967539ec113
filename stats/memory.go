package stats

import (
	"context"
	"fmt"
	"sync"
)

// Record is a transfer and its events.
type Record struct {
	Token  Token        `json:"token"`
	Info   TransferInfo `json:"info"`
	Events []Event      `json:"events"`
}

// Memory keeps the audit trail in memory.
type Memory struct {
	mu      sync.RWMutex
	order   []Token
	records map[Token]*Record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: make(map[Token]*Record)}
}

// Begin stores a new record.
func (m *Memory) Begin(_ context.Context, token Token, info TransferInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[token]; !ok {
		m.order = append(m.order, token)
	}
	m.records[token] = &Record{Token: token, Info: info}
	return nil
}

// Append adds ev to the record for token.
func (m *Memory) Append(_ context.Context, token Token, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[token]
	if !ok {
		return fmt.Errorf("unknown transfer %q", token)
	}
	rec.Events = append(rec.Events, ev)
	return nil
}

// Records returns copies of all records in creation order.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, tok := range m.order {
		rec := *m.records[tok]
		rec.Events = append([]Event(nil), rec.Events...)
		out = append(out, rec)
	}
	return out
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
