// Package storage persists a summary record for every screened call.
package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-screener/src/conversation"
)

var (
	ErrNotFound  = errors.New("storage: call record not found")
	ErrInvalidID = errors.New("storage: invalid call record id")
)

// Outcome is how a call finished.
type Outcome string

const (
	OutcomeForwarded Outcome = "forwarded"
	OutcomeEnded     Outcome = "ended"
	OutcomeBooked    Outcome = "booked"
	OutcomeHangup    Outcome = "hangup"
)

// CallRecord is the voicemail-style entry shown to the owner.
type CallRecord struct {
	ID          string              `json:"id"`
	CallSID     string              `json:"call_sid"`
	Number      string              `json:"number"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Spam        bool                `json:"spam"`
	Date        time.Time           `json:"date"`
	Unread      bool                `json:"unread"`
	Recording   string              `json:"recording,omitempty"`
	Outcome     Outcome             `json:"outcome"`
	Transcript  []conversation.Turn `json:"transcript,omitempty"`
}

// Store is implemented by the memory, postgres and redis backends.
type Store interface {
	Append(ctx context.Context, rec *CallRecord) error
	// List returns records newest first.
	List(ctx context.Context) ([]CallRecord, error)
	Get(ctx context.Context, id string) (*CallRecord, error)
	MarkRead(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps records in process. It is the default when no
// database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]CallRecord)}
}

func (m *MemoryStore) Append(_ context.Context, rec *CallRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CallRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*CallRecord, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Unread = false
	m.records[id] = r
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// SortNewestFirst orders records by date, latest first, breaking ties by id.
func SortNewestFirst(recs []CallRecord) {
	slices.SortFunc(recs, func(a, b CallRecord) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
