package callstate

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("callstate: not found")
	ErrInvalidArgument = errors.New("callstate: invalid argument")
	ErrClosed          = errors.New("callstate: registry closed")
)

// Store is the persistence contract behind the Registry.
//
// Layout follows the key-value shape the mobile side used: one state entry and
// one metadata entry per call, plus a singleton pointer to the last incoming call.
type Store interface {
	// Get returns the record for callID. ok is false when none exists.
	Get(ctx context.Context, callID string) (rec Record, ok bool, err error)

	// Create inserts rec only if no record exists for rec.CallID, and on success
	// moves the last-call pointer to rec.CallID. Both happen atomically.
	Create(ctx context.Context, rec Record) (created bool, err error)

	// PutState overwrites the state of callID, creating a bare record if absent.
	PutState(ctx context.Context, callID string, state CallState, now time.Time) error

	// Delete removes state and metadata for callID. The last-call pointer is untouched.
	Delete(ctx context.Context, callID string) error

	LastCallID(ctx context.Context) (string, bool, error)

	Ping(ctx context.Context) error
}

// MemoryStore keeps records in process memory. Last-call durability only
// lasts as long as the process; use a durable store in production.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	lastCall string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return Record{}, false, nil
	}
	rec.Metadata = rec.Metadata.Clone()
	return rec, true, nil
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.CallID]; ok {
		return false, nil
	}
	rec.Metadata = rec.Metadata.Clone()
	s.records[rec.CallID] = rec
	s.lastCall = rec.CallID
	return true, nil
}

func (s *MemoryStore) PutState(ctx context.Context, callID string, state CallState, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		rec = Record{CallID: callID, CreatedAt: now}
	}
	rec.State = state
	rec.UpdatedAt = now
	s.records[callID] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, callID)
	return nil
}

func (s *MemoryStore) LastCallID(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCall, s.lastCall != "", nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
