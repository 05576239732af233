package audit

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory append-only repository.
// It keeps at most limit events; the oldest are dropped first.
type MemoryRepo struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

const defaultMemoryLimit = 10000

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{limit: defaultMemoryLimit} }

func NewMemoryRepoWithLimit(limit int) *MemoryRepo {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	return &MemoryRepo{limit: limit}
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	return nil
}

func (r *MemoryRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range r.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
