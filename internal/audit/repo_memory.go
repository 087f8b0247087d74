package audit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests
// and for running without Postgres.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns events matching t, oldest first.
func (r *MemoryRepo) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns the newest events for ownerID, newest first.
func (r *MemoryRepo) Recent(ctx context.Context, ownerID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	all := r.Events()
	var out []Event
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].OwnerID == ownerID {
			out = append(out, all[i])
		}
	}
	return out, nil
}
