package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commhub/internal/audit"
	"commhub/internal/store"
	"commhub/internal/telephony"

	"github.com/google/uuid"
)

// AdminOverrideEngine applies silent, expiry-based diversions of a dialed
// number to a fixed target.
//
// Requirements:
//   - Silent routing: callers must not be able to tell an override was used,
//     so decisions carry no special reason.
//   - Expiry based: overrides are always time-bounded.
//   - Every applied override is recorded in the internal audit log.
//
// It returns a Decision only and never calls providers. It runs ahead of
// extension routing.
type AdminOverrideEngine struct {
	Store OverrideStore
	Audit audit.Sink
	Now   func() time.Time
}

// OverrideStore resolves currently active overrides.
type OverrideStore interface {
	// GetActiveOverride returns (Override{}, false, nil) when none applies.
	GetActiveOverride(ctx context.Context, number string, now time.Time) (Override, bool, error)
}

type Override struct {
	ID string `json:"id"`
	// Number is the dialed number being diverted.
	Number string `json:"number"`
	// ConnectTo is the forced dial target, a SIP URI or E.164 number.
	ConnectTo string    `json:"connect_to"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

var ErrInvalidOverride = errors.New("routing: invalid override")

func NewAdminOverrideEngine(s OverrideStore, sink audit.Sink) *AdminOverrideEngine {
	return &AdminOverrideEngine{Store: s, Audit: sink, Now: time.Now}
}

// Decide returns (decision, true, nil) if an active override was applied.
func (e *AdminOverrideEngine) Decide(ctx context.Context, req telephony.InboundCallRequest) (Decision, bool, error) {
	if e.Store == nil {
		return Decision{}, false, nil
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	o, ok, err := e.Store.GetActiveOverride(ctx, req.To, now)
	if err != nil {
		return Decision{}, false, err
	}
	if !ok || !o.ExpiresAt.After(now) {
		return Decision{}, false, nil
	}
	if o.ConnectTo == "" {
		return Decision{}, false, errors.New("routing: override connect_to empty")
	}

	if e.Audit != nil {
		e.Audit.Record(ctx, audit.Record{
			Type:    audit.EventRoutingOverrideApplied,
			Service: auditService,
			Message: "routing override applied",
			Metadata: map[string]any{
				"override_id":      o.ID,
				"provider_call_id": req.ProviderCallID,
				"from":             req.From,
				"to":               req.To,
				"connect_to":       o.ConnectTo,
				"expires_at":       o.ExpiresAt.Format(time.RFC3339),
			},
		})
	}
	return Decision{Action: ActionConnect, ConnectTo: o.ConnectTo}, true, nil
}

// MemoryOverrideStore keeps overrides keyed by dialed number.
type MemoryOverrideStore struct {
	items store.Store[Override]
	now   func() time.Time
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{items: store.NewMemory[Override](), now: time.Now}
}

// Set installs or replaces the override for o.Number.
func (m *MemoryOverrideStore) Set(ctx context.Context, o Override) (Override, error) {
	o.Number = strings.TrimSpace(o.Number)
	o.ConnectTo = strings.TrimSpace(o.ConnectTo)
	if o.Number == "" || o.ConnectTo == "" {
		return Override{}, fmt.Errorf("%w: number and connect_to required", ErrInvalidOverride)
	}
	if !o.ExpiresAt.After(m.now()) {
		return Override{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidOverride)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	_, err := m.items.Update(ctx, o.Number, func(cur *Override) error {
		*cur = o
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		err = m.items.Insert(ctx, o.Number, o)
	}
	if err != nil {
		return Override{}, err
	}
	return o, nil
}

func (m *MemoryOverrideStore) Remove(ctx context.Context, number string) error {
	return m.items.Delete(ctx, strings.TrimSpace(number))
}

// Active lists overrides that have not expired.
func (m *MemoryOverrideStore) Active(ctx context.Context) ([]Override, error) {
	now := m.now()
	return m.items.List(ctx, func(o Override) bool { return o.ExpiresAt.After(now) })
}

func (m *MemoryOverrideStore) GetActiveOverride(ctx context.Context, number string, now time.Time) (Override, bool, error) {
	o, err := m.items.Get(ctx, strings.TrimSpace(number))
	if errors.Is(err, store.ErrNotFound) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, err
	}
	if !o.ExpiresAt.After(now) {
		return Override{}, false, nil
	}
	return o, true, nil
}
