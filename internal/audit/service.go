package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader lists recorded events.
type Reader interface {
	Recent(ctx context.Context, ownerID string, limit int) ([]Event, error)
}

// Sink accepts audit records. Record never fails from the caller's point of view.
type Sink interface {
	Record(ctx context.Context, r Record)
}

// Service validates events and appends them to a repository.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.Service == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OwnerID == "" {
		e.OwnerID = SystemOwner
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record converts r into an Event and appends it. Failures are logged and dropped.
func (s *Service) Record(ctx context.Context, r Record) {
	e := Event{
		OwnerID: r.OwnerID,
		Type:    r.Type,
		Service: r.Service,
		Status:    r.Status,
		Message:   r.Message,
		CreatedAt: r.At,
	}
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			s.log.Warn("audit metadata encode failed", "event_type", r.Type, "err", err)
		} else {
			e.Metadata = string(raw)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "event_type", r.Type, "owner_id", r.OwnerID, "err", err)
	}
}

// Discard is a Sink that drops every record.
type Discard struct{}

func (Discard) Record(context.Context, Record) {}
