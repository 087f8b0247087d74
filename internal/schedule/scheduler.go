package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"commhub/internal/audit"
	"commhub/internal/calls"
	"commhub/internal/extensions"
	"commhub/internal/store"

	"github.com/google/uuid"
)

const auditService = "voip-extensions"

var (
	ErrScheduleNotFound = errors.New("schedule: recurring call not found")
	ErrInvalidArgument  = errors.New("schedule: invalid argument")
)

// Schedule is a recurring outbound call from an extension.
//
// NextExecution is recomputed whenever Rule changes and after every firing.
type Schedule struct {
	ID                  string     `json:"id"`
	ExtensionID         string     `json:"extension_id"`
	DestinationNumber   string     `json:"destination_number"`
	Rule                Rule       `json:"schedule"`
	Enabled             bool       `json:"enabled"`
	LastExecuted        *time.Time `json:"last_executed,omitempty"`
	NextExecution       time.Time  `json:"next_execution"`
	UseExternalProvider bool       `json:"use_external_provider"`
	CreatedAt           time.Time  `json:"created_at"`
}

type CreateRequest struct {
	ExtensionID         string
	DestinationNumber   string
	Rule                Rule
	UseExternalProvider bool
}

// Update changes a schedule. Nil fields are left alone.
type Update struct {
	DestinationNumber   *string `json:"destination_number,omitempty"`
	Rule                *Rule   `json:"schedule,omitempty"`
	Enabled             *bool   `json:"enabled,omitempty"`
	UseExternalProvider *bool   `json:"use_external_provider,omitempty"`
}

// Extensions is what the scheduler needs from the extension manager. It never
// mutates extensions.
type Extensions interface {
	GetExtension(ctx context.Context, id string) (extensions.Extension, error)
	PlaceCallFromExtension(ctx context.Context, id, to string, useExternalProvider bool) (calls.Session, error)
}

type Deps struct {
	Extensions Extensions
	Audit      audit.Sink
	Store      store.Store[Schedule]
	Log        *slog.Logger
	Clock      func() time.Time
	NewID      func() string
}

type Scheduler struct {
	exts      Extensions
	audit     audit.Sink
	schedules store.Store[Schedule]
	log       *slog.Logger
	clock     func() time.Time
	newID     func() string
}

func NewScheduler(d Deps) (*Scheduler, error) {
	if d.Extensions == nil {
		return nil, errors.New("schedule: extensions required")
	}
	s := &Scheduler{
		exts:      d.Extensions,
		audit:     d.Audit,
		schedules: d.Store,
		log:       d.Log,
		clock:     d.Clock,
		newID:     d.NewID,
	}
	if s.audit == nil {
		s.audit = audit.Discard{}
	}
	if s.schedules == nil {
		s.schedules = store.NewMemory[Schedule]()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "scheduler")
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

func (s *Scheduler) CreateSchedule(ctx context.Context, req CreateRequest) (Schedule, error) {
	dest := strings.TrimSpace(req.DestinationNumber)
	if dest == "" {
		return Schedule{}, fmt.Errorf("%w: destination number required", ErrInvalidArgument)
	}
	ext, err := s.exts.GetExtension(ctx, req.ExtensionID)
	if err != nil {
		return Schedule{}, err
	}
	rule, err := req.Rule.Validate()
	if err != nil {
		return Schedule{}, err
	}
	now := s.clock()
	next, err := NextExecution(rule, now)
	if err != nil {
		return Schedule{}, err
	}

	sc := Schedule{
		ID:                  s.newID(),
		ExtensionID:         ext.ID,
		DestinationNumber:   dest,
		Rule:                rule,
		Enabled:             true,
		NextExecution:       next,
		UseExternalProvider: req.UseExternalProvider,
		CreatedAt:           now.UTC(),
	}
	if err := s.schedules.Insert(ctx, sc.ID, sc); err != nil {
		return Schedule{}, fmt.Errorf("schedule: store: %w", err)
	}

	s.audit.Record(ctx, audit.Record{
		OwnerID: ext.OwnerID,
		Type:    audit.EventRecurringCreated,
		Service: auditService,
		Message: fmt.Sprintf("Recurring call created from %s to %s", ext.Number, dest),
		Metadata: map[string]any{
			"recurring_call_id": sc.ID,
			"frequency":         string(rule.Frequency),
			"next_execution":    next.Format(time.RFC3339),
		},
	})
	return sc, nil
}

func (s *Scheduler) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	sc, err := s.schedules.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Schedule{}, ErrScheduleNotFound
	}
	return sc, err
}

func (s *Scheduler) ListSchedulesForExtension(ctx context.Context, extensionID string) ([]Schedule, error) {
	return s.schedules.List(ctx, func(sc Schedule) bool { return sc.ExtensionID == extensionID })
}

func (s *Scheduler) ListAllSchedules(ctx context.Context) ([]Schedule, error) {
	return s.schedules.List(ctx, nil)
}

// UpdateSchedule applies u. Only a rule change moves NextExecution.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id string, u Update) (Schedule, error) {
	var rule Rule
	if u.Rule != nil {
		r, err := u.Rule.Validate()
		if err != nil {
			return Schedule{}, err
		}
		rule = r
	}
	if u.DestinationNumber != nil && strings.TrimSpace(*u.DestinationNumber) == "" {
		return Schedule{}, fmt.Errorf("%w: destination number cannot be empty", ErrInvalidArgument)
	}

	now := s.clock()
	out, err := s.schedules.Update(ctx, id, func(sc *Schedule) error {
		if u.Rule != nil {
			next, err := NextExecution(rule, now)
			if err != nil {
				return err
			}
			sc.Rule = rule
			sc.NextExecution = next
		}
		if u.DestinationNumber != nil {
			sc.DestinationNumber = strings.TrimSpace(*u.DestinationNumber)
		}
		if u.Enabled != nil {
			sc.Enabled = *u.Enabled
		}
		if u.UseExternalProvider != nil {
			sc.UseExternalProvider = *u.UseExternalProvider
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return Schedule{}, ErrScheduleNotFound
	}
	if err != nil {
		return Schedule{}, err
	}

	s.record(ctx, out.ExtensionID, audit.Record{
		Type:     audit.EventRecurringUpdated,
		Message:  fmt.Sprintf("Recurring call %s updated", out.ID),
		Metadata: map[string]any{"recurring_call_id": out.ID, "enabled": out.Enabled},
	})
	return out, nil
}

func (s *Scheduler) DeleteSchedule(ctx context.Context, id string) error {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return err
	}
	s.record(ctx, sc.ExtensionID, audit.Record{
		Type:     audit.EventRecurringDeleted,
		Message:  fmt.Sprintf("Recurring call %s deleted", sc.ID),
		Metadata: map[string]any{"recurring_call_id": sc.ID},
	})
	return nil
}

// record attributes r to the extension owner, or to the system when the
// extension is gone.
func (s *Scheduler) record(ctx context.Context, extensionID string, r audit.Record) {
	r.Service = auditService
	if ext, err := s.exts.GetExtension(ctx, extensionID); err == nil {
		r.OwnerID = ext.OwnerID
	}
	s.audit.Record(ctx, r)
}
