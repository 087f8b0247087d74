package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commhub/internal/audit"
	"commhub/internal/calls"
	"commhub/internal/extensions"
)

// TickReport summarizes one pass over the due schedules.
type TickReport struct {
	Due      int `json:"due"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Orphaned int `json:"orphaned"`
}

var errNotDue = errors.New("schedule: not due")

// Tick fires every enabled schedule whose NextExecution is at or before now.
// Each schedule is claimed (LastExecuted and NextExecution advanced) before
// its call is placed, so an overlapping tick cannot fire it twice. One
// schedule failing never stops the rest.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickReport {
	var rep TickReport
	due, err := s.schedules.List(ctx, func(sc Schedule) bool {
		return sc.Enabled && !sc.NextExecution.After(now)
	})
	if err != nil {
		s.log.Error("list due schedules failed", "err", err)
		return rep
	}
	rep.Due = len(due)

	for _, sc := range due {
		if ctx.Err() != nil {
			break
		}
		switch s.fire(ctx, sc, now) {
		case outcomeExecuted:
			rep.Executed++
		case outcomeFailed:
			rep.Failed++
		case outcomeOrphaned:
			rep.Orphaned++
		}
	}
	if rep.Due > 0 {
		s.log.Info("scheduler tick", "due", rep.Due, "executed", rep.Executed, "failed", rep.Failed, "orphaned", rep.Orphaned)
	}
	return rep
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeExecuted
	outcomeFailed
	outcomeOrphaned
)

func (s *Scheduler) fire(ctx context.Context, sc Schedule, now time.Time) (out outcome) {
	log := s.log.With("recurring_call_id", sc.ID, "extension_id", sc.ExtensionID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("recurring call panicked", "panic", fmt.Sprint(r))
			out = outcomeFailed
		}
	}()

	ext, err := s.exts.GetExtension(ctx, sc.ExtensionID)
	if errors.Is(err, extensions.ErrExtensionNotFound) {
		s.disableOrphan(ctx, sc)
		return outcomeOrphaned
	}
	if err != nil {
		log.Error("load extension failed", "err", err)
		return outcomeFailed
	}

	claimed, err := s.schedules.Update(ctx, sc.ID, func(cur *Schedule) error {
		if !cur.Enabled || cur.NextExecution.After(now) {
			return errNotDue
		}
		next, err := NextExecution(cur.Rule, now)
		if err != nil {
			return err
		}
		at := now.UTC()
		cur.LastExecuted = &at
		cur.NextExecution = next
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNotDue) {
			log.Warn("claim schedule failed", "err", err)
		}
		return outcomeSkipped
	}

	session, err := s.exts.PlaceCallFromExtension(ctx, ext.ID, claimed.DestinationNumber, claimed.UseExternalProvider)
	if err == nil && session.Status == calls.StatusFailed {
		err = errors.New(session.FailureReason)
	}
	if err != nil {
		log.Warn("recurring call failed", "err", err)
		s.audit.Record(ctx, audit.Record{
			OwnerID: ext.OwnerID,
			Type:    audit.EventRecurringFailed,
			Service: auditService,
			Status:  audit.StatusError,
			Message: fmt.Sprintf("Recurring call failed: %s -> %s", ext.Number, claimed.DestinationNumber),
			Metadata: map[string]any{
				"recurring_call_id": claimed.ID,
				"session_id":        session.ID,
				"error":             err.Error(),
			},
		})
		return outcomeFailed
	}

	s.audit.Record(ctx, audit.Record{
		OwnerID: ext.OwnerID,
		Type:    audit.EventRecurringExecuted,
		Service: auditService,
		Message: fmt.Sprintf("Recurring call executed: %s -> %s", ext.Number, claimed.DestinationNumber),
		Metadata: map[string]any{
			"recurring_call_id": claimed.ID,
			"session_id":        session.ID,
			"next_execution":    claimed.NextExecution.Format(time.RFC3339),
		},
	})
	return outcomeExecuted
}

func (s *Scheduler) disableOrphan(ctx context.Context, sc Schedule) {
	if _, err := s.schedules.Update(ctx, sc.ID, func(cur *Schedule) error {
		cur.Enabled = false
		return nil
	}); err != nil {
		s.log.Warn("disable orphaned schedule failed", "recurring_call_id", sc.ID, "err", err)
		return
	}
	s.audit.Record(ctx, audit.Record{
		Type:     audit.EventRecurringOrphaned,
		Service:  auditService,
		Status:   audit.StatusWarning,
		Message:  fmt.Sprintf("Recurring call %s disabled: extension %s no longer exists", sc.ID, sc.ExtensionID),
		Metadata: map[string]any{"recurring_call_id": sc.ID, "extension_id": sc.ExtensionID},
	})
}
