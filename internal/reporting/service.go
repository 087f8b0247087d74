package reporting

import (
	"context"
	"encoding/json"
	"errors"

	"commhub/internal/audit"
	"commhub/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// scanLimit bounds how many audit events one summary reads.
const scanLimit = 5000

// Service aggregates call metrics from the audit log. Sessions are purged
// shortly after they end, so the audit trail is the only durable record.
type Service struct {
	events audit.Reader
}

func NewService(events audit.Reader) *Service { return &Service{events: events} }

type callMetadata struct {
	Duration int64  `json:"duration"`
	To       string `json:"to"`
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OwnerID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.events == nil {
		return CallsSummary{}, errors.New("reporting: audit log not readable")
	}

	rows, err := s.events.Recent(ctx, req.OwnerID, scanLimit)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OwnerID: req.OwnerID, Range: req.Range, Truncated: len(rows) == scanLimit}
	for _, e := range rows {
		if !req.Range.contains(e.CreatedAt) {
			continue
		}
		var md callMetadata
		if e.Metadata != "" {
			_ = json.Unmarshal([]byte(e.Metadata), &md)
		}

		switch e.Type {
		case audit.EventCallInitiated:
			out.TotalCalls++
			if e.Status == audit.StatusError {
				out.FailedCalls++
			}
		case audit.EventCallEnded:
			out.CompletedCalls++
			out.TotalDurationSeconds += md.Duration
		case audit.EventCallStatus:
			switch calls.Status(md.To) {
			case calls.StatusCompleted:
				out.CompletedCalls++
				out.TotalDurationSeconds += md.Duration
			case calls.StatusFailed:
				out.FailedCalls++
			}
		case audit.EventRecurringExecuted:
			out.RecurringExecuted++
		case audit.EventRecurringFailed:
			out.RecurringFailed++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.CompletedCalls)
	}
	return out, nil
}
