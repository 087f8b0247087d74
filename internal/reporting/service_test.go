package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"commhub/internal/audit"
)

func TestReporting_CallsSummary(t *testing.T) {
	repo := audit.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	add := func(owner string, typ audit.EventType, st audit.Status, md string, at time.Time) {
		_ = repo.Append(context.Background(), audit.Event{OwnerID: owner, Type: typ, Service: "test", Status: st, Metadata: md, CreatedAt: at})
	}
	add("u1", audit.EventCallInitiated, audit.StatusSuccess, `{"status":"ringing"}`, now)
	add("u1", audit.EventCallInitiated, audit.StatusSuccess, `{"status":"ringing"}`, now)
	add("u1", audit.EventCallInitiated, audit.StatusError, `{"status":"failed"}`, now)
	add("u1", audit.EventCallEnded, audit.StatusSuccess, `{"duration":95}`, now)
	add("u1", audit.EventCallStatus, audit.StatusSuccess, `{"from":"active","to":"completed","duration":25}`, now)
	add("u1", audit.EventRecurringExecuted, audit.StatusSuccess, "", now)
	add("u1", audit.EventCallEnded, audit.StatusSuccess, `{"duration":600}`, now.Add(-2*time.Hour))
	add("u2", audit.EventCallInitiated, audit.StatusSuccess, "", now)

	svc := NewService(repo)
	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{OwnerID: "u1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 3 || out.FailedCalls != 1 || out.CompletedCalls != 2 {
		t.Fatalf("unexpected counts %+v", out)
	}
	if out.TotalDurationSeconds != 120 || out.AverageDurationSeconds != 60 {
		t.Fatalf("unexpected durations %+v", out)
	}
	if out.RecurringExecuted != 1 || out.Truncated {
		t.Fatalf("unexpected recurring/truncation %+v", out)
	}
}

func TestReporting_InvalidRequest(t *testing.T) {
	svc := NewService(audit.NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()

	cases := []CallsSummaryRequest{
		{Range: TimeRange{From: now, To: now.Add(time.Hour)}},
		{OwnerID: "u1"},
		{OwnerID: "u1", Range: TimeRange{From: now, To: now}},
	}
	for _, req := range cases {
		if _, err := svc.CallsSummary(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}
