package main

import (
	"context"
	"testing"
	"time"

	"commhub/internal/audit"
	"commhub/internal/calls"
	"commhub/internal/extensions"
	"commhub/internal/schedule"
	"commhub/internal/sip"
)

func TestRecurringCallPlacedFromExtension(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	repo := audit.NewMemoryRepo()
	sink := audit.NewService(repo, nil)
	gw := sip.NewProcessGateway(sip.ProcessConfig{CommandTimeout: time.Second}, &fakeRunner{failOn: map[string]error{}}, sink, nil)
	issuer := sip.NewIssuer("sip.example.com")

	orch, err := calls.NewOrchestrator(calls.Deps{
		Issuer:    issuer,
		Registrar: gw,
		Audit:     sink,
		Clock:     clock,
		AfterFunc: func(time.Duration, func()) {},
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	exts, err := extensions.NewManager(extensions.Deps{Issuer: issuer, Registrar: gw, Calls: orch, Audit: sink})
	if err != nil {
		t.Fatalf("extensions: %v", err)
	}
	scheds, err := schedule.NewScheduler(schedule.Deps{Extensions: exts, Audit: sink, Clock: clock})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	e1, err := exts.CreateExtension(ctx, "u1", "101", "Front desk")
	if err != nil {
		t.Fatalf("create extension: %v", err)
	}
	sc, err := scheds.CreateSchedule(ctx, schedule.CreateRequest{
		ExtensionID:       e1.ID,
		DestinationNumber: "+15550001000",
		Rule:              schedule.Rule{Frequency: schedule.FrequencyDaily, Time: "09:00"},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	first := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	if !sc.NextExecution.Equal(first) {
		t.Fatalf("expected first run %v, got %v", first, sc.NextExecution)
	}

	now = first
	rep := scheds.Tick(ctx, now)
	if rep.Due != 1 || rep.Executed != 1 {
		t.Fatalf("unexpected tick report %+v", rep)
	}

	active, err := orch.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one placed call, got %d", len(active))
	}
	if active[0].From != e1.SIPURI() || active[0].To != "+15550001000" {
		t.Fatalf("unexpected call legs from=%q to=%q", active[0].From, active[0].To)
	}

	got, err := scheds.GetSchedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if want := first.Add(24 * time.Hour); !got.NextExecution.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, got.NextExecution)
	}
	if got.LastExecuted == nil || !got.LastExecuted.Equal(first) {
		t.Fatalf("expected last run %v, got %v", first, got.LastExecuted)
	}

	if rep := scheds.Tick(ctx, now); rep.Due != 0 {
		t.Fatalf("schedule fired twice: %+v", rep)
	}
	if n := len(repo.OfType(audit.EventRecurringExecuted)); n != 1 {
		t.Fatalf("expected one recurring_call_executed audit, got %d", n)
	}
}
