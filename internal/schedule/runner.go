package schedule

import (
	"context"
	"log/slog"
	"time"
)

const DefaultInterval = 60 * time.Second

// Ticker is satisfied by *Scheduler.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) TickReport
}

// Runner drives a Ticker on a fixed interval until its context is cancelled.
type Runner struct {
	target   Ticker
	interval time.Duration
	clock    func() time.Time
	log      *slog.Logger
}

func NewRunner(target Ticker, interval time.Duration, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{target: target, interval: interval, clock: time.Now, log: log.With("component", "scheduler_runner")}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	r.log.Info("scheduler started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("scheduler stopped")
			return
		case <-t.C:
			r.target.Tick(ctx, r.clock())
		}
	}
}
