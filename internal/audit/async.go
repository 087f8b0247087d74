package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncSink hands records to a single background worker so audit I/O never
// runs on the caller's goroutine. A full buffer drops the record. Records are
// stamped when queued, not when drained.
type AsyncSink struct {
	next  Sink
	log   *slog.Logger
	clock func() time.Time

	ch     chan Record
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func NewAsyncSink(next Sink, buffer int, log *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	a := &AsyncSink{
		next:  next,
		log:   log,
		clock: time.Now,
		ch:    make(chan Record, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for r := range a.ch {
		a.next.Record(context.Background(), r)
	}
}

func (a *AsyncSink) Record(_ context.Context, r Record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	if r.At.IsZero() {
		r.At = a.clock().UTC()
	}
	select {
	case a.ch <- r:
	default:
		a.log.Warn("audit buffer full, dropping record", "event_type", r.Type, "owner_id", r.OwnerID)
	}
}

// Close stops accepting records and waits for queued ones to flush or ctx to end.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown lets the DI container drain the sink on exit.
func (a *AsyncSink) Shutdown(ctx context.Context) error { return a.Close(ctx) }
