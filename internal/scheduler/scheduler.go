// Package scheduler drives delivery cycles on a clock-aligned cadence: every
// cycle runs on a period boundary in UTC (every even hour for the default
// two-hour period), however long the previous cycle took.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/jonboulle/clockwork"
)

// DefaultPeriod is the delivery cadence.
const DefaultPeriod = 2 * time.Hour

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// CycleFunc runs one delivery cycle.
type CycleFunc func(ctx context.Context) error

// Scheduler owns the single process-wide delivery timer.
type Scheduler struct {
	run     CycleFunc
	clock   clockwork.Clock
	period  time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler. A non-positive period means DefaultPeriod.
func New(run CycleFunc, clock clockwork.Clock, period time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		run:     run,
		clock:   clock,
		period:  period,
		logger:  logger,
		metrics: metrics,
	}
}

// NextBoundary returns the first instant at or after now that is a whole
// multiple of period since UTC midnight. For a two-hour period that is the
// next even hour with minute zero. Every UTC midnight is a boundary, so a
// period that does not divide 24h restarts its count each day.
func NextBoundary(now time.Time, period time.Duration) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	b := midnight.Add(now.Sub(midnight).Truncate(period))
	if b.Equal(now) {
		return b
	}
	next := b.Add(period)
	if tomorrow := midnight.AddDate(0, 0, 1); next.After(tomorrow) {
		return tomorrow
	}
	return next
}

// following returns the boundary after one that just fired. Boundaries that
// passed while a cycle overran are skipped rather than run back to back.
func following(fired, now time.Time, period time.Duration) time.Time {
	next := NextBoundary(fired.Add(time.Nanosecond), period)
	if now.After(next) {
		return NextBoundary(now, period)
	}
	return next
}

// Start arms the timer for the next boundary. Cycles run in a background
// goroutine until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	now := s.clock.Now()
	first := NextBoundary(now, s.period)
	s.logger.Info("scheduler started",
		"period", s.period,
		"first_cycle", first,
		"delay", first.Sub(now),
	)
	s.metrics.SchedulerRunning.Set(1)

	go s.loop(ctx, s.done, first)
	return nil
}

// Stop cancels the pending timer and waits for an in-flight cycle to finish,
// or for ctx to expire. No new cycle starts once Stop is called.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight cycle: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}, first time.Time) {
	defer close(done)
	defer s.metrics.SchedulerRunning.Set(0)

	// Each cycle is armed against its boundary, not the end of the previous
	// cycle.
	next := first
	for {
		if delay := next.Sub(s.clock.Now()); delay > 0 {
			timer := s.clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.Chan():
			}
		}
		s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		next = following(next, s.clock.Now(), s.period)
	}
}

// runOnce executes one cycle. Stopping the scheduler does not interrupt it,
// and a failure or panic is logged without breaking the cadence.
func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.metrics.CycleFailures.Inc()
			s.logger.Error("delivery cycle panicked", "panic", r)
		}
	}()

	if err := s.run(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("delivery cycle failed", "error", err)
	}
}
