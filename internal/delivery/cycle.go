package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// dueTolerance lets a cycle that fires slightly early still pick up
// subscriptions due on the boundary it was armed for.
const dueTolerance = time.Minute

// Summary reports one completed cycle.
type Summary struct {
	CycleID       string
	Started       time.Time
	Duration      time.Duration
	Subscriptions int
	Due           int
	Notified      int
	Fallbacks     int
	Pruned        int
	Failed        int
}

// Due reports whether sub should be processed by a cycle running at now.
func Due(sub domain.Subscription, now time.Time) bool {
	return !sub.NextNotificationTime.After(now.Add(dueTolerance))
}

// RunCycle processes every due subscription. Subscriptions run concurrently
// up to the configured bound; a failure in one never affects another. The
// only error returned is a failure to list subscriptions.
func (c *Coordinator) RunCycle(ctx context.Context) (Summary, error) {
	id := uuid.NewString()
	ctx = WithCycleID(ctx, id)
	logger := c.logger.With("cycle_id", id)

	start := c.clock.Now()
	summary := Summary{CycleID: id, Started: start}
	c.metrics.CyclesTotal.Inc()

	subs, err := c.repo.ListAll(ctx)
	if err != nil {
		c.metrics.CycleFailures.Inc()
		logger.Error("list subscriptions failed", "error", err)
		return summary, fmt.Errorf("list subscriptions: %w", err)
	}
	summary.Subscriptions = len(subs)

	due := make([]domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		if Due(sub, start) {
			due = append(due, sub)
		}
	}
	summary.Due = len(due)
	c.metrics.CycleSize.Observe(float64(len(due)))
	logger.Info("delivery cycle started", "subscriptions", len(subs), "due", len(due))

	results := make([]Result, len(due))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, sub := range due {
		g.Go(func() error {
			results[i] = c.deliver(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()

	var outcomes []domain.DeliveryOutcome
	for _, r := range results {
		outcomes = append(outcomes, r.Sent...)
		switch r.Status {
		case StatusNotified:
			summary.Notified++
		case StatusFallback:
			summary.Fallbacks++
		case StatusPruned:
			summary.Pruned++
		case StatusFailed:
			summary.Failed++
		}
	}
	c.publish(ctx, outcomes)

	summary.Duration = c.clock.Since(start)
	c.metrics.CycleDuration.Observe(summary.Duration.Seconds())
	logger.Info("delivery cycle finished",
		"notified", summary.Notified,
		"fallbacks", summary.Fallbacks,
		"pruned", summary.Pruned,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)
	return summary, nil
}
