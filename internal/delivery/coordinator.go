// Package delivery turns a subscription into pushed notifications: fetch the
// weather, select the local-hour window, compose, send, and record the
// bookkeeping. Each subscription is its own failure boundary.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonProvider = "provider"
	ReasonDataGap  = "data_gap"
)

// OutcomePublisher receives the outcome of every attempted send.
type OutcomePublisher interface {
	PublishOutcomes(ctx context.Context, outcomes []domain.DeliveryOutcome) error
}

// Coordinator delivers notifications for one subscription at a time. It is
// safe for concurrent use.
type Coordinator struct {
	repo        domain.SubscriptionRepository
	provider    domain.WeatherProvider
	channel     domain.DeliveryChannel
	publisher   OutcomePublisher // optional
	clock       clockwork.Clock
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithConcurrency bounds how many subscriptions a cycle processes at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPublisher streams delivery outcomes after each cycle.
func WithPublisher(p OutcomePublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// NewCoordinator wires the coordinator's collaborators.
func NewCoordinator(
	repo domain.SubscriptionRepository,
	provider domain.WeatherProvider,
	channel domain.DeliveryChannel,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		repo:        repo,
		provider:    provider,
		channel:     channel,
		clock:       clockwork.NewRealClock(),
		concurrency: 8,
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status summarizes what happened to one subscription.
type Status int

const (
	StatusNotified Status = iota // weather notifications composed and sent; bookkeeping advanced
	StatusFallback               // provider or data failure; failure notice sent, bookkeeping unchanged
	StatusPruned                 // endpoint permanently invalid; subscription deleted
	StatusFailed                 // internal fault; nothing recorded
)

func (s Status) String() string {
	switch s {
	case StatusNotified:
		return "notified"
	case StatusFallback:
		return "fallback"
	case StatusPruned:
		return "pruned"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of delivering to one subscription.
type Result struct {
	EndpointKey string
	Status      Status
	Sent        []domain.DeliveryOutcome
	Err         error
}

// Deliver runs one delivery for sub regardless of whether it is due. It is
// used right after registration.
func (c *Coordinator) Deliver(ctx context.Context, sub domain.Subscription) Result {
	res := c.deliver(ctx, sub)
	c.publish(ctx, res.Sent)
	return res
}

// deliver processes one subscription inside its own failure boundary.
func (c *Coordinator) deliver(ctx context.Context, sub domain.Subscription) (res Result) {
	res.EndpointKey = sub.Key()
	logger := c.logger.With("endpoint_key", sub.Key(), "location", sub.Location.String())
	if id := CycleIDFrom(ctx); id != "" {
		logger = logger.With("cycle_id", id)
	}

	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("delivery panic: %v", r)
			logger.Error("delivery panicked", "panic", r)
		}
	}()

	now := c.clock.Now()

	report, err := c.provider.Fetch(ctx, sub.Location)
	if err != nil {
		return c.fallback(ctx, logger, sub, ReasonProvider, err)
	}
	tz, err := report.Timezone()
	if err != nil {
		return c.fallback(ctx, logger, sub, ReasonDataGap, err)
	}
	window, err := domain.SelectWindow(report.Hourly, now, tz)
	if err != nil {
		return c.fallback(ctx, logger, sub, ReasonDataGap, err)
	}

	payloads := make([]domain.Payload, 0, 2+len(report.Alerts))
	payloads = append(payloads,
		domain.ComposeCurrent(sub.Location, window.Current, domain.HourLabel(window.Current.Time, tz)),
		domain.ComposeForecast(sub.Location, window.Next, domain.HourLabel(window.Next.Time, tz)),
	)
	for _, a := range report.Alerts {
		payloads = append(payloads, domain.ComposeAlert(sub.Location, a, tz))
	}

	for _, p := range payloads {
		result, sendErr := c.send(ctx, sub, p, &res)
		switch result {
		case domain.PermanentlyInvalid:
			return c.prune(ctx, logger, sub, res, sendErr)
		case domain.TransientFailure:
			logger.Warn("transient delivery failure", "kind", p.Data.Kind, "error", sendErr)
		}
	}

	// The weather computation succeeded, so the subscriber is not retried
	// early even if a send failed transiently.
	next := domain.NextNotificationTime(now, tz)
	if err := c.repo.RecordNotified(ctx, sub.Endpoint, now, next); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("subscription removed during delivery, skipping bookkeeping")
		} else {
			logger.Error("record notification failed", "error", err)
			res.Err = err
		}
	}

	res.Status = StatusNotified
	logger.Debug("subscription notified",
		"payloads", len(payloads),
		"timezone", report.TimezoneID,
		"next_notification", next,
	)
	return res
}

// fallback sends the single failure notice and leaves bookkeeping untouched
// so the subscriber is retried at the very next cycle.
func (c *Coordinator) fallback(ctx context.Context, logger *slog.Logger, sub domain.Subscription, reason string, cause error) Result {
	c.metrics.Fallbacks.WithLabelValues(reason).Inc()
	logger.Warn("weather unavailable, sending fallback", "reason", reason, "error", cause)

	res := Result{EndpointKey: sub.Key(), Status: StatusFallback, Err: cause}
	result, sendErr := c.send(ctx, sub, domain.ComposeFailure(sub.Location), &res)
	switch result {
	case domain.PermanentlyInvalid:
		return c.prune(ctx, logger, sub, res, sendErr)
	case domain.TransientFailure:
		logger.Warn("fallback delivery failed", "error", sendErr)
	}
	return res
}

// prune deletes a subscription whose endpoint will never accept messages.
func (c *Coordinator) prune(ctx context.Context, logger *slog.Logger, sub domain.Subscription, res Result, cause error) Result {
	res.Status = StatusPruned
	res.Err = cause

	removed, err := c.repo.DeleteByEndpoint(ctx, sub.Endpoint)
	if err != nil {
		logger.Error("prune subscription failed", "error", err)
		res.Err = errors.Join(cause, err)
		return res
	}
	if removed {
		c.metrics.SubscriptionPruned.Inc()
	}
	logger.Info("pruned subscription with invalid endpoint", "error", cause)
	return res
}

func (c *Coordinator) send(ctx context.Context, sub domain.Subscription, p domain.Payload, res *Result) (domain.DeliveryResult, error) {
	result, err := c.channel.Send(ctx, sub, p)
	if err != nil && result == domain.Delivered {
		// A channel must not report success alongside an error.
		result = domain.TransientFailure
	}
	c.metrics.Deliveries.WithLabelValues(string(p.Data.Kind), result.String()).Inc()
	res.Sent = append(res.Sent, domain.DeliveryOutcome{
		CycleID:     CycleIDFrom(ctx),
		EndpointKey: sub.Key(),
		Location:    sub.Location.String(),
		Kind:        p.Data.Kind,
		Result:      result.String(),
		At:          c.clock.Now().UTC(),
	})
	return result, err
}

func (c *Coordinator) publish(ctx context.Context, outcomes []domain.DeliveryOutcome) {
	if c.publisher == nil || len(outcomes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.publisher.PublishOutcomes(ctx, outcomes); err != nil {
		c.logger.Warn("publish delivery outcomes failed", "count", len(outcomes), "error", err)
	}
}
