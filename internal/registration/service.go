// Package registration implements the subscribe, unsubscribe, and lookup
// operations behind the HTTP API.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/delivery"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// PushSubscription mirrors the browser's PushSubscription JSON.
type PushSubscription struct {
	Endpoint string               `json:"endpoint" validate:"required,url,max=2048"`
	Keys     domain.TransportKeys `json:"keys" validate:"required"`
}

// RegisterRequest creates or replaces a subscription.
type RegisterRequest struct {
	Subscription PushSubscription `json:"subscription" validate:"required"`
	Location     string           `json:"location" validate:"required,max=256"`
	OwnerID      string           `json:"owner_id" validate:"omitempty,max=128"`
}

// EndpointRequest identifies a subscription for delete and check.
type EndpointRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// CheckResult answers whether an endpoint is subscribed.
type CheckResult struct {
	Exists   bool   `json:"exists"`
	Location string `json:"location,omitempty"`
}

// Deliverer runs a one-off delivery for a single subscription.
type Deliverer interface {
	Deliver(ctx context.Context, sub domain.Subscription) delivery.Result
}

// Service validates requests and applies them to the repository.
type Service struct {
	repo      domain.SubscriptionRepository
	provider  domain.WeatherProvider
	deliverer Deliverer
	validate  *validator.Validate
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	wg sync.WaitGroup
}

// NewService creates a registration service. The provider resolves the
// subscriber's timezone for the initial notification time.
func NewService(
	repo domain.SubscriptionRepository,
	provider domain.WeatherProvider,
	deliverer Deliverer,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:      repo,
		provider:  provider,
		deliverer: deliverer,
		validate:  newValidator(),
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register upserts the subscription and starts a one-off delivery for it in
// the background. Re-registering an endpoint replaces its record.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (domain.Subscription, error) {
	if err := s.check(req); err != nil {
		s.observe("register", err)
		return domain.Subscription{}, err
	}
	loc, err := domain.ParseLocation(req.Location)
	if err != nil {
		s.observe("register", err)
		return domain.Subscription{}, err
	}

	now := s.clock.Now()
	sub := domain.Subscription{
		Endpoint:             req.Subscription.Endpoint,
		Keys:                 req.Subscription.Keys,
		Location:             loc,
		OwnerID:              strings.TrimSpace(req.OwnerID),
		CreatedAt:            now,
		NextNotificationTime: s.firstNotification(ctx, loc, now),
	}
	if err := s.repo.Upsert(ctx, sub); err != nil {
		s.observe("register", err)
		return domain.Subscription{}, err
	}
	if stored, err := s.repo.FindByEndpoint(ctx, sub.Endpoint); err == nil {
		sub = stored
	}
	s.observe("register", nil)
	s.logger.Info("subscription registered",
		"endpoint_key", sub.Key(),
		"location", loc.String(),
		"next_notification", sub.NextNotificationTime,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.deliverer.Deliver(context.WithoutCancel(ctx), sub)
		s.logger.Debug("initial delivery finished", "endpoint_key", res.EndpointKey, "status", res.Status.String())
	}()
	return sub, nil
}

// Delete removes the subscription for endpoint and reports whether one existed.
func (s *Service) Delete(ctx context.Context, req EndpointRequest) (bool, error) {
	if err := s.check(req); err != nil {
		s.observe("delete", err)
		return false, err
	}
	removed, err := s.repo.DeleteByEndpoint(ctx, req.Endpoint)
	s.observe("delete", err)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("subscription deleted", "endpoint_key", domain.EndpointKey(req.Endpoint))
	}
	return removed, nil
}

// Check reports whether endpoint is subscribed and, if so, its location.
func (s *Service) Check(ctx context.Context, req EndpointRequest) (CheckResult, error) {
	if err := s.check(req); err != nil {
		s.observe("check", err)
		return CheckResult{}, err
	}
	sub, err := s.repo.FindByEndpoint(ctx, req.Endpoint)
	if errors.Is(err, domain.ErrNotFound) {
		s.observe("check", nil)
		return CheckResult{Exists: false}, nil
	}
	s.observe("check", err)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Exists: true, Location: sub.Location.String()}, nil
}

// ListByOwner returns every subscription registered under ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		err := &domain.ValidationError{Field: "owner_id", Message: "is required"}
		s.observe("list", err)
		return nil, err
	}
	subs, err := s.repo.FindByOwner(ctx, ownerID)
	s.observe("list", err)
	return subs, err
}

// Wait blocks until background deliveries started by Register finish or ctx
// expires.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for initial deliveries: %w", ctx.Err())
	}
}

// firstNotification is the next even local hour in loc's timezone. When the
// timezone cannot be resolved the subscription is due immediately, so the
// next cycle computes a proper local time for it.
func (s *Service) firstNotification(ctx context.Context, loc domain.Location, now time.Time) time.Time {
	tz, err := s.resolveTimezone(ctx, loc)
	if err != nil {
		s.logger.Warn("could not resolve timezone, subscription due at next cycle", "location", loc.String(), "error", err)
		return now
	}
	return domain.NextNotificationTime(now, tz)
}

func (s *Service) resolveTimezone(ctx context.Context, loc domain.Location) (*time.Location, error) {
	report, err := s.provider.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	return report.Timezone()
}

// check runs struct validation and reports the first failing field.
func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &domain.ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRegistration, err)
	}
	return nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	_, path, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return path
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidRegistration):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.metrics.Registrations.WithLabelValues(op, outcome).Inc()
}
