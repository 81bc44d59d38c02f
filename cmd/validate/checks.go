package main

import (
	"context"
	"net/url"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/adapter/sqlstore"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
)

// maxGap bounds next_notification - last_notified. Two hours plus one for a
// DST transition.
const maxGap = 3 * time.Hour

// indexReader is the subset of the repository used to cross-check indexes.
type indexReader interface {
	FindByLocation(ctx context.Context, loc domain.Location) ([]domain.Subscription, error)
	FindByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error)
}

// ── Phase 1: Record integrity ──

func validateRecords(records []sqlstore.Record) *phase {
	p := &phase{name: "Phase 1: Record integrity"}

	for _, r := range records {
		key := domain.EndpointKey(r.Endpoint)
		pf := func(format string, args ...any) {
			p.errorf("[%s] "+format, append([]any{key}, args...)...)
		}

		u, err := url.Parse(r.Endpoint)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			pf("endpoint is not an absolute https URL")
		}
		if r.P256dh == "" {
			pf("p256dh key is empty")
		}
		if r.Auth == "" {
			pf("auth key is empty")
		}
		if r.OwnerID.Valid && r.OwnerID.String == "" {
			pf("owner_id is an empty string instead of NULL")
		}
		if r.CreatedAt <= 0 {
			pf("created_at is unset")
		}

		loc, err := domain.ParseLocation(r.Location)
		if err != nil {
			pf("location %q: %v", r.Location, err)
			continue
		}
		if loc.String() != r.Location {
			pf("location %q has irregular spacing (normalized %q)", r.Location, loc.String())
		}
	}

	return p
}

// ── Phase 2: Schedule integrity ──

func validateSchedule(records []sqlstore.Record) *phase {
	p := &phase{name: "Phase 2: Schedule integrity"}

	for _, r := range records {
		key := domain.EndpointKey(r.Endpoint)
		next := time.Unix(0, r.NextNotification).UTC()

		// Registered while the timezone was unknown: due at the next cycle.
		if !r.LastNotified.Valid && r.NextNotification == r.CreatedAt {
			continue
		}

		// Every real UTC offset is a multiple of 15 minutes, so a local
		// top-of-hour lands on a quarter hour in UTC.
		if next.Second() != 0 || next.Nanosecond() != 0 || next.Minute()%15 != 0 {
			p.errorf("[%s] next_notification %s is not on a local top-of-hour", key, next.Format(time.RFC3339Nano))
		}
		if r.NextNotification <= r.CreatedAt {
			p.errorf("[%s] next_notification is not after created_at", key)
		}
		if !r.LastNotified.Valid {
			continue
		}
		last := time.Unix(0, r.LastNotified.Int64).UTC()
		switch gap := next.Sub(last); {
		case gap <= 0:
			p.errorf("[%s] next_notification %s is not after last_notified %s", key, next.Format(time.RFC3339), last.Format(time.RFC3339))
		case gap > maxGap:
			p.errorf("[%s] next_notification is %s after last_notified (max %s)", key, gap, maxGap)
		}
		if r.LastNotified.Int64 < r.CreatedAt {
			p.errorf("[%s] last_notified precedes created_at", key)
		}
	}

	return p
}

// ── Phase 3: Index consistency ──

func validateIndexes(ctx context.Context, idx indexReader, records []sqlstore.Record) *phase {
	p := &phase{name: "Phase 3: Index consistency"}

	byLocation := make(map[domain.Location]int)
	byOwner := make(map[string]int)
	for _, r := range records {
		if loc, err := domain.ParseLocation(r.Location); err == nil {
			byLocation[loc]++
		}
		if r.OwnerID.Valid && r.OwnerID.String != "" {
			byOwner[r.OwnerID.String]++
		}
	}

	for loc, want := range byLocation {
		got, err := idx.FindByLocation(ctx, loc)
		if err != nil {
			p.errorf("location %q: lookup failed: %v", loc.String(), err)
			continue
		}
		if len(got) != want {
			p.errorf("location %q: index returned %d subscriptions, scan found %d", loc.String(), len(got), want)
		}
	}
	for owner, want := range byOwner {
		got, err := idx.FindByOwner(ctx, owner)
		if err != nil {
			p.errorf("owner %q: lookup failed: %v", owner, err)
			continue
		}
		if len(got) != want {
			p.errorf("owner %q: index returned %d subscriptions, scan found %d", owner, len(got), want)
		}
	}

	return p
}
