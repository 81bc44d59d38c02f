// Package memstore is an in-process domain.SubscriptionRepository. It loses
// its contents on restart and is meant for tests and local runs.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
)

// Store keeps subscriptions in memory with secondary indexes on location and
// owner.
type Store struct {
	mu         sync.RWMutex
	byEndpoint map[string]domain.Subscription
	byLocation map[string]map[string]struct{}
	byOwner    map[string]map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byEndpoint: make(map[string]domain.Subscription),
		byLocation: make(map[string]map[string]struct{}),
		byOwner:    make(map[string]map[string]struct{}),
	}
}

// CheckReadiness always succeeds.
func (s *Store) CheckReadiness(context.Context) error { return nil }

func (s *Store) Upsert(_ context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub = sub.Clone()
	if old, ok := s.byEndpoint[sub.Endpoint]; ok {
		sub.CreatedAt = old.CreatedAt
		s.unindex(old)
	}
	s.byEndpoint[sub.Endpoint] = sub
	s.index(sub)
	return nil
}

func (s *Store) DeleteByEndpoint(_ context.Context, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byEndpoint[endpoint]
	if !ok {
		return false, nil
	}
	delete(s.byEndpoint, endpoint)
	s.unindex(old)
	return true, nil
}

func (s *Store) FindByEndpoint(_ context.Context, endpoint string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.byEndpoint[endpoint]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *Store) ListAll(context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Subscription, 0, len(s.byEndpoint))
	for _, sub := range s.byEndpoint {
		out = append(out, sub.Clone())
	}
	sortSubs(out)
	return out, nil
}

func (s *Store) FindByLocation(_ context.Context, loc domain.Location) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byLocation[loc.String()]), nil
}

func (s *Store) FindByOwner(_ context.Context, ownerID string) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ownerID == "" {
		return []domain.Subscription{}, nil
	}
	return s.collect(s.byOwner[ownerID]), nil
}

func (s *Store) RecordNotified(_ context.Context, endpoint string, notifiedAt, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byEndpoint[endpoint]
	if !ok {
		return domain.ErrNotFound
	}
	sub.LastNotified = &notifiedAt
	sub.NextNotificationTime = next
	s.byEndpoint[endpoint] = sub
	return nil
}

func (s *Store) collect(endpoints map[string]struct{}) []domain.Subscription {
	out := make([]domain.Subscription, 0, len(endpoints))
	for ep := range endpoints {
		out = append(out, s.byEndpoint[ep].Clone())
	}
	sortSubs(out)
	return out
}

func (s *Store) index(sub domain.Subscription) {
	addTo(s.byLocation, sub.Location.String(), sub.Endpoint)
	if sub.OwnerID != "" {
		addTo(s.byOwner, sub.OwnerID, sub.Endpoint)
	}
}

func (s *Store) unindex(sub domain.Subscription) {
	removeFrom(s.byLocation, sub.Location.String(), sub.Endpoint)
	if sub.OwnerID != "" {
		removeFrom(s.byOwner, sub.OwnerID, sub.Endpoint)
	}
}

func addTo(idx map[string]map[string]struct{}, key, endpoint string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[endpoint] = struct{}{}
}

func removeFrom(idx map[string]map[string]struct{}, key, endpoint string) {
	set := idx[key]
	delete(set, endpoint)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// sortSubs orders by creation time, then endpoint, matching sqlstore.
func sortSubs(subs []domain.Subscription) {
	slices.SortFunc(subs, func(a, b domain.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})
}
