// Package storetest holds behaviour tests shared by every
// domain.SubscriptionRepository implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	base   = time.Date(2026, 3, 1, 13, 20, 0, 0, time.UTC)
	austin = domain.Location{City: "austin", Region: "tx", Country: "us"}
	paris  = domain.Location{City: "paris", Country: "fr"}
)

// Subscription builds a valid subscription for endpoint.
func Subscription(endpoint string, loc domain.Location, owner string, createdAt time.Time) domain.Subscription {
	return domain.Subscription{
		Endpoint:             endpoint,
		Keys:                 domain.TransportKeys{P256dh: "p256dh-" + endpoint, Auth: "auth-" + endpoint},
		Location:             loc,
		OwnerID:              owner,
		CreatedAt:            createdAt,
		NextNotificationTime: domain.NextNotificationTime(createdAt, time.UTC),
	}
}

// Run exercises repo constructors against the repository contract. newRepo
// must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) domain.SubscriptionRepository) {
	t.Helper()
	ctx := context.Background()

	t.Run("UpsertThenFind", func(t *testing.T) {
		repo := newRepo(t)
		sub := Subscription("https://push.example/a", austin, "owner-1", base)
		require.NoError(t, repo.Upsert(ctx, sub))

		got, err := repo.FindByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		if diff := cmp.Diff(sub, got); diff != "" {
			t.Errorf("FindByEndpoint mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		first := Subscription("https://push.example/a", austin, "", base)
		second := Subscription("https://push.example/a", paris, "owner-2", base.Add(time.Hour))
		second.Keys = domain.TransportKeys{P256dh: "new-p256dh", Auth: "new-auth"}

		require.NoError(t, repo.Upsert(ctx, first))
		require.NoError(t, repo.Upsert(ctx, second))

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)

		got := all[0]
		assert.Equal(t, paris, got.Location)
		assert.Equal(t, "owner-2", got.OwnerID)
		assert.Equal(t, "new-auth", got.Keys.Auth)
		assert.True(t, got.CreatedAt.Equal(base), "created_at must be preserved")

		byOld, err := repo.FindByLocation(ctx, austin)
		require.NoError(t, err)
		assert.Empty(t, byOld, "location index must follow the replacement")
	})

	t.Run("FindMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByEndpoint(ctx, "https://push.example/missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		sub := Subscription("https://push.example/a", austin, "owner-1", base)
		require.NoError(t, repo.Upsert(ctx, sub))

		removed, err := repo.DeleteByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.DeleteByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = repo.FindByEndpoint(ctx, sub.Endpoint)
		require.ErrorIs(t, err, domain.ErrNotFound)

		byOwner, err := repo.FindByOwner(ctx, "owner-1")
		require.NoError(t, err)
		assert.Empty(t, byOwner)
	})

	t.Run("ListAllOrdered", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/c", austin, "", base.Add(2*time.Minute))))
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/a", paris, "", base)))
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/b", austin, "", base.Add(time.Minute))))

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://push.example/a", "https://push.example/b", "https://push.example/c"}, endpoints(all))
	})

	t.Run("ListAllEmpty", func(t *testing.T) {
		repo := newRepo(t)
		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("SecondaryIndexes", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/a", austin, "owner-1", base)))
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/b", austin, "owner-2", base.Add(time.Minute))))
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/c", paris, "owner-1", base.Add(2*time.Minute))))
		require.NoError(t, repo.Upsert(ctx, Subscription("https://push.example/d", paris, "", base.Add(3*time.Minute))))

		byAustin, err := repo.FindByLocation(ctx, austin)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://push.example/a", "https://push.example/b"}, endpoints(byAustin))

		byOwner, err := repo.FindByOwner(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"https://push.example/a", "https://push.example/c"}, endpoints(byOwner))

		anonymous, err := repo.FindByOwner(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, anonymous)
	})

	t.Run("RecordNotified", func(t *testing.T) {
		repo := newRepo(t)
		sub := Subscription("https://push.example/a", austin, "", base)
		require.NoError(t, repo.Upsert(ctx, sub))

		notified := base.Add(40 * time.Minute)
		next := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
		require.NoError(t, repo.RecordNotified(ctx, sub.Endpoint, notified, next))

		got, err := repo.FindByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		require.NotNil(t, got.LastNotified)
		assert.True(t, got.LastNotified.Equal(notified))
		assert.True(t, got.NextNotificationTime.Equal(next))
		assert.Equal(t, sub.Keys, got.Keys)
	})

	t.Run("RecordNotifiedAfterDelete", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.RecordNotified(ctx, "https://push.example/gone", base, base.Add(time.Hour))
		require.ErrorIs(t, err, domain.ErrNotFound)

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all, "bookkeeping must not resurrect a deleted record")
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		repo := newRepo(t)
		sub := Subscription("https://push.example/a", austin, "", base)
		require.NoError(t, repo.Upsert(ctx, sub))
		require.NoError(t, repo.RecordNotified(ctx, sub.Endpoint, base, base.Add(time.Hour)))

		got, err := repo.FindByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		*got.LastNotified = time.Time{}
		got.Location = paris

		again, err := repo.FindByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.True(t, again.LastNotified.Equal(base))
		assert.Equal(t, austin, again.Location)
	})
}

func endpoints(subs []domain.Subscription) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.Endpoint
	}
	return out
}
