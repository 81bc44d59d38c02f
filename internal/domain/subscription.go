package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TransportKeys is the credential bundle a push endpoint needs to decrypt
// payloads. It is never interpreted outside the push adapter.
type TransportKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// Subscription is one registered push endpoint bound to a location.
type Subscription struct {
	Endpoint             string        `json:"endpoint"`
	Keys                 TransportKeys `json:"keys"`
	Location             Location      `json:"location"`
	OwnerID              string        `json:"owner_id,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	LastNotified         *time.Time    `json:"last_notified,omitempty"` // nil until the first successful cycle
	NextNotificationTime time.Time     `json:"next_notification_time"`
}

// Clone returns a copy that shares no pointers with s.
func (s Subscription) Clone() Subscription {
	if s.LastNotified != nil {
		t := *s.LastNotified
		s.LastNotified = &t
	}
	return s
}

// Key returns a short stable hash of the endpoint, safe to put in logs and
// outcome records where the endpoint URL itself should not appear.
func (s Subscription) Key() string {
	return EndpointKey(s.Endpoint)
}

// EndpointKey hashes an endpoint URL into a 16 character hex key.
func EndpointKey(endpoint string) string {
	hash := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(hash[:8])
}

// NextNotificationTime returns the first top-of-hour instant after now whose
// hour, in tz, is even. Local hour h maps to h + (2 - h%2), so a subscriber at
// 13:20 is next due at 14:00 and one at 14:00 is next due at 16:00.
//
// Daylight saving gaps can make the computed wall time land on an odd hour;
// those are pushed forward to the following even hour.
func NextNotificationTime(now time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = time.UTC
	}
	local := now.In(tz)
	h := local.Hour()
	next := time.Date(local.Year(), local.Month(), local.Day(), h+(2-h%2), 0, 0, 0, tz)

	for range 24 {
		if next.After(now) && next.Hour()%2 == 0 && next.Minute() == 0 {
			break
		}
		next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, tz)
	}
	return next
}

// SubscriptionRepository is the durable store of subscriptions, keyed by
// endpoint. Every method returns a *StorageError on a storage fault.
type SubscriptionRepository interface {
	// Upsert inserts or replaces the record for sub.Endpoint. CreatedAt of an
	// existing record is preserved.
	Upsert(ctx context.Context, sub Subscription) error

	// DeleteByEndpoint reports whether a record existed and was removed.
	DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error)

	// FindByEndpoint returns ErrNotFound when no record exists.
	FindByEndpoint(ctx context.Context, endpoint string) (Subscription, error)

	// ListAll returns a snapshot of every subscription.
	ListAll(ctx context.Context) ([]Subscription, error)

	// FindByLocation and FindByOwner use secondary indexes.
	FindByLocation(ctx context.Context, loc Location) ([]Subscription, error)
	FindByOwner(ctx context.Context, ownerID string) ([]Subscription, error)

	// RecordNotified updates only the delivery bookkeeping of an existing
	// record. It returns ErrNotFound if the record was deleted meanwhile.
	RecordNotified(ctx context.Context, endpoint string, notifiedAt, next time.Time) error
}
