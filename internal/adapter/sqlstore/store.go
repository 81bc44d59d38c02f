// Package sqlstore implements domain.SubscriptionRepository on SQLite or
// PostgreSQL through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		endpoint          TEXT PRIMARY KEY,
		p256dh            TEXT NOT NULL,
		auth              TEXT NOT NULL,
		location          TEXT NOT NULL,
		owner_id          TEXT,
		created_at        BIGINT NOT NULL,
		last_notified     BIGINT,
		next_notification BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_location_idx ON subscriptions (location)`,
	`CREATE INDEX IF NOT EXISTS subscriptions_owner_idx ON subscriptions (owner_id)`,
}

const selectColumns = `SELECT endpoint, p256dh, auth, location, owner_id, created_at, last_notified, next_notification FROM subscriptions`

// Record is a subscription row as stored. Timestamps are Unix nanoseconds.
type Record struct {
	Endpoint         string         `db:"endpoint"`
	P256dh           string         `db:"p256dh"`
	Auth             string         `db:"auth"`
	Location         string         `db:"location"`
	OwnerID          sql.NullString `db:"owner_id"`
	CreatedAt        int64          `db:"created_at"`
	LastNotified     sql.NullInt64  `db:"last_notified"`
	NextNotification int64          `db:"next_notification"`
}

func toRecord(sub domain.Subscription) Record {
	r := Record{
		Endpoint:         sub.Endpoint,
		P256dh:           sub.Keys.P256dh,
		Auth:             sub.Keys.Auth,
		Location:         sub.Location.String(),
		OwnerID:          sql.NullString{String: sub.OwnerID, Valid: sub.OwnerID != ""},
		CreatedAt:        sub.CreatedAt.UnixNano(),
		NextNotification: sub.NextNotificationTime.UnixNano(),
	}
	if sub.LastNotified != nil {
		r.LastNotified = sql.NullInt64{Int64: sub.LastNotified.UnixNano(), Valid: true}
	}
	return r
}

// Subscription converts the row back into the domain type.
func (r Record) Subscription() (domain.Subscription, error) {
	loc, err := domain.ParseLocation(r.Location)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("row %s: %w", domain.EndpointKey(r.Endpoint), err)
	}
	sub := domain.Subscription{
		Endpoint:             r.Endpoint,
		Keys:                 domain.TransportKeys{P256dh: r.P256dh, Auth: r.Auth},
		Location:             loc,
		OwnerID:              r.OwnerID.String,
		CreatedAt:            fromNanos(r.CreatedAt),
		NextNotificationTime: fromNanos(r.NextNotification),
	}
	if r.LastNotified.Valid {
		t := fromNanos(r.LastNotified.Int64)
		sub.LastNotified = &t
	}
	return sub, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Store is a SQL-backed subscription repository.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and ensures the schema exists. For SQLite,
// dsn is a file path or ":memory:".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		// SQLite serializes writers; a single connection also keeps
		// ":memory:" databases alive and shared.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness reports whether the database answers a ping.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, sub domain.Subscription) error {
	query := `INSERT INTO subscriptions (endpoint, p256dh, auth, location, owner_id, created_at, last_notified, next_notification)
		VALUES (:endpoint, :p256dh, :auth, :location, :owner_id, :created_at, :last_notified, :next_notification)
		ON CONFLICT (endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			location = excluded.location,
			owner_id = excluded.owner_id,
			last_notified = excluded.last_notified,
			next_notification = excluded.next_notification`
	if _, err := s.db.NamedExecContext(ctx, query, toRecord(sub)); err != nil {
		return &domain.StorageError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *Store) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM subscriptions WHERE endpoint = ?`), endpoint)
	if err != nil {
		return false, &domain.StorageError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StorageError{Op: "delete", Err: err}
	}
	return n > 0, nil
}

func (s *Store) FindByEndpoint(ctx context.Context, endpoint string) (domain.Subscription, error) {
	var r Record
	err := s.db.GetContext(ctx, &r, s.db.Rebind(selectColumns+` WHERE endpoint = ?`), endpoint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, domain.ErrNotFound
		}
		return domain.Subscription{}, &domain.StorageError{Op: "find", Err: err}
	}
	sub, err := r.Subscription()
	if err != nil {
		return domain.Subscription{}, &domain.StorageError{Op: "find", Err: err}
	}
	return sub, nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	return s.list(ctx, "list", selectColumns+` ORDER BY created_at, endpoint`)
}

func (s *Store) FindByLocation(ctx context.Context, loc domain.Location) ([]domain.Subscription, error) {
	return s.list(ctx, "find by location", selectColumns+` WHERE location = ? ORDER BY created_at, endpoint`, loc.String())
}

func (s *Store) FindByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	return s.list(ctx, "find by owner", selectColumns+` WHERE owner_id = ? ORDER BY created_at, endpoint`, ownerID)
}

func (s *Store) RecordNotified(ctx context.Context, endpoint string, notifiedAt, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE subscriptions SET last_notified = ?, next_notification = ? WHERE endpoint = ?`),
		notifiedAt.UnixNano(), next.UnixNano(), endpoint)
	if err != nil {
		return &domain.StorageError{Op: "record notified", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "record notified", Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Records returns every row without decoding, for integrity checks.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	var rows []Record
	if err := s.db.SelectContext(ctx, &rows, selectColumns+` ORDER BY created_at, endpoint`); err != nil {
		return nil, &domain.StorageError{Op: "records", Err: err}
	}
	return rows, nil
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]domain.Subscription, error) {
	var rows []Record
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}

	subs := make([]domain.Subscription, 0, len(rows))
	for _, r := range rows {
		sub, err := r.Subscription()
		if err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
