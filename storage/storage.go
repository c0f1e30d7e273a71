// Package storage persists full listing records and the notification log in
// Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ErrNotFound is returned when a listing or log entry does not exist.
var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		listing_id        TEXT PRIMARY KEY,
		url               TEXT NOT NULL,
		search_name       TEXT NOT NULL,
		make              TEXT NOT NULL,
		model             TEXT NOT NULL,
		price             BIGINT NOT NULL,
		currency          TEXT NOT NULL,
		year              BIGINT,
		mileage           BIGINT,
		transmission      TEXT,
		drive_type        TEXT,
		engine_volume     BIGINT,
		engine_power      BIGINT,
		cylinders         BIGINT,
		fuel_type         TEXT,
		body_type         TEXT,
		color             TEXT,
		interior_color    TEXT,
		steering_wheel    TEXT,
		vin               TEXT,
		owner_count       BIGINT,
		accident          BOOLEAN,
		customs_cleared   BOOLEAN,
		location          TEXT,
		seller_name       TEXT,
		seller_phone      TEXT,
		seller_email      TEXT,
		seller_location   TEXT,
		posted_at         TIMESTAMPTZ,
		source_updated_at TIMESTAMPTZ,
		view_count        BIGINT,
		favorite_count    BIGINT,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS listings_created_at_idx ON listings (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS listings_make_idx ON listings (lower(make))`,
	`CREATE TABLE IF NOT EXISTS notification_log (
		id          BIGSERIAL PRIMARY KEY,
		listing_id  TEXT,
		kind        TEXT NOT NULL,
		search_name TEXT NOT NULL DEFAULT '',
		sent_at     TIMESTAMPTZ NOT NULL,
		success     BOOLEAN NOT NULL,
		message_id  TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS notification_log_kind_idx ON notification_log (kind, sent_at DESC)`,
}

// Store reads and writes listing records.
type Store struct {
	db     DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new store.
func New(db DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// EnsureSchema creates the listing and notification tables if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return &listing.StorageUnavailableError{Op: "store_schema", Err: err}
		}
	}
	return nil
}

// Upsert inserts rec or refreshes the mutable fields of an existing row.
// listing_id, search_name and created_at are never overwritten. A row whose
// content is unchanged is left alone, so repeating a call is a no-op.
func (s *Store) Upsert(ctx context.Context, rec *listing.Record) error {
	if rec.ID == "" {
		return errors.New("upsert: record has no id")
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	args := append(recordArgs(rec), now)
	if _, err := s.db.Exec(ctx, upsertSQL, args...); err != nil {
		return &listing.StorageUnavailableError{Op: "store_upsert", Err: err}
	}
	s.logger.Debug("Listing upserted", "listing_id", rec.ID, "search", rec.SearchName)
	return nil
}

// GetByID returns the record for id or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*listing.Record, error) {
	row := s.db.QueryRow(ctx, selectSQL+` WHERE listing_id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &listing.StorageUnavailableError{Op: "store_get", Err: err}
	}
	return rec, nil
}

// Filter narrows Query. Zero values mean "no constraint".
type Filter struct {
	Make          string
	PriceFrom     int64
	PriceTo       int64
	YearFrom      int
	YearTo        int
	CreatedWithin time.Duration
}

// Query returns records matching f, newest created first.
func (s *Store) Query(ctx context.Context, f Filter, limit int) ([]*listing.Record, error) {
	sql, args := buildQuery(f, limit, s.now())
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, &listing.StorageUnavailableError{Op: "store_query", Err: err}
	}
	defer rows.Close()

	out := make([]*listing.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &listing.StorageUnavailableError{Op: "store_query_scan", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &listing.StorageUnavailableError{Op: "store_query_rows", Err: err}
	}
	return out, nil
}

func buildQuery(f Filter, limit int, now time.Time) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Make != "" {
		add("lower(make) = lower($%d)", f.Make)
	}
	if f.PriceFrom > 0 {
		add("price >= $%d", f.PriceFrom)
	}
	if f.PriceTo > 0 {
		add("price <= $%d", f.PriceTo)
	}
	if f.YearFrom > 0 {
		add("year >= $%d", int64(f.YearFrom))
	}
	if f.YearTo > 0 {
		add("year <= $%d", int64(f.YearTo))
	}
	if f.CreatedWithin > 0 {
		add("created_at >= $%d", now.Add(-f.CreatedWithin).UTC())
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var b strings.Builder
	b.WriteString(selectSQL)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, listing_id LIMIT $%d", len(args))
	return b.String(), args
}

// PurgeCreatedBefore deletes records first seen before cutoff. It only runs
// when record retention is configured; ledger purges never call it.
func (s *Store) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM listings WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, &listing.StorageUnavailableError{Op: "store_purge", Err: err}
	}
	return tag.RowsAffected(), nil
}
