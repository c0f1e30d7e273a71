// Package ledger is the durable record of listing ids that have already been
// classified as new. A row's existence is the only authority for "already
// notified".
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// DB is the subset of *pgxpool.Pool the ledger needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound is returned by Get for an id that was never marked.
var ErrNotFound = errors.New("ledger entry not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS seen_listings (
		listing_id   TEXT PRIMARY KEY,
		first_seen   TIMESTAMPTZ NOT NULL,
		last_checked TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS seen_listings_first_seen_idx ON seen_listings (first_seen)`,
}

const (
	existsSQL = `SELECT EXISTS (SELECT 1 FROM seen_listings WHERE listing_id = $1)`
	insertSQL = `INSERT INTO seen_listings (listing_id, first_seen, last_checked)
		VALUES ($1, $2, $2)
		ON CONFLICT (listing_id) DO NOTHING`
	touchSQL = `UPDATE seen_listings SET last_checked = $2 WHERE listing_id = $1`
	purgeSQL = `DELETE FROM seen_listings WHERE first_seen < $1`
	getSQL   = `SELECT listing_id, first_seen, last_checked FROM seen_listings WHERE listing_id = $1`
)

// Ledger answers "has this id been seen" from Postgres, with an optional
// in-process cache of positive answers.
type Ledger struct {
	db     DB
	logger *slog.Logger
	cache  *lru.Cache[string, struct{}]
	now    func() time.Time
}

// New creates a ledger. cacheSize <= 0 disables the positive-answer cache.
func New(db DB, cacheSize int, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{db: db, logger: logger, now: time.Now}
	if cacheSize > 0 {
		c, err := lru.New[string, struct{}](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create ledger cache: %w", err)
		}
		l.cache = c
	}
	return l, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := l.db.Exec(ctx, stmt); err != nil {
			return &listing.StorageUnavailableError{Op: "ledger_schema", Err: err}
		}
	}
	return nil
}

// HasSeen reports whether id has been marked. Positive answers are cached;
// a cached entry can only go stale through PurgeOlderThan, which clears it.
func (l *Ledger) HasSeen(ctx context.Context, id string) (bool, error) {
	if l.cache != nil {
		if _, ok := l.cache.Get(id); ok {
			return true, nil
		}
	}

	var exists bool
	if err := l.db.QueryRow(ctx, existsSQL, id).Scan(&exists); err != nil {
		return false, &listing.StorageUnavailableError{Op: "ledger_has_seen", Err: err}
	}
	if exists && l.cache != nil {
		l.cache.Add(id, struct{}{})
	}
	return exists, nil
}

// MarkSeen records id as seen. It is idempotent: the primary key makes a
// second insert a no-op, and inserted reports whether this call created the
// row. Two overlapping runs racing on one id get exactly one inserted=true.
func (l *Ledger) MarkSeen(ctx context.Context, id string, firstSeenAt time.Time) (bool, error) {
	tag, err := l.db.Exec(ctx, insertSQL, id, firstSeenAt.UTC())
	if err != nil {
		return false, &listing.StorageUnavailableError{Op: "ledger_mark_seen", Err: err}
	}
	if l.cache != nil {
		l.cache.Add(id, struct{}{})
	}
	inserted := tag.RowsAffected() == 1
	if !inserted {
		l.logger.Info("Listing already in ledger", "listing_id", id)
	}
	return inserted, nil
}

// Touch updates last_checked for an id observed again.
func (l *Ledger) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := l.db.Exec(ctx, touchSQL, id, at.UTC()); err != nil {
		return &listing.StorageUnavailableError{Op: "ledger_touch", Err: err}
	}
	return nil
}

// Get returns the ledger row for id.
func (l *Ledger) Get(ctx context.Context, id string) (*listing.SeenEntry, error) {
	var e listing.SeenEntry
	err := l.db.QueryRow(ctx, getSQL, id).Scan(&e.ListingID, &e.FirstSeen, &e.LastChecked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &listing.StorageUnavailableError{Op: "ledger_get", Err: err}
	}
	return &e, nil
}

// PurgeOlderThan deletes entries whose first_seen is older than horizon and
// returns how many were removed. Listing records are not touched.
func (l *Ledger) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := l.now().Add(-horizon).UTC()
	tag, err := l.db.Exec(ctx, purgeSQL, cutoff)
	if err != nil {
		return 0, &listing.StorageUnavailableError{Op: "ledger_purge", Err: err}
	}
	removed := tag.RowsAffected()
	if removed > 0 && l.cache != nil {
		l.cache.Purge()
	}
	l.logger.Info("Ledger retention sweep completed",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339))
	return removed, nil
}
