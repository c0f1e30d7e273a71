package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

const (
	insertLogSQL = `INSERT INTO notification_log (listing_id, kind, search_name, sent_at, success, message_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	lastLogSQL = `SELECT listing_id, kind, search_name, sent_at, success, message_id, detail
		FROM notification_log WHERE kind = $1 AND success ORDER BY sent_at DESC LIMIT 1`
	listingLogSQL = `SELECT listing_id, kind, search_name, sent_at, success, message_id, detail
		FROM notification_log WHERE listing_id = $1 ORDER BY sent_at`
)

// LogNotification appends one delivery attempt. Entries are never updated.
func (s *Store) LogNotification(ctx context.Context, e *listing.NotificationLogEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = s.now()
	}
	_, err := s.db.Exec(ctx, insertLogSQL,
		e.ListingID, string(e.Kind), e.SearchName, e.SentAt.UTC(), e.Success, e.MessageID, e.Detail)
	if err != nil {
		return &listing.StorageUnavailableError{Op: "log_notification", Err: err}
	}
	return nil
}

// LastNotification returns the most recent successful delivery of kind, or
// ErrNotFound if there has been none.
func (s *Store) LastNotification(ctx context.Context, kind listing.NotificationKind) (*listing.NotificationLogEntry, error) {
	e, err := scanLogEntry(s.db.QueryRow(ctx, lastLogSQL, string(kind)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &listing.StorageUnavailableError{Op: "last_notification", Err: err}
	}
	return e, nil
}

// NotificationsFor returns every delivery attempt logged for a listing, oldest first.
func (s *Store) NotificationsFor(ctx context.Context, listingID string) ([]*listing.NotificationLogEntry, error) {
	rows, err := s.db.Query(ctx, listingLogSQL, listingID)
	if err != nil {
		return nil, &listing.StorageUnavailableError{Op: "notifications_for", Err: err}
	}
	defer rows.Close()

	out := make([]*listing.NotificationLogEntry, 0)
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, &listing.StorageUnavailableError{Op: "notifications_for_scan", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &listing.StorageUnavailableError{Op: "notifications_for_rows", Err: err}
	}
	return out, nil
}

func scanLogEntry(row pgx.Row) (*listing.NotificationLogEntry, error) {
	var (
		e    listing.NotificationLogEntry
		kind string
	)
	if err := row.Scan(&e.ListingID, &kind, &e.SearchName, &e.SentAt, &e.Success, &e.MessageID, &e.Detail); err != nil {
		return nil, err
	}
	e.Kind = listing.NotificationKind(kind)
	return &e, nil
}
