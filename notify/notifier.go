package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/retrypolicy"
)

// Result is the outcome of one notification.
type Result struct {
	MessageID string
	Success   bool
}

// HeartbeatSummary describes a cycle that found nothing new.
type HeartbeatSummary struct {
	At         time.Time
	RunID      string
	Searches   int
	Candidates int
	Duplicates int
	Errored    int
}

// Notifier renders messages and delivers them with bounded retries.
type Notifier struct {
	provider Provider
	policy   retrypolicy.Policy
	logger   *slog.Logger
}

// New creates a notifier over provider.
func New(provider Provider, policy retrypolicy.Policy, logger *slog.Logger) *Notifier {
	return &Notifier{
		provider: provider,
		policy:   policy,
		logger:   logger,
	}
}

// NotifyNewListing sends one alert for rec, followed by its search's extra fields.
func (n *Notifier) NotifyNewListing(ctx context.Context, rec *listing.Record, fields []string) (Result, error) {
	msg := Message{
		Subject: "New listing: " + rec.Title(),
		Text:    formatListing(rec, fields),
	}
	return n.deliver(ctx, listing.KindNewListing, rec.ID, msg)
}

// NotifyBatch digests many new listings from one search into one message.
func (n *Notifier) NotifyBatch(ctx context.Context, search string, recs []*listing.Record, fields []string) (Result, error) {
	msg := Message{
		Subject: batchSubject(search, len(recs)),
		Text:    formatBatch(search, recs, fields),
	}
	return n.deliver(ctx, listing.KindBatch, "", msg)
}

// NotifyHeartbeat sends the periodic "nothing new" status message.
func (n *Notifier) NotifyHeartbeat(ctx context.Context, s HeartbeatSummary) (Result, error) {
	msg := Message{
		Subject: "No new listings",
		Text:    formatHeartbeat(s),
	}
	return n.deliver(ctx, listing.KindHeartbeat, "", msg)
}

// NotifyError reports a failed search by name and failure class only.
func (n *Notifier) NotifyError(ctx context.Context, search, class string) (Result, error) {
	msg := Message{
		Subject: "Search failed: " + search,
		Text:    formatError(search, class),
	}
	return n.deliver(ctx, listing.KindError, "", msg)
}

func (n *Notifier) deliver(ctx context.Context, kind listing.NotificationKind, listingID string, msg Message) (Result, error) {
	var id string
	err := n.policy.Do(ctx, n.logger, "notify_"+string(kind), func(ctx context.Context) error {
		var err error
		id, err = n.provider.Send(ctx, msg)
		return err
	}, func(err error) bool { return !IsPermanent(err) })
	if err != nil {
		n.logger.Error("Notification not delivered",
			"kind", kind,
			"listing_id", listingID,
			"permanent", IsPermanent(err),
			"error", err)
		return Result{}, &listing.NotificationDeliveryError{Kind: kind, ListingID: listingID, Err: err}
	}

	n.logger.Info("Notification delivered",
		"kind", kind,
		"listing_id", listingID,
		"message_id", id)
	return Result{Success: true, MessageID: id}, nil
}
