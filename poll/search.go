package poll

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// classCancelled marks a search cut short by the run deadline. It is not
// reported to the chat channel.
const classCancelled = "cancelled"

// runSearch drives one search through its states. Errors stop at this level.
func (m *Monitor) runSearch(ctx context.Context, logger *slog.Logger, search listing.SearchConfig, sr *SearchReport) {
	logger = logger.With("search", search.Name)
	sr.StartedAt = m.now()
	defer func() {
		sr.FinishedAt = m.now()
		m.metrics.observeSearch(sr.Name, sr.State, sr.FailureClass)
		logger.Info("Search finished",
			"state", sr.State,
			"candidates", sr.Candidates,
			"new", sr.New,
			"duplicates", sr.Duplicates,
			"malformed", sr.Malformed,
			"notified", sr.Notified,
			"truncated", sr.Truncated,
			"duration_ms", sr.FinishedAt.Sub(sr.StartedAt).Milliseconds())
	}()

	m.advance(logger, sr, StateFetching)
	res, err := m.fetcher.Fetch(ctx, search)
	if err != nil {
		m.fail(ctx, logger, search, sr, err)
		return
	}
	sr.Pages = res.Pages
	sr.Truncated = res.Truncated
	sr.Candidates = len(res.Candidates)
	if res.Truncated {
		logger.Warn("Search results truncated", "pages", res.Pages)
	}

	m.advance(logger, sr, StateExtracting)
	records := m.extractAll(logger, search, res.Candidates, sr)

	m.advance(logger, sr, StateClassifying)
	fresh, err := m.classify(ctx, logger, search, records, sr)
	if err != nil {
		m.fail(ctx, logger, search, sr, err)
		return
	}

	m.advance(logger, sr, StatePersisting)
	persisted, persistErr := m.persist(ctx, logger, search, fresh, sr)

	// Persisted records are already marked seen, so they are notified even
	// when persisting stopped early; otherwise they would never be.
	m.advance(logger, sr, StateNotifying)
	m.notifyNew(ctx, logger, search, persisted, sr)

	if persistErr != nil {
		m.fail(ctx, logger, search, sr, persistErr)
		return
	}
	m.advance(logger, sr, StateDone)
}

// extractAll parses every candidate. Malformed candidates are skipped.
func (m *Monitor) extractAll(logger *slog.Logger, search listing.SearchConfig, candidates []listing.Candidate, sr *SearchReport) []*listing.Record {
	records := make([]*listing.Record, 0, len(candidates))
	for _, c := range candidates {
		rec, err := m.extractor.Extract(c, nil)
		if err != nil {
			sr.Malformed++
			m.metrics.incListing(search.Name, "malformed")
			logger.Warn("Skipping malformed listing", "listing_id", c.ID, "error", err)
			continue
		}
		if rec.SearchName == "" {
			rec.SearchName = search.Name
		}
		records = append(records, rec)
	}
	return records
}

// classify splits records into unseen ones, in fetch order, and refreshes
// the stored copy of the ones already seen.
func (m *Monitor) classify(ctx context.Context, logger *slog.Logger, search listing.SearchConfig, records []*listing.Record, sr *SearchReport) ([]*listing.Record, error) {
	var fresh []*listing.Record
	for _, rec := range records {
		seen, err := m.ledger.HasSeen(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if !seen {
			fresh = append(fresh, rec)
			continue
		}

		sr.Duplicates++
		m.metrics.incListing(search.Name, "duplicate")
		if err := m.store.Upsert(ctx, rec); err != nil {
			logger.Warn("Refreshing seen listing failed", "listing_id", rec.ID, "error", err)
		}
		if err := m.ledger.Touch(ctx, rec.ID, m.now()); err != nil {
			logger.Warn("Updating last_checked failed", "listing_id", rec.ID, "error", err)
		}
	}
	return fresh, nil
}

// persist stores each unseen record and then marks it seen. Each unit runs on
// a context detached from run cancellation, so a record is never left stored
// but unmarked because the deadline hit mid-way. Cancellation is honored
// between units.
func (m *Monitor) persist(ctx context.Context, logger *slog.Logger, search listing.SearchConfig, fresh []*listing.Record, sr *SearchReport) ([]*listing.Record, error) {
	var persisted []*listing.Record
	for i, rec := range fresh {
		if err := ctx.Err(); err != nil {
			logger.Warn("Stopping before persisting remaining listings",
				"remaining", len(fresh)-i,
				"error", err)
			return persisted, err
		}

		inserted, err := m.persistOne(ctx, rec)
		if err != nil {
			logger.Error("Persisting listing failed", "listing_id", rec.ID, "error", err)
			return persisted, err
		}
		if !inserted {
			// Another search or overlapping run claimed the id first.
			sr.Duplicates++
			m.metrics.incListing(search.Name, "duplicate")
			logger.Info("Listing already marked seen elsewhere", "listing_id", rec.ID)
			continue
		}

		persisted = append(persisted, rec)
		sr.New++
		sr.NewIDs = append(sr.NewIDs, rec.ID)
		m.metrics.incListing(search.Name, "new")
		logger.Info("New listing persisted",
			"listing_id", rec.ID,
			"title", rec.Title(),
			"price", listing.FormatPrice(rec.Price, rec.Currency))
	}
	return persisted, nil
}

func (m *Monitor) persistOne(ctx context.Context, rec *listing.Record) (bool, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StorageTimeout)
	defer cancel()

	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := m.store.Upsert(pctx, rec); err != nil {
		return false, err
	}
	return m.ledger.MarkSeen(pctx, rec.ID, now)
}

// notifyNew announces persisted records in fetch order, as one digest when
// there are more than the batch threshold. Failures are logged, never rolled
// back.
func (m *Monitor) notifyNew(ctx context.Context, logger *slog.Logger, search listing.SearchConfig, recs []*listing.Record, sr *SearchReport) {
	if len(recs) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.NotifyTimeout)
	defer cancel()

	if len(recs) > m.cfg.BatchThreshold {
		sr.Batched = true
		res, err := m.notifier.NotifyBatch(nctx, search.Name, recs, search.NotificationFields)
		at := m.now()
		for _, rec := range recs {
			id := rec.ID
			m.logNotification(nctx, logger, entry(listing.KindBatch, search.Name, &id, at, res, err))
		}
		if err != nil {
			sr.NotifyFailed += len(recs)
			logger.Error("Batch notification missed", "count", len(recs), "error", err)
			return
		}
		sr.Notified += len(recs)
		return
	}

	for _, rec := range recs {
		res, err := m.notifier.NotifyNewListing(nctx, rec, search.NotificationFields)
		id := rec.ID
		m.logNotification(nctx, logger, entry(listing.KindNewListing, search.Name, &id, m.now(), res, err))
		if err != nil {
			sr.NotifyFailed++
			logger.Error("Notification missed", "listing_id", rec.ID, "error", err)
			continue
		}
		sr.Notified++
	}
}

// fail ends the search in Errored and sends its single error notification.
func (m *Monitor) fail(ctx context.Context, logger *slog.Logger, search listing.SearchConfig, sr *SearchReport, err error) {
	class := listing.FailureClass(err)
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		class = classCancelled
	}
	sr.FailureClass = class
	m.advance(logger, sr, StateErrored)
	logger.Error("Search failed", "class", class, "error", err)

	if class == classCancelled {
		return
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.NotifyTimeout)
	defer cancel()
	res, nerr := m.notifier.NotifyError(nctx, search.Name, class)
	m.logNotification(nctx, logger, entry(listing.KindError, search.Name, nil, m.now(), res, nerr))
}
