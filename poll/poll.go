// Package poll runs the scrape, dedupe, persist and notify cycle over the
// configured searches.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Giorgamose/myauto-scraper-sub002/archive"
	"github.com/Giorgamose/myauto-scraper-sub002/notify"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// Fetcher returns the current candidates for a search.
type Fetcher interface {
	Fetch(ctx context.Context, search listing.SearchConfig) (*listing.FetchResult, error)
}

// Extractor turns a candidate into a record.
type Extractor interface {
	Extract(c listing.Candidate, fields []string) (*listing.Record, error)
}

// Ledger records which listing ids have been classified as new.
type Ledger interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string, firstSeenAt time.Time) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
	PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// Store persists full records and the notification log.
type Store interface {
	Upsert(ctx context.Context, rec *listing.Record) error
	LogNotification(ctx context.Context, e *listing.NotificationLogEntry) error
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier delivers messages to the chat channel.
type Notifier interface {
	NotifyNewListing(ctx context.Context, rec *listing.Record, fields []string) (notify.Result, error)
	NotifyBatch(ctx context.Context, search string, recs []*listing.Record, fields []string) (notify.Result, error)
	NotifyHeartbeat(ctx context.Context, s notify.HeartbeatSummary) (notify.Result, error)
	NotifyError(ctx context.Context, search, class string) (notify.Result, error)
}

// HeartbeatGate limits how often the "no new listings" message goes out.
type HeartbeatGate interface {
	Claim(ctx context.Context, now time.Time) (bool, error)
	Release(ctx context.Context) error
}

// Archiver keeps a copy of each cycle report.
type Archiver interface {
	Save(ctx context.Context, key string, v any) error
}

// ErrCycleRunning is returned when a cycle is requested while one is in progress.
var ErrCycleRunning = errors.New("a cycle is already running")

// ErrAllFailed is returned by CheckAll when no enabled search completed.
var ErrAllFailed = errors.New("every enabled search failed")

// Config tunes a Monitor.
type Config struct {
	Workers         int           // Searches processed concurrently
	RunTimeout      time.Duration // Deadline for starting and fetching searches
	StorageTimeout  time.Duration // Bound on one persist-and-mark unit
	NotifyTimeout   time.Duration // Bound on the notifications of one search
	BatchThreshold  int           // More new listings than this are sent as one digest
	LedgerRetention time.Duration // Zero disables the ledger purge
	RecordRetention time.Duration // Zero keeps full records forever
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		RunTimeout:      5 * time.Minute,
		StorageTimeout:  30 * time.Second,
		NotifyTimeout:   2 * time.Minute,
		BatchThreshold:  5,
		LedgerRetention: 365 * 24 * time.Hour,
	}
}

// Components are the collaborators a Monitor drives. Heartbeat, Archive and
// Metrics are optional.
type Components struct {
	Fetcher   Fetcher
	Extractor Extractor
	Ledger    Ledger
	Store     Store
	Notifier  Notifier
	Heartbeat HeartbeatGate
	Archive   Archiver
	Metrics   *Metrics
}

// Monitor runs pipeline cycles.
type Monitor struct {
	fetcher   Fetcher
	extractor Extractor
	ledger    Ledger
	store     Store
	notifier  Notifier
	heartbeat HeartbeatGate
	archive   Archiver
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	searches  []listing.SearchConfig
	cfg       Config
	running   sync.Mutex
}

// New creates a monitor over searches. The slice is copied; searches do not
// change for the lifetime of the monitor.
func New(searches []listing.SearchConfig, c Components, cfg Config, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = def.StorageTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = def.BatchThreshold
	}

	return &Monitor{
		fetcher:   c.Fetcher,
		extractor: c.Extractor,
		ledger:    c.Ledger,
		store:     c.Store,
		notifier:  c.Notifier,
		heartbeat: c.Heartbeat,
		archive:   c.Archive,
		metrics:   c.Metrics,
		logger:    logger,
		now:       time.Now,
		searches:  append([]listing.SearchConfig(nil), searches...),
		cfg:       cfg,
	}
}

// Searches returns a copy of the configured searches.
func (m *Monitor) Searches() []listing.SearchConfig {
	return append([]listing.SearchConfig(nil), m.searches...)
}

// CheckAll runs one cycle and reports ErrAllFailed when nothing succeeded.
func (m *Monitor) CheckAll(ctx context.Context) error {
	report, err := m.RunCycle(ctx)
	if err != nil {
		return err
	}
	if report.AllFailed() {
		return ErrAllFailed
	}
	return nil
}

// RunCycle processes every enabled search once. Per-search failures are
// recorded in the report, not returned; the error is non-nil only when the
// cycle could not start.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !m.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer m.running.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var enabled []listing.SearchConfig
	for _, s := range m.searches {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	report := &CycleReport{
		RunID:     uuid.NewString(),
		StartedAt: m.now(),
		Searches:  make([]*SearchReport, len(enabled)),
	}
	for i, s := range enabled {
		report.Searches[i] = newSearchReport(s.Name)
	}
	logger := m.logger.With("run_id", report.RunID)
	logger.Info("Cycle starting",
		"searches", len(enabled),
		"workers", m.cfg.Workers,
		"timestamp", report.StartedAt.Format(time.RFC3339))

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.RunTimeout)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(m.cfg.Workers, max(len(enabled), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sr := report.Searches[i]
				if runCtx.Err() != nil {
					m.advance(logger, sr, StateSkipped)
					logger.Warn("Search skipped, run deadline reached", "search", sr.Name)
					m.metrics.observeSearch(sr.Name, sr.State, "")
					continue
				}
				m.runSearch(runCtx, logger, enabled[i], sr)
			}
		}()
	}
	for i := range enabled {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Housekeeping runs even when the run deadline has passed.
	hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StorageTimeout)
	defer hcancel()
	m.sweep(hctx, logger, report)
	if report.NewListings() == 0 {
		m.sendHeartbeat(hctx, logger, report)
	}

	report.FinishedAt = m.now()
	duration := report.FinishedAt.Sub(report.StartedAt)
	m.metrics.observeCycle(report.outcome(), duration, report.FinishedAt)
	m.saveReport(hctx, logger, report)

	logger.Info("Cycle completed",
		"outcome", report.outcome(),
		"new_listings", report.NewListings(),
		"done", report.Count(StateDone),
		"errored", report.Count(StateErrored),
		"skipped", report.Count(StateSkipped),
		"duration_ms", duration.Milliseconds())
	return report, nil
}

// advance moves sr to the next state. An invalid transition is a bug; it is
// logged and the state is forced so the cycle can still finish.
func (m *Monitor) advance(logger *slog.Logger, sr *SearchReport, to State) {
	if err := sr.transition(to); err != nil {
		logger.Error("Invalid search state transition", "search", sr.Name, "error", err)
		sr.State = to
	}
}

// sweep applies the retention horizons once per cycle.
func (m *Monitor) sweep(ctx context.Context, logger *slog.Logger, report *CycleReport) {
	if m.cfg.LedgerRetention > 0 {
		n, err := m.ledger.PurgeOlderThan(ctx, m.cfg.LedgerRetention)
		if err != nil {
			logger.Warn("Ledger purge failed", "error", err)
		} else {
			report.LedgerPurged = n
			m.metrics.addPurged("seen_listings", n)
		}
	}
	if m.cfg.RecordRetention > 0 {
		n, err := m.store.PurgeCreatedBefore(ctx, m.now().Add(-m.cfg.RecordRetention))
		if err != nil {
			logger.Warn("Record purge failed", "error", err)
		} else {
			report.RecordsPurged = n
			m.metrics.addPurged("listings", n)
		}
	}
	if report.LedgerPurged > 0 || report.RecordsPurged > 0 {
		logger.Info("Retention sweep removed rows",
			"ledger", report.LedgerPurged,
			"records", report.RecordsPurged)
	}
}

func (m *Monitor) sendHeartbeat(ctx context.Context, logger *slog.Logger, report *CycleReport) {
	if m.heartbeat == nil {
		return
	}
	now := m.now()
	due, err := m.heartbeat.Claim(ctx, now)
	if err != nil {
		logger.Warn("Heartbeat gate unavailable", "error", err)
		return
	}
	if !due {
		logger.Debug("Heartbeat not due")
		return
	}

	summary := notify.HeartbeatSummary{
		At:       now,
		RunID:    report.RunID,
		Searches: len(report.Searches),
		Errored:  report.Count(StateErrored),
	}
	for _, s := range report.Searches {
		summary.Candidates += s.Candidates
		summary.Duplicates += s.Duplicates
	}

	res, err := m.notifier.NotifyHeartbeat(ctx, summary)
	m.logNotification(ctx, logger, entry(listing.KindHeartbeat, "", nil, now, res, err))
	if err != nil {
		if relErr := m.heartbeat.Release(ctx); relErr != nil {
			logger.Warn("Heartbeat release failed", "error", relErr)
		}
		return
	}
	report.Heartbeat = true
}

func (m *Monitor) saveReport(ctx context.Context, logger *slog.Logger, report *CycleReport) {
	if m.archive == nil {
		return
	}
	key := archive.ReportKey(report.StartedAt, report.RunID)
	if err := m.archive.Save(ctx, key, report); err != nil {
		logger.Warn("Cycle report not archived", "key", key, "error", err)
	}
}

func (m *Monitor) logNotification(ctx context.Context, logger *slog.Logger, e *listing.NotificationLogEntry) {
	m.metrics.incNotify(string(e.Kind), e.Success)
	if err := m.store.LogNotification(ctx, e); err != nil {
		logger.Warn("Notification log write failed",
			"kind", e.Kind,
			"search", e.SearchName,
			"error", err)
	}
}

// entry builds a notification log row. listingID is nil for heartbeat and error kinds.
func entry(kind listing.NotificationKind, search string, listingID *string, at time.Time, res notify.Result, err error) *listing.NotificationLogEntry {
	e := &listing.NotificationLogEntry{
		SentAt:     at,
		ListingID:  listingID,
		Kind:       kind,
		SearchName: search,
		MessageID:  res.MessageID,
		Success:    err == nil && res.Success,
	}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}
