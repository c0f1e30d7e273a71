// Package main runs the myauto.ge listing monitor: it scrapes saved searches,
// records unseen listings in PostgreSQL, and notifies a Telegram chat or a
// mailbox about them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Giorgamose/myauto-scraper-sub002/archive"
	"github.com/Giorgamose/myauto-scraper-sub002/config"
	"github.com/Giorgamose/myauto-scraper-sub002/extract"
	"github.com/Giorgamose/myauto-scraper-sub002/heartbeat"
	"github.com/Giorgamose/myauto-scraper-sub002/ledger"
	"github.com/Giorgamose/myauto-scraper-sub002/notify"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/retrypolicy"
	"github.com/Giorgamose/myauto-scraper-sub002/poll"
	"github.com/Giorgamose/myauto-scraper-sub002/scraper"
	"github.com/Giorgamose/myauto-scraper-sub002/server"
	"github.com/Giorgamose/myauto-scraper-sub002/storage"
)

const ledgerCacheSize = 4096

type mode string

const (
	modeOnce   mode = "once"
	modeDaemon mode = "daemon"
	modeServe  mode = "serve"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("myauto-scraper", flag.ContinueOnError)
	searchesPath := fs.String("config", "", "saved searches file (overrides SEARCHES_FILE)")
	once := fs.Bool("once", false, "run one cycle and exit (default)")
	daemon := fs.Bool("daemon", false, "run cycles every CHECK_INTERVAL and serve HTTP")
	serve := fs.Bool("serve", false, "serve HTTP only; cycles are triggered with POST /pollz")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	m, err := selectMode(*once, *daemon, *serve)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		return 1
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if *searchesPath != "" {
		cfg.SearchesFile = *searchesPath
	}
	searches, err := config.LoadSearches(cfg.SearchesFile)
	if err != nil {
		logger.Error("Invalid saved searches", "path", cfg.SearchesFile, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, searches, logger)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return 1
	}
	defer app.close()

	logger.Info("Monitor ready",
		"mode", string(m),
		"searches", len(searches),
		"provider", cfg.NotifyProvider,
		"workers", cfg.SearchWorkers)

	switch m {
	case modeDaemon:
		err = app.runDaemon(ctx, cfg)
	case modeServe:
		err = app.server.ListenAndServe(ctx, cfg.Port)
	default:
		err = app.monitor.CheckAll(ctx)
	}
	if err != nil {
		logger.Error("Monitor stopped with error", "mode", string(m), "error", err)
		return 1
	}
	return 0
}

func selectMode(once, daemon, serve bool) (mode, error) {
	n := 0
	m := modeOnce
	if once {
		n++
	}
	if daemon {
		n++
		m = modeDaemon
	}
	if serve {
		n++
		m = modeServe
	}
	if n > 1 {
		return "", errors.New("choose one of -once, -daemon or -serve")
	}
	return m, nil
}

// newLogger writes JSON unless w is a terminal.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			return slog.New(slog.NewTextHandler(w, opts))
		}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type app struct {
	monitor *poll.Monitor
	server  *server.Server
	logger  *slog.Logger
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, searches []listing.SearchConfig, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, &listing.StorageUnavailableError{Op: "connect", Err: err}
	}
	a.closers = append(a.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return nil, &listing.StorageUnavailableError{Op: "ping", Err: err}
	}

	seen, err := ledger.New(pool, ledgerCacheSize, logger)
	if err != nil {
		return nil, err
	}
	if err := seen.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	store := storage.New(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	notifyPolicy := retrypolicy.Default()
	notifyPolicy.Attempts = uint(cfg.NotifyAttempts)
	notifier := notify.New(provider, notifyPolicy, logger)

	scrapeCfg := scraper.DefaultConfig()
	scrapeCfg.Policy.Attempts = uint(cfg.FetchAttempts)
	scrapeCfg.Timeout = cfg.FetchTimeout
	scrapeCfg.PageDelay = cfg.FetchPageDelay
	scrapeCfg.MaxPages = cfg.FetchMaxPages
	fetcher := scraper.New(&http.Client{Timeout: cfg.FetchTimeout}, scrapeCfg, logger)

	gate, err := a.newGate(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	reports, err := a.newArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metrics := poll.NewMetrics()
	components := poll.Components{
		Fetcher:   fetcher,
		Extractor: extract.New(),
		Ledger:    seen,
		Store:     store,
		Notifier:  notifier,
		Heartbeat: gate,
		Metrics:   metrics,
	}
	if reports != nil {
		components.Archive = reports
	}

	a.monitor = poll.New(searches, components, poll.Config{
		Workers:         cfg.SearchWorkers,
		RunTimeout:      cfg.RunTimeout,
		BatchThreshold:  cfg.BatchThreshold,
		LedgerRetention: cfg.LedgerRetention(),
		RecordRetention: cfg.RecordRetention(),
	}, logger)

	srvCfg := &server.Config{
		Poller:   a.monitor,
		Listings: store,
		Ledger:   seen,
		Gatherer: metrics.Registry,
		Logger:   logger,
	}
	if reports != nil {
		srvCfg.Reports = reports
	}
	a.server = server.New(srvCfg)

	ok = true
	return a, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Provider, error) {
	switch cfg.NotifyProvider {
	case config.ProviderTelegram:
		client := &http.Client{Timeout: 30 * time.Second}
		return notify.NewTelegramProvider(client, cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramChatID, logger), nil
	case config.ProviderGmail:
		opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
		if cfg.GoogleCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON)))
		}
		// Without explicit credentials the service account of the runtime is used.
		service, err := gmail.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gmail service: %w", err)
		}
		return notify.NewGmailProvider(service, cfg.NotifyEmailTo, logger), nil
	default:
		logger.Warn("Mock notification provider enabled; nothing will be delivered")
		return notify.NewMockProvider(logger), nil
	}
}

// newGate prefers Redis so that several instances share one heartbeat clock.
func (a *app) newGate(ctx context.Context, cfg *config.Config, store *storage.Store) (heartbeat.Gate, error) {
	if cfg.RedisURL == "" {
		return heartbeat.NewStoreGate(store, cfg.HeartbeatInterval), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, &listing.ConfigurationError{Field: "REDIS_URL", Err: err}
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", "error", err)
		}
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return heartbeat.NewRedisGate(client, "", cfg.HeartbeatInterval, a.logger), nil
}

// newArchive returns nil when neither a bucket nor a directory is configured.
func (a *app) newArchive(ctx context.Context, cfg *config.Config) (*archive.Archive, error) {
	switch {
	case cfg.ArchiveDir != "":
		if err := os.MkdirAll(cfg.ArchiveDir, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
		a.logger.Info("Archiving cycle reports locally", "path", cfg.ArchiveDir)
		return archive.New(nil, "", cfg.ArchiveDir, retrypolicy.Default(), a.logger), nil
	case cfg.ArchiveBucket != "":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("Failed to close storage client", "error", err)
			}
		})
		a.logger.Info("Archiving cycle reports to Cloud Storage", "bucket", cfg.ArchiveBucket)
		return archive.New(client, cfg.ArchiveBucket, "", retrypolicy.Default(), a.logger), nil
	default:
		// Archiving is disabled; callers check for a nil archive.
		return nil, nil
	}
}

// runDaemon runs one cycle now, then one every CHECK_INTERVAL, while serving
// HTTP. A tick that arrives while a cycle is still running is skipped.
func (a *app) runDaemon(ctx context.Context, cfg *config.Config) error {
	cl := cronLogger{a.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	job := func() {
		if _, err := a.monitor.RunCycle(ctx); err != nil {
			a.logger.Warn("Scheduled cycle not run", "error", err)
		}
	}
	if _, err := c.AddFunc("@every "+cfg.CheckInterval.String(), job); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	go job()
	c.Start()
	defer func() {
		<-c.Stop().Done()
		a.logger.Info("Scheduler stopped")
	}()

	return a.server.ListenAndServe(ctx, cfg.Port)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
