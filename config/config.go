// Package config loads runtime settings from the environment and the saved
// searches from a YAML file. Both are read once at start; invalid values are
// a *listing.ConfigurationError and stop the process before any search runs.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// Notification providers.
const (
	ProviderTelegram = "telegram"
	ProviderGmail    = "gmail"
	ProviderMock     = "mock"
)

// Config holds all runtime configuration.
type Config struct {
	DatabaseURL           string
	SearchesFile          string
	NotifyProvider        string
	TelegramBotToken      string
	TelegramChatID        string
	TelegramAPIURL        string
	GoogleCredentialsJSON string
	NotifyEmailTo         string
	RedisURL              string
	ArchiveBucket         string
	ArchiveDir            string
	Port                  string
	LogLevel              slog.Level
	CheckInterval         time.Duration
	RunTimeout            time.Duration
	FetchTimeout          time.Duration
	FetchPageDelay        time.Duration
	HeartbeatInterval     time.Duration
	SearchWorkers         int
	FetchAttempts         int
	FetchMaxPages         int
	NotifyAttempts        int
	BatchThreshold        int
	RetentionDays         int // Ledger horizon; 0 disables the purge
	RecordRetentionDays   int // Full-record horizon; 0 keeps records
}

// Load reads the process environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := &reader{getenv: getenv}
	cfg := &Config{
		DatabaseURL:           getenv("DATABASE_URL"),
		SearchesFile:          env.str("SEARCHES_FILE", "searches.yaml"),
		NotifyProvider:        strings.ToLower(env.str("NOTIFY_PROVIDER", ProviderTelegram)),
		TelegramBotToken:      getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:        getenv("TELEGRAM_CHAT_ID"),
		TelegramAPIURL:        getenv("TELEGRAM_API_URL"),
		GoogleCredentialsJSON: getenv("GOOGLE_CREDENTIALS_JSON"),
		NotifyEmailTo:         getenv("NOTIFY_EMAIL_TO"),
		RedisURL:              getenv("REDIS_URL"),
		ArchiveBucket:         getenv("ARCHIVE_BUCKET"),
		ArchiveDir:            getenv("ARCHIVE_DIR"),
		Port:                  env.str("PORT", "8080"),
		LogLevel:              env.level("LOG_LEVEL", slog.LevelInfo),
		CheckInterval:         env.duration("CHECK_INTERVAL", 10*time.Minute, time.Minute),
		RunTimeout:            env.duration("RUN_TIMEOUT", 5*time.Minute, time.Second),
		FetchTimeout:          env.duration("FETCH_TIMEOUT", 10*time.Second, time.Second),
		FetchPageDelay:        env.duration("FETCH_PAGE_DELAY", 2*time.Second, 0),
		HeartbeatInterval:     env.duration("HEARTBEAT_INTERVAL", 6*time.Hour, time.Minute),
		SearchWorkers:         env.integer("SEARCH_WORKERS", 2, 1),
		FetchAttempts:         env.integer("FETCH_ATTEMPTS", 3, 1),
		FetchMaxPages:         env.integer("FETCH_MAX_PAGES", 3, 1),
		NotifyAttempts:        env.integer("NOTIFY_ATTEMPTS", 3, 1),
		BatchThreshold:        env.integer("BATCH_THRESHOLD", 5, 1),
		RetentionDays:         env.integer("RETENTION_DAYS", 365, 0),
		RecordRetentionDays:   env.integer("RECORD_RETENTION_DAYS", 0, 0),
	}
	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings are coherent.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return invalid("DATABASE_URL", errors.New("is required"))
	}

	switch c.NotifyProvider {
	case ProviderTelegram:
		if c.TelegramBotToken == "" || c.TelegramChatID == "" {
			return invalid("TELEGRAM_BOT_TOKEN", errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required for the telegram provider"))
		}
		if c.TelegramAPIURL != "" {
			if u, err := url.Parse(c.TelegramAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
				return invalid("TELEGRAM_API_URL", fmt.Errorf("must be an absolute URL, got %q", c.TelegramAPIURL))
			}
		}
	case ProviderGmail:
		if c.NotifyEmailTo == "" || !strings.Contains(c.NotifyEmailTo, "@") {
			return invalid("NOTIFY_EMAIL_TO", errors.New("a destination address is required for the gmail provider"))
		}
	case ProviderMock:
	default:
		return invalid("NOTIFY_PROVIDER", fmt.Errorf("must be telegram, gmail or mock, got %q", c.NotifyProvider))
	}

	if c.ArchiveBucket != "" && c.ArchiveDir != "" {
		return invalid("ARCHIVE_DIR", errors.New("set ARCHIVE_BUCKET or ARCHIVE_DIR, not both"))
	}
	if c.RunTimeout >= c.CheckInterval {
		return invalid("RUN_TIMEOUT", fmt.Errorf("(%s) must be shorter than CHECK_INTERVAL (%s)", c.RunTimeout, c.CheckInterval))
	}
	if c.HeartbeatInterval <= c.CheckInterval {
		return invalid("HEARTBEAT_INTERVAL", fmt.Errorf("(%s) must be longer than CHECK_INTERVAL (%s)", c.HeartbeatInterval, c.CheckInterval))
	}
	if c.FetchTimeout >= c.RunTimeout {
		return invalid("FETCH_TIMEOUT", fmt.Errorf("(%s) must be shorter than RUN_TIMEOUT (%s)", c.FetchTimeout, c.RunTimeout))
	}
	return nil
}

// LedgerRetention is the ledger purge horizon, or zero when disabled.
func (c *Config) LedgerRetention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RecordRetention is the full-record purge horizon, or zero when disabled.
func (c *Config) RecordRetention() time.Duration {
	return time.Duration(c.RecordRetentionDays) * 24 * time.Hour
}

func invalid(field string, err error) error {
	return &listing.ConfigurationError{Field: field, Err: err}
}

// reader parses variables and keeps the first error.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(name, def string) string {
	if v := strings.TrimSpace(r.getenv(name)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(name string, def, minimum int) int {
	s := strings.TrimSpace(r.getenv(name))
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < minimum {
		r.fail(name, fmt.Errorf("must be an integer >= %d, got %q", minimum, s))
		return def
	}
	return v
}

func (r *reader) duration(name string, def, minimum time.Duration) time.Duration {
	s := strings.TrimSpace(r.getenv(name))
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil || v < minimum {
		r.fail(name, fmt.Errorf("must be a duration >= %s, got %q", minimum, s))
		return def
	}
	return v
}

func (r *reader) level(name string, def slog.Level) slog.Level {
	s := strings.TrimSpace(r.getenv(name))
	if s == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		r.fail(name, fmt.Errorf("unknown log level %q", s))
		return def
	}
	return lvl
}

func (r *reader) fail(name string, err error) {
	if r.err == nil {
		r.err = invalid(name, err)
	}
}
