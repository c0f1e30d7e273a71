package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":       "postgres://localhost/myauto",
		"TELEGRAM_BOT_TOKEN": "123:abc",
		"TELEGRAM_CHAT_ID":   "-100200300",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envOf(baseEnv()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NotifyProvider != ProviderTelegram {
		t.Errorf("NotifyProvider = %q", cfg.NotifyProvider)
	}
	if cfg.SearchesFile != "searches.yaml" || cfg.Port != "8080" {
		t.Errorf("SearchesFile=%q Port=%q", cfg.SearchesFile, cfg.Port)
	}
	if cfg.CheckInterval != 10*time.Minute || cfg.RunTimeout != 5*time.Minute {
		t.Errorf("CheckInterval=%s RunTimeout=%s", cfg.CheckInterval, cfg.RunTimeout)
	}
	if cfg.FetchAttempts != 3 || cfg.FetchMaxPages != 3 || cfg.SearchWorkers != 2 {
		t.Errorf("FetchAttempts=%d FetchMaxPages=%d SearchWorkers=%d", cfg.FetchAttempts, cfg.FetchMaxPages, cfg.SearchWorkers)
	}
	if cfg.BatchThreshold != 5 || cfg.HeartbeatInterval != 6*time.Hour {
		t.Errorf("BatchThreshold=%d HeartbeatInterval=%s", cfg.BatchThreshold, cfg.HeartbeatInterval)
	}
	if cfg.LedgerRetention() != 365*24*time.Hour || cfg.RecordRetention() != 0 {
		t.Errorf("LedgerRetention=%s RecordRetention=%s", cfg.LedgerRetention(), cfg.RecordRetention())
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["NOTIFY_PROVIDER"] = "MOCK"
	env["CHECK_INTERVAL"] = "15m"
	env["FETCH_PAGE_DELAY"] = "0s"
	env["RETENTION_DAYS"] = "0"
	env["RECORD_RETENTION_DAYS"] = "365"
	env["LOG_LEVEL"] = "debug"

	cfg, err := load(envOf(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NotifyProvider != ProviderMock || cfg.CheckInterval != 15*time.Minute || cfg.FetchPageDelay != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LedgerRetention() != 0 || cfg.RecordRetention() != 365*24*time.Hour {
		t.Errorf("retention = %s / %s", cfg.LedgerRetention(), cfg.RecordRetention())
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		set   map[string]string
		field string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL"},
		{"telegram without chat", map[string]string{"TELEGRAM_CHAT_ID": ""}, "TELEGRAM_BOT_TOKEN"},
		{"unknown provider", map[string]string{"NOTIFY_PROVIDER": "pigeon"}, "NOTIFY_PROVIDER"},
		{"gmail without address", map[string]string{"NOTIFY_PROVIDER": "gmail"}, "NOTIFY_EMAIL_TO"},
		{"bad integer", map[string]string{"SEARCH_WORKERS": "two"}, "SEARCH_WORKERS"},
		{"zero workers", map[string]string{"SEARCH_WORKERS": "0"}, "SEARCH_WORKERS"},
		{"bad duration", map[string]string{"CHECK_INTERVAL": "often"}, "CHECK_INTERVAL"},
		{"negative retention", map[string]string{"RETENTION_DAYS": "-1"}, "RETENTION_DAYS"},
		{"run longer than interval", map[string]string{"RUN_TIMEOUT": "20m"}, "RUN_TIMEOUT"},
		{"heartbeat not longer than interval", map[string]string{"HEARTBEAT_INTERVAL": "10m"}, "HEARTBEAT_INTERVAL"},
		{"both archives", map[string]string{"ARCHIVE_BUCKET": "b", "ARCHIVE_DIR": "/tmp/a"}, "ARCHIVE_DIR"},
		{"bad log level", map[string]string{"LOG_LEVEL": "chatty"}, "LOG_LEVEL"},
		{"relative telegram api", map[string]string{"TELEGRAM_API_URL": "localhost"}, "TELEGRAM_API_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range tt.set {
				env[k] = v
			}
			_, err := load(envOf(env))
			var cfgErr *listing.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

const searchesYAML = `
searches:
  - name: prado
    base_url: https://www.myauto.ge/ka/s/
    criteria:
      make: Toyota
      model: Land Cruiser Prado
      year_from: 2000
      year_to: 2008
      price_from: 10000
      price_to: 20000
      currency: gel
      fuel_type: petrol
      customs_cleared: true
    notification_fields: [engine_volume, vin, customs_cleared]
  - name: paused
    base_url: https://www.myauto.ge/ka/s/
    enabled: false
`

func TestParseSearches(t *testing.T) {
	searches, err := ParseSearches([]byte(searchesYAML))
	if err != nil {
		t.Fatalf("ParseSearches: %v", err)
	}
	if len(searches) != 2 {
		t.Fatalf("got %d searches", len(searches))
	}

	prado := searches[0]
	if !prado.Enabled {
		t.Error("enabled should default to true")
	}
	c := prado.Criteria
	if c.Make != "Toyota" || c.YearFrom != 2000 || c.PriceTo != 20000 || c.Currency != "GEL" {
		t.Errorf("criteria = %+v", c)
	}
	if c.CustomsCleared == nil || !*c.CustomsCleared {
		t.Error("customs_cleared not decoded")
	}
	if strings.Join(prado.NotificationFields, ",") != "engine_volume,vin,customs_cleared" {
		t.Errorf("notification_fields = %v", prado.NotificationFields)
	}
	if searches[1].Enabled {
		t.Error("paused search should be disabled")
	}
}

func TestParseSearchesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "no searches"},
		{"not yaml", "searches: [", "parse"},
		{"unknown key", "searches:\n  - name: a\n    base_url: https://x.ge/\n    critera: {}\n", "parse"},
		{"missing name", "searches:\n  - base_url: https://x.ge/\n", "name is required"},
		{"relative url", "searches:\n  - name: a\n    base_url: /ka/s/\n", "base_url"},
		{"duplicate", "searches:\n  - name: a\n    base_url: https://x.ge/\n  - name: a\n    base_url: https://x.ge/\n", "duplicate"},
		{"years reversed", "searches:\n  - name: a\n    base_url: https://x.ge/\n    criteria: {year_from: 2010, year_to: 2000}\n", "year_from"},
		{"prices reversed", "searches:\n  - name: a\n    base_url: https://x.ge/\n    criteria: {price_from: 9, price_to: 1}\n", "price_from"},
		{"bad currency", "searches:\n  - name: a\n    base_url: https://x.ge/\n    criteria: {currency: btc}\n", "currency"},
		{"bad field", "searches:\n  - name: a\n    base_url: https://x.ge/\n    notification_fields: [horsepower]\n", "horsepower"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSearches([]byte(tt.yaml))
			var cfgErr *listing.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadSearchesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searches.yaml")
	if err := os.WriteFile(path, []byte(searchesYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	searches, err := LoadSearches(path)
	if err != nil || len(searches) != 2 {
		t.Fatalf("LoadSearches = %v, %v", searches, err)
	}

	if _, err := LoadSearches(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
