// Package server exposes health, an external cycle trigger, read access to
// stored listings and cycle reports, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/poll"
	"github.com/Giorgamose/myauto-scraper-sub002/storage"
)

// Poller runs one pipeline cycle.
type Poller interface {
	RunCycle(ctx context.Context) (*poll.CycleReport, error)
}

// Listings is read access to the listing store.
type Listings interface {
	Query(ctx context.Context, f storage.Filter, limit int) ([]*listing.Record, error)
	GetByID(ctx context.Context, id string) (*listing.Record, error)
	NotificationsFor(ctx context.Context, listingID string) ([]*listing.NotificationLogEntry, error)
}

// Ledger is read access to the deduplication ledger.
type Ledger interface {
	Get(ctx context.Context, id string) (*listing.SeenEntry, error)
}

// Reports is read access to archived cycle reports.
type Reports interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Load(ctx context.Context, key string, v any) error
}

// Config holds server dependencies. Reports and Gatherer are optional.
type Config struct {
	Poller   Poller
	Listings Listings
	Ledger   Ledger
	Reports  Reports
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server handles HTTP requests.
type Server struct {
	poller   Poller
	listings Listings
	ledger   Ledger
	reports  Reports
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		poller:   cfg.Poller,
		listings: cfg.Listings,
		ledger:   cfg.Ledger,
		reports:  cfg.Reports,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("GET /listings", s.handleListings)
	mux.HandleFunc("GET /listings/{id}", s.handleListing)
	mux.HandleFunc("GET /reports", s.handleReports)
	mux.HandleFunc("GET /reports/{day}/{run}", s.handleReport)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Timeouts prevent slow clients from exhausting resources; the write
	// timeout leaves room for a full cycle triggered through /pollz.
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	report, err := s.poller.RunCycle(r.Context())
	if errors.Is(err, poll.ErrCycleRunning) {
		http.Error(w, "Cycle already running", http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Error("Poll cycle failed to start", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if report.AllFailed() {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, report)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
