package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Giorgamose/myauto-scraper-sub002/archive"
	"github.com/Giorgamose/myauto-scraper-sub002/ledger"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/poll"
	"github.com/Giorgamose/myauto-scraper-sub002/storage"
)

// recordView is the JSON shape of a stored listing. Optional fields render
// as "unknown" rather than being omitted.
type recordView struct {
	CreatedAt  time.Time         `json:"created_at"`
	ID         string            `json:"listing_id"`
	URL        string            `json:"url"`
	SearchName string            `json:"search_name"`
	Title      string            `json:"title"`
	Currency   string            `json:"currency"`
	Fields     map[string]string `json:"fields"`
	Price      int64             `json:"price"`
}

func newRecordView(r *listing.Record) recordView {
	fields := make(map[string]string, len(listing.AllFields))
	for _, name := range listing.AllFields {
		fields[name] = r.Field(name)
	}
	return recordView{
		CreatedAt:  r.CreatedAt,
		ID:         r.ID,
		URL:        r.URL,
		SearchName: r.SearchName,
		Title:      r.Title(),
		Currency:   r.Currency,
		Fields:     fields,
		Price:      r.Price,
	}
}

// maxFilterDays keeps the created-within window far from time.Duration overflow.
const maxFilterDays = 36500

// parseFilter reads make, price_from, price_to, year_from, year_to, days and
// limit from the query string.
func parseFilter(r *http.Request) (storage.Filter, int, error) {
	q := r.URL.Query()
	num := func(name string) (int64, error) {
		s := strings.TrimSpace(q.Get(name))
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%s must be a non-negative integer", name)
		}
		return v, nil
	}

	var (
		f    storage.Filter
		errs []error
	)
	get := func(name string) int64 {
		v, err := num(name)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	f.Make = strings.TrimSpace(q.Get("make"))
	f.PriceFrom = get("price_from")
	f.PriceTo = get("price_to")
	f.YearFrom = int(get("year_from"))
	f.YearTo = int(get("year_to"))
	days := get("days")
	if days > maxFilterDays {
		errs = append(errs, fmt.Errorf("days must be at most %d", maxFilterDays))
		days = 0
	}
	f.CreatedWithin = time.Duration(days) * 24 * time.Hour
	limit := int(get("limit"))
	return f, limit, errors.Join(errs...)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	f, limit, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := s.listings.Query(r.Context(), f, limit)
	if err != nil {
		s.logger.Error("Listing query failed", "error", err)
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newRecordView(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "listings": views})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.listings.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Listing not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Listing lookup failed", "listing_id", id, "error", err)
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := struct {
		Ledger        *listing.SeenEntry              `json:"ledger"`
		Notifications []*listing.NotificationLogEntry `json:"notifications"`
		Listing       recordView                      `json:"listing"`
	}{Listing: newRecordView(rec)}

	// The ledger may have been purged while the record is kept.
	entry, err := s.ledger.Get(r.Context(), id)
	switch {
	case err == nil:
		resp.Ledger = entry
	case !errors.Is(err, ledger.ErrNotFound):
		s.logger.Warn("Ledger lookup failed", "listing_id", id, "error", err)
	}

	resp.Notifications, err = s.listings.NotificationsFor(r.Context(), id)
	if err != nil {
		s.logger.Warn("Notification lookup failed", "listing_id", id, "error", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		http.Error(w, "Report archive disabled", http.StatusNotFound)
		return
	}

	prefix := "cycles/"
	if day := r.URL.Query().Get("day"); day != "" {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		prefix += day + "/"
	}

	keys, err := s.reports.List(r.Context(), prefix)
	if err != nil {
		s.logger.Error("Report listing failed", "prefix", prefix, "error", err)
		http.Error(w, "Archive unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(keys), "keys": keys})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		http.Error(w, "Report archive disabled", http.StatusNotFound)
		return
	}

	day, run := r.PathValue("day"), strings.TrimSuffix(r.PathValue("run"), ".json")
	at, err := time.Parse("2006-01-02", day)
	if err != nil {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(run); err != nil {
		http.Error(w, "run must be a run id", http.StatusBadRequest)
		return
	}

	var report poll.CycleReport
	err = s.reports.Load(r.Context(), archive.ReportKey(at, run), &report)
	if errors.Is(err, archive.ErrNotFound) {
		http.Error(w, "Report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Report load failed", "run_id", run, "error", err)
		http.Error(w, "Archive unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, &report)
}
