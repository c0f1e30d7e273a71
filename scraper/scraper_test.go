package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/retrypolicy"
)

func testConfig() Config {
	return Config{
		ListingURLBase: "https://www.myauto.ge/ka/pr/",
		Policy:         retrypolicy.Policy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Timeout:        2 * time.Second,
		MaxPages:       3,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jsonPage renders one API page holding the given ids.
func jsonPage(lastPage int, ids ...int) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprintf(`{"car_id": %d, "man_name": "Toyota"}`, id))
	}
	return fmt.Sprintf(`{"data":{"items":[%s],"meta":{"last_page":%d}}}`, strings.Join(items, ","), lastPage)
}

// pagedServer serves pages[n-1] for ?Page=n and counts requests.
func pagedServer(t *testing.T, pages map[int]func(w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := 1
		if p := r.URL.Query().Get("Page"); p != "" {
			n, _ = strconv.Atoi(p)
		}
		handler, ok := pages[n]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func body(s string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, s)
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func ids(res *listing.FetchResult) []string {
	out := make([]string, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		out = append(out, c.ID)
	}
	return out
}

func TestFetchPaginatesAndDedupes(t *testing.T) {
	srv, _ := pagedServer(t, map[int]func(http.ResponseWriter){
		1: body(jsonPage(2, 3, 2)),
		2: body(jsonPage(2, 2, 1)),
	})
	s := New(srv.Client(), testConfig(), discardLogger())

	res, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "prado", BaseURL: srv.URL + "/ka/s/cars"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strings.Join(ids(res), ","); got != "3,2,1" {
		t.Errorf("ids = %s, want 3,2,1", got)
	}
	if res.Pages != 2 || res.Truncated {
		t.Errorf("pages=%d truncated=%v, want 2 false", res.Pages, res.Truncated)
	}
	c := res.Candidates[0]
	if c.Search != "prado" || c.Format != listing.FormatJSON || c.SourceURL != "https://www.myauto.ge/ka/pr/3" {
		t.Errorf("unexpected candidate %+v", c)
	}
}

func TestFetchTruncatesAtMaxPages(t *testing.T) {
	srv, calls := pagedServer(t, map[int]func(http.ResponseWriter){
		1: body(jsonPage(5, 1)),
		2: body(jsonPage(5, 2)),
		3: body(jsonPage(5, 3)),
	})
	cfg := testConfig()
	cfg.MaxPages = 2
	s := New(srv.Client(), cfg, discardLogger())

	res, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Truncated || res.Pages != 2 || len(res.Candidates) != 2 {
		t.Errorf("got pages=%d truncated=%v candidates=%d", res.Pages, res.Truncated, len(res.Candidates))
	}
	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2", calls.Load())
	}
}

func TestFetchWithoutPaginationHint(t *testing.T) {
	tests := []struct {
		name          string
		pages         map[int]func(http.ResponseWriter)
		maxPages      int
		wantIDs       string
		wantCalls     int32
		wantTruncated bool
	}{
		{
			name: "bare arrays until an empty page",
			pages: map[int]func(http.ResponseWriter){
				1: body(`[{"car_id":1},{"car_id":2}]`),
				2: body(`[{"car_id":3},{"car_id":4}]`),
				3: body(`[]`),
			},
			maxPages:  5,
			wantIDs:   "1,2,3,4",
			wantCalls: 3,
		},
		{
			name: "flat items object",
			pages: map[int]func(http.ResponseWriter){
				1: body(`{"items":[{"car_id":1}]}`),
				2: body(`{"items":[{"car_id":2}]}`),
				3: body(`{"items":[]}`),
			},
			maxPages:  5,
			wantIDs:   "1,2",
			wantCalls: 3,
		},
		{
			name: "source ignores the page parameter",
			pages: map[int]func(http.ResponseWriter){
				1: body(`[{"car_id":1},{"car_id":2}]`),
				2: body(`[{"car_id":1},{"car_id":2}]`),
			},
			maxPages:  5,
			wantIDs:   "1,2",
			wantCalls: 2,
		},
		{
			name: "still full at the page limit",
			pages: map[int]func(http.ResponseWriter){
				1: body(`[{"car_id":1}]`),
				2: body(`[{"car_id":2}]`),
				3: body(`[{"car_id":3}]`),
			},
			maxPages:      2,
			wantIDs:       "1,2",
			wantCalls:     2,
			wantTruncated: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := pagedServer(t, tt.pages)
			cfg := testConfig()
			cfg.MaxPages = tt.maxPages
			s := New(srv.Client(), cfg, discardLogger())

			res, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if got := strings.Join(ids(res), ","); got != tt.wantIDs {
				t.Errorf("ids = %s, want %s", got, tt.wantIDs)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("requests = %d, want %d", calls.Load(), tt.wantCalls)
			}
			if res.Truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", res.Truncated, tt.wantTruncated)
			}
		})
	}
}

func TestFetchLaterPageFailureIsTruncation(t *testing.T) {
	srv, _ := pagedServer(t, map[int]func(http.ResponseWriter){
		1: body(jsonPage(3, 1, 2)),
		// page 2 answers 404
	})
	s := New(srv.Client(), testConfig(), discardLogger())

	res, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Truncated || res.Pages != 1 || len(res.Candidates) != 2 {
		t.Errorf("got pages=%d truncated=%v candidates=%d", res.Pages, res.Truncated, len(res.Candidates))
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, jsonPage(1, 42))
	}))
	defer srv.Close()
	s := New(srv.Client(), testConfig(), discardLogger())

	res, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].ID != "42" {
		t.Errorf("candidates = %v", ids(res))
	}
	if n.Load() != 3 {
		t.Errorf("requests = %d, want 3", n.Load())
	}
}

func TestFetchOutageEscalates(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		wantCalls int32
	}{
		{"server error retried", http.StatusInternalServerError, 3},
		{"rate limited retried", http.StatusTooManyRequests, 3},
		{"not found not retried", http.StatusNotFound, 1},
		{"forbidden not retried", http.StatusForbidden, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := pagedServer(t, map[int]func(http.ResponseWriter){1: status(tt.code)})
			s := New(srv.Client(), testConfig(), discardLogger())

			_, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL})
			if !listing.IsSearchUnavailable(err) {
				t.Fatalf("err = %v, want SearchUnavailableError", err)
			}
			var httpErr *listing.FetchHTTPError
			if !errors.As(err, &httpErr) || httpErr.StatusCode != tt.code {
				t.Errorf("cause = %v, want HTTP %d", err, tt.code)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("requests = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestFetchTransportErrorRetried(t *testing.T) {
	var calls int
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})
	s := New(&http.Client{Transport: transport}, testConfig(), discardLogger())

	_, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: "https://www.myauto.ge/ka/s/cars"})
	var httpErr *listing.FetchHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 0 {
		t.Fatalf("err = %v, want transport FetchHTTPError", err)
	}
	if !listing.IsSearchUnavailable(err) {
		t.Error("want SearchUnavailableError")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Policy.Attempts = 2
	s := New(srv.Client(), cfg, discardLogger())

	_, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL})
	var timeout *listing.FetchTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want FetchTimeoutError", err)
	}
}

func TestFetchHTMLPage(t *testing.T) {
	html := `<html><body>
		<div data-listing-id="456789012"><a href="/ka/pr/456789012/toyota">Toyota</a><span data-field="price">15,500</span></div>
		<div data-listing-id="111"><a href="/ka/pr/111">Honda</a></div>
		<div data-listing-id="">broken</div>
		<nav><a data-page="1">1</a><a data-page="2">2</a></nav>
	</body></html>`
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://www.myauto.ge/ka/s/cars?SortOrder=1",
		httpmock.NewStringResponder(http.StatusOK, html))
	transport.RegisterResponder("GET", "https://www.myauto.ge/ka/s/cars?Page=2&SortOrder=1",
		httpmock.NewStringResponder(http.StatusOK, `<html><body></body></html>`))
	s := New(&http.Client{Transport: transport}, testConfig(), discardLogger())

	res, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: "https://www.myauto.ge/ka/s/cars"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := strings.Join(ids(res), ","); got != "456789012,111" {
		t.Fatalf("ids = %s", got)
	}
	first := res.Candidates[0]
	if first.Format != listing.FormatHTML {
		t.Error("want HTML candidate")
	}
	if first.SourceURL != "https://www.myauto.ge/ka/pr/456789012/toyota" {
		t.Errorf("SourceURL = %s", first.SourceURL)
	}
	if !strings.Contains(string(first.Raw), "15,500") {
		t.Errorf("Raw does not hold the listing fragment: %s", first.Raw)
	}
	if res.Pages != 2 {
		t.Errorf("pages = %d, want 2", res.Pages)
	}
}

func TestBuildSearchURL(t *testing.T) {
	cleared := true
	search := listing.SearchConfig{
		BaseURL: "https://www.myauto.ge/ka/s/00/0/00/00/00?stype=0",
		Criteria: listing.Criteria{
			Make: "Toyota", Model: "Land Cruiser Prado",
			YearFrom: 2000, YearTo: 2005,
			PriceFrom: 10000, PriceTo: 20000,
			Currency: "gel", FuelType: "2", CustomsCleared: &cleared,
		},
	}

	got, err := BuildSearchURL(search, 2)
	if err != nil {
		t.Fatalf("BuildSearchURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"stype": "0", "Mans": "Toyota", "Models": "Land Cruiser Prado",
		"ProdYearFrom": "2000", "ProdYearTo": "2005", "PriceFrom": "10000", "PriceTo": "20000",
		"CurrencyID": "3", "FuelTypes": "2", "Customs": "1", "SortOrder": "1", "Page": "2",
	}
	for k, v := range want {
		if u.Query().Get(k) != v {
			t.Errorf("%s = %q, want %q", k, u.Query().Get(k), v)
		}
	}
	if u.Query().Has("GearTypes") {
		t.Error("unset criteria must not be rendered")
	}

	first, _ := BuildSearchURL(search, 1)
	if strings.Contains(first, "Page=") {
		t.Errorf("page 1 URL carries Page: %s", first)
	}

	if _, err := BuildSearchURL(listing.SearchConfig{BaseURL: "/relative"}, 1); err == nil {
		t.Error("relative base_url should be rejected")
	}
}

func TestPolitePageDelay(t *testing.T) {
	srv, _ := pagedServer(t, map[int]func(http.ResponseWriter){
		1: body(jsonPage(2, 1)),
		2: body(jsonPage(2, 2)),
	})
	cfg := testConfig()
	cfg.PageDelay = 150 * time.Millisecond
	s := New(srv.Client(), cfg, discardLogger())

	start := time.Now()
	if _, err := s.Fetch(context.Background(), listing.SearchConfig{Name: "s", BaseURL: srv.URL}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("two pages fetched in %v, want at least the page delay", elapsed)
	}
}
