// Package scraper fetches myauto.ge search result pages and splits them into
// listing candidates.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/retrypolicy"
)

const maxBodyBytes = 10 << 20

// Config tunes fetching. Zero values are replaced by DefaultConfig's.
type Config struct {
	ListingURLBase string // Prefix for direct listing links, e.g. https://www.myauto.ge/ka/pr/
	Policy         retrypolicy.Policy
	Timeout        time.Duration // Per request
	PageDelay      time.Duration // Minimum spacing between requests to one host
	MaxPages       int
}

// DefaultConfig returns conservative settings: 3 attempts, 10s timeout, 2s
// between pages, at most 3 pages per search.
func DefaultConfig() Config {
	return Config{
		ListingURLBase: "https://www.myauto.ge/ka/pr/",
		Policy:         retrypolicy.Default(),
		Timeout:        10 * time.Second,
		PageDelay:      2 * time.Second,
		MaxPages:       3,
	}
}

// Scraper fetches search pages. It is safe for concurrent use; requests to the
// same host share one limiter regardless of which search issued them.
type Scraper struct {
	client *http.Client
	logger *slog.Logger
	cfg    Config

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New creates a new scraper.
func New(client *http.Client, cfg Config, logger *slog.Logger) *Scraper {
	def := DefaultConfig()
	if cfg.ListingURLBase == "" {
		cfg.ListingURLBase = def.ListingURLBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Policy.Attempts == 0 {
		cfg.Policy = def.Policy
	}
	return &Scraper{
		client:   client,
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch returns the candidates for search in source order (newest first, as
// requested via SortOrder). Failure to fetch the first page is reported as a
// *listing.SearchUnavailableError; a failure on a later page, or more pages
// than MaxPages, returns what was gathered with Truncated set.
func (s *Scraper) Fetch(ctx context.Context, search listing.SearchConfig) (*listing.FetchResult, error) {
	result := &listing.FetchResult{}
	seen := make(map[string]bool)

	for pageNum := 1; ; pageNum++ {
		pageURL, err := BuildSearchURL(search, pageNum)
		if err != nil {
			return nil, &listing.SearchUnavailableError{Search: search.Name, Cause: err}
		}

		p, err := s.fetchPage(ctx, search.Name, pageURL)
		if err != nil {
			if pageNum == 1 {
				return nil, &listing.SearchUnavailableError{Search: search.Name, Cause: err}
			}
			s.logger.Warn("Later page failed, returning partial results",
				"search", search.Name,
				"page", pageNum,
				"candidates", len(result.Candidates),
				"error", err)
			result.Truncated = true
			break
		}
		result.Pages++

		added := 0
		for _, c := range p.candidates {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			result.Candidates = append(result.Candidates, c)
			added++
		}

		if !hasNextPage(p, pageNum, added) {
			break
		}
		if pageNum >= s.cfg.MaxPages {
			// With no page count, a non-empty page at the limit counts as truncation.
			s.logger.Warn("Search has more pages than configured maximum",
				"search", search.Name,
				"max_pages", s.cfg.MaxPages,
				"last_page", p.lastPage)
			result.Truncated = true
			break
		}
	}

	s.logger.Info("Search fetched",
		"search", search.Name,
		"pages", result.Pages,
		"candidates", len(result.Candidates),
		"truncated", result.Truncated)
	return result, nil
}

// hasNextPage reports whether another page should be requested. When the page
// carries no pagination hint the next page is tried until one comes back empty
// or repeats ids already collected.
func hasNextPage(p *page, pageNum, added int) bool {
	if len(p.candidates) == 0 {
		return false
	}
	if p.lastPage > 0 {
		return p.lastPage > pageNum
	}
	return added > 0
}

func (s *Scraper) fetchPage(ctx context.Context, searchName, pageURL string) (*page, error) {
	var p *page
	err := s.cfg.Policy.Do(ctx, s.logger, "fetch_search_page", func(ctx context.Context) error {
		var err error
		p, err = s.fetchOnce(ctx, searchName, pageURL)
		return err
	}, listing.IsRetryableFetch)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Scraper) fetchOnce(ctx context.Context, searchName, pageURL string) (*page, error) {
	if err := s.wait(ctx, pageURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	s.logger.Debug("HTTP request starting", "method", "GET", "url", pageURL, "search", searchName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req)

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("HTTP request failed",
			"url", pageURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		if isTimeout(err) {
			return nil, &listing.FetchTimeoutError{URL: pageURL, Err: err}
		}
		return nil, &listing.FetchHTTPError{URL: pageURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, &listing.FetchHTTPError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, &listing.FetchTimeoutError{URL: pageURL, Err: err}
		}
		return nil, &listing.FetchHTTPError{URL: pageURL, Err: err}
	}

	p, err := parsePage(body, resp.Header.Get("Content-Type"), searchName, pageURL, s.cfg.ListingURLBase)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return p, nil
}

// wait blocks until the host's limiter admits another request.
func (s *Scraper) wait(ctx context.Context, rawURL string) error {
	if s.cfg.PageDelay <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}

	s.limitersMu.Lock()
	limiter, ok := s.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.cfg.PageDelay), 1)
		s.limiters[u.Host] = limiter
	}
	s.limitersMu.Unlock()

	return limiter.Wait(ctx)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// setBrowserHeaders makes requests look like a regular Chrome visit.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	req.Header.Set("Accept-Language", "ka-GE,ka;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"macOS"`)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-site")
}
