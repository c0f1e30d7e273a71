package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

type searchFile struct {
	Searches []searchEntry `yaml:"searches"`
}

// searchEntry mirrors listing.SearchConfig with enabled optional.
type searchEntry struct {
	Enabled            *bool            `yaml:"enabled"`
	Name               string           `yaml:"name"`
	BaseURL            string           `yaml:"base_url"`
	Criteria           listing.Criteria `yaml:"criteria"`
	NotificationFields []string         `yaml:"notification_fields"`
}

var currencies = map[string]bool{"": true, "GEL": true, "USD": true, "EUR": true}

// LoadSearches reads and validates the saved searches at path.
func LoadSearches(path string) ([]listing.SearchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid("SEARCHES_FILE", fmt.Errorf("read %s: %w", path, err))
	}
	return ParseSearches(data)
}

// ParseSearches decodes a YAML document with a top-level "searches" list.
// Unknown keys are rejected so that typos do not silently widen a search.
func ParseSearches(data []byte) ([]listing.SearchConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f searchFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, invalid("searches", fmt.Errorf("parse: %w", err))
	}
	if len(f.Searches) == 0 {
		return nil, invalid("searches", errors.New("no searches configured"))
	}

	seen := make(map[string]bool, len(f.Searches))
	out := make([]listing.SearchConfig, 0, len(f.Searches))
	for i, e := range f.Searches {
		s := listing.SearchConfig{
			Name:               strings.TrimSpace(e.Name),
			BaseURL:            strings.TrimSpace(e.BaseURL),
			Criteria:           e.Criteria,
			NotificationFields: e.NotificationFields,
			Enabled:            e.Enabled == nil || *e.Enabled,
		}
		s.Criteria.Currency = strings.ToUpper(strings.TrimSpace(s.Criteria.Currency))

		if err := validateSearch(s); err != nil {
			return nil, invalid(fmt.Sprintf("searches[%d]", i), err)
		}
		if seen[s.Name] {
			return nil, invalid(fmt.Sprintf("searches[%d]", i), fmt.Errorf("duplicate name %q", s.Name))
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}

func validateSearch(s listing.SearchConfig) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: base_url must be an absolute http(s) URL, got %q", s.Name, s.BaseURL)
	}

	c := s.Criteria
	if c.YearFrom != 0 && c.YearTo != 0 && c.YearFrom > c.YearTo {
		return fmt.Errorf("%s: year_from %d is after year_to %d", s.Name, c.YearFrom, c.YearTo)
	}
	if c.PriceFrom < 0 || c.PriceTo < 0 {
		return fmt.Errorf("%s: prices cannot be negative", s.Name)
	}
	if c.PriceTo != 0 && c.PriceFrom > c.PriceTo {
		return fmt.Errorf("%s: price_from %d exceeds price_to %d", s.Name, c.PriceFrom, c.PriceTo)
	}
	if !currencies[c.Currency] {
		return fmt.Errorf("%s: currency must be GEL, USD or EUR, got %q", s.Name, c.Currency)
	}
	for _, f := range s.NotificationFields {
		if !listing.IsField(f) {
			return fmt.Errorf("%s: unknown notification field %q", s.Name, f)
		}
	}
	return nil
}
