// Package extract turns one raw listing (a JSON object or an HTML fragment)
// into a normalized listing.Record.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// Extractor is stateless apart from its clock, which bounds plausible years.
type Extractor struct {
	now func() time.Time
}

// New creates an extractor using the wall clock.
func New() *Extractor {
	return &Extractor{now: time.Now}
}

// source yields the raw string for a field, or false when it is absent.
type source interface {
	lookup(m *mapping) (string, bool)
}

// Extract parses c into a Record. fields limits which optional fields are
// populated; nil or empty means all. Required fields are always extracted and
// a *listing.MalformedListingError lists any that are missing.
func (e *Extractor) Extract(c listing.Candidate, fields []string) (*listing.Record, error) {
	var (
		src source
		err error
	)
	switch c.Format {
	case listing.FormatHTML:
		src, err = newHTMLSource(c.Raw)
	default:
		src, err = newJSONSource(c.Raw)
	}
	if err != nil {
		return nil, &listing.MalformedListingError{ListingID: c.ID, Missing: listing.RequiredFields}
	}

	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}

	rec := &listing.Record{SearchName: c.Search}
	st := &state{maxYear: e.now().Year() + 1}
	for i := range mappings {
		m := &mappings[i]
		if !m.required && len(want) > 0 && !want[m.field] {
			continue
		}
		raw, ok := src.lookup(m)
		if !ok {
			continue
		}
		m.set(rec, st, strings.TrimSpace(raw))
	}

	if rec.ID == "" {
		rec.ID = c.ID
	}
	if rec.Currency == "" && st.priceText != "" {
		if cur, ok := currencyFromText(st.priceText); ok {
			rec.Currency = cur
		}
	}
	rec.URL = resolveURL(rec.URL, c.SourceURL)

	if missing := missingRequired(rec, st); len(missing) > 0 {
		return nil, &listing.MalformedListingError{ListingID: rec.ID, Missing: missing}
	}
	return rec, nil
}

// state carries cross-field context while a record is assembled.
type state struct {
	priceText string
	hasPrice  bool
	maxYear   int
}

func missingRequired(r *listing.Record, st *state) []string {
	var missing []string
	if r.ID == "" {
		missing = append(missing, listing.FieldID)
	}
	if r.Make == "" {
		missing = append(missing, listing.FieldMake)
	}
	if r.Model == "" {
		missing = append(missing, listing.FieldModel)
	}
	if !st.hasPrice {
		missing = append(missing, listing.FieldPrice)
	}
	if r.Currency == "" {
		missing = append(missing, listing.FieldCurrency)
	}
	if r.URL == "" {
		missing = append(missing, listing.FieldURL)
	}
	return missing
}

func resolveURL(raw, base string) string {
	if raw == "" {
		return base
	}
	u, err := url.Parse(raw)
	if err != nil {
		return base
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ""
	}
	return b.ResolveReference(u).String()
}

type jsonSource struct {
	obj map[string]any
}

func newJSONSource(raw []byte) (*jsonSource, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &jsonSource{obj: obj}, nil
}

func (s *jsonSource) lookup(m *mapping) (string, bool) {
	for _, key := range m.keys {
		v, ok := s.path(key)
		if !ok {
			continue
		}
		if str, ok := scalarString(v); ok && str != "" {
			return str, true
		}
	}
	return "", false
}

// path resolves dotted keys such as "user.phone" through nested objects.
func (s *jsonSource) path(key string) (any, bool) {
	var cur any = s.obj
	for _, part := range strings.Split(key, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

type htmlSource struct {
	root *goquery.Selection
}

func newHTMLSource(raw []byte) (*htmlSource, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	root := doc.Find("[data-listing-id]").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	return &htmlSource{root: root}, nil
}

func (s *htmlSource) lookup(m *mapping) (string, bool) {
	if m.field == listing.FieldID {
		if id, ok := s.root.Attr("data-listing-id"); ok && strings.TrimSpace(id) != "" {
			return id, true
		}
	}
	for _, selector := range m.selectors {
		found := s.root.Find(selector).First()
		if found.Length() == 0 {
			continue
		}
		if v := selectionValue(found, m.attr); v != "" {
			return v, true
		}
	}
	return "", false
}

// selectionValue prefers an explicit attribute, then machine-readable
// content/datetime attributes, then the visible text.
func selectionValue(sel *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := sel.Attr(attr)
		return strings.TrimSpace(v)
	}
	for _, a := range []string{"content", "datetime", "value"} {
		if v, ok := sel.Attr(a); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}
