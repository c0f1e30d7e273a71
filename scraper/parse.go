package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// page is one parsed search result page.
type page struct {
	candidates []listing.Candidate
	lastPage   int // 0 when the page gives no pagination hint
}

// searchResponse covers the JSON shapes the site's search API has used:
// {"data":{"items":[...],"meta":{"last_page":N}}} and a flat {"items":[...]}.
type searchResponse struct {
	Data *struct {
		Items []json.RawMessage `json:"items"`
		Meta  struct {
			LastPage int `json:"last_page"`
		} `json:"meta"`
	} `json:"data"`
	Items    []json.RawMessage `json:"items"`
	LastPage int               `json:"last_page"`
}

func parsePage(body []byte, contentType, searchName, pageURL, listingBase string) (*page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}
	if strings.Contains(contentType, "json") || trimmed[0] == '{' || trimmed[0] == '[' {
		return parseJSONPage(trimmed, searchName, listingBase)
	}
	return parseHTMLPage(trimmed, searchName, pageURL, listingBase)
}

func parseJSONPage(body []byte, searchName, listingBase string) (*page, error) {
	var items []json.RawMessage
	var lastPage int

	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	} else {
		var resp searchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}
		if resp.Data != nil {
			items = resp.Data.Items
			lastPage = resp.Data.Meta.LastPage
		} else {
			items = resp.Items
			lastPage = resp.LastPage
		}
	}

	p := &page{lastPage: lastPage}
	for _, item := range items {
		id := itemID(item)
		if id == "" {
			continue
		}
		p.candidates = append(p.candidates, listing.Candidate{
			ID:        id,
			Search:    searchName,
			SourceURL: listingBase + id,
			Raw:       item,
			Format:    listing.FormatJSON,
		})
	}
	return p, nil
}

// itemID reads the listing id without committing to a full schema.
func itemID(raw json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return ""
	}
	for _, key := range []string{"car_id", "id", "listing_id"} {
		switch v := obj[key].(type) {
		case json.Number:
			return v.String()
		case string:
			if v != "" {
				return v
			}
		}
	}
	return ""
}

func parseHTMLPage(body []byte, searchName, pageURL, listingBase string) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(pageURL)

	p := &page{lastPage: htmlLastPage(doc)}
	doc.Find("[data-listing-id]").Each(func(_ int, sel *goquery.Selection) {
		id := strings.TrimSpace(sel.AttrOr("data-listing-id", ""))
		if id == "" {
			return
		}
		raw, err := goquery.OuterHtml(sel)
		if err != nil {
			return
		}
		link := listingBase + id
		if href, ok := sel.Find("a[href]").First().Attr("href"); ok && base != nil {
			if u, err := base.Parse(href); err == nil {
				link = u.String()
			}
		}
		p.candidates = append(p.candidates, listing.Candidate{
			ID:        id,
			Search:    searchName,
			SourceURL: link,
			Raw:       []byte(raw),
			Format:    listing.FormatHTML,
		})
	})
	return p, nil
}

// htmlLastPage reads an explicit data-last-page marker, falling back to the
// highest numbered pagination link.
func htmlLastPage(doc *goquery.Document) int {
	if v, ok := doc.Find("[data-last-page]").First().Attr("data-last-page"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	last := 0
	doc.Find("[data-page]").Each(func(_ int, sel *goquery.Selection) {
		if n, err := strconv.Atoi(sel.AttrOr("data-page", "")); err == nil && n > last {
			last = n
		}
	})
	return last
}
