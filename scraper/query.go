package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// currencyIDs are the site's numeric currency codes.
var currencyIDs = map[string]string{
	"USD": "1",
	"EUR": "2",
	"GEL": "3",
}

// BuildSearchURL renders a search's criteria as query parameters on top of its
// base URL. Parameters already present in the base URL are overridden only when
// the matching criterion is set.
func BuildSearchURL(search listing.SearchConfig, pageNum int) (string, error) {
	if search.BaseURL == "" {
		return "", errors.New("search has no base_url")
	}
	u, err := url.Parse(search.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base_url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("base_url %q is not absolute", search.BaseURL)
	}

	q := u.Query()
	c := search.Criteria
	setIf := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	setInt := func(key string, v int64) {
		if v > 0 {
			q.Set(key, strconv.FormatInt(v, 10))
		}
	}

	setIf("Mans", c.Make)
	setIf("Models", c.Model)
	setInt("ProdYearFrom", int64(c.YearFrom))
	setInt("ProdYearTo", int64(c.YearTo))
	setInt("PriceFrom", c.PriceFrom)
	setInt("PriceTo", c.PriceTo)
	if c.Currency != "" {
		if id, ok := currencyIDs[strings.ToUpper(c.Currency)]; ok {
			q.Set("CurrencyID", id)
		}
	}
	setIf("FuelTypes", c.FuelType)
	setIf("GearTypes", c.Transmission)
	if c.CustomsCleared != nil {
		if *c.CustomsCleared {
			q.Set("Customs", "1")
		} else {
			q.Set("Customs", "0")
		}
	}
	if q.Get("SortOrder") == "" {
		q.Set("SortOrder", "1") // newest first
	}
	if pageNum > 1 {
		q.Set("Page", strconv.Itoa(pageNum))
	} else {
		q.Del("Page")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}
