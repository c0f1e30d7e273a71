package extract

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseDecimal pulls a number out of locale-formatted text such as "15,500",
// "15 500 ₾", "250 000 km" or "1.5 L". Commas, spaces (including NBSP) and
// dots used as thousand separators are dropped; a single separator followed
// by anything but exactly three digits is taken as the decimal point.
func ParseDecimal(s string) (float64, bool) {
	var b strings.Builder
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case (r == ',' || r == '.') && seenDigit:
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '\'':
			// grouping
		default:
			if seenDigit {
				// Stop at the first suffix so "1.5 L 4 cyl" reads as 1.5.
				return parseCleaned(b.String())
			}
		}
	}
	if !seenDigit {
		return 0, false
	}
	return parseCleaned(b.String())
}

func parseCleaned(s string) (float64, bool) {
	s = strings.TrimRight(s, ",.")
	if s == "" {
		return 0, false
	}

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Both present: the later one is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingle(s, ',')
	case lastDot >= 0:
		s = normalizeSingle(s, '.')
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeSingle resolves a string containing only one kind of separator.
func normalizeSingle(s string, sep byte) string {
	sepStr := string(sep)
	if strings.Count(s, sepStr) > 1 {
		return strings.ReplaceAll(s, sepStr, "")
	}
	i := strings.IndexByte(s, sep)
	if len(s)-i-1 == 3 {
		return strings.ReplaceAll(s, sepStr, "")
	}
	return strings.Replace(s, sepStr, ".", 1)
}

// ParseInt is ParseDecimal truncated toward zero.
func ParseInt(s string) (int64, bool) {
	f, ok := ParseDecimal(s)
	if !ok || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// parseEngineVolume accepts litres ("1.5", "2.0 L") or cubic centimetres ("1500").
func parseEngineVolume(s string) (int64, bool) {
	f, ok := ParseDecimal(s)
	if !ok || f <= 0 {
		return 0, false
	}
	if f < 20 {
		return int64(math.Round(f * 1000)), true
	}
	return int64(f), true
}

var (
	trueWords  = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "კი": true, "cleared": true, "customs cleared": true, "განბაჟებული": true}
	falseWords = map[string]bool{"false": true, "0": true, "no": true, "n": true, "არა": true, "not cleared": true, "განუბაჟებელი": true}
)

func parseBool(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case trueWords[s]:
		return true, true
	case falseWords[s]:
		return false, true
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

var currencyAliases = map[string]string{
	"gel":  "GEL",
	"₾":    "GEL",
	"ლარი": "GEL",
	"lari": "GEL",
	"usd":  "USD",
	"$":    "USD",
	"eur":  "EUR",
	"€":    "EUR",
	// currency_id values used by the site's JSON API
	"1": "USD",
	"2": "EUR",
	"3": "GEL",
}

// normalizeCurrency maps a code, symbol or numeric id to an ISO code.
func normalizeCurrency(s string) (string, bool) {
	c, ok := currencyAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// currencyFromText finds a currency symbol or code embedded in a price string.
func currencyFromText(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, alias := range []string{"₾", "gel", "ლარი", "$", "usd", "€", "eur"} {
		if strings.Contains(lower, alias) {
			return currencyAliases[alias], true
		}
	}
	return "", false
}
