package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// maxMessageRunes is Telegram's limit for one message.
const maxMessageRunes = 4096

// coreFields always appear in a new-listing alert, in this order.
var coreFields = []struct {
	name  string
	label string
}{
	{listing.FieldMileage, "Mileage"},
	{listing.FieldFuelType, "Fuel"},
	{listing.FieldTransmission, "Transmission"},
	{listing.FieldLocation, "Location"},
	{listing.FieldPostedAt, "Posted"},
	{listing.FieldSellerName, "Seller"},
}

// shownByDefault are fields the alert already renders outside coreFields.
var shownByDefault = map[string]bool{
	listing.FieldID: true, listing.FieldURL: true, listing.FieldMake: true, listing.FieldModel: true,
	listing.FieldYear: true, listing.FieldPrice: true, listing.FieldCurrency: true,
}

func formatListing(rec *listing.Record, fields []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", escapeHTML(rec.Title()))
	fmt.Fprintf(&b, "Price: <b>%s</b>\n", escapeHTML(listing.FormatPrice(rec.Price, rec.Currency)))

	shown := make(map[string]bool, len(coreFields))
	for _, f := range coreFields {
		fmt.Fprintf(&b, "%s: %s\n", f.label, escapeHTML(rec.Field(f.name)))
		shown[f.name] = true
	}
	for _, name := range fields {
		if shown[name] || shownByDefault[name] || !listing.IsField(name) {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", fieldLabel(name), escapeHTML(rec.Field(name)))
		shown[name] = true
	}

	fmt.Fprintf(&b, "\n<a href=\"%s\">%s</a>", escapeHTML(rec.URL), escapeHTML(rec.URL))
	return b.String()
}

func batchSubject(search string, n int) string {
	return fmt.Sprintf("%d new listings: %s", n, search)
}

// formatBatch renders one line per listing. Lines that would push the message
// past the channel limit are replaced by a count of what was left out.
func formatBatch(search string, recs []*listing.Record, fields []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%d new listings for %q</b>\n\n", len(recs), escapeHTML(search))

	const reserve = 64 // room for the "and N more" footer
	for i, rec := range recs {
		line := batchLine(i+1, rec, fields)
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(line) > maxMessageRunes-reserve {
			fmt.Fprintf(&b, "… and %d more", len(recs)-i)
			return b.String()
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}

func batchLine(n int, rec *listing.Record, fields []string) string {
	parts := []string{
		listing.FormatPrice(rec.Price, rec.Currency),
		rec.Field(listing.FieldMileage),
		rec.Field(listing.FieldFuelType),
		rec.Field(listing.FieldTransmission),
		rec.Field(listing.FieldLocation),
		"posted " + rec.Field(listing.FieldPostedAt),
		rec.Field(listing.FieldSellerName),
	}
	for _, name := range fields {
		if shownByDefault[name] || isCore(name) || !listing.IsField(name) {
			continue
		}
		parts = append(parts, fieldLabel(name)+" "+rec.Field(name))
	}
	return fmt.Sprintf("%d. <a href=\"%s\">%s</a>\n%s\n\n",
		n, escapeHTML(rec.URL), escapeHTML(rec.Title()), escapeHTML(strings.Join(parts, " | ")))
}

func isCore(name string) bool {
	for _, f := range coreFields {
		if f.name == name {
			return true
		}
	}
	return false
}

func formatHeartbeat(s HeartbeatSummary) string {
	var b strings.Builder
	b.WriteString("<b>No new listings</b>\n")
	fmt.Fprintf(&b, "Searches checked: %d\n", s.Searches)
	fmt.Fprintf(&b, "Listings seen: %d (%d already known)\n", s.Candidates, s.Duplicates)
	if s.Errored > 0 {
		fmt.Fprintf(&b, "Searches failed: %d\n", s.Errored)
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	fmt.Fprintf(&b, "As of %s UTC", at.UTC().Format("2006-01-02 15:04"))
	return b.String()
}

func formatError(search, class string) string {
	return fmt.Sprintf("<b>Search %q failed this cycle</b>\nFailure: %s\nIt will be retried on the next run.",
		escapeHTML(search), escapeHTML(class))
}

// fieldLabel turns "engine_volume" into "Engine volume".
func fieldLabel(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
