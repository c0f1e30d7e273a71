package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jarcoal/httpmock"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
	"github.com/Giorgamose/myauto-scraper-sub002/pkg/retrypolicy"
)

const sendURL = "https://api.telegram.org/botTEST-TOKEN/sendMessage"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retrypolicy.Policy {
	return retrypolicy.Policy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func prado() *listing.Record {
	return &listing.Record{
		ID:           "456789012",
		URL:          "https://www.myauto.ge/ka/pr/456789012",
		Make:         "Toyota",
		Model:        "Land Cruiser Prado",
		Year:         listing.KnownInt(2003),
		Price:        15500,
		Currency:     "GEL",
		Mileage:      listing.KnownInt(250000),
		FuelType:     listing.KnownText("Petrol"),
		Transmission: listing.KnownText("Automatic"),
		Location:     listing.KnownText("Tbilisi"),
		PostedAt:     listing.KnownTime(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)),
		SellerName:   listing.KnownText("Giorgi"),
		VIN:          listing.KnownText("JTEBU29J705012345"),
	}
}

// telegramStub answers sendMessage with the given statuses in order, then 200.
func telegramStub(statuses ...int) (*http.Client, *[]string, *int) {
	var texts []string
	calls := 0
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, sendURL, func(req *http.Request) (*http.Response, error) {
		calls++
		var body telegramSendRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"ok":false}`), nil
		}
		texts = append(texts, body.Text)
		if calls <= len(statuses) {
			code := statuses[calls-1]
			return httpmock.NewStringResponse(code,
				fmt.Sprintf(`{"ok":false,"error_code":%d,"description":"Bad Request: chat not found"}`, code)), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, fmt.Sprintf(`{"ok":true,"result":{"message_id":%d}}`, 100+calls)), nil
	})
	return &http.Client{Transport: transport}, &texts, &calls
}

func newTelegramNotifier(client *http.Client) *Notifier {
	p := NewTelegramProvider(client, "", "TEST-TOKEN", "-100123", testLogger())
	return New(p, fastPolicy(), testLogger())
}

func TestNotifyNewListingContent(t *testing.T) {
	client, texts, _ := telegramStub()
	n := newTelegramNotifier(client)

	res, err := n.NotifyNewListing(context.Background(), prado(), []string{listing.FieldVIN, listing.FieldPrice, "bogus"})
	if err != nil {
		t.Fatalf("NotifyNewListing: %v", err)
	}
	if !res.Success || res.MessageID != "101" {
		t.Errorf("result = %+v", res)
	}

	text := (*texts)[0]
	for _, want := range []string{
		"Toyota Land Cruiser Prado 2003",
		"15,500 GEL",
		"Mileage: 250,000 km",
		"Fuel: Petrol",
		"Transmission: Automatic",
		"Location: Tbilisi",
		"Posted: 2025-05-30",
		"Seller: Giorgi",
		"Vin: JTEBU29J705012345",
		"https://www.myauto.ge/ka/pr/456789012",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "15,500 GEL") != 1 {
		t.Error("price repeated by notification_fields")
	}
	if strings.Contains(text, "bogus") {
		t.Error("unknown field name rendered")
	}
}

func TestNotifyUnknownFieldsRenderUnknown(t *testing.T) {
	client, texts, _ := telegramStub()
	n := newTelegramNotifier(client)

	rec := &listing.Record{ID: "1", URL: "https://x/1", Make: "Opel", Model: "Astra", Price: 100, Currency: "USD"}
	if _, err := n.NotifyNewListing(context.Background(), rec, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains((*texts)[0], "Mileage: unknown") {
		t.Errorf("unknown mileage not shown:\n%s", (*texts)[0])
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	client, _, calls := telegramStub(http.StatusBadGateway, http.StatusTooManyRequests)
	n := newTelegramNotifier(client)

	res, err := n.NotifyNewListing(context.Background(), prado(), nil)
	if err != nil {
		t.Fatalf("NotifyNewListing: %v", err)
	}
	if !res.Success || *calls != 3 {
		t.Errorf("success=%v calls=%d, want true 3", res.Success, *calls)
	}
}

func TestNotifyPermanentFailureNotRetried(t *testing.T) {
	client, _, calls := telegramStub(http.StatusBadRequest, http.StatusBadRequest, http.StatusBadRequest)
	n := newTelegramNotifier(client)

	res, err := n.NotifyNewListing(context.Background(), prado(), nil)
	if res.Success {
		t.Error("want failure")
	}
	var delivery *listing.NotificationDeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("err = %v, want NotificationDeliveryError", err)
	}
	if delivery.ListingID != "456789012" || delivery.Kind != listing.KindNewListing {
		t.Errorf("delivery error = %+v", delivery)
	}
	if !IsPermanent(err) {
		t.Error("want permanent cause")
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestNotifyExhaustsRetries(t *testing.T) {
	client, _, calls := telegramStub(500, 500, 500, 500)
	n := newTelegramNotifier(client)

	res, err := n.NotifyHeartbeat(context.Background(), HeartbeatSummary{Searches: 2})
	if res.Success || err == nil {
		t.Fatal("want failure")
	}
	if *calls != 3 {
		t.Errorf("calls = %d, want 3", *calls)
	}
}

func TestNotifyErrorHasNoRawText(t *testing.T) {
	mock := NewMockProvider(testLogger())
	n := New(mock, fastPolicy(), testLogger())

	class := listing.FailureClass(&listing.SearchUnavailableError{Search: "prado", Cause: errors.New("dial tcp 10.1.2.3:443: i/o timeout")})
	if _, err := n.NotifyError(context.Background(), "prado", class); err != nil {
		t.Fatal(err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages", len(sent))
	}
	if !strings.Contains(sent[0].Text, "search_unavailable") || !strings.Contains(sent[0].Text, "prado") {
		t.Errorf("error message = %s", sent[0].Text)
	}
	if strings.Contains(sent[0].Text, "10.1.2.3") {
		t.Error("raw error text leaked into notification")
	}
}

func TestNotifyBatch(t *testing.T) {
	mock := NewMockProvider(testLogger())
	n := New(mock, fastPolicy(), testLogger())

	recs := make([]*listing.Record, 0, 6)
	for i := range 6 {
		r := prado()
		r.ID = fmt.Sprint(i)
		r.URL = fmt.Sprintf("https://www.myauto.ge/ka/pr/%d", i)
		recs = append(recs, r)
	}
	res, err := n.NotifyBatch(context.Background(), "prado", recs, nil)
	if err != nil || !res.Success {
		t.Fatalf("NotifyBatch = %+v, %v", res, err)
	}
	text := mock.Sent()[0].Text
	if !strings.Contains(text, "6 new listings") {
		t.Errorf("batch header missing:\n%s", text)
	}
	first := strings.Index(text, "/pr/0")
	last := strings.Index(text, "/pr/5")
	if first < 0 || last < first {
		t.Error("batch must keep fetch order")
	}
}

func TestNotifyBatchStaysUnderLimit(t *testing.T) {
	recs := make([]*listing.Record, 0, 200)
	for i := range 200 {
		r := prado()
		r.URL = fmt.Sprintf("https://www.myauto.ge/ka/pr/%d", i)
		recs = append(recs, r)
	}
	text := formatBatch("prado", recs, nil)
	if n := utf8.RuneCountInString(text); n > maxMessageRunes {
		t.Errorf("batch is %d runes", n)
	}
	if !strings.Contains(text, "more") {
		t.Error("truncated batch must say how many were left out")
	}
}

func TestTelegramTokenRedacted(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.NewErrorResponder(errors.New("dial failed")))
	p := NewTelegramProvider(&http.Client{Transport: transport}, "", "SECRET-TOKEN", "1", testLogger())

	_, err := p.Send(context.Background(), Message{Text: "hi"})
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Errorf("token leaked: %v", err)
	}
}

func TestSanitizeEmailHeader(t *testing.T) {
	if got := sanitizeEmailHeader("New listing\r\nBcc: evil@example.com"); strings.ContainsAny(got, "\r\n") {
		t.Errorf("header injection survived: %q", got)
	}
}
