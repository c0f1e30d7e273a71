package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// argsRow replays recordArgs output through Scan, which catches any drift
// between the insert and select column orders.
type argsRow struct{ vals []any }

func (r argsRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		v := reflect.ValueOf(r.vals[i])
		if !v.Type().AssignableTo(target.Type()) {
			return errors.New("type mismatch at column " + columns[i])
		}
		target.Set(v)
	}
	return nil
}

func pradoRecord() *listing.Record {
	return &listing.Record{
		ID:             "456789012",
		URL:            "https://www.myauto.ge/ka/pr/456789012",
		SearchName:     "prado",
		Make:           "Toyota",
		Model:          "Land Cruiser Prado",
		Price:          15500,
		Currency:       "GEL",
		Year:           listing.KnownInt(2003),
		Mileage:        listing.KnownInt(250000),
		FuelType:       listing.KnownText("Petrol"),
		CustomsCleared: listing.KnownBool(true),
		PostedAt:       listing.KnownTime(time.Date(2025, 5, 30, 12, 0, 0, 0, time.UTC)),
		CreatedAt:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRecordArgsScanRoundTrip(t *testing.T) {
	in := pradoRecord()
	if got, want := len(recordArgs(in)), len(columns); got != want {
		t.Fatalf("recordArgs has %d values for %d columns", got, want)
	}

	out, err := scanRecord(argsRow{vals: recordArgs(in)})
	if err != nil {
		t.Fatalf("scanRecord: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
	if out.Transmission.Known || out.Accident.Known {
		t.Error("unknown fields must stay unknown")
	}
}

func TestUpsertSQLPreservesIdentity(t *testing.T) {
	for _, c := range []string{"listing_id", "search_name", "created_at"} {
		if strings.Contains(upsertSQL, c+" = EXCLUDED."+c) {
			t.Errorf("upsert overwrites immutable column %s", c)
		}
	}
	for _, want := range []string{"ON CONFLICT (listing_id) DO UPDATE", "view_count = EXCLUDED.view_count", "IS DISTINCT FROM", "$34"} {
		if !strings.Contains(upsertSQL, want) {
			t.Errorf("upsert SQL missing %q", want)
		}
	}
}

func TestBuildQuery(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    Filter
		limit     int
		wantWhere string
		wantArgs  []any
	}{
		{
			name:     "no filters",
			limit:    0,
			wantArgs: []any{defaultLimit},
		},
		{
			name:      "all filters",
			filter:    Filter{Make: "Toyota", PriceFrom: 10000, PriceTo: 20000, YearFrom: 2000, YearTo: 2005, CreatedWithin: 7 * 24 * time.Hour},
			limit:     10,
			wantWhere: "WHERE lower(make) = lower($1) AND price >= $2 AND price <= $3 AND year >= $4 AND year <= $5 AND created_at >= $6",
			wantArgs:  []any{"Toyota", int64(10000), int64(20000), int64(2000), int64(2005), now.Add(-7 * 24 * time.Hour), 10},
		},
		{
			name:      "limit capped",
			filter:    Filter{PriceTo: 5000},
			limit:     10000,
			wantWhere: "WHERE price <= $1",
			wantArgs:  []any{int64(5000), maxLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildQuery(tt.filter, tt.limit, now)
			if tt.wantWhere != "" && !strings.Contains(sql, tt.wantWhere) {
				t.Errorf("sql = %s\nwant where %s", sql, tt.wantWhere)
			}
			if tt.wantWhere == "" && strings.Contains(sql, "WHERE") {
				t.Errorf("unexpected WHERE in %s", sql)
			}
			if !strings.Contains(sql, "ORDER BY created_at DESC") {
				t.Errorf("missing ordering: %s", sql)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func integrationStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s, pool
}

func TestPostgresUpsertPreservesCreatedAt(t *testing.T) {
	s, pool := integrationStore(t)
	ctx := context.Background()

	rec := pradoRecord()
	rec.ID = "test-" + uuid.NewString()
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM listings WHERE listing_id = $1`, rec.ID) })

	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Same content twice is a no-op.
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("repeat Upsert: %v", err)
	}

	refreshed := *rec
	refreshed.CreatedAt = time.Now()
	refreshed.SearchName = "other"
	refreshed.ViewCount = listing.KnownInt(99)
	if err := s.Upsert(ctx, &refreshed); err != nil {
		t.Fatalf("refresh Upsert: %v", err)
	}

	got, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
	if got.SearchName != "prado" {
		t.Errorf("search_name = %q, want prado", got.SearchName)
	}
	if got.ViewCount != listing.KnownInt(99) {
		t.Errorf("view_count = %v, want 99", got.ViewCount)
	}

	if _, err := s.GetByID(ctx, "missing-"+uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresNotificationLog(t *testing.T) {
	s, pool := integrationStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM notification_log WHERE listing_id = $1`, id) })

	for _, ok := range []bool{false, true} {
		if err := s.LogNotification(ctx, &listing.NotificationLogEntry{
			ListingID: &id, Kind: listing.KindNewListing, Success: ok, SearchName: "prado",
		}); err != nil {
			t.Fatalf("LogNotification: %v", err)
		}
	}
	entries, err := s.NotificationsFor(ctx, id)
	if err != nil {
		t.Fatalf("NotificationsFor: %v", err)
	}
	if len(entries) != 2 || entries[0].Success || !entries[1].Success {
		t.Errorf("entries = %+v", entries)
	}
}
