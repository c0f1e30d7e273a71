// Package listing contains the core domain types for the myauto.ge listing monitor.
package listing

import "time"

// Criteria narrows a saved search on the source site.
type Criteria struct {
	CustomsCleared *bool  `yaml:"customs_cleared" json:"customs_cleared,omitempty"`
	Make           string `yaml:"make" json:"make,omitempty"`
	Model          string `yaml:"model" json:"model,omitempty"`
	Currency       string `yaml:"currency" json:"currency,omitempty"`
	FuelType       string `yaml:"fuel_type" json:"fuel_type,omitempty"`
	Transmission   string `yaml:"transmission" json:"transmission,omitempty"`
	YearFrom       int    `yaml:"year_from" json:"year_from,omitempty"`
	YearTo         int    `yaml:"year_to" json:"year_to,omitempty"`
	PriceFrom      int64  `yaml:"price_from" json:"price_from,omitempty"`
	PriceTo        int64  `yaml:"price_to" json:"price_to,omitempty"`
}

// SearchConfig is one saved search. It is immutable for the duration of a cycle.
type SearchConfig struct {
	Name               string   `yaml:"name" json:"name"`
	BaseURL            string   `yaml:"base_url" json:"base_url"`
	Criteria           Criteria `yaml:"criteria" json:"criteria"`
	NotificationFields []string `yaml:"notification_fields" json:"notification_fields,omitempty"`
	Enabled            bool     `yaml:"enabled" json:"enabled"`
}

// Format identifies how a candidate's raw payload is encoded.
type Format int

const (
	FormatJSON Format = iota
	FormatHTML
)

func (f Format) String() string {
	if f == FormatHTML {
		return "html"
	}
	return "json"
}

// Candidate is a listing as freshly fetched, before classification.
type Candidate struct {
	ID        string
	Search    string
	SourceURL string // Direct listing URL when the search page exposes one
	Raw       []byte
	Format    Format
}

// FetchResult is what a fetch of one search returns.
type FetchResult struct {
	Candidates []Candidate
	Pages      int  // Pages fetched successfully
	Truncated  bool // More results existed than were fetched
}

// Record is the normalized, persisted representation of one listing.
// Optional fields carry an explicit unknown state; see Int, Text, Bool and Time.
type Record struct {
	CreatedAt      time.Time // First seen; never changes after the first insert
	PostedAt       Time
	SourceUpdated  Time
	ID             string
	URL            string
	SearchName     string
	Make           string
	Model          string
	Currency       string
	Transmission   Text
	DriveType      Text
	FuelType       Text
	BodyType       Text
	Color          Text
	InteriorColor  Text
	SteeringWheel  Text
	Location       Text
	SellerName     Text
	SellerPhone    Text
	SellerEmail    Text
	SellerLocation Text
	VIN            Text
	Price          int64
	Year           Int
	Mileage        Int
	EngineVolume   Int // cubic centimetres
	EnginePower    Int // horsepower
	Cylinders      Int
	OwnerCount     Int
	ViewCount      Int
	FavoriteCount  Int
	Accident       Bool
	CustomsCleared Bool
}

// Title returns "Make Model Year", omitting the year when unknown.
func (r *Record) Title() string {
	t := r.Make + " " + r.Model
	if r.Year.Known {
		t += " " + r.Year.String()
	}
	return t
}

// SeenEntry is one row of the deduplication ledger.
type SeenEntry struct {
	FirstSeen   time.Time `json:"first_seen"`
	LastChecked time.Time `json:"last_checked"`
	ListingID   string    `json:"listing_id"`
}

// NotificationKind classifies a delivery attempt.
type NotificationKind string

const (
	KindNewListing NotificationKind = "new_listing"
	KindBatch      NotificationKind = "batch"
	KindHeartbeat  NotificationKind = "heartbeat"
	KindError      NotificationKind = "error"
)

// NotificationLogEntry records one delivery attempt. Entries are append-only.
type NotificationLogEntry struct {
	SentAt     time.Time        `json:"sent_at"`
	ListingID  *string          `json:"listing_id,omitempty"` // nil for heartbeat and error kinds
	Kind       NotificationKind `json:"kind"`
	SearchName string           `json:"search_name,omitempty"`
	MessageID  string           `json:"message_id,omitempty"`
	Detail     string           `json:"detail,omitempty"`
	Success    bool             `json:"success"`
}
