package extract

import (
	"strings"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// mapping ties one target field to where it can be found in each format.
// JSON keys and CSS selectors are tried in order; the first non-empty wins.
type mapping struct {
	set       func(r *listing.Record, st *state, raw string)
	field     string
	attr      string // HTML attribute to read instead of text
	keys      []string
	selectors []string
	required  bool
}

func sel(name string, extra ...string) []string {
	return append([]string{`[data-field="` + name + `"]`}, extra...)
}

var mappings = []mapping{
	{
		field: listing.FieldID, required: true,
		keys:      []string{"car_id", "id", "listing_id", "product_id"},
		selectors: sel("listing_id"),
		set:       func(r *listing.Record, _ *state, v string) { r.ID = v },
	},
	{
		field: listing.FieldMake, required: true,
		keys:      []string{"make", "man_name", "manufacturer", "brand"},
		selectors: sel("make", `[itemprop="brand"]`, ".car-make"),
		set:       func(r *listing.Record, _ *state, v string) { r.Make = v },
	},
	{
		field: listing.FieldModel, required: true,
		keys:      []string{"model", "model_name"},
		selectors: sel("model", `[itemprop="model"]`, ".car-model"),
		set:       func(r *listing.Record, _ *state, v string) { r.Model = v },
	},
	{
		field: listing.FieldPrice, required: true,
		keys:      []string{"price", "price_value", "price_gel"},
		selectors: sel("price", `[itemprop="price"]`, ".car-price"),
		set: func(r *listing.Record, st *state, v string) {
			if n, ok := ParseInt(v); ok && n > 0 {
				r.Price = n
				st.hasPrice = true
				st.priceText = v
			}
		},
	},
	{
		field: listing.FieldCurrency, required: true,
		keys:      []string{"currency", "currency_code", "currency_id"},
		selectors: sel("currency", `[itemprop="priceCurrency"]`),
		set: func(r *listing.Record, _ *state, v string) {
			if c, ok := normalizeCurrency(v); ok {
				r.Currency = c
			} else if len(v) == 3 {
				r.Currency = strings.ToUpper(v)
			}
		},
	},
	{
		field: listing.FieldURL, required: true,
		keys:      []string{"url", "link", "permalink"},
		selectors: sel("url", `a[href*="/pr/"]`),
		attr:      "href",
		set:       func(r *listing.Record, _ *state, v string) { r.URL = v },
	},
	{
		field:     listing.FieldYear,
		keys:      []string{"prod_year", "year", "production_year"},
		selectors: sel("year", `[itemprop="productionDate"]`, ".car-year"),
		set: func(r *listing.Record, st *state, v string) {
			n, ok := ParseInt(v)
			if ok && n >= 1900 && n <= int64(st.maxYear) {
				r.Year = listing.KnownInt(n)
			}
		},
	},
	intField(listing.FieldMileage, func(r *listing.Record) *listing.Int { return &r.Mileage },
		[]string{"car_run_km", "mileage", "car_run"}, `[itemprop="mileageFromOdometer"]`),
	{
		field:     listing.FieldEngineVolume,
		keys:      []string{"engine_volume", "engine"},
		selectors: sel("engine_volume"),
		set: func(r *listing.Record, _ *state, v string) {
			if n, ok := parseEngineVolume(v); ok {
				r.EngineVolume = listing.KnownInt(n)
			}
		},
	},
	intField(listing.FieldEnginePower, func(r *listing.Record) *listing.Int { return &r.EnginePower },
		[]string{"engine_power", "horse_power", "hp"}),
	intField(listing.FieldCylinders, func(r *listing.Record) *listing.Int { return &r.Cylinders },
		[]string{"cylinders"}),
	intField(listing.FieldOwnerCount, func(r *listing.Record) *listing.Int { return &r.OwnerCount },
		[]string{"owner_count", "owners"}),
	intField(listing.FieldViewCount, func(r *listing.Record) *listing.Int { return &r.ViewCount },
		[]string{"views", "view_count"}),
	intField(listing.FieldFavoriteCount, func(r *listing.Record) *listing.Int { return &r.FavoriteCount },
		[]string{"favorites", "favorite_count", "likes"}),

	textField(listing.FieldTransmission, func(r *listing.Record) *listing.Text { return &r.Transmission },
		[]string{"transmission", "gear_type", "gear_type_name"}),
	textField(listing.FieldDriveType, func(r *listing.Record) *listing.Text { return &r.DriveType },
		[]string{"drive_type", "drive_type_name"}),
	textField(listing.FieldFuelType, func(r *listing.Record) *listing.Text { return &r.FuelType },
		[]string{"fuel_type", "fuel_type_name"}, `[itemprop="fuelType"]`),
	textField(listing.FieldBodyType, func(r *listing.Record) *listing.Text { return &r.BodyType },
		[]string{"body_type", "category_name"}, `[itemprop="bodyType"]`),
	textField(listing.FieldColor, func(r *listing.Record) *listing.Text { return &r.Color },
		[]string{"color", "color_name"}, `[itemprop="color"]`),
	textField(listing.FieldInteriorColor, func(r *listing.Record) *listing.Text { return &r.InteriorColor },
		[]string{"interior_color", "saloon_color"}),
	textField(listing.FieldSteeringWheel, func(r *listing.Record) *listing.Text { return &r.SteeringWheel },
		[]string{"steering_wheel", "wheel"}),
	textField(listing.FieldVIN, func(r *listing.Record) *listing.Text { return &r.VIN },
		[]string{"vin"}, `[itemprop="vehicleIdentificationNumber"]`),
	textField(listing.FieldLocation, func(r *listing.Record) *listing.Text { return &r.Location },
		[]string{"location", "location_name", "city"}),
	textField(listing.FieldSellerName, func(r *listing.Record) *listing.Text { return &r.SellerName },
		[]string{"seller_name", "client_name", "user.name", "seller.name"}),
	textField(listing.FieldSellerPhone, func(r *listing.Record) *listing.Text { return &r.SellerPhone },
		[]string{"seller_phone", "client_phone", "user.phone", "seller.phone"}),
	textField(listing.FieldSellerEmail, func(r *listing.Record) *listing.Text { return &r.SellerEmail },
		[]string{"seller_email", "user.email", "seller.email"}),
	textField(listing.FieldSellerLocation, func(r *listing.Record) *listing.Text { return &r.SellerLocation },
		[]string{"seller_location", "user.location", "seller.location"}),

	boolField(listing.FieldAccident, func(r *listing.Record) *listing.Bool { return &r.Accident },
		[]string{"accident", "had_accident"}),
	boolField(listing.FieldCustomsCleared, func(r *listing.Record) *listing.Bool { return &r.CustomsCleared },
		[]string{"customs_passed", "customs_cleared", "customs"}),

	timeField(listing.FieldPostedAt, func(r *listing.Record) *listing.Time { return &r.PostedAt },
		[]string{"order_date", "posted_at", "created_at"}, `[itemprop="datePosted"]`),
	timeField(listing.FieldUpdatedAt, func(r *listing.Record) *listing.Time { return &r.SourceUpdated },
		[]string{"updated_at", "update_date", "last_updated"}),
}

func intField(name string, target func(*listing.Record) *listing.Int, keys []string, selectors ...string) mapping {
	return mapping{
		field: name, keys: keys, selectors: sel(name, selectors...),
		set: func(r *listing.Record, _ *state, v string) {
			if n, ok := ParseInt(v); ok {
				*target(r) = listing.KnownInt(n)
			}
		},
	}
}

func textField(name string, target func(*listing.Record) *listing.Text, keys []string, selectors ...string) mapping {
	return mapping{
		field: name, keys: keys, selectors: sel(name, selectors...),
		set: func(r *listing.Record, _ *state, v string) {
			*target(r) = listing.KnownText(v)
		},
	}
}

func boolField(name string, target func(*listing.Record) *listing.Bool, keys []string, selectors ...string) mapping {
	return mapping{
		field: name, keys: keys, selectors: sel(name, selectors...),
		set: func(r *listing.Record, _ *state, v string) {
			if b, ok := parseBool(v); ok {
				*target(r) = listing.KnownBool(b)
			}
		},
	}
}

func timeField(name string, target func(*listing.Record) *listing.Time, keys []string, selectors ...string) mapping {
	return mapping{
		field: name, keys: keys, selectors: sel(name, selectors...),
		set: func(r *listing.Record, _ *state, v string) {
			if t, ok := parseTime(v); ok {
				*target(r) = listing.KnownTime(t)
			}
		},
	}
}
