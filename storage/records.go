package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Giorgamose/myauto-scraper-sub002/pkg/listing"
)

// columns lists the listings table in the order recordArgs and scanRecord use.
var columns = []string{
	"listing_id", "url", "search_name", "make", "model", "price", "currency",
	"year", "mileage", "transmission", "drive_type", "engine_volume", "engine_power",
	"cylinders", "fuel_type", "body_type", "color", "interior_color", "steering_wheel",
	"vin", "owner_count", "accident", "customs_cleared", "location",
	"seller_name", "seller_phone", "seller_email", "seller_location",
	"posted_at", "source_updated_at", "view_count", "favorite_count", "created_at",
}

// immutable columns are written once, on first insert.
var immutable = map[string]bool{"listing_id": true, "search_name": true, "created_at": true}

var (
	selectSQL = "SELECT " + strings.Join(columns, ", ") + " FROM listings"
	upsertSQL = buildUpsertSQL()
)

func buildUpsertSQL() string {
	insertCols := append(append([]string{}, columns...), "updated_at")
	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var sets, current, incoming []string
	for _, c := range columns {
		if immutable[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		current = append(current, "listings."+c)
		incoming = append(incoming, "EXCLUDED."+c)
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at")

	return fmt.Sprintf(
		"INSERT INTO listings (%s) VALUES (%s) ON CONFLICT (listing_id) DO UPDATE SET %s WHERE (%s) IS DISTINCT FROM (%s)",
		strings.Join(insertCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ", "),
		strings.Join(current, ", "),
		strings.Join(incoming, ", "),
	)
}

func recordArgs(r *listing.Record) []any {
	return []any{
		r.ID, r.URL, r.SearchName, r.Make, r.Model, r.Price, r.Currency,
		r.Year.Ptr(), r.Mileage.Ptr(), r.Transmission.Ptr(), r.DriveType.Ptr(), r.EngineVolume.Ptr(), r.EnginePower.Ptr(),
		r.Cylinders.Ptr(), r.FuelType.Ptr(), r.BodyType.Ptr(), r.Color.Ptr(), r.InteriorColor.Ptr(), r.SteeringWheel.Ptr(),
		r.VIN.Ptr(), r.OwnerCount.Ptr(), r.Accident.Ptr(), r.CustomsCleared.Ptr(), r.Location.Ptr(),
		r.SellerName.Ptr(), r.SellerPhone.Ptr(), r.SellerEmail.Ptr(), r.SellerLocation.Ptr(),
		r.PostedAt.Ptr(), r.SourceUpdated.Ptr(), r.ViewCount.Ptr(), r.FavoriteCount.Ptr(), r.CreatedAt.UTC(),
	}
}

func scanRecord(row pgx.Row) (*listing.Record, error) {
	var (
		r listing.Record

		year, mileage, engineVolume, enginePower, cylinders, ownerCount, views, favorites *int64

		transmission, driveType, fuelType, bodyType, color, interiorColor, steering, vin *string
		location, sellerName, sellerPhone, sellerEmail, sellerLocation                   *string

		accident, customs *bool
		posted, updated   *time.Time
	)
	err := row.Scan(
		&r.ID, &r.URL, &r.SearchName, &r.Make, &r.Model, &r.Price, &r.Currency,
		&year, &mileage, &transmission, &driveType, &engineVolume, &enginePower,
		&cylinders, &fuelType, &bodyType, &color, &interiorColor, &steering,
		&vin, &ownerCount, &accident, &customs, &location,
		&sellerName, &sellerPhone, &sellerEmail, &sellerLocation,
		&posted, &updated, &views, &favorites, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Year = listing.IntFrom(year)
	r.Mileage = listing.IntFrom(mileage)
	r.EngineVolume = listing.IntFrom(engineVolume)
	r.EnginePower = listing.IntFrom(enginePower)
	r.Cylinders = listing.IntFrom(cylinders)
	r.OwnerCount = listing.IntFrom(ownerCount)
	r.ViewCount = listing.IntFrom(views)
	r.FavoriteCount = listing.IntFrom(favorites)

	r.Transmission = listing.TextFrom(transmission)
	r.DriveType = listing.TextFrom(driveType)
	r.FuelType = listing.TextFrom(fuelType)
	r.BodyType = listing.TextFrom(bodyType)
	r.Color = listing.TextFrom(color)
	r.InteriorColor = listing.TextFrom(interiorColor)
	r.SteeringWheel = listing.TextFrom(steering)
	r.VIN = listing.TextFrom(vin)
	r.Location = listing.TextFrom(location)
	r.SellerName = listing.TextFrom(sellerName)
	r.SellerPhone = listing.TextFrom(sellerPhone)
	r.SellerEmail = listing.TextFrom(sellerEmail)
	r.SellerLocation = listing.TextFrom(sellerLocation)

	r.Accident = listing.BoolFrom(accident)
	r.CustomsCleared = listing.BoolFrom(customs)
	r.PostedAt = listing.TimeFrom(posted)
	r.SourceUpdated = listing.TimeFrom(updated)
	return &r, nil
}
