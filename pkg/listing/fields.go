package listing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Field names accepted in a search's notification_fields and by the extractor.
const (
	FieldID             = "listing_id"
	FieldURL            = "url"
	FieldMake           = "make"
	FieldModel          = "model"
	FieldPrice          = "price"
	FieldCurrency       = "currency"
	FieldYear           = "year"
	FieldMileage        = "mileage"
	FieldTransmission   = "transmission"
	FieldDriveType      = "drive_type"
	FieldEngineVolume   = "engine_volume"
	FieldEnginePower    = "engine_power"
	FieldCylinders      = "cylinders"
	FieldFuelType       = "fuel_type"
	FieldBodyType       = "body_type"
	FieldColor          = "color"
	FieldInteriorColor  = "interior_color"
	FieldSteeringWheel  = "steering_wheel"
	FieldVIN            = "vin"
	FieldOwnerCount     = "owner_count"
	FieldAccident       = "accident"
	FieldCustomsCleared = "customs_cleared"
	FieldLocation       = "location"
	FieldSellerName     = "seller_name"
	FieldSellerPhone    = "seller_phone"
	FieldSellerEmail    = "seller_email"
	FieldSellerLocation = "seller_location"
	FieldPostedAt       = "posted_at"
	FieldUpdatedAt      = "updated_at"
	FieldViewCount      = "view_count"
	FieldFavoriteCount  = "favorite_count"
)

// RequiredFields must be present for a listing to be accepted.
var RequiredFields = []string{FieldID, FieldMake, FieldModel, FieldPrice, FieldCurrency, FieldURL}

// AllFields lists every field name in display order.
var AllFields = []string{
	FieldID, FieldURL, FieldMake, FieldModel, FieldYear, FieldPrice, FieldCurrency,
	FieldMileage, FieldFuelType, FieldTransmission, FieldDriveType, FieldEngineVolume,
	FieldEnginePower, FieldCylinders, FieldBodyType, FieldColor, FieldInteriorColor,
	FieldSteeringWheel, FieldVIN, FieldOwnerCount, FieldAccident, FieldCustomsCleared,
	FieldLocation, FieldSellerName, FieldSellerPhone, FieldSellerEmail, FieldSellerLocation,
	FieldPostedAt, FieldUpdatedAt, FieldViewCount, FieldFavoriteCount,
}

var numbers = message.NewPrinter(language.English)

// FormatNumber renders n with thousand separators, e.g. 15500 -> "15,500".
func FormatNumber(n int64) string {
	return numbers.Sprintf("%d", n)
}

// FormatPrice renders price and currency together, e.g. "15,500 GEL".
func FormatPrice(price int64, currency string) string {
	return FormatNumber(price) + " " + currency
}

func formatInt(i Int, unit string) string {
	if !i.Known {
		return Unknown
	}
	s := FormatNumber(i.Value)
	if unit != "" {
		s += " " + unit
	}
	return s
}

var fieldFormatters = map[string]func(*Record) string{
	FieldID:             func(r *Record) string { return r.ID },
	FieldURL:            func(r *Record) string { return r.URL },
	FieldMake:           func(r *Record) string { return r.Make },
	FieldModel:          func(r *Record) string { return r.Model },
	FieldPrice:          func(r *Record) string { return FormatPrice(r.Price, r.Currency) },
	FieldCurrency:       func(r *Record) string { return r.Currency },
	FieldYear:           func(r *Record) string { return r.Year.String() },
	FieldMileage:        func(r *Record) string { return formatInt(r.Mileage, "km") },
	FieldTransmission:   func(r *Record) string { return r.Transmission.String() },
	FieldDriveType:      func(r *Record) string { return r.DriveType.String() },
	FieldEngineVolume:   func(r *Record) string { return formatInt(r.EngineVolume, "cm³") },
	FieldEnginePower:    func(r *Record) string { return formatInt(r.EnginePower, "hp") },
	FieldCylinders:      func(r *Record) string { return r.Cylinders.String() },
	FieldFuelType:       func(r *Record) string { return r.FuelType.String() },
	FieldBodyType:       func(r *Record) string { return r.BodyType.String() },
	FieldColor:          func(r *Record) string { return r.Color.String() },
	FieldInteriorColor:  func(r *Record) string { return r.InteriorColor.String() },
	FieldSteeringWheel:  func(r *Record) string { return r.SteeringWheel.String() },
	FieldVIN:            func(r *Record) string { return r.VIN.String() },
	FieldOwnerCount:     func(r *Record) string { return r.OwnerCount.String() },
	FieldAccident:       func(r *Record) string { return r.Accident.String() },
	FieldCustomsCleared: func(r *Record) string { return r.CustomsCleared.String() },
	FieldLocation:       func(r *Record) string { return r.Location.String() },
	FieldSellerName:     func(r *Record) string { return r.SellerName.String() },
	FieldSellerPhone:    func(r *Record) string { return r.SellerPhone.String() },
	FieldSellerEmail:    func(r *Record) string { return r.SellerEmail.String() },
	FieldSellerLocation: func(r *Record) string { return r.SellerLocation.String() },
	FieldPostedAt:       func(r *Record) string { return r.PostedAt.String() },
	FieldUpdatedAt:      func(r *Record) string { return r.SourceUpdated.String() },
	FieldViewCount:      func(r *Record) string { return r.ViewCount.String() },
	FieldFavoriteCount:  func(r *Record) string { return r.FavoriteCount.String() },
}

// IsField reports whether name is a known field name.
func IsField(name string) bool {
	_, ok := fieldFormatters[name]
	return ok
}

// Field renders the named field for display. Unknown names render as Unknown.
func (r *Record) Field(name string) string {
	f, ok := fieldFormatters[name]
	if !ok {
		return Unknown
	}
	return f(r)
}
