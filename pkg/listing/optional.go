package listing

import (
	"strconv"
	"time"
)

// Unknown is how an optional field that was not scraped is rendered.
const Unknown = "unknown"

// Int is an optional integer field.
type Int struct {
	Value int64
	Known bool
}

// KnownInt wraps v as a known value.
func KnownInt(v int64) Int { return Int{Value: v, Known: true} }

// IntFrom converts a nullable column value.
func IntFrom(p *int64) Int {
	if p == nil {
		return Int{}
	}
	return KnownInt(*p)
}

// Ptr returns nil when the value is unknown, for nullable columns.
func (i Int) Ptr() *int64 {
	if !i.Known {
		return nil
	}
	v := i.Value
	return &v
}

func (i Int) String() string {
	if !i.Known {
		return Unknown
	}
	return strconv.FormatInt(i.Value, 10)
}

// Text is an optional string field. An empty scraped string is still unknown.
type Text struct {
	Value string
	Known bool
}

// KnownText wraps s; empty strings stay unknown.
func KnownText(s string) Text {
	if s == "" {
		return Text{}
	}
	return Text{Value: s, Known: true}
}

// TextFrom converts a nullable column value.
func TextFrom(p *string) Text {
	if p == nil {
		return Text{}
	}
	return KnownText(*p)
}

// Ptr returns nil when the value is unknown.
func (t Text) Ptr() *string {
	if !t.Known {
		return nil
	}
	v := t.Value
	return &v
}

func (t Text) String() string {
	if !t.Known {
		return Unknown
	}
	return t.Value
}

// Bool is an optional flag.
type Bool struct {
	Value bool
	Known bool
}

// KnownBool wraps b as a known value.
func KnownBool(b bool) Bool { return Bool{Value: b, Known: true} }

// BoolFrom converts a nullable column value.
func BoolFrom(p *bool) Bool {
	if p == nil {
		return Bool{}
	}
	return KnownBool(*p)
}

// Ptr returns nil when the value is unknown.
func (b Bool) Ptr() *bool {
	if !b.Known {
		return nil
	}
	v := b.Value
	return &v
}

func (b Bool) String() string {
	switch {
	case !b.Known:
		return Unknown
	case b.Value:
		return "yes"
	default:
		return "no"
	}
}

// Time is an optional timestamp.
type Time struct {
	Value time.Time
	Known bool
}

// KnownTime wraps t; the zero time stays unknown.
func KnownTime(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{Value: t, Known: true}
}

// TimeFrom converts a nullable column value.
func TimeFrom(p *time.Time) Time {
	if p == nil {
		return Time{}
	}
	return KnownTime(*p)
}

// Ptr returns nil when the value is unknown.
func (t Time) Ptr() *time.Time {
	if !t.Known {
		return nil
	}
	v := t.Value
	return &v
}

func (t Time) String() string {
	if !t.Known {
		return Unknown
	}
	return t.Value.Format("2006-01-02")
}
