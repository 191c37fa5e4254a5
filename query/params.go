package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c360/shipstream/errors"
)

// Pagination defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Params is a parsed ship query. Nil fields are not filtered on. Range
// filters apply only when both of their bounds are set, and the geographic
// box only when all four are.
type Params struct {
	MMSI *string

	LatMin *float64
	LatMax *float64
	LonMin *float64
	LonMax *float64

	SpeedMin  *float64
	SpeedMax  *float64
	CourseMin *float64
	CourseMax *float64

	TimestampMin *time.Time
	TimestampMax *time.Time

	Page  int
	Limit int
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseParams reads query parameters from v. Unknown parameters are ignored;
// a present but unparseable value is an Invalid error.
func ParseParams(v url.Values) (Params, error) {
	p := Params{Page: DefaultPage, Limit: DefaultLimit}

	if mmsi := strings.TrimSpace(v.Get("mmsi")); mmsi != "" {
		p.MMSI = &mmsi
	}

	floats := []struct {
		name string
		dst  **float64
	}{
		{"latMin", &p.LatMin},
		{"latMax", &p.LatMax},
		{"lonMin", &p.LonMin},
		{"lonMax", &p.LonMax},
		{"speedMin", &p.SpeedMin},
		{"speedMax", &p.SpeedMax},
		{"courseMin", &p.CourseMin},
		{"courseMax", &p.CourseMax},
	}
	for _, f := range floats {
		val, err := parseFloat(v, f.name)
		if err != nil {
			return Params{}, err
		}
		*f.dst = val
	}

	var err error
	if p.TimestampMin, err = parseTimestamp(v, "timestampMin"); err != nil {
		return Params{}, err
	}
	if p.TimestampMax, err = parseTimestamp(v, "timestampMax"); err != nil {
		return Params{}, err
	}

	if p.Page, err = parseInt(v, "page", DefaultPage); err != nil {
		return Params{}, err
	}
	if p.Limit, err = parseInt(v, "limit", DefaultLimit); err != nil {
		return Params{}, err
	}

	return p.normalize(), nil
}

// normalize applies pagination defaults and the limit cap.
func (p Params) normalize() Params {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func invalidParam(name, raw string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s=%q: %v", errors.ErrInvalidData, name, raw, err),
		"query", "ParseParams", "parse "+name)
}

func parseFloat(v url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, invalidParam(name, raw, err)
	}
	return &f, nil
}

func parseInt(v url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, raw, err)
	}
	return n, nil
}

func parseTimestamp(v url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, nil
		}
	}
	return nil, invalidParam(name, raw, fmt.Errorf("not a date-time"))
}
