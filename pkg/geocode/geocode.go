// Package geocode resolves free-text place queries to coordinates through
// interchangeable backends (Google as the commercial primary, Nominatim as the
// open-data fallback).
package geocode

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Precision is the coarseness a query was built for.
type Precision string

const (
	PrecisionFullAddress  Precision = "FULL_ADDRESS"
	PrecisionTownLandmark Precision = "TOWN_LANDMARK"
	PrecisionTownCentroid Precision = "TOWN_CENTROID"
	PrecisionCountryProxy Precision = "COUNTRY_PROXY"
)

// Normalised match qualities shared by all backends.
const (
	QualityRooftop     = "rooftop"
	QualityRange       = "range"
	QualityCentroid    = "centroid"
	QualityApproximate = "approximate"
)

// IsStreetLevel reports whether quality is precise enough to count as a
// street-level match.
func IsStreetLevel(quality string) bool {
	return quality == QualityRooftop || quality == QualityRange
}

// Query is a single geocoding request. Text is sent to the backend verbatim.
type Query struct {
	Text      string
	Precision Precision
}

// Result holds the geocoding output for one query against one backend.
// Latitude and Longitude are meaningful only when Matched is true.
type Result struct {
	Latitude     float64
	Longitude    float64
	Matched      bool
	Quality      string // rooftop, range, centroid, approximate
	MatchQuality string // raw backend indicator, e.g. ROOFTOP or place_rank=26
	Source       string
	Timestamp    time.Time
}

// Geocoder is one geocoding backend. A returned error means the backend was
// unavailable (network, timeout, service error); a Result with Matched=false
// and a nil error means the backend answered but found nothing.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, q Query) (*Result, error)
}

var (
	// ErrUnavailable matches every error produced by a Client.
	ErrUnavailable = eris.New("geocode: backend unavailable")

	// ErrNoMatch labels empty answers in attempt audits. Geocoders never
	// return it.
	ErrNoMatch = eris.New("geocode: no match")
)

// UnavailableError reports a backend failure for one query.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return "geocode: " + e.Backend + " unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) true for any UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func noMatch(source string, now time.Time) *Result {
	return &Result{Matched: false, Source: source, Timestamp: now}
}
