package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Coordinate bounds in decimal degrees.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// coordinatePrecision is the number of decimal places kept by NewCoordinate.
const coordinatePrecision = 4

var (
	ErrLatitudeOutOfRange  = errors.New("latitude must be between -90 and 90")
	ErrLongitudeOutOfRange = errors.New("longitude must be between -180 and 180")
)

// Coordinate is a canonical (latitude, longitude) pair. Values built through
// NewCoordinate are rounded to four decimal places so that requests for the
// same place share cache entries and upstream calls.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate returns the canonical form of (lat, lon). It does not check bounds; see Validate.
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{Latitude: canonical(lat), Longitude: canonical(lon)}
}

func canonical(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow10(coordinatePrecision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		// collapses -0 into 0
		return 0
	}
	return r
}

// Validate reports whether both components are finite and within bounds.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < MinLatitude || c.Latitude > MaxLatitude {
		return ErrLatitudeOutOfRange
	}
	if math.IsNaN(c.Longitude) || c.Longitude < MinLongitude || c.Longitude > MaxLongitude {
		return ErrLongitudeOutOfRange
	}
	return nil
}

// LatString formats the latitude with exactly four decimals.
func (c Coordinate) LatString() string {
	return strconv.FormatFloat(c.Latitude, 'f', coordinatePrecision, 64)
}

// LonString formats the longitude with exactly four decimals.
func (c Coordinate) LonString() string {
	return strconv.FormatFloat(c.Longitude, 'f', coordinatePrecision, 64)
}

func (c Coordinate) String() string {
	return c.LatString() + ":" + c.LonString()
}

// Facet selects which part of the forecast a request is for.
type Facet string

const (
	FacetCurrent Facet = "current"
	FacetHourly  Facet = "hourly"
	FacetDaily   Facet = "daily"
)

// Facets lists every facet in a stable order.
func Facets() []Facet {
	return []Facet{FacetCurrent, FacetHourly, FacetDaily}
}

// Valid reports whether f is one of the known facets.
func (f Facet) Valid() bool {
	switch f {
	case FacetCurrent, FacetHourly, FacetDaily:
		return true
	}
	return false
}

// Description is the human wording used in "no data" messages.
func (f Facet) Description() string {
	switch f {
	case FacetCurrent:
		return "current weather"
	case FacetHourly:
		return "hourly forecast"
	case FacetDaily:
		return "daily forecast"
	default:
		return string(f)
	}
}

// CacheKey identifies one cached response: a facet for a canonical coordinate.
type CacheKey struct {
	Facet      Facet
	Coordinate Coordinate
}

// NewCacheKey canonicalizes coord before building the key.
func NewCacheKey(facet Facet, coord Coordinate) CacheKey {
	return CacheKey{Facet: facet, Coordinate: NewCoordinate(coord.Latitude, coord.Longitude)}
}

// String renders the key as "facet:lat:lon", e.g. "current:40.7128:-74.0060".
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s", k.Facet, k.Coordinate)
}
