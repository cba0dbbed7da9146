// Package geo holds coordinate types and great-circle distance math.
package geo

import (
	"math"
	"time"

	"github.com/safetrack/safetrack/internal/errors"
)

// EarthRadiusMeters is the mean Earth radius used by Distance
const EarthRadiusMeters = 6371000

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Sample is a timestamped position reading
type Sample struct {
	Coordinate
	Timestamp time.Time `json:"timestamp"`
}

// NewSample returns a Sample at lat/lon taken at ts
func NewSample(lat, lon float64, ts time.Time) Sample {
	return Sample{Coordinate: Coordinate{Latitude: lat, Longitude: lon}, Timestamp: ts}
}

// Validate checks the coordinate lies within the valid latitude/longitude ranges.
// Adapters call this on external input; Distance itself never validates.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return errors.Newf("latitude %v out of range [-90, 90]", c.Latitude).
			Component("geo").
			Category(errors.CategoryValidation).
			Build()
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return errors.Newf("longitude %v out of range [-180, 180]", c.Longitude).
			Component("geo").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Distance returns the haversine great-circle distance between a and b in meters
func Distance(a, b Coordinate) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
