// Package geofence maintains circular safe zones and detects boundary crossings.
package geofence

import (
	"time"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
)

// Default radius bounds in meters
const (
	DefaultMinRadius = 50
	DefaultMaxRadius = 10000
)

var (
	// ErrLocationUnavailable is returned when a geofence is requested before
	// any position has been observed.
	ErrLocationUnavailable = errors.Newf("location unavailable").
				Component("geofence").
				Category(errors.CategoryLocation).
				Sentinel().
				Build()

	// ErrGeofenceNotFound is returned for operations on an unknown ID
	ErrGeofenceNotFound = errors.Newf("geofence not found").
				Component("geofence").
				Category(errors.CategoryNotFound).
				Sentinel().
				Build()
)

// Geofence is a named circular zone. Inside reflects the last evaluated sample.
type Geofence struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Center    geo.Coordinate `json:"center"`
	Radius    float64        `json:"radius"`
	Inside    bool           `json:"isInside"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Contains reports whether c lies strictly inside the fence
func (g *Geofence) Contains(c geo.Coordinate) bool {
	return geo.Distance(c, g.Center) < g.Radius
}

// Kind is the direction of a boundary crossing
type Kind string

const (
	Arrival   Kind = "arrival"
	Departure Kind = "departure"
)

// Transition is a detected boundary crossing
type Transition struct {
	Geofence   Geofence  `json:"geofence"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Config bounds the radius accepted by Store.Add
type Config struct {
	MinRadius float64
	MaxRadius float64
}

// DefaultConfig returns the default radius bounds
func DefaultConfig() Config {
	return Config{MinRadius: DefaultMinRadius, MaxRadius: DefaultMaxRadius}
}

// Validate checks the bounds are positive and ordered
func (c Config) Validate() error {
	if c.MinRadius <= 0 {
		return errors.Newf("minimum radius must be positive, got %v", c.MinRadius).
			Component("geofence").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.MaxRadius < c.MinRadius {
		return errors.Newf("maximum radius %v below minimum %v", c.MaxRadius, c.MinRadius).
			Component("geofence").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
