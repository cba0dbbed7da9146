package geofence

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
)

// Store holds geofences in insertion order.
// Reads may happen from any goroutine; containment is written only by the detector.
type Store struct {
	config Config
	fences []*Geofence
	mu     sync.RWMutex
	now    func() time.Time
}

// NewStore creates an empty store with the given radius bounds
func NewStore(config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Store{config: config, now: time.Now}, nil
}

// Config returns the radius bounds of the store
func (s *Store) Config() Config {
	return s.config
}

// Add creates a geofence centered on center. A nil center means no position
// has been observed yet and yields ErrLocationUnavailable. New fences start
// with Inside set, so leaving the spot they were created at raises a departure.
func (s *Store) Add(name string, radius float64, center *geo.Coordinate) (Geofence, error) {
	if center == nil {
		return Geofence{}, ErrLocationUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Geofence{}, errors.Newf("geofence name is required").
			Component("geofence").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := s.validateRadius(radius); err != nil {
		return Geofence{}, err
	}

	g := &Geofence{
		ID:        uuid.New().String(),
		Name:      name,
		Center:    *center,
		Radius:    radius,
		Inside:    true,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.fences = append(s.fences, g)
	s.mu.Unlock()

	return *g, nil
}

func (s *Store) validateRadius(radius float64) error {
	if radius < s.config.MinRadius || radius > s.config.MaxRadius {
		return errors.Newf("radius %v outside allowed range [%v, %v]", radius, s.config.MinRadius, s.config.MaxRadius).
			Component("geofence").
			Category(errors.CategoryValidation).
			Context("radius", radius).
			Build()
	}
	return nil
}

// Remove deletes the geofence with id. Removing an unknown id is a no-op.
// It reports whether a fence was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.fences)
	s.fences = slices.DeleteFunc(s.fences, func(g *Geofence) bool { return g.ID == id })
	return len(s.fences) != before
}

// List returns copies of all geofences in insertion order
func (s *Store) List() []Geofence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Geofence, len(s.fences))
	for i, g := range s.fences {
		out[i] = *g
	}
	return out
}

// Get returns a copy of the geofence with id
func (s *Store) Get(id string) (Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.fences {
		if g.ID == id {
			return *g, nil
		}
	}
	return Geofence{}, ErrGeofenceNotFound
}

// Len returns the number of geofences
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fences)
}

// SetContainment records whether the latest sample was inside the fence and
// returns the previous value.
func (s *Store) SetContainment(id string, inside bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.fences {
		if g.ID == id {
			prev := g.Inside
			g.Inside = inside
			return prev, nil
		}
	}
	return false, ErrGeofenceNotFound
}

// Restore replaces the store contents with previously persisted fences.
// Entries that fail validation or repeat an earlier ID are skipped; the
// number skipped is returned.
func (s *Store) Restore(fences []Geofence) int {
	restored := make([]*Geofence, 0, len(fences))
	seen := make(map[string]struct{}, len(fences))
	skipped := 0
	for i := range fences {
		g := fences[i]
		if _, dup := seen[g.ID]; dup || g.ID == "" || g.Name == "" {
			skipped++
			continue
		}
		if s.validateRadius(g.Radius) != nil || g.Center.Validate() != nil {
			skipped++
			continue
		}
		seen[g.ID] = struct{}{}
		restored = append(restored, &g)
	}

	s.mu.Lock()
	s.fences = restored
	s.mu.Unlock()
	return skipped
}
