package geofence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/errors"
	"github.com/safetrack/safetrack/internal/geo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestStore_AddStartsInside(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	g, err := s.Add("Home", 100, &geo.Coordinate{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "Home", g.Name)
	assert.True(t, g.Inside)
	assert.InDelta(t, 100, g.Radius, 0)
	assert.Equal(t, geo.Coordinate{Latitude: 1, Longitude: 2}, g.Center)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestStore_AddWithoutLocation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Add("Home", 100, nil)

	require.ErrorIs(t, err, ErrLocationUnavailable)
	assert.True(t, errors.IsCategory(err, errors.CategoryLocation))
	assert.Zero(t, s.Len())
}

func TestStore_AddValidation(t *testing.T) {
	t.Parallel()

	center := &geo.Coordinate{}
	tests := []struct {
		name   string
		fence  string
		radius float64
		ok     bool
	}{
		{"minimum radius", "a", DefaultMinRadius, true},
		{"maximum radius", "a", DefaultMaxRadius, true},
		{"below minimum", "a", 49.9, false},
		{"above maximum", "a", 10000.1, false},
		{"blank name", "   ", 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestStore(t)
			_, err := s.Add(tt.fence, tt.radius, center)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestStore_ListKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	center := &geo.Coordinate{}
	var ids []string
	for _, name := range []string{"Home", "School", "Work"} {
		g, err := s.Add(name, 100, center)
		require.NoError(t, err)
		ids = append(ids, g.ID)
	}

	list := s.List()
	require.Len(t, list, 3)
	for i, g := range list {
		assert.Equal(t, ids[i], g.ID)
	}

	// returned slice is a copy
	list[0].Name = "changed"
	first, err := s.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Home", first.Name)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a, _ := s.Add("A", 100, &geo.Coordinate{})
	b, _ := s.Add("B", 100, &geo.Coordinate{})

	assert.True(t, s.Remove(a.ID))
	assert.False(t, s.Remove(a.ID))
	assert.False(t, s.Remove("missing"))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestStore_SetContainmentReturnsPrevious(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	g, _ := s.Add("A", 100, &geo.Coordinate{})

	prev, err := s.SetContainment(g.ID, false)
	require.NoError(t, err)
	assert.True(t, prev)

	prev, err = s.SetContainment(g.ID, false)
	require.NoError(t, err)
	assert.False(t, prev)

	_, err = s.SetContainment("missing", true)
	require.ErrorIs(t, err, ErrGeofenceNotFound)
}

func TestStore_RestoreSkipsInvalid(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	skipped := s.Restore([]Geofence{
		{ID: "1", Name: "Home", Radius: 100, Inside: false},
		{ID: "1", Name: "Duplicate", Radius: 100},
		{ID: "2", Name: "Tiny", Radius: 5},
		{ID: "3", Name: "Bad center", Radius: 100, Center: geo.Coordinate{Latitude: 120}},
		{ID: "", Name: "No id", Radius: 100},
		{ID: "4", Name: "Work", Radius: 500, Inside: true},
	})

	assert.Equal(t, 4, skipped)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Home", list[0].Name)
	assert.False(t, list[0].Inside)
	assert.Equal(t, "Work", list[1].Name)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	g, _ := s.Add("A", 100, &geo.Coordinate{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				_ = s.List()
			}
		})
	}
	for i := range 100 {
		_, _ = s.SetContainment(g.ID, i%2 == 0)
	}
	wg.Wait()
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{MinRadius: 0, MaxRadius: 10}.Validate())
	require.Error(t, Config{MinRadius: 100, MaxRadius: 50}.Validate())

	_, err := NewStore(Config{})
	require.Error(t, err)
}
