package geofence

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/geo"
)

// metersNorth returns a sample d meters north of the equator/prime meridian
func metersNorth(d float64) geo.Sample {
	lat := d / geo.EarthRadiusMeters * 180 / 3.141592653589793
	return geo.NewSample(lat, 0, time.Unix(1_700_000_000, 0))
}

type countingRecorder struct {
	counts map[string]int
}

func (c *countingRecorder) RecordTransition(kind string) {
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[kind]++
}

func TestEvaluate_DepartureThenArrival(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	home, err := s.Add("Home", 100, &geo.Coordinate{})
	require.NoError(t, err)

	assert.Empty(t, Evaluate(metersNorth(0), s))

	tr := Evaluate(metersNorth(200), s)
	require.Len(t, tr, 1)
	assert.Equal(t, Departure, tr[0].Kind)
	assert.Equal(t, home.ID, tr[0].Geofence.ID)
	assert.False(t, tr[0].Geofence.Inside)
	assert.Equal(t, time.Unix(1_700_000_000, 0), tr[0].OccurredAt)

	tr = Evaluate(metersNorth(50), s)
	require.Len(t, tr, 1)
	assert.Equal(t, Arrival, tr[0].Kind)

	assert.Empty(t, Evaluate(metersNorth(50), s))
}

func TestEvaluate_BoundaryIsOutside(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Add("Edge", 100, &geo.Coordinate{})
	require.NoError(t, err)

	sample := metersNorth(100)
	d := geo.Distance(sample.Coordinate, geo.Coordinate{})
	require.InDelta(t, 100, d, 1e-6)

	// distance equal to the radius (within float error) must not count as
	// inside unless strictly below
	tr := Evaluate(sample, s)
	fence := s.List()[0]
	if d < 100 {
		assert.Empty(t, tr)
		assert.True(t, fence.Inside)
	} else {
		require.Len(t, tr, 1)
		assert.Equal(t, Departure, tr[0].Kind)
	}
}

func TestEvaluate_ZeroTimestampUsesNow(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, _ = s.Add("Home", 100, &geo.Coordinate{})

	before := time.Now()
	tr := Evaluate(geo.Sample{Coordinate: geo.Coordinate{Latitude: 1}}, s)
	require.Len(t, tr, 1)
	assert.False(t, tr[0].OccurredAt.Before(before))
}

// Two fences crossed by one sample are reported in list order.
func TestEvaluate_MultipleFencesInListOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a, _ := s.Add("A", 100, &geo.Coordinate{})
	b, _ := s.Add("B", 150, &geo.Coordinate{})

	tr := Evaluate(metersNorth(300), s)
	require.Len(t, tr, 2)
	assert.Equal(t, a.ID, tr[0].Geofence.ID)
	assert.Equal(t, b.ID, tr[1].Geofence.ID)
	assert.Equal(t, Departure, tr[0].Kind)
	assert.Equal(t, Departure, tr[1].Kind)

	// between the two radii: only B is re-entered
	tr = Evaluate(metersNorth(120), s)
	require.Len(t, tr, 1)
	assert.Equal(t, b.ID, tr[0].Geofence.ID)
	assert.Equal(t, Arrival, tr[0].Kind)
}

func TestEvaluate_EmptyStore(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Evaluate(metersNorth(0), newTestStore(t)))
}

// For any sample sequence the number of transitions per fence equals the
// number of inside/outside flips, and kinds alternate.
func TestEvaluate_CrossingCountProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 50 {
		s := newTestStore(t)
		radius := 50 + rng.Float64()*500
		g, err := s.Add("Zone", radius, &geo.Coordinate{})
		require.NoError(t, err)

		expectedInside := true
		flips := 0
		var kinds []Kind
		for range 200 {
			sample := metersNorth(rng.Float64() * radius * 2)
			inside := geo.Distance(sample.Coordinate, g.Center) < radius
			if inside != expectedInside {
				flips++
			}
			expectedInside = inside

			for _, tr := range Evaluate(sample, s) {
				kinds = append(kinds, tr.Kind)
			}
		}

		require.Len(t, kinds, flips, "round %d", round)
		for i, k := range kinds {
			want := Departure
			if i%2 == 1 {
				want = Arrival
			}
			require.Equal(t, want, k, "round %d transition %d", round, i)
		}
	}
}

func TestEvaluate_RemovedFenceProducesNothing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	g, _ := s.Add("Home", 100, &geo.Coordinate{})
	s.Remove(g.ID)

	assert.Empty(t, Evaluate(metersNorth(500), s))
}

func TestDetector_RecordsTransitions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, _ = s.Add("Home", 100, &geo.Coordinate{})
	rec := &countingRecorder{}
	d := NewDetector(s, nil, rec)

	d.Process(metersNorth(500))
	d.Process(metersNorth(10))
	d.Process(metersNorth(500))

	assert.Equal(t, 2, rec.counts[string(Departure)])
	assert.Equal(t, 1, rec.counts[string(Arrival)])
}
