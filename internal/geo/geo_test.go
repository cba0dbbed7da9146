package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/errors"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    Coordinate
		want    float64
		epsilon float64
	}{
		{"same point", Coordinate{51.5, -0.12}, Coordinate{51.5, -0.12}, 0, 1e-9},
		{"one degree of latitude", Coordinate{0, 0}, Coordinate{1, 0}, 111194.93, 0.5},
		{"one degree of longitude on equator", Coordinate{0, 0}, Coordinate{0, 1}, 111194.93, 0.5},
		{"antipodal", Coordinate{0, 0}, Coordinate{0, 180}, math.Pi * EarthRadiusMeters, 1},
		{"helsinki to tallinn", Coordinate{60.1699, 24.9384}, Coordinate{59.4370, 24.7536}, 82000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), tt.epsilon)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	t.Parallel()

	a := Coordinate{37.7749, -122.4194}
	b := Coordinate{37.7849, -122.4094}
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestDistance_SmallOffsets(t *testing.T) {
	t.Parallel()

	center := Coordinate{0, 0}
	// 0.0009 degrees of latitude is roughly 100 m
	assert.InDelta(t, 100.07, Distance(center, Coordinate{0.0009, 0}), 0.1)
	// 0.0018 degrees is roughly 200 m
	assert.InDelta(t, 200.15, Distance(center, Coordinate{0.0018, 0}), 0.1)
}

func TestCoordinate_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Coordinate{90, 180}.Validate())
	require.NoError(t, Coordinate{-90, -180}.Validate())

	for _, c := range []Coordinate{{91, 0}, {-91, 0}, {0, 181}, {0, -181}, {math.NaN(), 0}} {
		err := c.Validate()
		require.Error(t, err, "%+v", c)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}
