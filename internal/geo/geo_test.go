package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "geoverify/pkg/domain-errors"
)

func TestDistance(t *testing.T) {
	t.Run("same point is zero", func(t *testing.T) {
		nyc := Coordinate{Latitude: 40.7128, Longitude: -74.0060}
		d, err := Distance(nyc, nyc)
		require.NoError(t, err)
		assert.Equal(t, 0.0, d)
	})

	t.Run("one degree of longitude on the equator", func(t *testing.T) {
		d, err := Distance(Coordinate{0, 0}, Coordinate{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 111_195, d, 50)
	})

	t.Run("short hop in manhattan", func(t *testing.T) {
		d, err := Distance(Coordinate{40.7128, -74.0060}, Coordinate{40.7130, -74.0062})
		require.NoError(t, err)
		assert.InDelta(t, 27.9, d, 1.0)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Coordinate{51.5074, -0.1278}
		b := Coordinate{48.8566, 2.3522}
		ab, err := Distance(a, b)
		require.NoError(t, err)
		ba, err := Distance(b, a)
		require.NoError(t, err)
		assert.InDelta(t, ab, ba, 1e-6)
		assert.InDelta(t, 343_500, ab, 1_000)
	})

	t.Run("antipodes stay finite", func(t *testing.T) {
		d, err := Distance(Coordinate{0, 0}, Coordinate{0, 180})
		require.NoError(t, err)
		assert.InDelta(t, math.Pi*EarthRadiusMeters, d, 1)
	})
}

func TestCoordinateValidation(t *testing.T) {
	cases := []struct {
		name string
		c    Coordinate
	}{
		{"latitude above 90", Coordinate{90.0001, 0}},
		{"latitude below -90", Coordinate{-91, 0}},
		{"longitude above 180", Coordinate{0, 180.5}},
		{"longitude below -180", Coordinate{0, -181}},
		{"NaN latitude", Coordinate{math.NaN(), 0}},
		{"infinite longitude", Coordinate{0, math.Inf(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Distance(tc.c, Coordinate{0, 0})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCoordinate))
		})
	}

	t.Run("boundaries are valid", func(t *testing.T) {
		_, err := Distance(Coordinate{90, 180}, Coordinate{-90, -180})
		require.NoError(t, err)
	})
}
