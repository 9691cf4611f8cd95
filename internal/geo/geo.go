// Package geo computes great-circle distances between coordinates.
// Everything here is pure: no I/O, no clocks.
package geo

import (
	"fmt"
	"math"

	dErrors "geoverify/pkg/domain-errors"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6_371_000.0

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects out-of-range or non-finite coordinates.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || c.Latitude < -90 || c.Latitude > 90 {
		return dErrors.New(dErrors.CodeInvalidCoordinate, fmt.Sprintf("latitude %v out of range [-90,90]", c.Latitude))
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) || c.Longitude < -180 || c.Longitude > 180 {
		return dErrors.New(dErrors.CodeInvalidCoordinate, fmt.Sprintf("longitude %v out of range [-180,180]", c.Longitude))
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", c.Latitude, c.Longitude)
}

// Distance returns the haversine great-circle distance between a and b in
// meters.
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h)), nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
