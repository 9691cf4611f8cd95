package models

import (
	"time"

	"geoverify/internal/geo"
	"geoverify/internal/risk"
)

// Location is a device geolocation fix as reported by the browser.
type Location struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	Altitude       *float64
	Heading        *float64
	Speed          *float64
	CapturedAt     time.Time
}

func (l Location) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Submission is what the recipient's page posts after consenting. It is not
// persisted; only the Result derived from it is.
type Submission struct {
	Consent  bool
	Location Location
	Device   risk.DeviceContext
}
