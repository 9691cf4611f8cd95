// Package geocode resolves postal addresses to coordinates for issuance.
// Every implementation is best effort: callers treat any error as "no
// claimed coordinate".
package geocode

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"geoverify/internal/geo"
)

var (
	// ErrNotFound means the geocoder answered but knows no such address.
	ErrNotFound = errors.New("address not found")
	// ErrUnavailable means the geocoder could not be asked.
	ErrUnavailable = errors.New("geocoder unavailable")
)

// Geocoder resolves an address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

var (
	whitespace  = regexp.MustCompile(`\s+`)
	trailingZip = regexp.MustCompile(`\s+\d{5}(-\d{4})?$`)
)

// Normalize lowercases, collapses whitespace and drops a trailing US ZIP
// code so table and cache keys match regardless of formatting.
func Normalize(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	a = whitespace.ReplaceAllString(a, " ")
	a = trailingZip.ReplaceAllString(a, "")
	return strings.TrimRight(a, " ,")
}
