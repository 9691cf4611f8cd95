package geocode

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"geoverify/internal/geo"
)

// DefaultTable is the built-in demo address table.
var DefaultTable = map[string]geo.Coordinate{
	"123 broadway street, new york, ny": {Latitude: 40.7589, Longitude: -73.9851},
	"123 main street, anytown, ca":      {Latitude: 37.7749, Longitude: -122.4194},
	"456 oak avenue, chicago, il":       {Latitude: 41.8781, Longitude: -87.6298},
	"789 elm street, houston, tx":       {Latitude: 29.7604, Longitude: -95.3698},
}

// Static answers from a fixed table keyed by normalized address.
type Static struct {
	entries map[string]geo.Coordinate
}

func NewStatic(entries map[string]geo.Coordinate) *Static {
	s := &Static{entries: make(map[string]geo.Coordinate, len(entries))}
	for addr, c := range entries {
		s.entries[Normalize(addr)] = c
	}
	return s
}

func (s *Static) Geocode(_ context.Context, address string) (geo.Coordinate, error) {
	c, ok := s.entries[Normalize(address)]
	if !ok {
		return geo.Coordinate{}, ErrNotFound
	}
	return c, nil
}

func (s *Static) Len() int { return len(s.entries) }

type tableFile struct {
	Addresses []struct {
		Address   string  `yaml:"address"`
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
	} `yaml:"addresses"`
}

// LoadStaticTable reads a YAML address table:
//
//	addresses:
//	  - address: "123 Broadway Street, New York, NY"
//	    latitude: 40.7589
//	    longitude: -73.9851
func LoadStaticTable(path string) (map[string]geo.Coordinate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geocoder table: %w", err)
	}
	return ParseStaticTable(raw)
}

func ParseStaticTable(raw []byte) (map[string]geo.Coordinate, error) {
	var f tableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse geocoder table: %w", err)
	}
	out := make(map[string]geo.Coordinate, len(f.Addresses))
	for i, a := range f.Addresses {
		c := geo.Coordinate{Latitude: a.Latitude, Longitude: a.Longitude}
		if a.Address == "" {
			return nil, fmt.Errorf("geocoder table entry %d: address is required", i)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("geocoder table entry %q: %w", a.Address, err)
		}
		out[a.Address] = c
	}
	return out, nil
}
