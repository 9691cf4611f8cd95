package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"geoverify/internal/geo"
)

const defaultUserAgent = "geoverify/1.0"

// Nominatim queries an OpenStreetMap Nominatim compatible search endpoint.
type Nominatim struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

type NominatimOption func(*Nominatim)

func WithHTTPClient(c *http.Client) NominatimOption {
	return func(n *Nominatim) {
		if c != nil {
			n.client = c
		}
	}
}

func WithUserAgent(ua string) NominatimOption {
	return func(n *Nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

func NewNominatim(baseURL string, opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 5 * time.Second},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	q := url.Values{
		"q":      []string{address},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return geo.Coordinate{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(places) == 0 {
		return geo.Coordinate{}, ErrNotFound
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: bad latitude %q", ErrUnavailable, places[0].Lat)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: bad longitude %q", ErrUnavailable, places[0].Lon)
	}
	c := geo.Coordinate{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}
