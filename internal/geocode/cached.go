package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"geoverify/internal/geo"
)

const (
	cacheKeyPrefix  = "geoverify:geocode:"
	defaultCacheTTL = 30 * 24 * time.Hour
)

// Cached memoizes successful lookups in redis. Redis failures degrade to
// calling the wrapped geocoder; misses are not cached.
type Cached struct {
	next   Geocoder
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Geocoder, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

// cacheKey hashes the address so no recipient address is stored in clear.
func cacheKey(address string) string {
	sum := sha256.Sum256([]byte(Normalize(address)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *Cached) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	key := cacheKey(address)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var coord geo.Coordinate
		if jsonErr := json.Unmarshal(raw, &coord); jsonErr == nil {
			return coord, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "geocode cache read failed", "error", err)
	}

	coord, err := c.next.Geocode(ctx, address)
	if err != nil {
		return geo.Coordinate{}, err
	}
	if encoded, err := json.Marshal(coord); err == nil {
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "geocode cache write failed", "error", err)
		}
	}
	return coord, nil
}
