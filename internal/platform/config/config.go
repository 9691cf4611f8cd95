package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends for tokens and API keys.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Geocoder implementations.
const (
	GeocoderStatic    = "static"
	GeocoderNominatim = "nominatim"
)

// Server captures process level configuration.
type Server struct {
	Addr           string
	LogLevel       string
	StorageBackend string
	PublicBaseURL  string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Tokens   TokenConfig
	Geocoder GeocoderConfig
	Sweeper  SweeperConfig
	Limits   RateLimitConfig
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds connection settings. An empty URL disables redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers      string
	ResultsTopic string
	ClientID     string
}

// JWTConfig configures admin bearer tokens.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	TTL        time.Duration
}

type TokenConfig struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type GeocoderConfig struct {
	Kind       string
	URL        string
	UserAgent  string
	TablePath  string
	Timeout    time.Duration
	CacheTTL   time.Duration
	FailureMax int
}

// SweeperConfig controls deletion of long-expired tokens. A zero Interval
// disables the sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// RateLimitConfig sets the per-IP budget of the public endpoints. API keys
// carry their own hourly budget.
type RateLimitConfig struct {
	Disabled     bool
	PublicLimit  int
	PublicWindow time.Duration
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays
// lean. Unset variables fall back to development defaults.
func FromEnv() (Server, error) {
	var p parser
	cfg := Server{
		Addr:           p.str("GEOVERIFY_ADDR", ":8080"),
		LogLevel:       p.str("LOG_LEVEL", "info"),
		StorageBackend: strings.ToLower(p.str("STORAGE_BACKEND", StorageMemory)),
		PublicBaseURL:  p.str("PUBLIC_BASE_URL", "http://localhost:8080"),
		Database: DatabaseConfig{
			URL:             p.str("DATABASE_URL", ""),
			MaxOpenConns:    p.integer("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 20),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:      p.str("KAFKA_BROKERS", ""),
			ResultsTopic: p.str("KAFKA_RESULTS_TOPIC", "geoverify.verification-results"),
			ClientID:     p.str("KAFKA_CLIENT_ID", "geoverify"),
		},
		JWT: JWTConfig{
			SigningKey: p.str("JWT_SIGNING_KEY", devSigningKey),
			Issuer:     p.str("JWT_ISSUER", "geoverify"),
			Audience:   p.str("JWT_AUDIENCE", "geoverify-admin"),
			TTL:        p.duration("JWT_TTL", 12*time.Hour),
		},
		Tokens: TokenConfig{
			DefaultTTL: p.duration("TOKEN_DEFAULT_TTL", 24*time.Hour),
			MaxTTL:     p.duration("TOKEN_MAX_TTL", 30*24*time.Hour),
		},
		Geocoder: GeocoderConfig{
			Kind:       strings.ToLower(p.str("GEOCODER", GeocoderStatic)),
			URL:        p.str("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
			UserAgent:  p.str("GEOCODER_USER_AGENT", "geoverify/1.0"),
			TablePath:  p.str("GEOCODER_TABLE", ""),
			Timeout:    p.duration("GEOCODE_TIMEOUT", 3*time.Second),
			CacheTTL:   p.duration("GEOCODE_CACHE_TTL", 24*time.Hour),
			FailureMax: p.integer("GEOCODER_FAILURE_THRESHOLD", 5),
		},
		Sweeper: SweeperConfig{
			Interval:  p.duration("SWEEP_INTERVAL", 0),
			Retention: p.duration("SWEEP_RETENTION", 7*24*time.Hour),
		},
		Limits: RateLimitConfig{
			Disabled:     p.boolean("RATE_LIMIT_DISABLED", false),
			PublicLimit:  p.integer("PUBLIC_RATE_LIMIT", 60),
			PublicWindow: p.duration("PUBLIC_RATE_WINDOW", time.Minute),
		},
	}
	if p.err != nil {
		return Server{}, p.err
	}
	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("STORAGE_BACKEND=postgres requires DATABASE_URL")
		}
	case StorageRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("STORAGE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.Geocoder.Kind {
	case GeocoderStatic, GeocoderNominatim:
	default:
		return fmt.Errorf("unknown GEOCODER %q", c.Geocoder.Kind)
	}
	if !c.Limits.Disabled && (c.Limits.PublicLimit <= 0 || c.Limits.PublicWindow <= 0) {
		return fmt.Errorf("PUBLIC_RATE_LIMIT and PUBLIC_RATE_WINDOW must be positive")
	}
	if c.Tokens.MaxTTL <= 0 || c.Tokens.DefaultTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Tokens.DefaultTTL > c.Tokens.MaxTTL {
		return fmt.Errorf("TOKEN_DEFAULT_TTL exceeds TOKEN_MAX_TTL")
	}
	return nil
}

// UsesDevSigningKey reports whether the built-in development JWT key is in use.
func (c Server) UsesDevSigningKey() bool {
	return c.JWT.SigningKey == devSigningKey
}

// parser records the first malformed variable so FromEnv can report it.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return b
}

// duration accepts Go durations and a plain day count suffixed with "d".
func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}
