package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/twmb/franz-go/pkg/kgo"

	apikeyservice "geoverify/internal/apikey/service"
	apikeystore "geoverify/internal/apikey/store"
	"geoverify/internal/geocode"
	"geoverify/internal/platform/config"
	"geoverify/internal/platform/kafka"
	"geoverify/internal/platform/postgres"
	platformredis "geoverify/internal/platform/redis"
	ratelimit "geoverify/internal/ratelimit/middleware"
	"geoverify/internal/ratelimit/store/bucket"
	httptransport "geoverify/internal/transport/http"
	"geoverify/internal/verification/events"
	verifyservice "geoverify/internal/verification/service"
	verifystore "geoverify/internal/verification/store"
	"geoverify/pkg/platform/circuit"
)

// infra holds the optional external connections. Each is nil when not
// configured.
type infra struct {
	db    *sql.DB
	redis *platformredis.Client
	kafka *kgo.Client
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if db != nil {
		in.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			in.Close()
			return nil, err
		}
		log.Info("postgres connected")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		in.Close()
		return nil, err
	}
	if rc != nil {
		in.redis = rc
		log.Info("redis connected")
	}

	kcfg := kafka.Config{
		Brokers:  kafka.ParseBrokers(cfg.Kafka.Brokers),
		Topic:    cfg.Kafka.ResultsTopic,
		ClientID: cfg.Kafka.ClientID,
	}
	kc, err := kafka.New(kcfg)
	if err != nil {
		in.Close()
		return nil, err
	}
	if kc != nil {
		in.kafka = kc
		if err := kafka.EnsureTopic(ctx, kc, kcfg); err != nil {
			in.Close()
			return nil, err
		}
		log.Info("kafka connected", "topic", kcfg.Topic)
	}
	return in, nil
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

func (in *infra) healthChecks() map[string]httptransport.HealthCheck {
	checks := make(map[string]httptransport.HealthCheck)
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.kafka != nil {
		checks["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, in.kafka) }
	}
	return checks
}

type stores struct {
	tokens verifyservice.TokenStore
	keys   apikeyservice.KeyStore
}

// buildStores picks the token and API key stores. The redis backend keeps
// tokens in redis and API keys in postgres when a database is configured,
// otherwise in memory.
func buildStores(cfg config.Server, in *infra, log *slog.Logger) (stores, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return stores{tokens: verifystore.NewInMemory(), keys: apikeystore.NewInMemory()}, nil
	case config.StoragePostgres:
		return stores{tokens: verifystore.NewPostgres(in.db), keys: apikeystore.NewPostgres(in.db)}, nil
	case config.StorageRedis:
		s := stores{tokens: verifystore.NewRedis(in.redis.Client, verifystore.WithRetention(cfg.Sweeper.Retention))}
		if in.db != nil {
			s.keys = apikeystore.NewPostgres(in.db)
		} else {
			log.Warn("no DATABASE_URL, API keys are kept in memory and lost on restart")
			s.keys = apikeystore.NewInMemory()
		}
		return s, nil
	default:
		return stores{}, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func buildGeocoder(cfg config.Server, in *infra, log *slog.Logger) (verifyservice.Geocoder, error) {
	table := geocode.DefaultTable
	if cfg.Geocoder.TablePath != "" {
		loaded, err := geocode.LoadStaticTable(cfg.Geocoder.TablePath)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	static := geocode.NewStatic(table)
	if cfg.Geocoder.Kind == config.GeocoderStatic {
		log.Info("using static geocoder", "addresses", static.Len())
		return static, nil
	}

	remote := geocode.NewNominatim(cfg.Geocoder.URL,
		geocode.WithUserAgent(cfg.Geocoder.UserAgent),
		geocode.WithHTTPClient(&http.Client{Timeout: cfg.Geocoder.Timeout}),
	)
	breaker := circuit.New("geocoder", circuit.WithFailureThreshold(cfg.Geocoder.FailureMax))
	var g verifyservice.Geocoder = geocode.NewFallback(remote, static, breaker, log)
	if in.redis != nil {
		g = geocode.NewCached(g, in.redis.Client, cfg.Geocoder.CacheTTL, log)
	}
	return g, nil
}

func buildPublisher(in *infra, cfg config.Server, log *slog.Logger) verifyservice.ResultPublisher {
	if in.kafka != nil {
		return events.NewKafkaPublisher(in.kafka, cfg.Kafka.ResultsTopic)
	}
	return events.NewLogPublisher(log)
}

// buildLimiter counts in redis when available and falls back to local
// counters while redis is failing.
func buildLimiter(in *infra, log *slog.Logger) ratelimit.Limiter {
	local := bucket.New()
	if in.redis == nil {
		return local
	}
	return ratelimit.NewFallbackLimiter(bucket.NewRedis(in.redis.Client), local, circuit.New("ratelimit"), log)
}
