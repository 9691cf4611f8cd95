package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	apikeyhandler "geoverify/internal/apikey/handler"
	apikeymetrics "geoverify/internal/apikey/metrics"
	apikeyservice "geoverify/internal/apikey/service"
	jwttoken "geoverify/internal/jwt_token"
	"geoverify/internal/platform/config"
	"geoverify/internal/platform/httpserver"
	"geoverify/internal/platform/logger"
	platformmetrics "geoverify/internal/platform/metrics"
	ratelimitmetrics "geoverify/internal/ratelimit/metrics"
	ratelimit "geoverify/internal/ratelimit/middleware"
	httptransport "geoverify/internal/transport/http"
	verifyhandler "geoverify/internal/verification/handler"
	verifymetrics "geoverify/internal/verification/metrics"
	verifyservice "geoverify/internal/verification/service"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "geoverify: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY is not set, using the development key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	stores, err := buildStores(cfg, infra, log)
	if err != nil {
		return err
	}

	geocoder, err := buildGeocoder(cfg, infra, log)
	if err != nil {
		return err
	}

	vMetrics := verifymetrics.New()
	verification := verifyservice.New(stores.tokens, verifyservice.Config{
		PublicBaseURL:  cfg.PublicBaseURL,
		DefaultTTL:     cfg.Tokens.DefaultTTL,
		MaxTTL:         cfg.Tokens.MaxTTL,
		GeocodeTimeout: cfg.Geocoder.Timeout,
	},
		verifyservice.WithLogger(log),
		verifyservice.WithMetrics(vMetrics),
		verifyservice.WithGeocoder(geocoder),
		verifyservice.WithPublisher(buildPublisher(infra, cfg, log)),
	)

	keys := apikeyservice.New(stores.keys,
		apikeyservice.WithLogger(log),
		apikeyservice.WithMetrics(apikeymetrics.New()),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	limiter := ratelimit.New(buildLimiter(infra, log), log,
		ratelimit.WithDisabled(cfg.Limits.Disabled),
		ratelimit.WithPublicLimit(cfg.Limits.PublicLimit, cfg.Limits.PublicWindow),
		ratelimit.WithRecorder(ratelimitmetrics.New()),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Verification: verifyhandler.New(verification, log),
		APIKeys:      apikeyhandler.New(keys, log),
		JWT:          jwttoken.NewJWTServiceAdapter(jwtService),
		Keys:         apikeyservice.NewMiddlewareAdapter(keys),
		RateLimit:    limiter,
		Metrics:      platformmetrics.New(),
		Health:       infra.healthChecks(),
	})

	sweeper := verifyservice.NewSweeper(stores.tokens, cfg.Sweeper.Interval, cfg.Sweeper.Retention, log, vMetrics)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting geoverify",
		"addr", cfg.Addr,
		"storage", cfg.StorageBackend,
		"geocoder", cfg.Geocoder.Kind,
		"kafka", infra.kafka != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpserver.Run(gctx, srv, log) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("geoverify stopped")
	return nil
}
