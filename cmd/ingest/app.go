package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/api"
	"github.com/educode/educode/internal/auth"
	"github.com/educode/educode/internal/config"
	"github.com/educode/educode/internal/db"
	"github.com/educode/educode/internal/health"
	"github.com/educode/educode/internal/middleware"
	"github.com/educode/educode/internal/relay"
	"github.com/educode/educode/internal/submission"
	"github.com/educode/educode/internal/tracing"
)

const (
	serviceName = "educode-ingest"

	// previewBufferKey is the Redis list holding the preview ring buffer.
	previewBufferKey = "educode:activity:preview"

	rateLimitCleanupInterval = 5 * time.Minute
)

// app holds the wired ingest service.
type app struct {
	handler  http.Handler
	activity *activity.Logger
	hub      *relay.Hub

	closers []func(context.Context) error
	stop    chan struct{}
}

// newApp wires every component the configuration enables. Components with
// no configuration fall back to in-memory implementations.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{stop: make(chan struct{})}

	provider, err := tracing.NewProvider(tracing.ConfigFrom(cfg, serviceName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, provider.Shutdown)

	registry := prometheus.NewRegistry()
	activityMetrics := activity.NewMetrics()
	if err := activityMetrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register activity metrics: %w", err)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}

	var (
		logs     activity.Repository
		subs     submission.Repository
		healthDB api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return pool.Close() })
		if err := db.VerifySchema(ctx, pool); err != nil {
			logger.Warn("activity schema check failed, inserts may be rejected", "error", err)
		}
		logs = activity.NewPostgresRepository(pool, logger)
		subs = submission.NewPostgresRepository(pool, logger)
		healthDB = health.NewDBChecker(pool, db.RequiredTables...)
		logger.Info("using postgres activity store")
	} else {
		logs = activity.NewInMemoryRepository()
		subs = submission.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, activity rows are kept in memory")
	}

	var (
		redisClient *redis.Client
		healthRedis api.HealthChecker
		rateStore   middleware.RateLimitStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return redisClient.Close() })
		healthRedis = health.NewRedisChecker(redisClient)
		rateStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go cleanupLoop(memStore, rateLimitCleanupInterval, a.stop)
		rateStore = memStore
	}

	buffer, err := newBuffer(cfg, redisClient)
	if err != nil {
		return nil, err
	}

	console := activity.NewConsole(os.Stderr, isTerminal(os.Stderr))
	a.hub = relay.NewHub(console.Print, logger)

	opts := activity.Options{
		Host:            cfg.PublicHost,
		Inserter:        logs,
		Buffer:          buffer,
		Console:         console,
		DisableIPLookup: !cfg.IPLookupEnabled,
		STUNServer:      cfg.STUNServer,
		Metrics:         activityMetrics,
		Logger:          logger,
	}
	if activity.ModeForHost(cfg.PublicHost) == activity.ModeLocalDev {
		conn, err := relay.NewConn(relay.DefaultConfig(cfg.RelayURL), logger)
		if err != nil {
			return nil, fmt.Errorf("invalid relay configuration: %w", err)
		}
		opts.Relay = conn
	}
	a.activity = activity.New(opts)
	a.closers = append(a.closers, func(context.Context) error { return a.activity.Close() })

	var validator api.TokenValidator
	if cfg.JWTSecret != "" {
		validator = auth.NewJWTService(cfg.JWTSecret)
	}

	routerCfg := api.RouterConfig{
		Logs: api.NewLogHandlers(api.LogHandlersConfig{
			Repository:  logs,
			Broadcaster: a.hub,
			Environment: a.activity.Mode().Environment(),
			Logger:      logger,
		}),
		Preview:  api.NewPreviewHandlers(a.activity),
		Sessions: api.NewSessionHandlers(subs, a.activity, logger),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    healthDB,
			RedisChecker: healthRedis,
		}),
		Sockets:        a.hub,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         logger,
		Metrics:        httpMetrics,
		Auth:           validator,
		RateLimitStore: rateStore,
		CORSOrigins:    cfg.CORSAllowedOrigins,
	}
	if provider.IsEnabled() {
		routerCfg.ServiceName = serviceName
	}
	a.handler = api.NewRouter(routerCfg)

	return a, nil
}

// newBuffer returns the preview buffer for the configured backend. A nil
// buffer selects the logger's in-memory default.
func newBuffer(cfg *config.Config, client *redis.Client) (activity.Buffer, error) {
	switch cfg.BufferBackend {
	case config.BufferBackendFile:
		return activity.NewFileBuffer(cfg.BufferPath, activity.DefaultBufferCapacity), nil
	case config.BufferBackendRedis:
		if client == nil {
			return nil, errors.New("redis buffer backend requires REDIS_URL")
		}
		return activity.NewRedisBuffer(client, previewBufferKey, activity.DefaultBufferCapacity), nil
	default:
		return nil, nil
	}
}

func cleanupLoop(store *middleware.InMemoryRateLimitStore, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			store.Cleanup()
		case <-stop:
			return
		}
	}
}

// Close flushes the activity logger and releases every resource, newest
// first. All errors are returned joined.
func (a *app) Close(ctx context.Context) error {
	close(a.stop)
	if err := a.activity.Flush(ctx); err != nil {
		slog.WarnContext(ctx, "activity flush incomplete", slog.String("error", err.Error()))
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isTerminal reports whether f is a character device, such as an
// interactive terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
