package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lms-gateway/internal/config"
	"lms-gateway/internal/server"
	"lms-gateway/middleware/ratelimit"
	"lms-gateway/middleware/ratelimit/domain"
	"lms-gateway/middleware/ratelimit/infra"
)

// gateway is everything serve needs, built from the configuration.
type gateway struct {
	Handler  http.Handler
	Store    domain.CounterStore
	Registry *prometheus.Registry

	rdb     *redis.Client
	closers []func() error
}

// redisClient returns the client shared by the counter and stats stores.
func (g *gateway) redisClient(cfg *config.Config) *redis.Client {
	if g.rdb == nil {
		g.rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		g.closers = append(g.closers, g.rdb.Close)
	}
	return g.rdb
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
}

// counterStore is what every backend offers on top of TryConsume: a health
// ping and the operator reads and resets of the counters command.
type counterStore interface {
	domain.CounterStore
	server.Pinger
	Get(ctx context.Context, key domain.Key) (domain.Counter, bool, error)
	Reset(ctx context.Context, key domain.Key) error
}

func buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway, error) {
	target, err := cfg.Upstream()
	if err != nil {
		return nil, err
	}

	g := &gateway{Registry: prometheus.NewRegistry()}
	g.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := newCounterStore(ctx, cfg, logger, g)
	if err != nil {
		g.Close()
		return nil, err
	}
	g.Store = store

	// An unreachable store is not fatal: requests fail open until it is back.
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("counter store unreachable at startup, rate limiting fails open", zap.Error(err))
	}
	cancel()

	if mem, ok := store.(*infra.MemoryCounterStore); ok {
		if err := infra.RegisterMemoryCounters(g.Registry, mem); err != nil {
			g.Close()
			return nil, err
		}
	}

	stats, err := newStatsStore(cfg, g)
	if err != nil {
		g.Close()
		return nil, err
	}
	var statsHandler http.Handler
	if mem, ok := stats.(*infra.MemoryStatsStore); ok {
		statsHandler = server.Stats(mem)
	}

	policies, err := cfg.Policies()
	if err != nil {
		g.Close()
		return nil, err
	}
	limits := make(map[string]func(http.Handler) http.Handler, len(policies))
	for _, p := range policies {
		mw, err := ratelimit.Middleware(ratelimit.Options{
			Policy:              p,
			Store:               store,
			Stats:               stats,
			RouteFn:             server.RoutePattern,
			ClientHeader:        cfg.RateLimit.ClientHeader,
			TrustXForwardedFor:  cfg.RateLimit.TrustXFF,
			AddRateLimitHeaders: cfg.RateLimit.AddHeaders,
			Logger:              logger,
			ErrorLogEvery:       cfg.RateLimit.ErrorLogEvery,
		})
		if err != nil {
			g.Close()
			return nil, err
		}
		limits[p.Name] = mw
	}

	var outer []func(http.Handler) http.Handler
	if cfg.Concurrency.Max > 0 {
		pool := infra.NewChanPool(cfg.Concurrency.Max)
		if err := infra.RegisterInFlight(g.Registry, pool); err != nil {
			g.Close()
			return nil, err
		}
		outer = append(outer, ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           pool,
			RejectStatus:   http.StatusServiceUnavailable,
			AcquireTimeout: cfg.Concurrency.AcquireTimeout,
		}))
	}

	g.Handler, err = server.NewRouter(server.Deps{
		Upstream: server.NewProxy(target, logger),
		Limits:   limits,
		Outer:    outer,
		Health:   store,
		Metrics:  promhttp.HandlerFor(g.Registry, promhttp.HandlerOpts{}),
		Stats:    statsHandler,
		Logger:   logger,
	})
	if err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func newCounterStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, g *gateway) (counterStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		return infra.NewRedisCounterStore(g.redisClient(cfg), infra.WithKeyPrefix(cfg.Redis.Prefix)), nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		g.closers = append(g.closers, db.Close)

		s, err := infra.NewSQLCounterStore(db, cfg.Postgres.Table,
			infra.WithSQLCleanupEvery(cfg.Store.CleanupEvery),
			infra.WithSQLLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.EnsureSchema(schemaCtx); err != nil {
			logger.Warn("could not ensure rate limit schema", zap.Error(err))
		}
		s.StartJanitor(ctx)
		return s, nil

	default:
		s := infra.NewMemoryCounterStore(infra.WithCleanupEvery(cfg.Store.CleanupEvery))
		s.StartJanitor(ctx)
		return s, nil
	}
}

func newStatsStore(cfg *config.Config, g *gateway) (domain.StatsStore, error) {
	switch cfg.Stats.Backend {
	case "memory":
		return infra.NewMemoryStatsStore(
			infra.WithTrackKeys(cfg.Stats.TrackKeys),
			infra.WithMaxEntries(cfg.Stats.MaxEntries),
		), nil
	case "redis":
		return infra.NewRedisStatsStore(g.redisClient(cfg),
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		), nil
	case "prometheus":
		return infra.NewPrometheusStats(g.Registry)
	default:
		return nil, nil
	}
}
