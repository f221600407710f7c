package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/pumpshort/internal/cache/redis"
	"github.com/alanyoungcy/pumpshort/internal/config"
	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/health"
	"github.com/alanyoungcy/pumpshort/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the application
// modes build on. Engines (feed, indicator, strategy, executor) are
// constructed per mode; this struct carries only what survives a mode switch.
type Dependencies struct {
	// AuditStore is nil when Postgres is disabled; the strategy engine
	// degrades to log-only transitions.
	AuditStore domain.AuditStore

	// SignalBus and BookCache are nil when Redis is disabled.
	SignalBus domain.SignalBus
	BookCache domain.OrderbookCache

	// Health fans events out to the log sink and, when Redis is enabled, the
	// signal bus.
	Health *health.Reporter
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (audit trail) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		store := postgres.NewAuditStore(pgClient.Pool())
		deps.AuditStore = store
		logLastTransition(ctx, store, logger)
	}

	// --- Redis (signal bus + order-book mirror) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.BookCache = redis.NewOrderbookCache(redisClient)
	}

	// --- Health reporter ---
	deps.Health = health.NewReporter(health.NewSlogSink(logger))
	if deps.SignalBus != nil {
		deps.Health.Attach(health.NewBusSink(deps.SignalBus, cfg.Health.Channel, cfg.Health.Stream, logger))
	}

	return deps, cleanup, nil
}

// logLastTransition surfaces where the previous run left off. Strategy state
// is not persisted across restarts, so an operator restarting mid-position
// needs to see the last audited transition.
func logLastTransition(ctx context.Context, store domain.AuditStore, logger *slog.Logger) {
	entries, err := store.List(ctx, domain.ListOpts{Limit: 1})
	if err != nil {
		logger.Warn("audit trail lookup failed", slog.String("error", err.Error()))
		return
	}
	if len(entries) == 0 {
		logger.Info("audit trail empty, first run")
		return
	}
	last := entries[0]
	logger.Info("audit trail resumed",
		slog.String("strategy", last.StrategyID),
		slog.String("symbol", last.Symbol),
		slog.String("last_state", string(last.ToState)),
		slog.Time("at", last.CreatedAt),
	)
}
