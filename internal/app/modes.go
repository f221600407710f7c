package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/executor"
	"github.com/alanyoungcy/pumpshort/internal/feed"
	"github.com/alanyoungcy/pumpshort/internal/indicator"
	"github.com/alanyoungcy/pumpshort/internal/platform/derivex"
	"github.com/alanyoungcy/pumpshort/internal/resilience"
	"github.com/alanyoungcy/pumpshort/internal/strategy"
)

// PaperMode runs the full decision pipeline with paper order execution: feed
// manager, indicator engine, strategy engine, and an executor that records
// orders instead of sending them to the exchange.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	registry := indicator.NewRegistry(indicator.Builtins())
	indEngine := a.newIndicatorEngine(registry, deps)

	intentCh := make(chan domain.TradeIntent, 32)
	stratEngine := strategy.NewEngine(registry, intentCh, deps.AuditStore, deps.Health, a.logger)
	a.activateStrategies(stratEngine)

	orderWrap := a.newWrapper("order_place", deps)
	placer := executor.NewPaperPlacer(a.logger)
	exec := executor.NewExecutor(intentCh, placer, stratEngine, orderWrap, a.cfg.Executor.DedupTTL.Duration, a.logger)

	manager := a.newFeedManager(deps, func(ctx context.Context, tick domain.Tick) {
		indEngine.OnTick(tick.Symbol, tick)
		if snap := indEngine.CurrentSnapshot(tick.Symbol); snap != nil {
			stratEngine.OnSnapshot(ctx, snap)
		}
	})
	for _, symbol := range a.cfg.Exchange.Symbols {
		manager.Subscribe(symbol)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return indEngine.RunStaleWatchdog(ctx, a.cfg.Indicator.WatchdogInterval.Duration) })
	g.Go(func() error { return exec.Run(ctx) })
	return g.Wait()
}

// MonitorMode runs the feed and indicator engines without a decision layer:
// snapshots are computed and health events flow, but no intents are emitted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	registry := indicator.NewRegistry(indicator.Builtins())
	indEngine := a.newIndicatorEngine(registry, deps)

	manager := a.newFeedManager(deps, func(ctx context.Context, tick domain.Tick) {
		indEngine.OnTick(tick.Symbol, tick)
	})
	for _, symbol := range a.cfg.Exchange.Symbols {
		manager.Subscribe(symbol)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return indEngine.RunStaleWatchdog(ctx, a.cfg.Indicator.WatchdogInterval.Duration) })
	return g.Wait()
}

// newIndicatorEngine builds the indicator engine from config.
func (a *App) newIndicatorEngine(registry *indicator.Registry, deps *Dependencies) *indicator.Engine {
	return indicator.NewEngine(registry, indicator.Config{
		WindowRetention: a.cfg.Indicator.WindowRetention.Duration,
		StaleAfter:      a.cfg.Indicator.StaleAfter.Duration,
	}, deps.Health, a.logger)
}

// newFeedManager builds the feed manager with resilience-wrapped connect and
// snapshot-refresh paths.
func (a *App) newFeedManager(deps *Dependencies, onTick feed.TickHandler) *feed.Manager {
	wsURL := a.cfg.Exchange.WSURL
	dial := func(ctx context.Context) (derivex.Conn, error) {
		return derivex.Dial(ctx, wsURL)
	}
	return feed.NewManager(dial, onTick, feed.Config{
		RefreshInterval:  a.cfg.Feed.RefreshInterval.Duration,
		PendingAgeWarn:   a.cfg.Feed.PendingAgeWarn.Duration,
		WatchdogInterval: a.cfg.Feed.WatchdogInterval.Duration,
		ReconnectDelay:   a.cfg.Feed.ReconnectDelay.Duration,
	},
		a.newWrapper("exchange_connect", deps),
		a.newWrapper("snapshot_refresh", deps),
		deps.BookCache,
		deps.Health,
		a.logger,
	)
}

// newWrapper builds a resilience wrapper for the named call-site from the
// shared resilience config. All failures are treated as transient; permanent
// classification happens per call-site when needed.
func (a *App) newWrapper(name string, deps *Dependencies) *resilience.Wrapper {
	return resilience.NewWrapper(name, resilience.Config{
		MaxAttempts:      a.cfg.Resilience.MaxAttempts,
		InitialBackoff:   a.cfg.Resilience.InitialBackoff.Duration,
		MaxBackoff:       a.cfg.Resilience.MaxBackoff.Duration,
		BreakerThreshold: a.cfg.Resilience.BreakerThreshold,
		BreakerRecovery:  a.cfg.Resilience.BreakerRecovery.Duration,
	}, nil, deps.Health, a.logger)
}

// activateStrategies compiles and activates every configured strategy
// document. A document that fails to compile is skipped: the engine records
// inactive placeholders and reports a health event, and the remaining
// strategies still come up.
func (a *App) activateStrategies(engine *strategy.Engine) {
	for _, doc := range a.cfg.Strategies {
		if err := engine.Activate(doc); err != nil {
			a.logger.Error("strategy activation failed",
				slog.String("strategy", doc.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
