// Package executor is the execution-collaborator boundary: it consumes trade
// intents emitted by the strategy layer and turns them into orders through an
// OrderPlacer. The decision core never places orders itself.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/resilience"
)

// PositionReporter receives the position reference after a fill so exit
// conditions can see it. The strategy engine implements it.
type PositionReporter interface {
	SetPosition(strategyID, symbol string, pos *domain.Position)
}

// Executor reads trade intents from a channel, applies deduplication, and
// places orders through the OrderPlacer wrapped by the resilience layer.
type Executor struct {
	intentCh  <-chan domain.TradeIntent
	placer    domain.OrderPlacer
	positions PositionReporter
	wrap      *resilience.Wrapper
	dedup     *Dedup
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor reading from intentCh. A non-positive
// dedupTTL falls back to five minutes.
func NewExecutor(intentCh <-chan domain.TradeIntent, placer domain.OrderPlacer, positions PositionReporter, wrap *resilience.Wrapper, dedupTTL time.Duration, logger *slog.Logger) *Executor {
	if dedupTTL <= 0 {
		dedupTTL = 5 * time.Minute
	}
	return &Executor{
		intentCh:        intentCh,
		placer:          placer,
		positions:       positions,
		wrap:            wrap,
		dedup:           NewDedup(dedupTTL),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: time.Minute,
	}
}

// Run processes intents until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			e.dedup.Cleanup()
		case intent := <-e.intentCh:
			e.handle(ctx, intent)
		}
	}
}

func (e *Executor) handle(ctx context.Context, intent domain.TradeIntent) {
	if e.dedup.IsDuplicate(intent.DedupKey()) {
		e.logger.Warn("duplicate intent skipped",
			slog.String("intent_id", intent.ID),
			slog.String("dedup_key", intent.DedupKey()),
		)
		return
	}
	if intent.Action() == domain.IntentNone {
		return
	}

	var orderID string
	err := e.wrap.Do(ctx, func(ctx context.Context) error {
		id, err := e.placer.PlaceOrder(ctx, intent)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		e.logger.Error("order placement failed",
			slog.String("intent_id", intent.ID),
			slog.String("strategy", intent.StrategyID),
			slog.String("symbol", intent.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("order placed",
		slog.String("intent_id", intent.ID),
		slog.String("order_id", orderID),
		slog.String("action", string(intent.Action())),
		slog.String("symbol", intent.Symbol),
	)

	if e.positions == nil {
		return
	}
	switch intent.Action() {
	case domain.IntentOpenShort:
		// The fill price arrives with the execution report in a live
		// integration; the paper placer reports the order only.
		e.positions.SetPosition(intent.StrategyID, intent.Symbol, &domain.Position{
			ID:       orderID,
			Symbol:   intent.Symbol,
			OpenedAt: time.Now(),
		})
	case domain.IntentClosePosition:
		e.positions.SetPosition(intent.StrategyID, intent.Symbol, nil)
	}
}
