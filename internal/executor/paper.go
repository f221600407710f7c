package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// PaperPlacer implements domain.OrderPlacer without touching the exchange:
// it assigns order IDs and records the intents it saw. Useful for dry runs
// and tests.
type PaperPlacer struct {
	logger *slog.Logger

	mu     sync.Mutex
	placed []domain.TradeIntent
}

// NewPaperPlacer creates a PaperPlacer.
func NewPaperPlacer(logger *slog.Logger) *PaperPlacer {
	return &PaperPlacer{logger: logger.With(slog.String("component", "paper_placer"))}
}

// PlaceOrder implements domain.OrderPlacer.
func (p *PaperPlacer) PlaceOrder(ctx context.Context, intent domain.TradeIntent) (string, error) {
	p.mu.Lock()
	p.placed = append(p.placed, intent)
	p.mu.Unlock()

	orderID := uuid.NewString()
	p.logger.Info("paper order",
		slog.String("order_id", orderID),
		slog.String("symbol", intent.Symbol),
		slog.String("action", string(intent.Action())),
		slog.String("trigger", string(intent.TriggerGroup)),
	)
	return orderID, nil
}

// Placed returns a copy of the intents placed so far.
func (p *PaperPlacer) Placed() []domain.TradeIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TradeIntent(nil), p.placed...)
}

// Compile-time interface check.
var _ domain.OrderPlacer = (*PaperPlacer)(nil)
