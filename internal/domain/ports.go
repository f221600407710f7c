package domain

import (
	"context"
	"time"
)

// OrderPlacer turns a trade intent into an exchange order. Order execution is
// an external collaborator; the core only defines the contract.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, intent TradeIntent) (orderID string, err error)
}

// AuditEntry is one persisted state-transition record.
type AuditEntry struct {
	ID           int64
	StrategyID   string
	Symbol       string
	FromState    State
	ToState      State
	TriggerGroup TriggerGroup
	// Snapshot holds the decision snapshot values keyed by variant identity.
	Snapshot  map[string]float64
	TickTime  time.Time
	CreatedAt time.Time
}

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists the transition audit trail.
type AuditStore interface {
	LogTransition(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// OrderbookCache mirrors the locally maintained order book for diagnostics.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, symbol string, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (OrderbookSnapshot, error)
	UpdateLevel(ctx context.Context, symbol string, side BookSide, price, size float64) error
	MarkStale(ctx context.Context, symbol string) error
}

// SignalBus is the outbound observability feed: live pub/sub plus a durable
// stream for health events. The pipeline only writes; consumers sit on the
// other side of the bus.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
