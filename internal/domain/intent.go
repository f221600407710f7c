package domain

import (
	"fmt"
	"time"
)

// TradeIntent is emitted by a strategy instance on every state transition
// that implies an order action (Z1 entry, ZE1 exit, E1 emergency exit). The
// execution collaborator is solely responsible for turning an intent into an
// order; the strategy layer never places orders itself.
type TradeIntent struct {
	ID           string // UUID, unique per delivery; for tracing and logs
	StrategyID   string
	Symbol       string
	FromState    State
	ToState      State
	TriggerGroup TriggerGroup
	// Snapshot is the indicator snapshot that produced the transition,
	// retained for audit and explainability.
	Snapshot  *IndicatorSnapshot
	Timestamp time.Time
}

// DedupKey identifies the transition that produced the intent. Every delivery
// mints a fresh ID, so duplicate suppression must key on what the intent
// means: the strategy, the symbol, the group that fired, and the tick that
// fired it. Redeliveries of the same transition share the key.
func (i TradeIntent) DedupKey() string {
	tick := i.Timestamp
	if i.Snapshot != nil {
		tick = i.Snapshot.TickTime
	}
	return fmt.Sprintf("%s|%s|%s|%d", i.StrategyID, i.Symbol, i.TriggerGroup, tick.UnixNano())
}

// Action describes the order action an intent implies.
func (i TradeIntent) Action() IntentAction {
	switch i.TriggerGroup {
	case TriggerZ1:
		return IntentOpenShort
	case TriggerZE1, TriggerE1:
		return IntentClosePosition
	default:
		return IntentNone
	}
}

// IntentAction is the order-level interpretation of a trade intent.
type IntentAction string

const (
	IntentNone          IntentAction = "none"
	IntentOpenShort     IntentAction = "open_short"
	IntentClosePosition IntentAction = "close_position"
)

// Position is a reference to an open position owned by the execution
// collaborator. The strategy layer only reads it for condition evaluation.
type Position struct {
	ID         string
	Symbol     string
	EntryPrice float64
	Size       float64
	OpenedAt   time.Time
}
