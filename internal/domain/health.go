package domain

import "time"

// HealthKind classifies a health-signal event.
type HealthKind string

const (
	// HealthPendingSubscriptionAged fires when a subscription has been pending
	// beyond the configured threshold without all three confirmations.
	HealthPendingSubscriptionAged HealthKind = "pending_subscription_aged"
	// HealthOrphanedConfirmation fires when a channel confirmation arrives for
	// a symbol that is no longer in the pending set. This is a protocol
	// invariant violation and must never be dropped silently.
	HealthOrphanedConfirmation HealthKind = "orphaned_confirmation"
	// HealthSnapshotRefreshFailed fires when a periodic full-book refresh
	// request fails or finds no live connection for its symbol.
	HealthSnapshotRefreshFailed HealthKind = "snapshot_refresh_failed"
	// HealthCircuitStateChanged fires on every circuit breaker transition.
	HealthCircuitStateChanged HealthKind = "circuit_state_changed"
	// HealthStaleData fires when a symbol's tick stream goes silent beyond the
	// staleness threshold.
	HealthStaleData HealthKind = "stale_data"
	// HealthMissingIndicator fires once per occurrence when a condition group
	// references an indicator absent from the snapshot.
	HealthMissingIndicator HealthKind = "missing_indicator"
	// HealthBookStale fires when a connection loss marks local books stale.
	HealthBookStale HealthKind = "book_stale"
	// HealthStrategyInactive fires when a strategy instance is deactivated
	// with a reason instead of being silently skipped.
	HealthStrategyInactive HealthKind = "strategy_inactive"
)

// Severity grades a health event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HealthEvent is one entry in the health-signal stream consumed by the
// observability collaborator.
type HealthEvent struct {
	Kind      HealthKind
	Symbol    string // empty when the event is not symbol-scoped
	Detail    string
	Severity  Severity
	Timestamp time.Time
}

// HealthSink receives health events. Implementations must be safe for
// concurrent use and must never block the caller indefinitely.
type HealthSink interface {
	Report(event HealthEvent)
}

// HealthSinkFunc adapts a function to the HealthSink interface.
type HealthSinkFunc func(event HealthEvent)

// Report implements HealthSink.
func (f HealthSinkFunc) Report(event HealthEvent) { f(event) }
