package domain

// State is the phase a strategy instance is currently in for one symbol.
type State string

const (
	// StateMonitoring means no active signal; the instance is scanning for S1.
	StateMonitoring State = "MONITORING"
	// StateSignalDetected means S1 matched and the instance is waiting for
	// either entry (Z1) or cancellation (O1).
	StateSignalDetected State = "SIGNAL_DETECTED"
	// StatePositionActive means Z1 matched and a short position is open.
	StatePositionActive State = "POSITION_ACTIVE"
	// StateCooldown blocks re-arming until the cooldown deadline passes. It is
	// entered after any exit and left automatically once the deadline elapses.
	StateCooldown State = "COOLDOWN"
	// StateInactive means the instance could not be activated (bad config,
	// unknown indicator) and is never evaluated. The reason is recorded.
	StateInactive State = "INACTIVE"
)

// TriggerGroup names one of the five condition groups that drive transitions.
type TriggerGroup string

const (
	// TriggerS1 is the pump signal-detect group.
	TriggerS1 TriggerGroup = "S1"
	// TriggerO1 is the cancel/timeout group, leaving SIGNAL_DETECTED without
	// ever opening a position.
	TriggerO1 TriggerGroup = "O1"
	// TriggerZ1 is the short-entry group.
	TriggerZ1 TriggerGroup = "Z1"
	// TriggerZE1 is the normal exit group.
	TriggerZE1 TriggerGroup = "ZE1"
	// TriggerE1 is the emergency exit group; it always dominates ZE1.
	TriggerE1 TriggerGroup = "E1"
)
