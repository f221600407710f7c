package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// TransitionResult is the outcome of evaluating one snapshot against one
// instance: either no change, or a transition with the group that fired and
// the snapshot that caused it.
type TransitionResult struct {
	Changed      bool
	From         domain.State
	To           domain.State
	TriggerGroup domain.TriggerGroup
	Snapshot     *domain.IndicatorSnapshot
}

// noChange is the zero result.
var noChange = TransitionResult{}

// Instance is one strategy state machine bound to a (strategy config, symbol)
// pair. State mutation through Evaluate is its only side effect; order
// placement is delegated to the executor via the intents the engine builds
// from transitions.
//
// An Instance is not safe for concurrent use; the engine serializes
// evaluation per symbol.
type Instance struct {
	cfg    *Compiled
	symbol string

	state          domain.State
	cooldownUntil  time.Time
	activePosition *domain.Position
	lastDecision   *domain.IndicatorSnapshot
	inactiveReason string

	// missing tracks indicator references already reported as absent, so a
	// persistently missing indicator is reported once, not every tick.
	// pendingMissing accumulates references seen during the current pass.
	missing        map[string]struct{}
	pendingMissing []string
}

// NewInstance creates an armed instance in MONITORING.
func NewInstance(cfg *Compiled, symbol string) *Instance {
	return &Instance{
		cfg:     cfg,
		symbol:  symbol,
		state:   domain.StateMonitoring,
		missing: make(map[string]struct{}),
	}
}

// NewInactiveInstance creates an instance that failed activation. It is never
// evaluated; the reason is retained for visibility.
func NewInactiveInstance(strategyID, symbol, reason string) *Instance {
	return &Instance{
		cfg:            &Compiled{ID: strategyID},
		symbol:         symbol,
		state:          domain.StateInactive,
		inactiveReason: reason,
		missing:        make(map[string]struct{}),
	}
}

// StrategyID returns the owning strategy configuration id.
func (in *Instance) StrategyID() string { return in.cfg.ID }

// Symbol returns the symbol this instance is armed for.
func (in *Instance) Symbol() string { return in.symbol }

// State returns the current state.
func (in *Instance) State() domain.State { return in.state }

// InactiveReason returns why the instance was deactivated, empty otherwise.
func (in *Instance) InactiveReason() string { return in.inactiveReason }

// CooldownUntil returns the cooldown deadline; zero when not in cooldown.
func (in *Instance) CooldownUntil() time.Time { return in.cooldownUntil }

// LastDecisionSnapshot returns the snapshot that produced the most recent
// transition, for audit.
func (in *Instance) LastDecisionSnapshot() *domain.IndicatorSnapshot { return in.lastDecision }

// SetPosition records the position reference reported back by the execution
// collaborator, used by exit condition evaluation.
func (in *Instance) SetPosition(pos *domain.Position) { in.activePosition = pos }

// Position returns the active position reference, nil when flat.
func (in *Instance) Position() *domain.Position { return in.activePosition }

// Evaluate runs one priority-ordered, short-circuiting decision pass for the
// snapshot. Per state:
//
//   - POSITION_ACTIVE: E1 (emergency exit) is evaluated first and wins ties
//     against ZE1; capital preservation must never be starved by a
//     simultaneously-true, less urgent exit.
//   - SIGNAL_DETECTED: O1 (cancel) is evaluated before Z1 and wins ties: a
//     strategy must not enter a position on the tick that also invalidates
//     the signal. A cancel returns straight to MONITORING; the cooldown is
//     reserved for position exits.
//   - MONITORING outside cooldown: S1.
//   - COOLDOWN: leaves automatically once the deadline passes; re-entering
//     cooldown never extends or shortens the original deadline.
func (in *Instance) Evaluate(snap *domain.IndicatorSnapshot, now time.Time) TransitionResult {
	if in.state == domain.StateInactive || snap == nil {
		return noChange
	}

	switch in.state {
	case domain.StateCooldown:
		if now.Before(in.cooldownUntil) {
			return noChange
		}
		in.cooldownUntil = time.Time{}
		return in.transition(domain.StateMonitoring, "", snap)

	case domain.StateMonitoring:
		if in.holds(in.cfg.S1, snap) {
			return in.transition(domain.StateSignalDetected, domain.TriggerS1, snap)
		}

	case domain.StateSignalDetected:
		// O1 before Z1: cancellation dominates entry on ties. No position was
		// opened, so no cooldown: the instance re-arms immediately.
		if in.holds(in.cfg.O1, snap) {
			return in.transition(domain.StateMonitoring, domain.TriggerO1, snap)
		}
		if in.holds(in.cfg.Z1, snap) {
			return in.transition(domain.StatePositionActive, domain.TriggerZ1, snap)
		}

	case domain.StatePositionActive:
		// E1 before ZE1: emergency exit dominates normal exit on ties.
		if in.holds(in.cfg.E1, snap) {
			in.startCooldown(now)
			return in.transition(domain.StateCooldown, domain.TriggerE1, snap)
		}
		if in.holds(in.cfg.ZE1, snap) {
			in.startCooldown(now)
			return in.transition(domain.StateCooldown, domain.TriggerZE1, snap)
		}
	}
	return noChange
}

// MissingIndicators drains the set of indicator references that became absent
// since the last drain. The engine reports each once as a health event.
type MissingIndicators []string

// DrainNewlyMissing returns references seen missing for the first time during
// the evaluations since the previous drain. References that reappear in a
// snapshot are eligible for reporting again if they go missing later.
func (in *Instance) DrainNewlyMissing(snap *domain.IndicatorSnapshot) MissingIndicators {
	var fresh MissingIndicators
	for ref := range in.missing {
		if _, present := snap.Value(ref); present {
			delete(in.missing, ref)
		}
	}
	for _, ref := range in.pendingMissing {
		if _, seen := in.missing[ref]; !seen {
			in.missing[ref] = struct{}{}
			fresh = append(fresh, ref)
		}
	}
	in.pendingMissing = in.pendingMissing[:0]
	return fresh
}

// holds evaluates a group, failing closed on missing indicators and queueing
// them for once-per-occurrence reporting.
func (in *Instance) holds(cond Condition, snap *domain.IndicatorSnapshot) bool {
	if cond == nil {
		return false
	}
	ok, missing := cond.Eval(snap)
	if len(missing) > 0 {
		in.pendingMissing = append(in.pendingMissing, missing...)
	}
	return ok
}

// startCooldown arms the cooldown deadline. Idempotent: a deadline already in
// the future is left untouched, so a duplicate exit cannot extend it.
func (in *Instance) startCooldown(now time.Time) {
	if in.cooldownUntil.After(now) {
		return
	}
	in.cooldownUntil = now.Add(in.cfg.Cooldown)
}

func (in *Instance) transition(to domain.State, trigger domain.TriggerGroup, snap *domain.IndicatorSnapshot) TransitionResult {
	from := in.state
	in.state = to
	in.lastDecision = snap
	if to != domain.StatePositionActive {
		in.activePosition = nil
	}
	return TransitionResult{
		Changed:      true,
		From:         from,
		To:           to,
		TriggerGroup: trigger,
		Snapshot:     snap,
	}
}

// String implements fmt.Stringer for log readability.
func (in *Instance) String() string {
	return fmt.Sprintf("%s/%s[%s]", in.cfg.ID, in.symbol, in.state)
}
