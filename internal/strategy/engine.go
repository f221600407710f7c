package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/indicator"
)

// Engine orchestrates strategy instances. It consumes per-symbol indicator
// snapshots, serializes evaluation per symbol, forwards trade intents to the
// intent channel consumed by the executor layer, and records every transition
// in the audit store.
type Engine struct {
	registry *indicator.Registry
	intentCh chan<- domain.TradeIntent
	audit    domain.AuditStore // optional, nil disables persistence
	health   domain.HealthSink
	logger   *slog.Logger

	mu        sync.RWMutex
	instances map[string][]*Instance // keyed by symbol
	configs   map[string]*Compiled   // keyed by strategy id

	// Position feedback from the executor goroutine is queued here and
	// applied at the top of OnSnapshot, so instances are only ever mutated
	// on the evaluation path.
	posMu      sync.Mutex
	pendingPos map[string][]positionUpdate // keyed by symbol
}

type positionUpdate struct {
	strategyID string
	pos        *domain.Position
}

// NewEngine creates an Engine. The intentCh is the output channel where
// emitted intents are sent to the executor.
func NewEngine(registry *indicator.Registry, intentCh chan<- domain.TradeIntent, audit domain.AuditStore, health domain.HealthSink, logger *slog.Logger) *Engine {
	return &Engine{
		registry:  registry,
		intentCh:  intentCh,
		audit:     audit,
		health:    health,
		logger:    logger.With(slog.String("component", "strategy_engine")),
		instances:  make(map[string][]*Instance),
		configs:    make(map[string]*Compiled),
		pendingPos: make(map[string][]positionUpdate),
	}
}

// Activate compiles and validates a strategy document, then arms one instance
// per symbol. Validation failures are fatal for the document: no instance is
// armed, inactive placeholders are recorded instead, and a named
// configuration error is returned. A strategy is never silently skipped.
func (e *Engine) Activate(doc Doc) error {
	cfg, err := Compile(doc, e.registry)
	if err != nil {
		e.mu.Lock()
		for _, symbol := range doc.Symbols {
			e.instances[symbol] = append(e.instances[symbol],
				NewInactiveInstance(doc.ID, symbol, err.Error()))
		}
		e.mu.Unlock()
		e.health.Report(domain.HealthEvent{
			Kind:      domain.HealthStrategyInactive,
			Detail:    fmt.Sprintf("strategy %s: %v", doc.ID, err),
			Severity:  domain.SeverityCritical,
			Timestamp: time.Now(),
		})
		return fmt.Errorf("strategy: activate %s: %w", doc.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.configs[cfg.ID]; exists {
		return fmt.Errorf("strategy: activate %s: already active", cfg.ID)
	}
	e.configs[cfg.ID] = cfg
	for _, symbol := range cfg.Symbols {
		e.instances[symbol] = append(e.instances[symbol], NewInstance(cfg, symbol))
	}
	e.logger.Info("strategy activated",
		slog.String("strategy", cfg.ID),
		slog.Int("symbols", len(cfg.Symbols)),
	)
	return nil
}

// Deactivate destroys all instances of the strategy.
func (e *Engine) Deactivate(strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.configs, strategyID)
	for symbol, list := range e.instances {
		kept := list[:0]
		for _, in := range list {
			if in.StrategyID() != strategyID {
				kept = append(kept, in)
			}
		}
		if len(kept) == 0 {
			delete(e.instances, symbol)
		} else {
			e.instances[symbol] = kept
		}
	}
	e.logger.Info("strategy deactivated", slog.String("strategy", strategyID))
}

// OnSnapshot evaluates every armed instance for the snapshot's symbol. It is
// called by the per-symbol pipeline after the indicator engine publishes the
// snapshot, so instances never observe a half-updated snapshot.
func (e *Engine) OnSnapshot(ctx context.Context, snap *domain.IndicatorSnapshot) {
	if snap == nil {
		return
	}
	e.mu.RLock()
	list := e.instances[snap.Symbol]
	e.mu.RUnlock()

	e.applyPendingPositions(snap.Symbol, list)

	now := time.Now()
	for _, in := range list {
		if in.State() == domain.StateInactive {
			continue
		}
		result := in.Evaluate(snap, now)
		e.reportMissing(in, snap)
		if !result.Changed {
			continue
		}
		e.logger.Info("state transition",
			slog.String("strategy", in.StrategyID()),
			slog.String("symbol", in.Symbol()),
			slog.String("from", string(result.From)),
			slog.String("to", string(result.To)),
			slog.String("trigger", string(result.TriggerGroup)),
		)
		e.recordAudit(ctx, in, result)
		e.emitIntent(ctx, in, result, now)
	}
}

// SetPosition feeds back the position reference reported by the execution
// collaborator. The update is queued and applied on the symbol's next
// evaluation pass: instances are not safe for concurrent use, so they must
// not be written from the executor goroutine while a snapshot is being
// evaluated.
func (e *Engine) SetPosition(strategyID, symbol string, pos *domain.Position) {
	e.posMu.Lock()
	defer e.posMu.Unlock()
	e.pendingPos[symbol] = append(e.pendingPos[symbol], positionUpdate{strategyID: strategyID, pos: pos})
}

// applyPendingPositions drains queued position feedback for the symbol and
// writes it into the matching instances. Runs on the evaluation goroutine,
// before the instances are evaluated, so exit conditions on the same pass
// already see the reported position.
func (e *Engine) applyPendingPositions(symbol string, list []*Instance) {
	e.posMu.Lock()
	updates := e.pendingPos[symbol]
	delete(e.pendingPos, symbol)
	e.posMu.Unlock()

	for _, u := range updates {
		for _, in := range list {
			if in.StrategyID() == u.strategyID {
				in.SetPosition(u.pos)
				break
			}
		}
	}
}

// Instances returns the instances armed for a symbol (diagnostics).
func (e *Engine) Instances(symbol string) []*Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Instance(nil), e.instances[symbol]...)
}

// emitIntent forwards a transition that implies an order action. Automatic
// transitions (cooldown expiry) carry no action and are skipped.
func (e *Engine) emitIntent(ctx context.Context, in *Instance, result TransitionResult, now time.Time) {
	intent := domain.TradeIntent{
		ID:           uuid.NewString(),
		StrategyID:   in.StrategyID(),
		Symbol:       in.Symbol(),
		FromState:    result.From,
		ToState:      result.To,
		TriggerGroup: result.TriggerGroup,
		Snapshot:     result.Snapshot,
		Timestamp:    now,
	}
	if intent.Action() == domain.IntentNone {
		return
	}
	select {
	case e.intentCh <- intent:
	case <-ctx.Done():
		e.logger.Warn("context cancelled while emitting intent",
			slog.String("intent_id", intent.ID),
		)
	}
}

func (e *Engine) recordAudit(ctx context.Context, in *Instance, result TransitionResult) {
	if e.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		StrategyID:   in.StrategyID(),
		Symbol:       in.Symbol(),
		FromState:    result.From,
		ToState:      result.To,
		TriggerGroup: result.TriggerGroup,
		Snapshot:     result.Snapshot.Values,
		TickTime:     result.Snapshot.TickTime,
	}
	if err := e.audit.LogTransition(ctx, entry); err != nil {
		e.logger.Warn("audit write failed",
			slog.String("strategy", in.StrategyID()),
			slog.String("symbol", in.Symbol()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) reportMissing(in *Instance, snap *domain.IndicatorSnapshot) {
	for _, ref := range in.DrainNewlyMissing(snap) {
		e.health.Report(domain.HealthEvent{
			Kind:      domain.HealthMissingIndicator,
			Symbol:    in.Symbol(),
			Detail:    fmt.Sprintf("strategy %s references %s, absent from snapshot", in.StrategyID(), ref),
			Severity:  domain.SeverityWarning,
			Timestamp: time.Now(),
		})
	}
}
