package indicator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Engine owns one tick window per symbol and recomputes every registered
// variant whenever a new tick arrives, then publishes the fresh snapshot
// atomically. One writer per symbol (the feed pipeline), any number of
// lock-free readers.
type Engine struct {
	registry   *Registry
	maxAge     time.Duration
	staleAfter time.Duration
	health     domain.HealthSink
	logger     *slog.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// symbolState is the per-symbol pipeline state. The window is touched only by
// the symbol's writer goroutine; snap and lastTick are shared with readers.
type symbolState struct {
	window   *Window
	snap     atomic.Pointer[domain.IndicatorSnapshot]
	lastTick atomic.Int64 // unix nanos of the newest accepted tick
	stale    atomic.Bool  // true once a staleness event has been reported
}

// Config tunes the engine.
type Config struct {
	// WindowRetention must cover the longest lookback of any registered
	// variant; older ticks are evicted.
	WindowRetention time.Duration
	// StaleAfter is the silence threshold for the stale-data watchdog.
	StaleAfter time.Duration
}

// NewEngine creates an engine over the given registry.
func NewEngine(registry *Registry, cfg Config, health domain.HealthSink, logger *slog.Logger) *Engine {
	if cfg.WindowRetention <= 0 {
		cfg.WindowRetention = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	return &Engine{
		registry:   registry,
		maxAge:     cfg.WindowRetention,
		staleAfter: cfg.StaleAfter,
		health:     health,
		logger:     logger.With(slog.String("component", "indicator_engine")),
		symbols:    make(map[string]*symbolState),
	}
}

// OnTick ingests one tick for a symbol, recomputes all registered variants
// over the updated window, and publishes the new snapshot. It must be called
// from a single goroutine per symbol; the published snapshot is immediately
// visible to concurrent readers.
func (e *Engine) OnTick(symbol string, tick domain.Tick) {
	st := e.state(symbol)

	if err := st.window.Append(tick); err != nil {
		e.logger.Warn("tick rejected",
			slog.String("symbol", symbol),
			slog.Time("tick_time", tick.Timestamp),
			slog.String("error", err.Error()),
		)
		return
	}
	st.lastTick.Store(tick.Timestamp.UnixNano())
	st.stale.Store(false)

	variants := e.registry.Variants()
	values := make(map[string]float64, len(variants))
	for _, v := range variants {
		if val, ok := v.Compute(st.window); ok {
			values[v.ID()] = val
		}
	}

	st.snap.Store(&domain.IndicatorSnapshot{
		Symbol:   symbol,
		Values:   values,
		TickTime: tick.Timestamp,
	})
}

// CurrentSnapshot returns the last published snapshot for the symbol, or nil
// when no tick has been processed yet. The read is lock-free.
func (e *Engine) CurrentSnapshot(symbol string) *domain.IndicatorSnapshot {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	return st.snap.Load()
}

// Symbols returns the symbols the engine has seen ticks for.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		out = append(out, s)
	}
	return out
}

// RunStaleWatchdog periodically checks every symbol for tick-stream silence
// and reports a stale-data health event once per stretch of silence. It
// blocks until the context is cancelled.
func (e *Engine) RunStaleWatchdog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.checkStale(now)
		}
	}
}

func (e *Engine) checkStale(now time.Time) {
	e.mu.RLock()
	states := make(map[string]*symbolState, len(e.symbols))
	for s, st := range e.symbols {
		states[s] = st
	}
	e.mu.RUnlock()

	for symbol, st := range states {
		last := time.Unix(0, st.lastTick.Load())
		if now.Sub(last) < e.staleAfter {
			continue
		}
		// Report once per stretch of silence, not on every sweep.
		if st.stale.CompareAndSwap(false, true) {
			e.health.Report(domain.HealthEvent{
				Kind:      domain.HealthStaleData,
				Symbol:    symbol,
				Detail:    "tick stream silent beyond staleness threshold",
				Severity:  domain.SeverityWarning,
				Timestamp: now,
			})
		}
	}
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{window: NewWindow(e.maxAge)}
	e.symbols[symbol] = st
	return st
}
