package indicator

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// recordingSink captures health events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.HealthEvent
}

func (s *recordingSink) Report(ev domain.HealthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []domain.HealthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HealthEvent(nil), s.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, sink *recordingSink) *Engine {
	t.Helper()
	reg := NewRegistry(Builtins())
	_, err := reg.Instantiate("pump_magnitude_pct", map[string]float64{"window_sec": 30})
	require.NoError(t, err)
	_, err = reg.Instantiate("price_velocity", map[string]float64{"window_sec": 30})
	require.NoError(t, err)
	return NewEngine(reg, Config{WindowRetention: 10 * time.Minute, StaleAfter: 5 * time.Second}, sink, testLogger())
}

func TestEnginePublishesSnapshotPerTick(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, &recordingSink{})

	assert.Nil(t, e.CurrentSnapshot("PEPE-USDT"), "no snapshot before first tick")

	e.OnTick("PEPE-USDT", tick(base, 100, 1))
	snap := e.CurrentSnapshot("PEPE-USDT")
	require.NotNil(t, snap)
	// One sample: both variants withhold their values.
	assert.Empty(t, snap.Values)
	assert.Equal(t, base, snap.TickTime)

	e.OnTick("PEPE-USDT", tick(base.Add(10*time.Second), 115, 1))
	snap = e.CurrentSnapshot("PEPE-USDT")
	require.NotNil(t, snap)

	got, ok := snap.Value("pump_magnitude_pct(window_sec=30)")
	require.True(t, ok)
	assert.InDelta(t, 15.0, got, 1e-9)

	got, ok = snap.Value("price_velocity(window_sec=30)")
	require.True(t, ok)
	assert.InDelta(t, 1.5, got, 1e-9)
}

func TestEngineIgnoresOutOfOrderTicks(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, &recordingSink{})

	e.OnTick("PEPE-USDT", tick(base, 100, 1))
	e.OnTick("PEPE-USDT", tick(base.Add(10*time.Second), 115, 1))
	before := e.CurrentSnapshot("PEPE-USDT")

	// Regressing timestamp: the tick is rejected and the snapshot unchanged.
	e.OnTick("PEPE-USDT", tick(base.Add(5*time.Second), 50, 1))
	after := e.CurrentSnapshot("PEPE-USDT")
	assert.Same(t, before, after)
}

func TestEngineSymbolsAreIndependent(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, &recordingSink{})

	e.OnTick("PEPE-USDT", tick(base, 100, 1))
	e.OnTick("PEPE-USDT", tick(base.Add(time.Second), 110, 1))
	e.OnTick("DOGE-USDT", domain.Tick{Symbol: "DOGE-USDT", Price: 0.1, Volume: 1, Timestamp: base})

	pepe := e.CurrentSnapshot("PEPE-USDT")
	doge := e.CurrentSnapshot("DOGE-USDT")
	require.NotNil(t, pepe)
	require.NotNil(t, doge)
	assert.NotEmpty(t, pepe.Values)
	assert.Empty(t, doge.Values)
	assert.ElementsMatch(t, []string{"PEPE-USDT", "DOGE-USDT"}, e.Symbols())
}

func TestEngineStaleWatchdogReportsOncePerSilence(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	e := newTestEngine(t, sink)

	e.OnTick("PEPE-USDT", tick(base, 100, 1))

	// Two sweeps beyond the threshold: exactly one event.
	e.checkStale(base.Add(10 * time.Second))
	e.checkStale(base.Add(20 * time.Second))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.HealthStaleData, events[0].Kind)
	assert.Equal(t, "PEPE-USDT", events[0].Symbol)

	// A fresh tick rearms the watchdog for the next stretch of silence.
	e.OnTick("PEPE-USDT", tick(base.Add(25*time.Second), 100, 1))
	e.checkStale(base.Add(40 * time.Second))
	assert.Len(t, sink.all(), 2)
}
