package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/indicator"
)

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAudit) LogTransition(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.entries...), nil
}

type captureSink struct {
	mu     sync.Mutex
	events []domain.HealthEvent
}

func (s *captureSink) Report(ev domain.HealthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []domain.HealthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HealthEvent(nil), s.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, chan domain.TradeIntent, *fakeAudit, *captureSink) {
	t.Helper()
	reg := indicator.NewRegistry(indicator.Builtins())
	intentCh := make(chan domain.TradeIntent, 8)
	audit := &fakeAudit{}
	sink := &captureSink{}
	return NewEngine(reg, intentCh, audit, sink, discardLogger()), intentCh, audit, sink
}

func TestEngineActivateArmsInstancesPerSymbol(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	doc := validDoc()
	doc.Symbols = []string{"PEPE-USDT", "DOGE-USDT"}
	require.NoError(t, e.Activate(doc))

	require.Len(t, e.Instances("PEPE-USDT"), 1)
	require.Len(t, e.Instances("DOGE-USDT"), 1)
	assert.Equal(t, domain.StateMonitoring, e.Instances("PEPE-USDT")[0].State())
}

func TestEngineActivateRejectsDuplicateID(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))

	err := e.Activate(validDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
	assert.Len(t, e.Instances("PEPE-USDT"), 1, "the duplicate must not arm a second instance")
}

func TestEngineActivateCompileFailureArmsInactivePlaceholders(t *testing.T) {
	e, _, _, sink := newTestEngine(t)

	doc := validDoc()
	doc.Groups.S1 = ConditionDoc{Indicator: "volatility(window_sec=60)", Op: ">", Threshold: 1}
	err := e.Activate(doc)
	require.ErrorIs(t, err, domain.ErrUnknownVariant)

	list := e.Instances("PEPE-USDT")
	require.Len(t, list, 1)
	assert.Equal(t, domain.StateInactive, list[0].State())
	assert.NotEmpty(t, list[0].InactiveReason())

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.HealthStrategyInactive, events[0].Kind)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
}

func TestEngineOnSnapshotDrivesLifecycleAndEmitsIntent(t *testing.T) {
	e, intentCh, audit, _ := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))
	ctx := context.Background()

	// Signal detection: a transition but no order action.
	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 16, velRef: 1, dropRef: 0}))
	require.Empty(t, intentCh)

	// Entry: the Z1 transition must emit an open-short intent.
	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 10, velRef: -0.2, dropRef: 1}))
	require.Len(t, intentCh, 1)

	intent := <-intentCh
	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, "pump-short", intent.StrategyID)
	assert.Equal(t, "PEPE-USDT", intent.Symbol)
	assert.Equal(t, domain.TriggerZ1, intent.TriggerGroup)
	assert.Equal(t, domain.IntentOpenShort, intent.Action())

	// Both transitions were audited.
	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.StateSignalDetected, entries[0].ToState)
	assert.Equal(t, domain.StatePositionActive, entries[1].ToState)
	assert.Equal(t, 10.0, entries[1].Snapshot[pumpRef])
}

func TestEngineEmitsCloseIntentOnExit(t *testing.T) {
	e, intentCh, _, _ := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))
	ctx := context.Background()

	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 16, velRef: 1, dropRef: 0}))
	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 10, velRef: -0.2, dropRef: 1}))
	<-intentCh

	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 10, velRef: 0.5, dropRef: 11}))
	require.Len(t, intentCh, 1)
	intent := <-intentCh
	assert.Equal(t, domain.TriggerZE1, intent.TriggerGroup)
	assert.Equal(t, domain.IntentClosePosition, intent.Action())
}

func TestEngineSetPositionAppliesOnNextEvaluationPass(t *testing.T) {
	e, intentCh, _, _ := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))
	ctx := context.Background()

	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 16, velRef: 1, dropRef: 0}))
	e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 10, velRef: -0.2, dropRef: 1}))
	<-intentCh

	// Feedback is queued, not written into the instance directly; it lands
	// when the symbol is next evaluated.
	pos := &domain.Position{ID: "p1", Symbol: "PEPE-USDT", EntryPrice: 0.001}
	e.SetPosition("pump-short", "PEPE-USDT", pos)
	assert.Nil(t, e.Instances("PEPE-USDT")[0].Position())

	neutral := map[string]float64{pumpRef: 10, velRef: 1, dropRef: 0}
	e.OnSnapshot(ctx, snap(neutral))
	assert.Same(t, pos, e.Instances("PEPE-USDT")[0].Position())

	// Unknown strategy id drains without matching anything.
	e.SetPosition("other", "PEPE-USDT", nil)
	e.OnSnapshot(ctx, snap(neutral))
	assert.Same(t, pos, e.Instances("PEPE-USDT")[0].Position())
}

func TestEngineSetPositionSafeDuringEvaluation(t *testing.T) {
	e, intentCh, _, _ := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))
	ctx := context.Background()

	// Hammer position feedback from a second goroutine while snapshots are
	// being evaluated, the way the executor reports fills mid-stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			e.SetPosition("pump-short", "PEPE-USDT", &domain.Position{ID: "p", Symbol: "PEPE-USDT"})
			e.SetPosition("pump-short", "PEPE-USDT", nil)
		}
	}()

	for i := 0; i < 200; i++ {
		e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 16, velRef: 1, dropRef: 0}))
		e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 10, velRef: -0.2, dropRef: 1}))
		e.OnSnapshot(ctx, snap(map[string]float64{pumpRef: 10, velRef: 0.5, dropRef: 11}))
	drain:
		for {
			select {
			case <-intentCh:
			default:
				break drain
			}
		}
	}
	<-done
}

func TestEngineReportsMissingIndicatorsOnce(t *testing.T) {
	e, _, _, sink := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))
	ctx := context.Background()

	// S1 references the pump variant; leave it out of the snapshot.
	partial := map[string]float64{velRef: -1, dropRef: 0}
	e.OnSnapshot(ctx, snap(partial))
	e.OnSnapshot(ctx, snap(partial))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.HealthMissingIndicator, events[0].Kind)
	assert.Equal(t, "PEPE-USDT", events[0].Symbol)
	assert.Contains(t, events[0].Detail, pumpRef)
}

func TestEngineDeactivateRemovesInstances(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	require.NoError(t, e.Activate(validDoc()))
	require.Len(t, e.Instances("PEPE-USDT"), 1)

	e.Deactivate("pump-short")
	assert.Empty(t, e.Instances("PEPE-USDT"))

	// The id is free again.
	require.NoError(t, e.Activate(validDoc()))
}
