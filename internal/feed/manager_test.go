package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/platform/derivex"
	"github.com/alanyoungcy/pumpshort/internal/resilience"
)

type subCall struct {
	channel derivex.Channel
	symbol  string
}

// fakeConn is an in-memory derivex.Conn that records outbound commands.
type fakeConn struct {
	mu           sync.Mutex
	subscribes   []subCall
	unsubscribes []subCall
	snapshotReqs []string
	events       chan derivex.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan derivex.Event, 64)}
}

func (f *fakeConn) Subscribe(_ context.Context, ch derivex.Channel, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, subCall{ch, symbol})
	return nil
}

func (f *fakeConn) Unsubscribe(_ context.Context, ch derivex.Channel, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, subCall{ch, symbol})
	return nil
}

func (f *fakeConn) RequestSnapshot(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotReqs = append(f.snapshotReqs, symbol)
	return nil
}

func (f *fakeConn) Events() <-chan derivex.Event { return f.events }
func (f *fakeConn) Close() error                 { return nil }

func (f *fakeConn) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func (f *fakeConn) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshotReqs)
}

type healthRecorder struct {
	mu     sync.Mutex
	events []domain.HealthEvent
}

func (h *healthRecorder) Report(ev domain.HealthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *healthRecorder) all() []domain.HealthEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.HealthEvent(nil), h.events...)
}

func (h *healthRecorder) byKind(kind domain.HealthKind) []domain.HealthEvent {
	var out []domain.HealthEvent
	for _, ev := range h.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type tickRecorder struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (r *tickRecorder) handle(_ context.Context, tick domain.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tick)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, fc *fakeConn) (*Manager, *healthRecorder, *tickRecorder) {
	t.Helper()
	health := &healthRecorder{}
	ticks := &tickRecorder{}
	rcfg := resilience.Config{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
	}
	dial := func(context.Context) (derivex.Conn, error) { return fc, nil }
	m := NewManager(dial, ticks.handle, Config{RefreshInterval: time.Minute},
		resilience.NewWrapper("exchange_connect", rcfg, nil, nil, quietLogger()),
		resilience.NewWrapper("snapshot_request", rcfg, nil, nil, quietLogger()),
		nil, health, quietLogger())
	m.setConn(fc)
	t.Cleanup(func() { m.teardown(context.Background(), "test cleanup") })
	return m, health, ticks
}

func confirmation(ch derivex.Channel, symbol string) *derivex.Confirmation {
	return &derivex.Confirmation{Channel: ch, Symbol: symbol}
}

// Handshake state is owned by the run loop; these tests stand in for that
// loop by invoking the handlers directly, preserving the serialized-event
// model.

func TestManagerHandshakeCompletesOnlyAfterAllThreeChannels(t *testing.T) {
	m, _, _ := newTestManager(t, newFakeConn())
	ctx := context.Background()

	m.handleSubscribe(ctx, "PEPE-USDT")
	require.Equal(t, 1, m.PendingCount())

	m.handleConfirmation(ctx, confirmation(derivex.ChannelTrade, "PEPE-USDT"))
	m.handleConfirmation(ctx, confirmation(derivex.ChannelDepthDelta, "PEPE-USDT"))
	assert.Equal(t, 1, m.PendingCount(), "two confirmations must not complete the handshake")
	assert.False(t, m.HasRefresher("PEPE-USDT"))

	m.handleConfirmation(ctx, confirmation(derivex.ChannelDepthSnapshot, "PEPE-USDT"))
	assert.Zero(t, m.PendingCount())
	assert.True(t, m.HasRefresher("PEPE-USDT"))
	assert.Equal(t, 1, m.RefresherCount())
}

func TestManagerSnapshotConfirmationFirstStartsExactlyOneRefresher(t *testing.T) {
	m, _, _ := newTestManager(t, newFakeConn())
	ctx := context.Background()

	m.handleSubscribe(ctx, "PEPE-USDT")

	// Snapshot channel confirms first: the refresher starts immediately, but
	// the pending entry stays until the other two channels arrive.
	m.handleConfirmation(ctx, confirmation(derivex.ChannelDepthSnapshot, "PEPE-USDT"))
	assert.True(t, m.HasRefresher("PEPE-USDT"))
	assert.Equal(t, 1, m.PendingCount())

	m.handleConfirmation(ctx, confirmation(derivex.ChannelTrade, "PEPE-USDT"))
	m.handleConfirmation(ctx, confirmation(derivex.ChannelDepthDelta, "PEPE-USDT"))
	assert.Zero(t, m.PendingCount())
	assert.Equal(t, 1, m.RefresherCount(), "a duplicate refresher must never start")
}

func TestManagerOrphanedConfirmationResubscribes(t *testing.T) {
	fc := newFakeConn()
	m, health, _ := newTestManager(t, fc)
	ctx := context.Background()

	// The symbol is wanted but has no in-flight handshake: the confirmation
	// arrives orphaned, e.g. after a teardown cleared the pending set.
	m.subscribed["PEPE-USDT"] = struct{}{}
	m.handleConfirmation(ctx, confirmation(derivex.ChannelTrade, "PEPE-USDT"))

	events := health.byKind(domain.HealthOrphanedConfirmation)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
	assert.Equal(t, "PEPE-USDT", events[0].Symbol)

	// Recovery: a fresh three-channel handshake was issued.
	assert.Equal(t, 3, fc.subscribeCount())
	assert.Equal(t, 1, m.PendingCount())
}

func TestManagerOrphanedConfirmationForUnwantedSymbol(t *testing.T) {
	fc := newFakeConn()
	m, health, _ := newTestManager(t, fc)

	m.handleConfirmation(context.Background(), confirmation(derivex.ChannelTrade, "GHOST-USDT"))

	require.Len(t, health.byKind(domain.HealthOrphanedConfirmation), 1)
	assert.Zero(t, fc.subscribeCount(), "no resubscribe for a symbol nobody wants")
	assert.Zero(t, m.PendingCount())
}

func TestManagerOutOfSequenceDeltaRequestsSnapshot(t *testing.T) {
	fc := newFakeConn()
	m, _, _ := newTestManager(t, fc)
	ctx := context.Background()
	now := time.Now()

	m.handleSnapshot(ctx, &domain.OrderbookSnapshot{
		Symbol:    "PEPE-USDT",
		Sequence:  10,
		Bids:      []domain.PriceLevel{{Price: 0.0010, Size: 500}},
		Timestamp: now,
	})

	m.handleDepth(ctx, &domain.DepthUpdate{
		Symbol: "PEPE-USDT", Side: domain.BookSideBid,
		Price: 0.0010, Size: 600, Sequence: 5, Timestamp: now,
	})
	assert.Equal(t, 1, fc.snapshotCount(), "a stale delta forces a full refresh")

	m.handleDepth(ctx, &domain.DepthUpdate{
		Symbol: "PEPE-USDT", Side: domain.BookSideBid,
		Price: 0.0010, Size: 600, Sequence: 11, Timestamp: now,
	})
	assert.Equal(t, 1, fc.snapshotCount(), "an in-sequence delta needs no refresh")
}

func TestManagerTradeEventsReachTickHandler(t *testing.T) {
	m, _, ticks := newTestManager(t, newFakeConn())

	tick := domain.Tick{Symbol: "PEPE-USDT", Price: 0.001, Volume: 100, Timestamp: time.Now()}
	m.handleEvent(context.Background(), derivex.Event{Trade: &tick})

	require.Len(t, ticks.ticks, 1)
	assert.Equal(t, tick, ticks.ticks[0])
}

func TestManagerTeardownMarksBooksStaleAndClearsState(t *testing.T) {
	m, health, _ := newTestManager(t, newFakeConn())
	ctx := context.Background()

	m.handleSubscribe(ctx, "PEPE-USDT")
	m.handleConfirmation(ctx, confirmation(derivex.ChannelDepthSnapshot, "PEPE-USDT"))
	m.handleSnapshot(ctx, &domain.OrderbookSnapshot{
		Symbol:    "PEPE-USDT",
		Sequence:  1,
		Bids:      []domain.PriceLevel{{Price: 0.0010, Size: 500}},
		Timestamp: time.Now(),
	})

	m.teardown(ctx, "connection lost")

	assert.True(t, m.books["PEPE-USDT"].stale)
	assert.Zero(t, m.PendingCount())
	assert.Zero(t, m.RefresherCount())

	events := health.byKind(domain.HealthBookStale)
	require.Len(t, events, 1)
	assert.Equal(t, "connection lost", events[0].Detail)
}

func TestManagerUnsubscribeStopsRefresher(t *testing.T) {
	fc := newFakeConn()
	m, _, _ := newTestManager(t, fc)
	ctx := context.Background()

	m.handleSubscribe(ctx, "PEPE-USDT")
	m.handleConfirmation(ctx, confirmation(derivex.ChannelDepthSnapshot, "PEPE-USDT"))
	require.True(t, m.HasRefresher("PEPE-USDT"))

	m.handleUnsubscribe(ctx, "PEPE-USDT")
	assert.False(t, m.HasRefresher("PEPE-USDT"))
	assert.Zero(t, m.PendingCount())
	_, tracked := m.subscribed["PEPE-USDT"]
	assert.False(t, tracked)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Len(t, fc.unsubscribes, 3, "all three channels are unsubscribed")
}

// fakeBookCache records mirror writes.
type fakeBookCache struct {
	mu        sync.Mutex
	snapshots map[string]domain.OrderbookSnapshot
	stale     map[string]bool
}

func newFakeBookCache() *fakeBookCache {
	return &fakeBookCache{
		snapshots: make(map[string]domain.OrderbookSnapshot),
		stale:     make(map[string]bool),
	}
}

func (f *fakeBookCache) SetSnapshot(_ context.Context, symbol string, snap domain.OrderbookSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[symbol] = snap
	f.stale[symbol] = false
	return nil
}

func (f *fakeBookCache) GetSnapshot(_ context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[symbol]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	if f.stale[symbol] {
		return domain.OrderbookSnapshot{}, domain.ErrStaleBook
	}
	return snap, nil
}

func (f *fakeBookCache) UpdateLevel(context.Context, string, domain.BookSide, float64, float64) error {
	return nil
}

func (f *fakeBookCache) MarkStale(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale[symbol] = true
	return nil
}

func TestManagerMirrorsMaterializedBook(t *testing.T) {
	fc := newFakeConn()
	cache := newFakeBookCache()
	rcfg := resilience.Config{MaxAttempts: 1, InitialBackoff: time.Millisecond}
	dial := func(context.Context) (derivex.Conn, error) { return fc, nil }
	m := NewManager(dial, (&tickRecorder{}).handle, Config{RefreshInterval: time.Minute},
		resilience.NewWrapper("exchange_connect", rcfg, nil, nil, quietLogger()),
		resilience.NewWrapper("snapshot_request", rcfg, nil, nil, quietLogger()),
		cache, &healthRecorder{}, quietLogger())
	m.setConn(fc)
	t.Cleanup(func() { m.teardown(context.Background(), "test cleanup") })
	ctx := context.Background()

	// Wire snapshots arrive in arbitrary level order; the mirror must carry
	// the local book's canonical form.
	m.handleSnapshot(ctx, &domain.OrderbookSnapshot{
		Symbol:   "PEPE-USDT",
		Sequence: 7,
		Bids: []domain.PriceLevel{
			{Price: 0.0009, Size: 100},
			{Price: 0.0011, Size: 300},
			{Price: 0.0010, Size: 200},
		},
		Asks: []domain.PriceLevel{
			{Price: 0.0014, Size: 50},
			{Price: 0.0012, Size: 75},
		},
		Timestamp: time.Now(),
	})

	mirrored, err := m.Book("PEPE-USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(7), mirrored.Sequence)
	require.Len(t, mirrored.Bids, 3)
	assert.Equal(t, 0.0011, mirrored.Bids[0].Price, "bids best-first")
	assert.Equal(t, 0.0009, mirrored.Bids[2].Price)
	require.Len(t, mirrored.Asks, 2)
	assert.Equal(t, 0.0012, mirrored.Asks[0].Price, "asks best-first")

	m.teardown(ctx, "connection lost")
	_, err = m.Book("PEPE-USDT")
	assert.ErrorIs(t, err, domain.ErrStaleBook)
}

func TestManagerPendingAgeWatchdog(t *testing.T) {
	m, health, _ := newTestManager(t, newFakeConn())

	m.handleSubscribe(context.Background(), "PEPE-USDT")
	m.checkPendingAges(time.Now().Add(11 * time.Second))

	events := health.byKind(domain.HealthPendingSubscriptionAged)
	require.Len(t, events, 1)
	assert.Equal(t, "PEPE-USDT", events[0].Symbol)
}
