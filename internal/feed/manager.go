package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
	"github.com/alanyoungcy/pumpshort/internal/platform/derivex"
	"github.com/alanyoungcy/pumpshort/internal/resilience"
)

// DialFunc establishes a fresh exchange connection.
type DialFunc func(ctx context.Context) (derivex.Conn, error)

// TickHandler receives every trade tick in arrival order. The manager calls
// it synchronously from the per-connection event loop, so handlers for one
// symbol never race each other.
type TickHandler func(ctx context.Context, tick domain.Tick)

// Config tunes the subscription manager.
type Config struct {
	// RefreshInterval is the period of the per-symbol full-snapshot refresh.
	RefreshInterval time.Duration
	// PendingAgeWarn is the handshake age beyond which a health event fires.
	PendingAgeWarn time.Duration
	// WatchdogInterval is the pending-age sweep period.
	WatchdogInterval time.Duration
	// ReconnectDelay is the pause between reconnect attempts after the
	// resilience wrapper itself gives up a round.
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.PendingAgeWarn <= 0 {
		c.PendingAgeWarn = 10 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	return c
}

// Manager owns the exchange connection and drives the three-channel
// subscription handshake per symbol. All handshake state (pending set, local
// books) is mutated only inside Run's event loop: inbound confirmations and
// subscribe requests are events applied through that single serialized
// handler, never ad hoc callbacks racing on shared maps.
type Manager struct {
	dial      DialFunc
	onTick    TickHandler
	health    domain.HealthSink
	bookCache domain.OrderbookCache // optional mirror, nil disables
	logger    *slog.Logger
	cfg       Config

	// connWrap protects dial+subscribe rounds, snapWrap protects snapshot
	// requests. Both are resilience wrappers per spec'd call-sites.
	connWrap *resilience.Wrapper
	snapWrap *resilience.Wrapper

	subscribeCh   chan string
	unsubscribeCh chan string

	// conn is shared with refresher goroutines.
	connMu sync.RWMutex
	conn   derivex.Conn

	// Everything below is owned by the Run loop.
	pending    *pendingSet
	books      map[string]*localBook
	refreshers map[string]*refresher
	subscribed map[string]struct{}
}

// NewManager creates a subscription manager. onTick feeds the per-symbol
// indicator pipeline; bookCache may be nil.
func NewManager(dial DialFunc, onTick TickHandler, cfg Config, connWrap, snapWrap *resilience.Wrapper, bookCache domain.OrderbookCache, health domain.HealthSink, logger *slog.Logger) *Manager {
	return &Manager{
		dial:          dial,
		onTick:        onTick,
		health:        health,
		bookCache:     bookCache,
		logger:        logger.With(slog.String("component", "subscription_manager")),
		cfg:           cfg.withDefaults(),
		connWrap:      connWrap,
		snapWrap:      snapWrap,
		subscribeCh:   make(chan string, 64),
		unsubscribeCh: make(chan string, 64),
		pending:       newPendingSet(),
		books:         make(map[string]*localBook),
		refreshers:    make(map[string]*refresher),
		subscribed:    make(map[string]struct{}),
	}
}

// Subscribe queues a symbol for the three-channel handshake. The actual sends
// and pending-set insert happen inside the run loop.
func (m *Manager) Subscribe(symbol string) {
	m.subscribeCh <- symbol
}

// Unsubscribe queues removal of a symbol: unsubscribe commands, pending entry
// teardown, and snapshot-refresh cancellation.
func (m *Manager) Unsubscribe(symbol string) {
	m.unsubscribeCh <- symbol
}

// Book returns the current book snapshot for a symbol. Books are owned by
// the run loop, so this read-only diagnostic accessor is served via the
// mirror, which the loop keeps in the book's materialized form; without a
// mirror there is nothing safe to read.
func (m *Manager) Book(symbol string) (domain.OrderbookSnapshot, error) {
	if m.bookCache == nil {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return m.bookCache.GetSnapshot(context.Background(), symbol)
}

// Run connects, replays subscriptions, and processes events until the context
// is cancelled. On connection loss it tears down all per-connection state and
// reconnects through the resilience wrapper.
func (m *Manager) Run(ctx context.Context) error {
	defer m.teardown(ctx, "shutdown")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("connect failed, backing off", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.ReconnectDelay):
			}
			continue
		}

		m.setConn(conn)
		m.resubscribeAll(ctx)

		err = m.eventLoop(ctx, conn)
		m.teardown(ctx, "connection lost")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("exchange disconnected, reconnecting", slog.String("error", errString(err)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "stream closed"
	}
	return err.Error()
}

// connect dials through the resilience wrapper.
func (m *Manager) connect(ctx context.Context) (derivex.Conn, error) {
	var conn derivex.Conn
	err := m.connWrap.Do(ctx, func(ctx context.Context) error {
		c, err := m.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("exchange connected")
	return conn, nil
}

// eventLoop is the serialized handler for everything that mutates handshake
// state. It returns when the connection's event stream ends.
func (m *Manager) eventLoop(ctx context.Context, conn derivex.Conn) error {
	watchdog := time.NewTicker(m.cfg.WatchdogInterval)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case symbol := <-m.subscribeCh:
			m.handleSubscribe(ctx, symbol)

		case symbol := <-m.unsubscribeCh:
			m.handleUnsubscribe(ctx, symbol)

		case now := <-watchdog.C:
			m.checkPendingAges(now)

		case ev, ok := <-conn.Events():
			if !ok {
				return domain.ErrWSDisconnect
			}
			if ev.Err != nil {
				return ev.Err
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev derivex.Event) {
	switch {
	case ev.Trade != nil:
		m.onTick(ctx, *ev.Trade)

	case ev.Depth != nil:
		m.handleDepth(ctx, ev.Depth)

	case ev.Snapshot != nil:
		m.handleSnapshot(ctx, ev.Snapshot)

	case ev.Confirmation != nil:
		m.handleConfirmation(ctx, ev.Confirmation)
	}
}

// handleSubscribe sends the three channel-subscribe commands and inserts an
// all-pending handshake entry.
func (m *Manager) handleSubscribe(ctx context.Context, symbol string) {
	m.subscribed[symbol] = struct{}{}
	conn := m.currentConn()
	if conn == nil {
		// Replayed on reconnect via resubscribeAll.
		return
	}
	err := m.connWrap.Do(ctx, func(ctx context.Context) error {
		for _, ch := range derivex.Channels() {
			if err := conn.Subscribe(ctx, ch, symbol); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("subscribe failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	m.pending.add(symbol, time.Now())
	m.logger.Info("subscription requested", slog.String("symbol", symbol))
}

func (m *Manager) handleUnsubscribe(ctx context.Context, symbol string) {
	delete(m.subscribed, symbol)
	m.pending.dropForTeardown(symbol)
	m.stopRefresher(symbol)
	delete(m.books, symbol)

	conn := m.currentConn()
	if conn == nil {
		return
	}
	for _, ch := range derivex.Channels() {
		if err := conn.Unsubscribe(ctx, ch, symbol); err != nil {
			m.logger.Warn("unsubscribe failed",
				slog.String("symbol", symbol),
				slog.String("channel", string(ch)),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.Info("unsubscribed", slog.String("symbol", symbol))
}

// handleConfirmation applies one inbound channel acknowledgement to the
// symbol's handshake aggregate. The entry leaves the pending set only when
// all three channels have confirmed.
func (m *Manager) handleConfirmation(ctx context.Context, c *derivex.Confirmation) {
	entry, ok := m.pending.get(c.Symbol)
	if !ok {
		// A confirmation for a symbol outside the pending set is a protocol
		// invariant violation: logged loudly, reported, and recovered by
		// resubscribing. Never dropped silently.
		m.logger.Error("orphaned subscription confirmation",
			slog.String("symbol", c.Symbol),
			slog.String("channel", string(c.Channel)),
		)
		m.health.Report(domain.HealthEvent{
			Kind:      domain.HealthOrphanedConfirmation,
			Symbol:    c.Symbol,
			Detail:    fmt.Sprintf("confirmation for %s arrived with no pending handshake", c.Channel),
			Severity:  domain.SeverityCritical,
			Timestamp: time.Now(),
		})
		if _, want := m.subscribed[c.Symbol]; want {
			m.handleSubscribe(ctx, c.Symbol)
		}
		return
	}

	if !entry.confirm(c.Channel) {
		m.logger.Warn("duplicate or unknown channel confirmation",
			slog.String("symbol", c.Symbol),
			slog.String("channel", string(c.Channel)),
		)
	}

	// The refresh task starts as soon as the snapshot channel confirms for a
	// symbol still present in the pending set, exactly once per symbol.
	if c.Channel == derivex.ChannelDepthSnapshot {
		if _, exists := m.refreshers[c.Symbol]; !exists {
			m.refreshers[c.Symbol] = m.startRefresher(ctx, c.Symbol)
		}
	}

	if m.pending.removeIfComplete(c.Symbol) {
		m.logger.Info("subscription complete", slog.String("symbol", c.Symbol))
	}
}

func (m *Manager) handleDepth(ctx context.Context, d *domain.DepthUpdate) {
	book := m.book(d.Symbol)
	if !book.applyDelta(d) {
		m.logger.Warn("out-of-sequence depth delta, requesting snapshot",
			slog.String("symbol", d.Symbol),
			slog.Int64("sequence", d.Sequence),
			slog.Int64("book_sequence", book.lastSeq),
		)
		m.refreshSnapshot(ctx, d.Symbol, m.logger)
		return
	}
	if m.bookCache != nil {
		if err := m.bookCache.UpdateLevel(ctx, d.Symbol, d.Side, d.Price, d.Size); err != nil {
			m.logger.Debug("book mirror update failed", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) handleSnapshot(ctx context.Context, s *domain.OrderbookSnapshot) {
	book := m.book(s.Symbol)
	book.applySnapshot(s)
	if m.bookCache != nil {
		// The mirror gets the book's own materialized form, not the raw wire
		// message, so mirror readers see the same sorted, deduplicated levels
		// the local book holds.
		if err := m.bookCache.SetSnapshot(ctx, s.Symbol, book.snapshot()); err != nil {
			m.logger.Debug("book mirror replace failed", slog.String("error", err.Error()))
		}
	}
}

// refreshSnapshot requests a full book over the live connection through the
// resilience wrapper. A missing connection mapping is a recoverable no-op:
// logged, reported, and answered with a health-check resubscribe.
func (m *Manager) refreshSnapshot(ctx context.Context, symbol string, logger *slog.Logger) {
	conn := m.currentConn()
	if conn == nil {
		logger.Warn("no live connection for snapshot refresh", slog.String("symbol", symbol))
		m.health.Report(domain.HealthEvent{
			Kind:      domain.HealthSnapshotRefreshFailed,
			Symbol:    symbol,
			Detail:    "no live connection mapping at refresh time",
			Severity:  domain.SeverityWarning,
			Timestamp: time.Now(),
		})
		select {
		case m.subscribeCh <- symbol:
		default:
		}
		return
	}
	err := m.snapWrap.Do(ctx, func(ctx context.Context) error {
		return conn.RequestSnapshot(ctx, symbol)
	})
	if err != nil {
		logger.Warn("snapshot refresh failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		m.health.Report(domain.HealthEvent{
			Kind:      domain.HealthSnapshotRefreshFailed,
			Symbol:    symbol,
			Detail:    err.Error(),
			Severity:  domain.SeverityWarning,
			Timestamp: time.Now(),
		})
	}
}

// checkPendingAges raises a health event for handshakes stuck beyond the
// threshold.
func (m *Manager) checkPendingAges(now time.Time) {
	for _, symbol := range m.pending.agedOver(m.cfg.PendingAgeWarn, now) {
		m.health.Report(domain.HealthEvent{
			Kind:      domain.HealthPendingSubscriptionAged,
			Symbol:    symbol,
			Detail:    "subscription handshake incomplete beyond threshold",
			Severity:  domain.SeverityWarning,
			Timestamp: now,
		})
	}
}

// resubscribeAll replays the handshake for every tracked symbol after a
// (re)connect.
func (m *Manager) resubscribeAll(ctx context.Context) {
	for symbol := range m.subscribed {
		m.handleSubscribe(ctx, symbol)
	}
}

// teardown cancels all refresh tasks bound to the connection, clears the
// pending set, and marks in-flight book state stale.
func (m *Manager) teardown(ctx context.Context, reason string) {
	m.setConn(nil)
	for symbol, r := range m.refreshers {
		r.stop()
		delete(m.refreshers, symbol)
	}
	m.pending.clear()
	now := time.Now()
	for symbol, book := range m.books {
		book.markStale()
		if m.bookCache != nil {
			if err := m.bookCache.MarkStale(ctx, symbol); err != nil {
				m.logger.Debug("book mirror stale-mark failed", slog.String("error", err.Error()))
			}
		}
		m.health.Report(domain.HealthEvent{
			Kind:      domain.HealthBookStale,
			Symbol:    symbol,
			Detail:    reason,
			Severity:  domain.SeverityWarning,
			Timestamp: now,
		})
	}
}

func (m *Manager) book(symbol string) *localBook {
	b, ok := m.books[symbol]
	if !ok {
		b = newLocalBook(symbol)
		m.books[symbol] = b
	}
	return b
}

func (m *Manager) currentConn() derivex.Conn {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn
}

func (m *Manager) setConn(conn derivex.Conn) {
	m.connMu.Lock()
	old := m.conn
	m.conn = conn
	m.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// RefresherCount reports how many snapshot-refresh tasks are live
// (diagnostics and tests).
func (m *Manager) RefresherCount() int { return len(m.refreshers) }

// HasRefresher reports whether a refresh task exists for the symbol.
func (m *Manager) HasRefresher(symbol string) bool {
	_, ok := m.refreshers[symbol]
	return ok
}

// PendingCount reports the number of in-flight handshakes.
func (m *Manager) PendingCount() int { return m.pending.len() }
