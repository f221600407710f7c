package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// refresher is the recurring snapshot-refresh task for one symbol. It is
// created when the depth-snapshot channel confirms and cancelled when the
// symbol is unsubscribed or its connection is torn down. stop is idempotent.
type refresher struct {
	symbol string
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// stop cancels the task. Calling it twice is a no-op, not an error.
func (r *refresher) stop() {
	r.once.Do(r.cancel)
}

// startRefresher launches the per-symbol refresh loop. Exactly one refresher
// may exist per symbol; the manager enforces that before calling.
func (m *Manager) startRefresher(ctx context.Context, symbol string) *refresher {
	taskCtx, cancel := context.WithCancel(ctx)
	r := &refresher{
		symbol: symbol,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		m.runRefreshLoop(taskCtx, symbol)
	}()
	return r
}

// stopRefresher cancels and forgets the symbol's refresh task, if any.
func (m *Manager) stopRefresher(symbol string) {
	if r, ok := m.refreshers[symbol]; ok {
		r.stop()
		delete(m.refreshers, symbol)
	}
}

func (m *Manager) runRefreshLoop(ctx context.Context, symbol string) {
	logger := m.logger.With(slog.String("task", "snapshot_refresh"), slog.String("symbol", symbol))
	logger.Info("snapshot refresh task started", slog.Duration("interval", m.cfg.RefreshInterval))
	defer logger.Info("snapshot refresh task stopped")

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshSnapshot(ctx, symbol, logger)
		}
	}
}
