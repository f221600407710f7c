package indicator

import (
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Window is an ordered, time-bounded sequence of ticks for one symbol.
// Timestamps are strictly increasing; out-of-order ticks are rejected rather
// than reordered. Gaps are not synthesized; indicators see sparse data.
//
// A Window has a single writer (the engine goroutine for its symbol) and is
// only read inside Calc functions invoked by that same writer, so it carries
// no locking of its own.
type Window struct {
	maxAge time.Duration
	ticks  []domain.Tick
}

// NewWindow creates a window that retains ticks no older than maxAge relative
// to the newest tick.
func NewWindow(maxAge time.Duration) *Window {
	return &Window{maxAge: maxAge}
}

// Append adds a tick and evicts samples that fell out of the retention span.
// A tick whose timestamp is not strictly after the newest retained tick
// violates the ordering invariant and is rejected; the caller decides whether
// to count or log it.
func (w *Window) Append(tick domain.Tick) error {
	if n := len(w.ticks); n > 0 && !tick.Timestamp.After(w.ticks[n-1].Timestamp) {
		return domain.ErrOutOfOrderTick
	}
	w.ticks = append(w.ticks, tick)
	w.evict(tick.Timestamp)
	return nil
}

// evict drops ticks older than maxAge relative to now.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	i := 0
	for i < len(w.ticks) && w.ticks[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.ticks = w.ticks[i:]
	}
}

// Len returns the number of retained ticks.
func (w *Window) Len() int { return len(w.ticks) }

// Last returns the newest tick. The boolean is false when the window is empty.
func (w *Window) Last() (domain.Tick, bool) {
	if len(w.ticks) == 0 {
		return domain.Tick{}, false
	}
	return w.ticks[len(w.ticks)-1], true
}

// Slice returns the ticks whose timestamps fall within lookback of the newest
// tick, oldest first. The returned slice aliases the window's storage and
// must not be retained or mutated.
func (w *Window) Slice(lookback time.Duration) []domain.Tick {
	n := len(w.ticks)
	if n == 0 {
		return nil
	}
	cutoff := w.ticks[n-1].Timestamp.Add(-lookback)
	i := 0
	for i < n && w.ticks[i].Timestamp.Before(cutoff) {
		i++
	}
	return w.ticks[i:]
}

// Between returns ticks with from <= timestamp < to relative to the newest
// tick's time, expressed as lookback durations (from is the longer one).
// Used by multi-window variants that compare a baseline span against the
// current span.
func (w *Window) Between(from, to time.Duration) []domain.Tick {
	n := len(w.ticks)
	if n == 0 {
		return nil
	}
	newest := w.ticks[n-1].Timestamp
	lo := newest.Add(-from)
	hi := newest.Add(-to)
	start := 0
	for start < n && w.ticks[start].Timestamp.Before(lo) {
		start++
	}
	end := start
	for end < n && w.ticks[end].Timestamp.Before(hi) {
		end++
	}
	return w.ticks[start:end]
}
