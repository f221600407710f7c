// Package feed owns the exchange connections and drives, per symbol, the
// three-channel subscription handshake (trade, depth delta, depth snapshot),
// then keeps the local order book honest via periodic full-snapshot refresh.
package feed

import (
	"time"

	"github.com/alanyoungcy/pumpshort/internal/platform/derivex"
)

// pendingSub tracks the handshake of one symbol as a single atomic aggregate:
// three channel statuses that are only ever mutated together under the
// manager's serialized event loop. The entry leaves the pending set solely
// through allConfirmed: removing it after only two confirmations orphans the
// third, which then fails to find its symbol and never starts the snapshot
// refresh task. That lost-update race must stay impossible by construction.
type pendingSub struct {
	symbol    string
	confirmed map[derivex.Channel]bool
	addedTime time.Time
}

func newPendingSub(symbol string, now time.Time) *pendingSub {
	confirmed := make(map[derivex.Channel]bool, 3)
	for _, ch := range derivex.Channels() {
		confirmed[ch] = false
	}
	return &pendingSub{symbol: symbol, confirmed: confirmed, addedTime: now}
}

// confirm marks one channel confirmed. It returns false for a channel the
// handshake does not track or one that was already confirmed.
func (p *pendingSub) confirm(ch derivex.Channel) bool {
	done, known := p.confirmed[ch]
	if !known || done {
		return false
	}
	p.confirmed[ch] = true
	return true
}

// allConfirmed reports whether every one of the three channels is confirmed.
func (p *pendingSub) allConfirmed() bool {
	for _, done := range p.confirmed {
		if !done {
			return false
		}
	}
	return true
}

// isConfirmed reports the status of a single channel.
func (p *pendingSub) isConfirmed(ch derivex.Channel) bool {
	return p.confirmed[ch]
}

// age returns how long the entry has been pending.
func (p *pendingSub) age(now time.Time) time.Duration {
	return now.Sub(p.addedTime)
}

// pendingSet is the per-connection collection of in-flight handshakes. It is
// mutated exclusively by the manager's run loop (single writer), so it needs
// no locking of its own.
type pendingSet struct {
	entries map[string]*pendingSub
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[string]*pendingSub)}
}

// add inserts a fresh all-pending entry, replacing any previous handshake for
// the symbol.
func (s *pendingSet) add(symbol string, now time.Time) *pendingSub {
	entry := newPendingSub(symbol, now)
	s.entries[symbol] = entry
	return entry
}

// get looks up the in-flight handshake for a symbol.
func (s *pendingSet) get(symbol string) (*pendingSub, bool) {
	entry, ok := s.entries[symbol]
	return entry, ok
}

// removeIfComplete removes the symbol's entry only when all three channels
// are confirmed, and reports whether it did. This predicate is the one
// sanctioned removal path for a completing handshake.
func (s *pendingSet) removeIfComplete(symbol string) bool {
	entry, ok := s.entries[symbol]
	if !ok || !entry.allConfirmed() {
		return false
	}
	delete(s.entries, symbol)
	return true
}

// dropForTeardown removes an entry regardless of confirmation state. Only
// unsubscription and connection teardown may use it.
func (s *pendingSet) dropForTeardown(symbol string) {
	delete(s.entries, symbol)
}

// clear removes every entry (connection teardown).
func (s *pendingSet) clear() {
	s.entries = make(map[string]*pendingSub)
}

// agedOver returns the symbols whose handshake has been pending longer than
// the threshold.
func (s *pendingSet) agedOver(threshold time.Duration, now time.Time) []string {
	var aged []string
	for symbol, entry := range s.entries {
		if entry.age(now) > threshold {
			aged = append(aged, symbol)
		}
	}
	return aged
}

// len returns the number of in-flight handshakes.
func (s *pendingSet) len() int { return len(s.entries) }
