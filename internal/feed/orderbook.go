package feed

import (
	"sort"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// localBook is the in-memory order book for one symbol. Incremental deltas
// are applied in sequence order; a full snapshot replaces the book wholesale.
// Owned by the manager's run loop, no locking.
type localBook struct {
	symbol    string
	bids      map[float64]float64
	asks      map[float64]float64
	lastSeq   int64
	stale     bool
	updatedAt time.Time
}

func newLocalBook(symbol string) *localBook {
	return &localBook{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// applyDelta applies one incremental update. It returns false when the delta
// is out of sequence (already seen or older than the current book), in which
// case the caller should request a fresh snapshot.
func (b *localBook) applyDelta(d *domain.DepthUpdate) bool {
	if d.Sequence != 0 && d.Sequence <= b.lastSeq {
		return false
	}
	side := b.bids
	if d.Side == domain.BookSideAsk {
		side = b.asks
	}
	if d.Size == 0 {
		delete(side, d.Price)
	} else {
		side[d.Price] = d.Size
	}
	if d.Sequence != 0 {
		b.lastSeq = d.Sequence
	}
	b.updatedAt = d.Timestamp
	return true
}

// applySnapshot replaces the book wholesale and clears the stale flag.
func (b *localBook) applySnapshot(s *domain.OrderbookSnapshot) {
	b.bids = make(map[float64]float64, len(s.Bids))
	for _, lvl := range s.Bids {
		b.bids[lvl.Price] = lvl.Size
	}
	b.asks = make(map[float64]float64, len(s.Asks))
	for _, lvl := range s.Asks {
		b.asks[lvl.Price] = lvl.Size
	}
	b.lastSeq = s.Sequence
	b.stale = false
	b.updatedAt = s.Timestamp
}

// markStale flags the book after a connection loss; data remains readable but
// consumers can see it is no longer trustworthy.
func (b *localBook) markStale() { b.stale = true }

// snapshot materializes the book as a sorted domain snapshot: bids descending,
// asks ascending.
func (b *localBook) snapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		Symbol:    b.symbol,
		Sequence:  b.lastSeq,
		Timestamp: b.updatedAt,
	}
	for price, size := range b.bids {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: price, Size: size})
	}
	for price, size := range b.asks {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}
