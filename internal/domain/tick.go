package domain

import "time"

// Tick is a single market data sample for one symbol.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full replacement of the local order-book state for a
// symbol, as opposed to an incremental delta.
type OrderbookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  int64
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 when the book side is empty.
func (s OrderbookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the book side is empty.
func (s OrderbookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// DepthUpdate is an incremental order-book level change. A Size of 0 removes
// the level.
type DepthUpdate struct {
	Symbol    string
	Side      BookSide
	Price     float64
	Size      float64
	Sequence  int64
	Timestamp time.Time
}

// BookSide identifies which side of the order book a level belongs to.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)
