// Package derivex implements the WebSocket client for the derivatives
// exchange real-time data feed: trade stream, incremental order-book deltas,
// full order-book snapshots, and the per-channel subscription handshake.
package derivex

import (
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Channel identifies one of the three market-data channels that make up a
// complete symbol subscription.
type Channel string

const (
	ChannelTrade         Channel = "trade"
	ChannelDepthDelta    Channel = "depth_delta"
	ChannelDepthSnapshot Channel = "depth_snapshot"
)

// Channels lists the three channels of a full subscription.
func Channels() []Channel {
	return []Channel{ChannelTrade, ChannelDepthDelta, ChannelDepthSnapshot}
}

// Command is an outbound request to the exchange.
type Command struct {
	Op      string `json:"op"`      // "subscribe", "unsubscribe", "snapshot"
	Channel string `json:"channel,omitempty"`
	Symbol  string `json:"symbol"`
}

// envelope is the inbound wire format. Type discriminates the payload.
type envelope struct {
	Type     string      `json:"type"` // "trade", "depth_update", "depth_snapshot", "subscribed"
	Channel  string      `json:"channel,omitempty"`
	Symbol   string      `json:"symbol"`
	Price    float64     `json:"price,omitempty"`
	Volume   float64     `json:"volume,omitempty"`
	Bid      float64     `json:"bid,omitempty"`
	Ask      float64     `json:"ask,omitempty"`
	Side     string      `json:"side,omitempty"`
	Size     float64     `json:"size,omitempty"`
	Sequence int64       `json:"sequence,omitempty"`
	Bids     [][]float64 `json:"bids,omitempty"`
	Asks     [][]float64 `json:"asks,omitempty"`
	// Timestamp is unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Confirmation acknowledges one channel subscription for one symbol.
type Confirmation struct {
	Channel Channel
	Symbol  string
}

// Event is one inbound occurrence delivered to the subscription manager.
// Exactly one field is non-nil, except Err which terminates the stream.
type Event struct {
	Trade        *domain.Tick
	Depth        *domain.DepthUpdate
	Snapshot     *domain.OrderbookSnapshot
	Confirmation *Confirmation
	Err          error
}

func (e envelope) toTick() *domain.Tick {
	return &domain.Tick{
		Symbol:    e.Symbol,
		Price:     e.Price,
		Volume:    e.Volume,
		Bid:       e.Bid,
		Ask:       e.Ask,
		Timestamp: time.UnixMilli(e.Timestamp),
	}
}

func (e envelope) toDepthUpdate() *domain.DepthUpdate {
	side := domain.BookSideBid
	if e.Side == "ask" || e.Side == "sell" {
		side = domain.BookSideAsk
	}
	return &domain.DepthUpdate{
		Symbol:    e.Symbol,
		Side:      side,
		Price:     e.Price,
		Size:      e.Size,
		Sequence:  e.Sequence,
		Timestamp: time.UnixMilli(e.Timestamp),
	}
}

func (e envelope) toSnapshot() *domain.OrderbookSnapshot {
	snap := &domain.OrderbookSnapshot{
		Symbol:    e.Symbol,
		Sequence:  e.Sequence,
		Timestamp: time.UnixMilli(e.Timestamp),
	}
	for _, lvl := range e.Bids {
		if len(lvl) == 2 {
			snap.Bids = append(snap.Bids, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
		}
	}
	for _, lvl := range e.Asks {
		if len(lvl) == 2 {
			snap.Asks = append(snap.Asks, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
		}
	}
	return snap
}
