package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

//go:embed scripts/orderbook_update.lua
var orderbookUpdateLua string

// OrderbookCache implements domain.OrderbookCache using Redis sorted sets and
// hashes for each symbol's mirrored order book. The local book inside the feed
// manager remains authoritative; this mirror exists for diagnostics and
// external inspection.
//
// Key schema:
//
//	book:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size - hash mapping price -> size for bids
//	book:{symbol}:ask:size - hash mapping price -> size for asks
//	book:{symbol}:meta     - hash with "ts", "seq", and "stale" fields
type OrderbookCache struct {
	rdb             *redis.Client
	orderbookUpdate *redis.Script
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{
		rdb:             c.Underlying(),
		orderbookUpdate: redis.NewScript(orderbookUpdateLua),
	}
}

func bookBidsKey(symbol string) string    { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string    { return "book:" + symbol + ":asks" }
func bookBidSizeKey(symbol string) string { return "book:" + symbol + ":bid:size" }
func bookAskSizeKey(symbol string) string { return "book:" + symbol + ":ask:size" }
func bookMetaKey(symbol string) string    { return "book:" + symbol + ":meta" }

// SetSnapshot atomically replaces the entire mirrored book for a symbol. It
// clears existing data, repopulates both sides, and resets the stale flag.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, symbol string, snap domain.OrderbookSnapshot) error {
	bidsKey := bookBidsKey(symbol)
	asksKey := bookAsksKey(symbol)
	bidSizeKey := bookBidSizeKey(symbol)
	askSizeKey := bookAskSizeKey(symbol)
	metaKey := bookMetaKey(symbol)

	pipe := oc.rdb.TxPipeline()

	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, metaKey)

	for _, lvl := range snap.Bids {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, bidSizeKey, priceStr, sizeStr)
	}

	for _, lvl := range snap.Asks {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, askSizeKey, priceStr, sizeStr)
	}

	pipe.HSet(ctx, metaKey,
		"ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
		"seq", strconv.FormatInt(snap.Sequence, 10),
		"stale", "0",
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", symbol, err)
	}
	return nil
}

// GetSnapshot reconstructs a full OrderbookSnapshot from Redis. It returns
// domain.ErrNotFound if no book data exists for the symbol, and
// domain.ErrStaleBook if the mirror was marked stale after a disconnect.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	pipe := oc.rdb.Pipeline()

	// Bids sorted descending (best first), asks ascending.
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", symbol, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	if metaVals["stale"] == "1" {
		return domain.OrderbookSnapshot{}, domain.ErrStaleBook
	}

	snap := domain.OrderbookSnapshot{Symbol: symbol}

	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.Timestamp = time.Unix(0, tsNano)
		}
	}
	if seqStr, ok := metaVals["seq"]; ok {
		snap.Sequence, _ = strconv.ParseInt(seqStr, 10, 64)
	}

	snap.Bids = buildLevels(bidsCmd, bidSizeCmd)
	snap.Asks = buildLevels(asksCmd, askSizeCmd)

	return snap, nil
}

func buildLevels(zCmd *redis.ZSliceCmd, sizeCmd *redis.MapStringStringCmd) []domain.PriceLevel {
	sizes, _ := sizeCmd.Result()
	zs, _ := zCmd.Result()
	levels := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		size := 0.0
		if sizeStr, exists := sizes[priceStr]; exists {
			size, _ = strconv.ParseFloat(sizeStr, 64)
		}
		levels = append(levels, domain.PriceLevel{
			Price: z.Score,
			Size:  size,
		})
	}
	return levels
}

// UpdateLevel applies an incremental level update to the mirror using an
// atomic Lua script. A size of 0 removes the level.
func (oc *OrderbookCache) UpdateLevel(ctx context.Context, symbol string, side domain.BookSide, price, size float64) error {
	var zKey, hKey string
	switch side {
	case domain.BookSideBid:
		zKey = bookBidsKey(symbol)
		hKey = bookBidSizeKey(symbol)
	case domain.BookSideAsk:
		zKey = bookAsksKey(symbol)
		hKey = bookAskSizeKey(symbol)
	default:
		return fmt.Errorf("redis: update level: unknown side %q", side)
	}

	keys := []string{zKey, hKey}
	args := []interface{}{
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatFloat(size, 'f', -1, 64),
	}

	if err := oc.orderbookUpdate.Run(ctx, oc.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: update level %s: %w", symbol, err)
	}
	return nil
}

// MarkStale flags the mirrored book so readers stop trusting it. The feed
// manager calls this on disconnect; the flag clears on the next SetSnapshot.
func (oc *OrderbookCache) MarkStale(ctx context.Context, symbol string) error {
	if err := oc.rdb.HSet(ctx, bookMetaKey(symbol), "stale", "1").Err(); err != nil {
		return fmt.Errorf("redis: mark stale %s: %w", symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
