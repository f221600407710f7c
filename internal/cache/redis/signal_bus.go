package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// streamMaxLen caps the durable event stream so an unattended deployment
// cannot grow it without bound. Enforced with XADD MAXLEN ~ (approximate
// trimming is much cheaper than exact).
const streamMaxLen int64 = 10000

// SignalBus is the outbound side of the observability feed: health events go
// out over Pub/Sub for anything listening live, and into a capped stream so
// an operator can inspect what happened after the fact. Consumers live
// outside this process (redis-cli, dashboards); the pipeline only writes.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on the shared client connection.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish fans a payload out to live Pub/Sub subscribers. Delivery is
// fire-and-forget: nobody listening means the message is dropped, which is
// the right behavior for a live feed backed by the durable stream.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend records a payload in the durable event stream, trimming to
// roughly streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
