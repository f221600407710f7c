// Package redis backs the pipeline's diagnostic surfaces with Redis: the
// signal bus health-event feed and the order-book mirror. Nothing on the
// decision path blocks on Redis; a failure here degrades observability only.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds the connection parameters taken from the [redis] config
// section.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the driver connection shared by the signal bus and the
// order-book mirror.
type Client struct {
	rdb *redis.Client
}

// New connects and verifies the connection with a ping before handing the
// client out. Wiring fails fast at startup instead of surfacing a dead Redis
// on the first health event.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the driver connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw driver client to the sibling implementations in
// this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
