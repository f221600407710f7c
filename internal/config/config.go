// Package config defines the top-level configuration for the pump-and-dump
// short pipeline and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/strategy"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PUMPSHORT_* environment variables.
type Config struct {
	Exchange   ExchangeConfig   `toml:"exchange"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Feed       FeedConfig       `toml:"feed"`
	Indicator  IndicatorConfig  `toml:"indicator"`
	Resilience ResilienceConfig `toml:"resilience"`
	Executor   ExecutorConfig   `toml:"executor"`
	Health     HealthConfig     `toml:"health"`
	Strategies []strategy.Doc   `toml:"strategies"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ExchangeConfig holds the derivatives-exchange endpoints and credentials.
type ExchangeConfig struct {
	WSURL     string   `toml:"ws_url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	Symbols   []string `toml:"symbols"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the signal bus and the
// order-book mirror.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// FeedConfig holds market-data subscription parameters.
type FeedConfig struct {
	RefreshInterval  duration `toml:"refresh_interval"`
	PendingAgeWarn   duration `toml:"pending_age_warn"`
	WatchdogInterval duration `toml:"watchdog_interval"`
	ReconnectDelay   duration `toml:"reconnect_delay"`
}

// IndicatorConfig holds indicator-engine parameters.
type IndicatorConfig struct {
	WindowRetention  duration `toml:"window_retention"`
	StaleAfter       duration `toml:"stale_after"`
	WatchdogInterval duration `toml:"watchdog_interval"`
}

// ResilienceConfig holds retry and circuit-breaker parameters shared by
// outbound operations (exchange calls, snapshot refreshes, order placement).
type ResilienceConfig struct {
	MaxAttempts      int      `toml:"max_attempts"`
	InitialBackoff   duration `toml:"initial_backoff"`
	MaxBackoff       duration `toml:"max_backoff"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerRecovery  duration `toml:"breaker_recovery"`
}

// ExecutorConfig holds order-execution parameters.
type ExecutorConfig struct {
	DedupTTL duration `toml:"dedup_ttl"`
}

// HealthConfig names the bus channel and stream that receive health events.
type HealthConfig struct {
	Channel string `toml:"channel"`
	Stream  string `toml:"stream"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			WSURL: "wss://stream.derivex.example/v1/ws",
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "pumpshort",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Feed: FeedConfig{
			RefreshInterval:  duration{30 * time.Second},
			PendingAgeWarn:   duration{10 * time.Second},
			WatchdogInterval: duration{5 * time.Second},
			ReconnectDelay:   duration{2 * time.Second},
		},
		Indicator: IndicatorConfig{
			WindowRetention:  duration{10 * time.Minute},
			StaleAfter:       duration{5 * time.Second},
			WatchdogInterval: duration{time.Second},
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      3,
			InitialBackoff:   duration{500 * time.Millisecond},
			MaxBackoff:       duration{10 * time.Second},
			BreakerThreshold: 5,
			BreakerRecovery:  duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			DedupTTL: duration{5 * time.Minute},
		},
		Health: HealthConfig{
			Channel: "health:events",
			Stream:  "health:stream",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. Order execution
// is paper-only; monitor mode runs the feed and indicators without a decision
// layer.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.WSURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if len(c.Exchange.Symbols) == 0 {
		errs = append(errs, "exchange: at least one symbol must be configured")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Feed
	if c.Feed.RefreshInterval.Duration <= 0 {
		errs = append(errs, "feed: refresh_interval must be > 0")
	}
	if c.Feed.WatchdogInterval.Duration <= 0 {
		errs = append(errs, "feed: watchdog_interval must be > 0")
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "feed: reconnect_delay must be > 0")
	}

	// Indicator
	if c.Indicator.WindowRetention.Duration <= 0 {
		errs = append(errs, "indicator: window_retention must be > 0")
	}
	if c.Indicator.StaleAfter.Duration <= 0 {
		errs = append(errs, "indicator: stale_after must be > 0")
	}

	// Resilience
	if c.Resilience.MaxAttempts < 1 {
		errs = append(errs, "resilience: max_attempts must be >= 1")
	}
	if c.Resilience.InitialBackoff.Duration <= 0 {
		errs = append(errs, "resilience: initial_backoff must be > 0")
	}
	if c.Resilience.MaxBackoff.Duration < c.Resilience.InitialBackoff.Duration {
		errs = append(errs, "resilience: max_backoff must not be less than initial_backoff")
	}
	if c.Resilience.BreakerThreshold < 1 {
		errs = append(errs, "resilience: breaker_threshold must be >= 1")
	}

	// Strategies: decision modes need at least one document. Structural
	// validation of each document happens at compile time against the
	// indicator registry.
	if strings.ToLower(c.Mode) != "monitor" && len(c.Strategies) == 0 {
		errs = append(errs, "strategies: at least one strategy is required for mode "+c.Mode)
	}
	seen := map[string]bool{}
	for i, doc := range c.Strategies {
		if doc.ID == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: id must not be empty", i))
			continue
		}
		if seen[doc.ID] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: duplicate id %q", i, doc.ID))
		}
		seen[doc.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
