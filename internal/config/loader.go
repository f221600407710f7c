package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PUMPSHORT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PUMPSHORT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.WSURL, "PUMPSHORT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "PUMPSHORT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "PUMPSHORT_EXCHANGE_API_SECRET")
	setStringSlice(&cfg.Exchange.Symbols, "PUMPSHORT_EXCHANGE_SYMBOLS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PUMPSHORT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PUMPSHORT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PUMPSHORT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PUMPSHORT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PUMPSHORT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PUMPSHORT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PUMPSHORT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PUMPSHORT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PUMPSHORT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PUMPSHORT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PUMPSHORT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PUMPSHORT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PUMPSHORT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PUMPSHORT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PUMPSHORT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PUMPSHORT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PUMPSHORT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PUMPSHORT_REDIS_TLS_ENABLED")

	// ── Feed ──
	setDuration(&cfg.Feed.RefreshInterval, "PUMPSHORT_FEED_REFRESH_INTERVAL")
	setDuration(&cfg.Feed.PendingAgeWarn, "PUMPSHORT_FEED_PENDING_AGE_WARN")
	setDuration(&cfg.Feed.WatchdogInterval, "PUMPSHORT_FEED_WATCHDOG_INTERVAL")
	setDuration(&cfg.Feed.ReconnectDelay, "PUMPSHORT_FEED_RECONNECT_DELAY")

	// ── Indicator ──
	setDuration(&cfg.Indicator.WindowRetention, "PUMPSHORT_INDICATOR_WINDOW_RETENTION")
	setDuration(&cfg.Indicator.StaleAfter, "PUMPSHORT_INDICATOR_STALE_AFTER")
	setDuration(&cfg.Indicator.WatchdogInterval, "PUMPSHORT_INDICATOR_WATCHDOG_INTERVAL")

	// ── Resilience ──
	setInt(&cfg.Resilience.MaxAttempts, "PUMPSHORT_RESILIENCE_MAX_ATTEMPTS")
	setDuration(&cfg.Resilience.InitialBackoff, "PUMPSHORT_RESILIENCE_INITIAL_BACKOFF")
	setDuration(&cfg.Resilience.MaxBackoff, "PUMPSHORT_RESILIENCE_MAX_BACKOFF")
	setInt(&cfg.Resilience.BreakerThreshold, "PUMPSHORT_RESILIENCE_BREAKER_THRESHOLD")
	setDuration(&cfg.Resilience.BreakerRecovery, "PUMPSHORT_RESILIENCE_BREAKER_RECOVERY")

	// ── Executor ──
	setDuration(&cfg.Executor.DedupTTL, "PUMPSHORT_EXECUTOR_DEDUP_TTL")

	// ── Health ──
	setStr(&cfg.Health.Channel, "PUMPSHORT_HEALTH_CHANNEL")
	setStr(&cfg.Health.Stream, "PUMPSHORT_HEALTH_STREAM")

	// ── Top-level ──
	setStr(&cfg.Mode, "PUMPSHORT_MODE")
	setStr(&cfg.LogLevel, "PUMPSHORT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
