package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pumpshort/internal/strategy"
)

// validConfig is Defaults plus the fields that have no sensible default.
func validConfig() Config {
	cfg := Defaults()
	cfg.Exchange.Symbols = []string{"PEPE-USDT"}
	cfg.Strategies = []strategy.Doc{{ID: "pump-short"}}
	return cfg
}

func TestDefaultsPlusRequiredFieldsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "live" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"empty ws url", func(c *Config) { c.Exchange.WSURL = "" }, "ws_url"},
		{"no symbols", func(c *Config) { c.Exchange.Symbols = nil }, "at least one symbol"},
		{"bad postgres port", func(c *Config) { c.Postgres.Port = 0 }, "port"},
		{"pool min exceeds max", func(c *Config) { c.Postgres.PoolMinConns = 99 }, "pool_min_conns"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"zero refresh interval", func(c *Config) { c.Feed.RefreshInterval = duration{} }, "refresh_interval"},
		{"zero window retention", func(c *Config) { c.Indicator.WindowRetention = duration{} }, "window_retention"},
		{"zero max attempts", func(c *Config) { c.Resilience.MaxAttempts = 0 }, "max_attempts"},
		{
			"max backoff below initial",
			func(c *Config) { c.Resilience.MaxBackoff = duration{time.Millisecond} },
			"max_backoff",
		},
		{
			"no strategies in paper mode",
			func(c *Config) { c.Strategies = nil },
			"at least one strategy",
		},
		{
			"duplicate strategy ids",
			func(c *Config) {
				c.Strategies = []strategy.Doc{{ID: "dup"}, {ID: "dup"}}
			},
			"duplicate id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateMonitorModeNeedsNoStrategies(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "monitor"
	cfg.Strategies = nil
	require.NoError(t, cfg.Validate())
}

func TestValidateDisabledBackendsSkipTheirChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Enabled = false
	cfg.Postgres.Port = 0
	cfg.Redis.Enabled = false
	cfg.Redis.Addr = ""
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Exchange.WSURL = ""
	cfg.Exchange.Symbols = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "ws_url")
	assert.Contains(t, err.Error(), "at least one symbol")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[exchange]
symbols = ["PEPE-USDT", "DOGE-USDT"]

[feed]
refresh_interval = "45s"

[[strategies]]
id = "pump-short"
symbols = ["PEPE-USDT"]
cooldown_sec = 300
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"PEPE-USDT", "DOGE-USDT"}, cfg.Exchange.Symbols)
	assert.Equal(t, 45*time.Second, cfg.Feed.RefreshInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Executor.DedupTTL.Duration)

	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "pump-short", cfg.Strategies[0].ID)
	assert.Equal(t, 300.0, cfg.Strategies[0].CooldownSec)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "paper"`), 0o644))

	t.Setenv("PUMPSHORT_MODE", "monitor")
	t.Setenv("PUMPSHORT_EXCHANGE_API_SECRET", "s3cret")
	t.Setenv("PUMPSHORT_EXCHANGE_SYMBOLS", "A-USDT, B-USDT")
	t.Setenv("PUMPSHORT_REDIS_ENABLED", "false")
	t.Setenv("PUMPSHORT_FEED_REFRESH_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "s3cret", cfg.Exchange.APISecret)
	assert.Equal(t, []string{"A-USDT", "B-USDT"}, cfg.Exchange.Symbols)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Feed.RefreshInterval.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}
