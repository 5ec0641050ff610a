package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty base URL",
			mutate:  func(c *Config) { c.Remote.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "non-http scheme",
			mutate:  func(c *Config) { c.Remote.BaseURL = "unix:///tmp/sock" },
			wantErr: "scheme must be http or https",
		},
		{
			name:    "timeout too small",
			mutate:  func(c *Config) { c.Remote.Timeout = "50ms" },
			wantErr: "timeout",
		},
		{
			name:    "garbage duration",
			mutate:  func(c *Config) { c.Engine.SyncInterval = "sixty seconds" },
			wantErr: `sync_interval: invalid duration`,
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Engine.BackoffBase = "-1s" },
			wantErr: "backoff_base",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Engine.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "too many attempts",
			mutate:  func(c *Config) { c.Engine.MaxAttempts = 50 },
			wantErr: "max_attempts",
		},
		{
			name:    "cap below base",
			mutate:  func(c *Config) { c.Engine.BackoffBase = "10s"; c.Engine.BackoffCap = "2s" },
			wantErr: "backoff_cap: must be at least backoff_base",
		},
		{
			name:    "parallelism out of range",
			mutate:  func(c *Config) { c.Engine.ParallelEntities = 99 },
			wantErr: "parallel_entities",
		},
		{
			name:    "batch size zero",
			mutate:  func(c *Config) { c.Engine.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name:    "probe interval too small",
			mutate:  func(c *Config) { c.Netmon.ProbeInterval = "10ms" },
			wantErr: "probe_interval",
		},
		{
			name:    "settle window too small",
			mutate:  func(c *Config) { c.Netmon.SettleWindow = "1ms" },
			wantErr: "settle_window",
		},
		{
			name:    "failure threshold zero",
			mutate:  func(c *Config) { c.Netmon.FailureThreshold = 0 },
			wantErr: "failure_threshold",
		},
		{
			name:    "listen missing port",
			mutate:  func(c *Config) { c.Status.Listen = "localhost" },
			wantErr: "listen",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.LogLevel = "trace" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"sync_interval", "sync_intervall", 1},
		{"listen", "listen", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "levenshtein(%q, %q)", tt.a, tt.b)
	}
}

func TestClosestMatch_RespectsMaxDistance(t *testing.T) {
	known := []string{"engine.batch_size", "status.listen"}

	assert.Equal(t, "engine.batch_size", closestMatch("engine.batch_sze", known))
	assert.Equal(t, "", closestMatch("zzzzzzzzzzz", known))
}
