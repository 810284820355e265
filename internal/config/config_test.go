package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 500*time.Millisecond, c.Sync.Gap)
	assert.Equal(t, 10, c.Sync.MaxRetry)
	assert.Equal(t, 17, c.Resolve.Concurrency)
	assert.False(t, c.Reconcile.SerializePasses)
	assert.Equal(t, 3, c.Retry.Attempts)
	assert.Equal(t, time.Second, c.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, c.Retry.MaxDelay)
	assert.NoError(t, c.Validate())
	assert.NotNil(t, c.Limiter())
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParse_KeepsUnsetDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader("sync:\n  gap: 1s\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Sync.Gap)
	assert.Equal(t, 10, c.Sync.MaxRetry)
	assert.Equal(t, "wechaty:dirty", c.Redis.Channel)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("sync:\n  interval: 1s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestLoad_File(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, c.Sync.Gap)
	assert.Equal(t, 4, c.Sync.MaxRetry)
	assert.Equal(t, 8, c.Resolve.Concurrency)
	assert.True(t, c.Reconcile.SerializePasses)
	assert.Equal(t, 32, c.Reconcile.MaxInFlight)
	assert.Equal(t, "/var/lib/wechaty/journal.db", c.Database)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, 2, c.Redis.DB)
	assert.Equal(t, "bot:dirty", c.Redis.Channel)
	assert.Equal(t, "wechaty:payload", c.Redis.KeyPrefix)
	assert.Equal(t, ":9090", c.Metrics.Addr)
	assert.Equal(t, "policy.cue", c.Policy)
	assert.Nil(t, c.Limiter())

	p := c.RetryPolicy()
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 2*time.Second, p.MaxDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantGap   time.Duration
		wantRetry int
		wantErr   bool
	}{
		{"none", nil, 500 * time.Millisecond, 10, false},
		{"duration", map[string]string{EnvSyncGap: "2s"}, 2 * time.Second, 10, false},
		{"milliseconds", map[string]string{EnvSyncGap: "750"}, 750 * time.Millisecond, 10, false},
		{"max retry", map[string]string{EnvSyncMaxRetry: "3"}, 500 * time.Millisecond, 3, false},
		{"empty values ignored", map[string]string{EnvSyncGap: "", EnvSyncMaxRetry: ""}, 500 * time.Millisecond, 10, false},
		{"bad gap", map[string]string{EnvSyncGap: "soon"}, 0, 0, true},
		{"bad retry", map[string]string{EnvSyncMaxRetry: "many"}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			err := c.ApplyEnv(envOf(tt.env))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGap, c.Sync.Gap)
			assert.Equal(t, tt.wantRetry, c.Sync.MaxRetry)
		})
	}
	c := Default()
	require.NoError(t, c.ApplyEnv(noEnv))
	assert.Equal(t, Default(), c)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative gap", func(c *Config) { c.Sync.Gap = -1 }, "sync.gap"},
		{"zero retries", func(c *Config) { c.Sync.MaxRetry = 0 }, "sync.max_retry"},
		{"zero concurrency", func(c *Config) { c.Resolve.Concurrency = 0 }, "resolve.concurrency"},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"max below initial", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "retry.max_delay"},
		{"negative rate", func(c *Config) { c.RateLimit.PerSecond = -1 }, "rate_limit.per_second"},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit.burst"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "tracing.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
