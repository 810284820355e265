// Package config loads the runtime configuration of the reconciler.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/juzibot/wechaty/internal/converge"
)

// Environment overrides.
const (
	EnvSyncGap      = "WECHATY_PUPPET_PAYLOAD_SYNC_GAP"
	EnvSyncMaxRetry = "WECHATY_PUPPET_PAYLOAD_SYNC_MAX_RETRY"
)

type SyncConfig struct {
	Gap      time.Duration `yaml:"gap"`       // wait between convergence polls
	MaxRetry int           `yaml:"max_retry"` // convergence polls before giving up
}

type ResolveConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type ReconcileConfig struct {
	SerializePasses bool `yaml:"serialize_passes"`
	MaxInFlight     int  `yaml:"max_in_flight"` // 0 = unbounded
}

type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"` // 0 disables limiting
	Burst     int     `yaml:"burst"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // empty disables export
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

type Config struct {
	Sync      SyncConfig      `yaml:"sync"`
	Resolve   ResolveConfig   `yaml:"resolve"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  string          `yaml:"database"` // journal path, empty disables
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Policy    string          `yaml:"policy"` // CUE policy file, empty uses the built-in table
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Sync:      SyncConfig{Gap: 500 * time.Millisecond, MaxRetry: 10},
		Resolve:   ResolveConfig{Concurrency: 17},
		Retry:     RetryConfig{Attempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second},
		RateLimit: RateLimitConfig{PerSecond: 50, Burst: 10},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Channel:   "wechaty:dirty",
			KeyPrefix: "wechaty:payload",
		},
		Tracing: TracingConfig{ServiceName: "wechaty", SampleRate: 1},
	}
}

// Load reads path over Default, then applies environment overrides.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Parse decodes YAML over Default. Unknown keys are rejected. An empty
// document gives Default.
func Parse(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// ApplyEnv applies the environment overrides found through lookup. The gap
// accepts a duration ("750ms") or a bare number of milliseconds.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSyncGap); ok && v != "" {
		d, err := parseGap(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSyncGap, err)
		}
		c.Sync.Gap = d
	}
	if v, ok := lookup(EnvSyncMaxRetry); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSyncMaxRetry, err)
		}
		c.Sync.MaxRetry = n
	}
	return nil
}

func parseGap(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Sync.Gap < 0:
		return errors.New("sync.gap must not be negative")
	case c.Sync.MaxRetry < 1:
		return errors.New("sync.max_retry must be at least 1")
	case c.Resolve.Concurrency < 1:
		return errors.New("resolve.concurrency must be at least 1")
	case c.Retry.Attempts < 1:
		return errors.New("retry.attempts must be at least 1")
	case c.Retry.MaxDelay < c.Retry.InitialDelay:
		return errors.New("retry.max_delay must not be below retry.initial_delay")
	case c.RateLimit.PerSecond < 0:
		return errors.New("rate_limit.per_second must not be negative")
	case c.RateLimit.PerSecond > 0 && c.RateLimit.Burst < 1:
		return errors.New("rate_limit.burst must be at least 1 when limiting")
	case c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1:
		return errors.New("tracing.sample_rate must be within [0, 1]")
	}
	return nil
}

// RetryPolicy returns the driver retry policy.
func (c Config) RetryPolicy() converge.RetryPolicy {
	return converge.RetryPolicy{
		Attempts:     c.Retry.Attempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

// Limiter returns the driver rate limiter, or nil when limiting is off.
func (c Config) Limiter() *rate.Limiter {
	if c.RateLimit.PerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RateLimit.PerSecond), c.RateLimit.Burst)
}
