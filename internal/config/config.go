// Package config holds all configuration types and loading logic for warelay.
// Config structure never shrinks — fields are only added, never renamed or removed.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// EnvProduction is the server.env value that engages strict auth behavior:
// an unconfigured secret rejects requests instead of failing open.
const EnvProduction = "production"

// Config is the root configuration for a warelay server instance.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Queue     QueueConfig     `yaml:"queue"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds identity and network settings for this instance.
type ServerConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID   string `yaml:"id" env:"WARELAY_INSTANCE_ID,overwrite"`
	Host string `yaml:"host" env:"WARELAY_HOST,overwrite"`
	Port int    `yaml:"port" env:"WARELAY_PORT,overwrite"`

	// Env is the explicit deployment mode. Only the literal "production"
	// engages production semantics; there is no environment sniffing.
	Env string `yaml:"env" env:"WARELAY_ENV,overwrite"`

	DataDir string `yaml:"data_dir" env:"WARELAY_DATA_DIR,overwrite"`
}

// AuthConfig carries the two independent shared secrets. Either may be empty;
// outside production an empty secret makes its gate fail open (with a
// critical log), preserved for upstream migration compatibility.
type AuthConfig struct {
	// WebhookSecret protects POST /webhook.
	WebhookSecret string `yaml:"webhook_secret" env:"WARELAY_WEBHOOK_SECRET,overwrite"`
	// ReceiverAPIKey protects POST /events.
	ReceiverAPIKey string `yaml:"receiver_api_key" env:"WARELAY_RECEIVER_API_KEY,overwrite"`
}

// QueueConfig tunes the lanes and the delivery workers.
// Durations are plain millisecond integers so they round-trip through YAML.
type QueueConfig struct {
	// Workers is the number of delivery worker goroutines.
	Workers int `yaml:"workers" env:"WARELAY_WORKERS,overwrite"`

	// MaxAttempts bounds handler invocations per item (first try + retries).
	MaxAttempts int `yaml:"max_attempts" env:"WARELAY_MAX_ATTEMPTS,overwrite"`

	// RetryDelaysMs is the fixed backoff schedule, one entry per retry.
	RetryDelaysMs []int `yaml:"retry_delays_ms"`

	// HandlerTimeoutMs bounds one downstream handler invocation; exceeding it
	// counts as a handler failure.
	HandlerTimeoutMs int `yaml:"handler_timeout_ms" env:"WARELAY_HANDLER_TIMEOUT_MS,overwrite"`

	// PollIntervalMs is how long an idle worker sleeps when every lane is empty.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// RetryDelays returns the backoff schedule as durations.
func (q QueueConfig) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(q.RetryDelaysMs))
	for i, ms := range q.RetryDelaysMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// HandlerTimeout returns the per-attempt timeout as a duration.
func (q QueueConfig) HandlerTimeout() time.Duration {
	return time.Duration(q.HandlerTimeoutMs) * time.Millisecond
}

// PollInterval returns the idle worker sleep as a duration.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

// BroadcastConfig controls the WebSocket live feed.
type BroadcastConfig struct {
	Enabled bool `yaml:"enabled" env:"WARELAY_BROADCAST_ENABLED,overwrite"`
}

// RateLimitConfig sets the per-IP token bucket applied to inbound HTTP.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Production reports whether strict deployment semantics are in effect.
func (c *Config) Production() bool {
	return c.Server.Env == EnvProduction
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			Env:     "development",
			DataDir: "./data",
		},
		Auth: AuthConfig{},
		Queue: QueueConfig{
			Workers:          4,
			MaxAttempts:      3,
			RetryDelaysMs:    []int{5_000, 15_000, 30_000},
			HandlerTimeoutMs: 120_000,
			PollIntervalMs:   100,
		},
		Broadcast: BroadcastConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run warelay with no config file at all.
//
// After the file, WARELAY_* environment variables are applied as overrides
// (see the env tags on the config structs).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	return cfg, nil
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.DataDir == "" {
		return errors.New("server.data_dir must not be empty")
	}
	if c.Server.Env == "" {
		return errors.New("server.env must be set explicitly (e.g. development, staging, production)")
	}
	if c.Queue.Workers < 1 {
		return errors.New("queue.workers must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	if len(c.Queue.RetryDelaysMs) < c.Queue.MaxAttempts-1 {
		return fmt.Errorf("queue.retry_delays_ms needs at least %d entries for max_attempts=%d",
			c.Queue.MaxAttempts-1, c.Queue.MaxAttempts)
	}
	for i, ms := range c.Queue.RetryDelaysMs {
		if ms < 0 {
			return fmt.Errorf("queue.retry_delays_ms[%d] must not be negative", i)
		}
	}
	if c.Queue.HandlerTimeoutMs <= 0 {
		return errors.New("queue.handler_timeout_ms must be positive")
	}
	if c.Queue.PollIntervalMs <= 0 {
		return errors.New("queue.poll_interval_ms must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.rps and rate_limit.burst must be positive")
	}
	return nil
}
