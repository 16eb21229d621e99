package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/warelay/warelay/internal/config"
)

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.DataDir != "./data" {
		t.Errorf("expected default data_dir ./data, got %s", cfg.Server.DataDir)
	}
	if cfg.Production() {
		t.Error("default env must not be production")
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Queue.MaxAttempts)
	}
	delays := cfg.Queue.RetryDelays()
	if len(delays) != 3 {
		t.Fatalf("expected 3 retry delays, got %d", len(delays))
	}
	if delays[0] != 5*time.Second || delays[2] != 30*time.Second {
		t.Errorf("unexpected retry schedule: %v", delays)
	}
	if cfg.Queue.HandlerTimeout() != 120*time.Second {
		t.Errorf("expected handler timeout 120s, got %s", cfg.Queue.HandlerTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9999
  env: production
auth:
  webhook_secret: hook-s
  receiver_api_key: api-k
queue:
  workers: 8
  max_attempts: 2
  retry_delays_ms: [1000, 2000]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port: want 9999, got %d", cfg.Server.Port)
	}
	if !cfg.Production() {
		t.Error("env: want production mode")
	}
	if cfg.Auth.WebhookSecret != "hook-s" || cfg.Auth.ReceiverAPIKey != "api-k" {
		t.Errorf("auth secrets not loaded: %+v", cfg.Auth)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("workers: want 8, got %d", cfg.Queue.Workers)
	}
	if cfg.Queue.MaxAttempts != 2 || len(cfg.Queue.RetryDelaysMs) != 2 {
		t.Errorf("retry config not loaded: %+v", cfg.Queue)
	}
	// Untouched sections keep their defaults.
	if cfg.Queue.HandlerTimeout() != 120*time.Second {
		t.Errorf("handler timeout default lost: %s", cfg.Queue.HandlerTimeout())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WARELAY_PORT", "7070")
	t.Setenv("WARELAY_ENV", "production")
	t.Setenv("WARELAY_RECEIVER_API_KEY", "from-env")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port: want 7070, got %d", cfg.Server.Port)
	}
	if !cfg.Production() {
		t.Error("env override must engage production mode")
	}
	if cfg.Auth.ReceiverAPIKey != "from-env" {
		t.Errorf("api key: want from-env, got %q", cfg.Auth.ReceiverAPIKey)
	}
}

// Env overrides take precedence over values set by the config file — in
// particular the deployment mode, which governs auth fail-open behavior.
func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9999
  env: development
queue:
  workers: 8
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WARELAY_ENV", "production")
	t.Setenv("WARELAY_PORT", "7070")
	t.Setenv("WARELAY_WORKERS", "2")
	t.Setenv("WARELAY_DATA_DIR", "/var/lib/warelay")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() {
		t.Error("env override must beat the file's env value")
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port: want 7070, got %d", cfg.Server.Port)
	}
	if cfg.Queue.Workers != 2 {
		t.Errorf("workers: want 2, got %d", cfg.Queue.Workers)
	}
	if cfg.Server.DataDir != "/var/lib/warelay" {
		t.Errorf("data dir: want /var/lib/warelay, got %q", cfg.Server.DataDir)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad port", func(c *config.Config) { c.Server.Port = 0 }},
		{"empty data dir", func(c *config.Config) { c.Server.DataDir = "" }},
		{"empty env", func(c *config.Config) { c.Server.Env = "" }},
		{"zero workers", func(c *config.Config) { c.Queue.Workers = 0 }},
		{"zero attempts", func(c *config.Config) { c.Queue.MaxAttempts = 0 }},
		{"short retry schedule", func(c *config.Config) {
			c.Queue.MaxAttempts = 5
			c.Queue.RetryDelaysMs = []int{1000}
		}},
		{"negative delay", func(c *config.Config) {
			c.Queue.RetryDelaysMs = []int{-1000, 1000, 1000}
		}},
		{"zero handler timeout", func(c *config.Config) { c.Queue.HandlerTimeoutMs = 0 }},
		{"zero rate limit", func(c *config.Config) { c.RateLimit.RPS = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
