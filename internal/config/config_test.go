// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, DISCUSS_* overrides, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:9090"
  grpc_addr: "127.0.0.1:50051"
  allowed_origins:
    - "https://discuss.example.test"

database:
  path: "./test.db"
  driver: "sqlite3"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"

chat:
  history_limit: 25
  max_history_limit: 100
  outbound_buffer: 16
  events_per_second: 5
  event_burst: 10
  idle_timeout: "2m"
  sweep_interval: "10s"
  render_markdown: true

directory:
  cache_ttl: "1m"

retention:
  enabled: true
  cron: "*/5 * * * *"
  ttl: "48h"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "127.0.0.1:50051")
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("Server.AllowedOrigins len = %d, want 1", len(cfg.Server.AllowedOrigins))
	}
	if cfg.Database.Driver != DriverCgo {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverCgo)
	}
	if cfg.Chat.HistoryLimit != 25 || cfg.Chat.MaxHistoryLimit != 100 {
		t.Errorf("Chat history limits = %d/%d, want 25/100", cfg.Chat.HistoryLimit, cfg.Chat.MaxHistoryLimit)
	}
	if cfg.Chat.IdleTimeout != 2*time.Minute {
		t.Errorf("Chat.IdleTimeout = %v, want %v", cfg.Chat.IdleTimeout, 2*time.Minute)
	}
	if cfg.Chat.SweepInterval != 10*time.Second {
		t.Errorf("Chat.SweepInterval = %v, want %v", cfg.Chat.SweepInterval, 10*time.Second)
	}
	if !cfg.Chat.RenderMarkdown {
		t.Error("Chat.RenderMarkdown = false, want true")
	}
	if cfg.Directory.CacheTTL != time.Minute {
		t.Errorf("Directory.CacheTTL = %v, want %v", cfg.Directory.CacheTTL, time.Minute)
	}
	if !cfg.Retention.Enabled || cfg.Retention.TTL != 48*time.Hour {
		t.Errorf("Retention = %+v, want enabled with 48h ttl", cfg.Retention)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	// Unset values still get defaults
	if cfg.Chat.MaxBodyChars != 2000 {
		t.Errorf("Chat.MaxBodyChars = %d, want default 2000", cfg.Chat.MaxBodyChars)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want default 10s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:7070"

[database]
path = "./toml.db"

[chat]
idle_timeout = "90s"

[logging]
level = "warn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:7070" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:7070")
	}
	if cfg.Database.Path != "./toml.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./toml.db")
	}
	if cfg.Chat.IdleTimeout != 90*time.Second {
		t.Errorf("Chat.IdleTimeout = %v, want %v", cfg.Chat.IdleTimeout, 90*time.Second)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DISCUSS_SECRET", "abcdefghijklmnopqrstuvwxyz012345")
	t.Setenv("TEST_DISCUSS_DB", "/tmp/expanded.db")

	configPath := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_DISCUSS_DB}"
auth:
  jwt_secret: "${TEST_DISCUSS_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/expanded.db")
	}
	if cfg.Auth.JWTSecret != "abcdefghijklmnopqrstuvwxyz012345" {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISCUSS_SERVER_HTTP_ADDR", "127.0.0.1:1234")
	t.Setenv("DISCUSS_SERVER_ALLOWED_ORIGINS", "https://a.test,https://b.test")
	t.Setenv("DISCUSS_CHAT_HISTORY_LIMIT", "10")
	t.Setenv("DISCUSS_CHAT_IDLE_TIMEOUT", "45s")
	t.Setenv("DISCUSS_RETENTION_ENABLED", "true")

	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
chat:
  history_limit: 30
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:1234" {
		t.Errorf("Server.HTTPAddr = %q, want env override", cfg.Server.HTTPAddr)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("Server.AllowedOrigins = %v, want two origins", cfg.Server.AllowedOrigins)
	}
	if cfg.Chat.HistoryLimit != 10 {
		t.Errorf("Chat.HistoryLimit = %d, want 10", cfg.Chat.HistoryLimit)
	}
	if cfg.Chat.IdleTimeout != 45*time.Second {
		t.Errorf("Chat.IdleTimeout = %v, want 45s", cfg.Chat.IdleTimeout)
	}
	if !cfg.Retention.Enabled {
		t.Error("Retention.Enabled = false, want env override true")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != DriverModernc {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverModernc)
	}
	if cfg.Chat.IdleTimeout != 5*time.Minute || cfg.Chat.SweepInterval != 30*time.Second {
		t.Errorf("Chat sweep = %v/%v, want 5m/30s", cfg.Chat.IdleTimeout, cfg.Chat.SweepInterval)
	}
	if cfg.Retention.TTL != 720*time.Hour {
		t.Errorf("Retention.TTL = %v, want 720h", cfg.Retention.TTL)
	}
	if cfg.Chat.HistoryLimit != 50 || cfg.Chat.MaxHistoryLimit != 50 {
		t.Errorf("Chat history limits = %d/%d, want 50/50", cfg.Chat.HistoryLimit, cfg.Chat.MaxHistoryLimit)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "server: [unclosed")
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
chat:
  idle_timeout: "forever"
`)
	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "chat.idle_timeout") {
		t.Errorf("Load() error = %v, want duration error naming chat.idle_timeout", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: "database.driver"},
		{name: "short secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: "jwt_secret"},
		{name: "history above max", mutate: func(c *Config) { c.Chat.HistoryLimit = 500 }, wantErr: "history_limit"},
		{name: "body too long", mutate: func(c *Config) { c.Chat.MaxBodyChars = 5000 }, wantErr: "max_body_chars"},
		{name: "bad cron", mutate: func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.Cron = "whenever"
		}, wantErr: "retention.cron"},
		{name: "bad cron ignored when disabled", mutate: func(c *Config) { c.Retention.Cron = "whenever" }},
		{name: "tailscale needs hostname", mutate: func(c *Config) { c.Tailscale.Enabled = true }, wantErr: "tailscale.hostname"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "relative metrics path", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, wantErr: "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")

	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"${TEST_EXPAND_A}", "alpha"},
		{"x-${TEST_EXPAND_A}-y", "x-alpha-y"},
		{"${TEST_EXPAND_UNSET_VAR}", ""},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
