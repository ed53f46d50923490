// ABOUTME: Configuration loading and parsing for discuss-gateway
// ABOUTME: Supports YAML or TOML files with env var expansion, DISCUSS_* overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DISCUSS_SERVER_HTTP_ADDR.
const EnvPrefix = "DISCUSS_"

// Database drivers
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// Config represents the complete discuss-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale" envPrefix:"TAILSCALE_"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat" envPrefix:"CHAT_"`
	Directory DirectoryConfig `yaml:"directory" toml:"directory" envPrefix:"DIRECTORY_"`
	Retention RetentionConfig `yaml:"retention" toml:"retention" envPrefix:"RETENTION_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr       string   `yaml:"grpc_addr" toml:"grpc_addr" env:"GRPC_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"AUTH_KEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" env:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" env:"EPHEMERAL"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path" env:"PATH"`
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
}

// AuthConfig holds authentication configuration. An empty secret makes every connection a guest.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
}

// ChatConfig holds discussion limits and connection tuning
type ChatConfig struct {
	HistoryLimit    int     `yaml:"history_limit" toml:"history_limit" env:"HISTORY_LIMIT"`
	MaxHistoryLimit int     `yaml:"max_history_limit" toml:"max_history_limit" env:"MAX_HISTORY_LIMIT"`
	MaxBodyChars    int     `yaml:"max_body_chars" toml:"max_body_chars" env:"MAX_BODY_CHARS"`
	OutboundBuffer  int     `yaml:"outbound_buffer" toml:"outbound_buffer" env:"OUTBOUND_BUFFER"`
	EventsPerSecond float64 `yaml:"events_per_second" toml:"events_per_second" env:"EVENTS_PER_SECOND"`
	EventBurst      int     `yaml:"event_burst" toml:"event_burst" env:"EVENT_BURST"`
	RenderMarkdown  bool    `yaml:"render_markdown" toml:"render_markdown" env:"RENDER_MARKDOWN"`

	IdleTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout" env:"IDLE_TIMEOUT"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// DirectoryConfig holds user directory cache configuration
type DirectoryConfig struct {
	CacheTTL    time.Duration `yaml:"-" toml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl" toml:"cache_ttl" env:"CACHE_TTL"`
}

// RetentionConfig holds the purge schedule for soft-deleted messages
type RetentionConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Cron    string        `yaml:"cron" toml:"cron" env:"CRON"`
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl" env:"TTL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// Default returns a configuration with every default applied and no file behind it.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then DISCUSS_*
// variables override individual settings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// FromEnv builds a configuration from defaults and DISCUSS_* variables alone.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Server.ShutdownTimeoutRaw == "" {
		c.Server.ShutdownTimeoutRaw = "10s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "discuss.db"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverModernc
	}

	ch := &c.Chat
	if ch.HistoryLimit == 0 {
		ch.HistoryLimit = 50
	}
	if ch.MaxHistoryLimit == 0 {
		ch.MaxHistoryLimit = 50
	}
	if ch.MaxBodyChars == 0 {
		ch.MaxBodyChars = 2000
	}
	if ch.OutboundBuffer == 0 {
		ch.OutboundBuffer = 64
	}
	if ch.EventsPerSecond == 0 {
		ch.EventsPerSecond = 10
	}
	if ch.EventBurst == 0 {
		ch.EventBurst = 20
	}
	if ch.IdleTimeoutRaw == "" {
		ch.IdleTimeoutRaw = "5m"
	}
	if ch.SweepIntervalRaw == "" {
		ch.SweepIntervalRaw = "30s"
	}

	if c.Directory.CacheTTLRaw == "" {
		c.Directory.CacheTTLRaw = "5m"
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = "0 3 * * *"
	}
	if c.Retention.TTLRaw == "" {
		c.Retention.TTLRaw = "720h"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != DriverModernc && c.Database.Driver != DriverCgo {
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverModernc, DriverCgo, c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	ch := c.Chat
	if ch.HistoryLimit < 1 || ch.MaxHistoryLimit < ch.HistoryLimit {
		return fmt.Errorf("chat.history_limit must be between 1 and chat.max_history_limit")
	}
	if ch.MaxBodyChars < 1 || ch.MaxBodyChars > 2000 {
		return fmt.Errorf("chat.max_body_chars must be between 1 and 2000")
	}
	if ch.OutboundBuffer < 1 {
		return fmt.Errorf("chat.outbound_buffer must be positive")
	}
	if ch.EventsPerSecond <= 0 || ch.EventBurst < 1 {
		return fmt.Errorf("chat.events_per_second and chat.event_burst must be positive")
	}
	if ch.IdleTimeout <= 0 || ch.SweepInterval <= 0 {
		return fmt.Errorf("chat.idle_timeout and chat.sweep_interval must be positive")
	}

	if c.Retention.Enabled {
		if !gronx.New().IsValid(c.Retention.Cron) {
			return fmt.Errorf("retention.cron %q is not a valid cron expression", c.Retention.Cron)
		}
		if c.Retention.TTL <= 0 {
			return fmt.Errorf("retention.ttl must be positive")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"chat.idle_timeout", cfg.Chat.IdleTimeoutRaw, &cfg.Chat.IdleTimeout},
		{"chat.sweep_interval", cfg.Chat.SweepIntervalRaw, &cfg.Chat.SweepInterval},
		{"directory.cache_ttl", cfg.Directory.CacheTTLRaw, &cfg.Directory.CacheTTL},
		{"retention.ttl", cfg.Retention.TTLRaw, &cfg.Retention.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
