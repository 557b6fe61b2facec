// Package config loads the client configuration from YAML or TOML files and
// DRPC_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	// ClientID is the application id registered with the desktop client.
	ClientID   string           `yaml:"client_id" toml:"client_id"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Breaker    BreakerConfig    `yaml:"breaker" toml:"breaker"`
	Logger     LoggerConfig     `yaml:"logger" toml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer" toml:"tracer"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Gateway    GatewayConfig    `yaml:"gateway" toml:"gateway"`
	Presence   PresenceConfig   `yaml:"presence" toml:"presence"`
	Includes   []string         `yaml:"includes,omitempty" toml:"includes,omitempty"`
}

// ConnectionConfig tunes the IPC connection manager.
type ConnectionConfig struct {
	MaxRetries      int           `yaml:"max_retries" toml:"max_retries"` // 0 = unlimited
	DialTimeout     time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"` // handshake
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	PollTimeout     time.Duration `yaml:"poll_timeout" toml:"poll_timeout"`
	PumpInterval    time.Duration `yaml:"pump_interval" toml:"pump_interval"`
	Backoff         BackoffConfig `yaml:"backoff" toml:"backoff"`
	MaxPayloadBytes uint32        `yaml:"max_payload_bytes" toml:"max_payload_bytes"`
}

// BackoffConfig controls the delay between reconnect attempts.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" toml:"initial"`
	Multiplier float64       `yaml:"multiplier" toml:"multiplier"`
	Max        time.Duration `yaml:"max" toml:"max"`
}

// RateLimitConfig limits SET_ACTIVITY updates.
type RateLimitConfig struct {
	Interval time.Duration `yaml:"interval" toml:"interval"`
	Burst    int           `yaml:"burst" toml:"burst"`
}

// BreakerConfig configures the command circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled" toml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures" toml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Exporter string `yaml:"exporter" toml:"exporter"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Addr      string `yaml:"addr" toml:"addr"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

// GatewayConfig configures the local HTTP/WebSocket gateway of
// `presence serve`.
type GatewayConfig struct {
	Addr   string        `yaml:"addr" toml:"addr"`
	Tokens []TokenConfig `yaml:"tokens" toml:"tokens"`
	// RequestsPerMin throttles the REST API per client host. 0 disables it.
	RequestsPerMin int `yaml:"requests_per_min" toml:"requests_per_min"`
	Burst          int `yaml:"burst" toml:"burst"`
}

// TokenConfig is one gateway access token. With no tokens configured the
// gateway accepts unauthenticated requests from loopback clients only.
type TokenConfig struct {
	Token string `yaml:"token" toml:"token"`
	Name  string `yaml:"name" toml:"name"`
}

// PresenceConfig is the activity published by `presence serve` and used as
// the base for `presence set`.
type PresenceConfig struct {
	State       string         `yaml:"state" toml:"state"`
	Details     string         `yaml:"details" toml:"details"`
	LargeImage  string         `yaml:"large_image" toml:"large_image"`
	LargeText   string         `yaml:"large_text" toml:"large_text"`
	SmallImage  string         `yaml:"small_image" toml:"small_image"`
	SmallText   string         `yaml:"small_text" toml:"small_text"`
	ShowElapsed bool           `yaml:"show_elapsed" toml:"show_elapsed"`
	Buttons     []ButtonConfig `yaml:"buttons" toml:"buttons"`
}

// ButtonConfig is one activity button.
type ButtonConfig struct {
	Label string `yaml:"label" toml:"label"`
	URL   string `yaml:"url" toml:"url"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Connection: ConnectionConfig{
			MaxRetries:   10,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			PollTimeout:  time.Second,
			PumpInterval: 500 * time.Millisecond,
			Backoff: BackoffConfig{
				Initial:    5 * time.Second,
				Multiplier: 1,
			},
			MaxPayloadBytes: 16 * 1024 * 1024,
		},
		RateLimit: RateLimitConfig{
			Interval: 4 * time.Second, // the desktop client allows 5 updates per 20s
			Burst:    5,
		},
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      "127.0.0.1:9464",
			Namespace: "discord_rpc",
		},
		Gateway: GatewayConfig{
			Addr:           "127.0.0.1:8765",
			RequestsPerMin: 120,
			Burst:          20,
		},
	}
}

// Load reads a config file, applies env var overrides and validates the
// result. Files ending in .toml are parsed as TOML, everything else as YAML.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := decode(absPath, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Includes are overlaid first, then the main file again so its own
	// values win.
	if includes := cfg.Includes; len(includes) > 0 {
		if err := newIncludeLoader(cfg, absPath).apply(filepath.Dir(absPath), includes, 0); err != nil {
			return nil, err
		}
		if err := decode(absPath, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays data onto cfg using the format implied by path.
func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides maps DRPC_* env vars to config fields. Values that fail
// to parse are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRPC_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("DRPC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Connection.MaxRetries = n
		}
	}
	if v := os.Getenv("DRPC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Connection.ReadTimeout = d
		}
	}
	if v := os.Getenv("DRPC_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Connection.PollTimeout = d
		}
	}
	if v := os.Getenv("DRPC_BACKOFF_INITIAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Connection.Backoff.Initial = d
		}
	}
	if v := os.Getenv("DRPC_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DRPC_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DRPC_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DRPC_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("DRPC_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("DRPC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("DRPC_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("DRPC_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Tokens = append(cfg.Gateway.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("DRPC_BREAKER_ENABLED"); v != "" {
		cfg.Breaker.Enabled = v == "true"
	}
	if v := os.Getenv("DRPC_PRESENCE_STATE"); v != "" {
		cfg.Presence.State = v
	}
	if v := os.Getenv("DRPC_PRESENCE_DETAILS"); v != "" {
		cfg.Presence.Details = v
	}
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Group or world write.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (must not be group or world writable)", path, mode)
	}
	return nil
}
