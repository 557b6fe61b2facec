package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// An empty client_id is allowed here; commands that connect require it.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClientID(cfg, ve)
	validateConnection(cfg, ve)
	validateRateLimit(cfg, ve)
	validateBreaker(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	validateGateway(cfg, ve)
	validatePresence(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateClientID(cfg *Config, ve *ValidationError) {
	if cfg.ClientID == "" {
		return
	}
	for _, r := range cfg.ClientID {
		if r < '0' || r > '9' {
			ve.Add("client_id %q must be a numeric application id", cfg.ClientID)
			return
		}
	}
}

func validateConnection(cfg *Config, ve *ValidationError) {
	c := cfg.Connection
	if c.MaxRetries < 0 {
		ve.Add("connection.max_retries must be >= 0 (0 = unlimited)")
	}
	if c.DialTimeout <= 0 {
		ve.Add("connection.dial_timeout must be > 0")
	}
	if c.ReadTimeout <= 0 {
		ve.Add("connection.read_timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		ve.Add("connection.write_timeout must be > 0")
	}
	if c.PollTimeout <= 0 {
		ve.Add("connection.poll_timeout must be > 0")
	}
	if c.PumpInterval < 0 {
		ve.Add("connection.pump_interval must be >= 0")
	}
	if c.Backoff.Initial < 0 {
		ve.Add("connection.backoff.initial must be >= 0")
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		ve.Add("connection.backoff.multiplier must be >= 1")
	}
	if c.Backoff.Max != 0 && c.Backoff.Max < c.Backoff.Initial {
		ve.Add("connection.backoff.max must be >= connection.backoff.initial")
	}
	if c.MaxPayloadBytes == 0 {
		ve.Add("connection.max_payload_bytes must be > 0")
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	if cfg.RateLimit.Interval < 0 {
		ve.Add("rate_limit.interval must be >= 0 (0 = unlimited)")
	}
	if cfg.RateLimit.Interval > 0 && cfg.RateLimit.Burst <= 0 {
		ve.Add("rate_limit.burst must be > 0 when rate_limit.interval is set")
	}
}

func validateBreaker(cfg *Config, ve *ValidationError) {
	if !cfg.Breaker.Enabled {
		return
	}
	if cfg.Breaker.MaxFailures == 0 {
		ve.Add("breaker.max_failures must be > 0 when the breaker is enabled")
	}
	if cfg.Breaker.Timeout <= 0 {
		ve.Add("breaker.timeout must be > 0 when the breaker is enabled")
	}
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (use debug, info, warn or error)", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is invalid (use text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is unsupported (use noop or stdout)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is invalid: %v", cfg.Metrics.Addr, err)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is invalid: %v", cfg.Gateway.Addr, err)
	}
	if cfg.Gateway.RequestsPerMin < 0 || cfg.Gateway.Burst < 0 {
		ve.Add("gateway.requests_per_min and gateway.burst must be >= 0")
	}
	for i, t := range cfg.Gateway.Tokens {
		if len(t.Token) < 16 {
			ve.Add("gateway.tokens[%d].token must be at least 16 characters", i)
		}
	}
}

func validatePresence(cfg *Config, ve *ValidationError) {
	p := cfg.Presence
	if n := len(p.State); n == 1 || n > 128 {
		ve.Add("presence.state must be 2-128 characters")
	}
	if n := len(p.Details); n == 1 || n > 128 {
		ve.Add("presence.details must be 2-128 characters")
	}
	if len(p.Buttons) > 2 {
		ve.Add("presence.buttons allows at most 2 entries, got %d", len(p.Buttons))
	}
	for i, b := range p.Buttons {
		if b.Label == "" || len(b.Label) > 32 {
			ve.Add("presence.buttons[%d].label must be 1-32 characters", i)
		}
		u, err := url.Parse(b.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("presence.buttons[%d].url %q must be an absolute URL", i, b.URL)
		}
	}
}
