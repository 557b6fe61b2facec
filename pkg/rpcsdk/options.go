package rpcsdk

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"discord-rpc/internal/usecase/connection"
)

// Default client settings.
const (
	defaultRequestTimeout  = 30 * time.Second
	defaultActivityEvery   = 4 * time.Second
	defaultActivityBurst   = 5
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer replaces endpoint discovery, for example to target one socket.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithDialTimeouts sets the timeouts of the default dialer.
func WithDialTimeouts(dial, write time.Duration) Option {
	return func(c *Client) {
		c.dialOpts.DialTimeout = dial
		c.dialOpts.WriteTimeout = write
	}
}

// WithMaxRetries sets how many consecutive failed connects are tolerated
// before the client gives up for good. 0 retries forever.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.connCfg.MaxRetries = n }
}

// WithBackoff sets the reconnect delay. A multiplier above 1 grows the delay
// per attempt up to maxDelay.
func WithBackoff(initial time.Duration, multiplier float64, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.connCfg.Backoff = connection.BackoffConfig{InitialDelay: initial, Multiplier: multiplier, MaxDelay: maxDelay}
	}
}

// WithHandshakeTimeout bounds the wait for READY.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.connCfg.HandshakeTimeout = d }
}

// WithPolling sets the read poll timeout and the pause between pump cycles.
// Lower values reduce latency at the cost of more wakeups.
func WithPolling(pollTimeout, pumpInterval time.Duration) Option {
	return func(c *Client) {
		c.connCfg.PollTimeout = pollTimeout
		c.connCfg.PumpInterval = pumpInterval
	}
}

// WithMaxPayload caps the size of a received frame.
func WithMaxPayload(n uint32) Option {
	return func(c *Client) { c.connCfg.Limits.MaxPayloadBytes = n }
}

// WithRequestTimeout bounds Execute when the caller's context has no
// deadline. 0 waits until the context is done.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithActivityRateLimit allows burst SET_ACTIVITY calls, refilled one per
// interval. An interval of 0 disables limiting.
func WithActivityRateLimit(interval time.Duration, burst int) Option {
	return func(c *Client) {
		c.rateEvery = interval
		c.rateBurst = burst
	}
}

// WithBreaker opens the command circuit after maxFailures consecutive
// transport-side failures, for timeout. maxFailures 0 disables the breaker.
func WithBreaker(maxFailures uint32, timeout time.Duration) Option {
	return func(c *Client) {
		c.breakerFailures = maxFailures
		c.breakerTimeout = timeout
	}
}

// WithRegisterer records Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithMetricsNamespace overrides the metric name prefix (default
// "discord_rpc"). Only meaningful together with WithRegisterer.
func WithMetricsNamespace(ns string) Option {
	return func(c *Client) { c.metricsNamespace = ns }
}

// WithStateListener observes connection state transitions. fn runs on the
// connection goroutine and must not block.
func WithStateListener(fn func(from, to ConnectionState)) Option {
	return func(c *Client) { c.listeners = append(c.listeners, fn) }
}
