package connection

import (
	"math"
	"time"

	"discord-rpc/internal/domain"
)

// BackoffConfig defines retry backoff behavior. A Multiplier of 1 (or
// below) gives a fixed delay.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Severity grades a failed connect attempt for logging.
type Severity int

const (
	// SeverityTransient: the peer is not listening yet.
	SeverityTransient Severity = iota
	// SeverityFailure: anything else (handshake rejected, i/o fault).
	SeverityFailure
)

func (s Severity) String() string {
	if s == SeverityTransient {
		return "transient"
	}
	return "failure"
}

// RetryPolicy decides what happens after a failed connect attempt.
// MaxRetries <= 0 retries forever.
type RetryPolicy struct {
	MaxRetries int
	Backoff    BackoffConfig
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Attempt    int
	MaxRetries int
	Retry      bool
	Delay      time.Duration
	Severity   Severity
}

// Decide is a pure function of the consecutive failure count and the error
// that ended the attempt.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	d := Decision{
		Attempt:    attempt,
		MaxRetries: p.MaxRetries,
		Severity:   SeverityFailure,
	}
	if domain.IsTransient(err) {
		d.Severity = SeverityTransient
	}
	if p.MaxRetries > 0 && attempt >= p.MaxRetries {
		return d
	}
	d.Retry = true
	d.Delay = NextBackoffDelay(p.Backoff, attempt)
	return d
}
