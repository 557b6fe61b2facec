// Package metrics exposes Prometheus instrumentation for the IPC client.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"discord-rpc/internal/domain"
)

// Config configures the Prometheus collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "discord_rpc").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for command duration.
	// Default: prometheus.DefBuckets
	Buckets []float64
}

// Option configures the Prometheus collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// Metrics holds the client's collectors.
type Metrics struct {
	connectAttempts *prometheus.CounterVec
	state           prometheus.Gauge
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests and multiple clients in one process from colliding.
func New(reg prometheus.Registerer, opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "discord_rpc",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connect_attempts_total",
			Help:        "Connection attempts (dial + handshake) by result code",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connection_state",
			Help:        "Connection state: 0 disconnected, 1 connecting, 2 handshaking, 3 connected, 4 exhausted",
			ConstLabels: cfg.ConstLabels,
		}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_sent_total",
			Help:        "Frames written to the transport by opcode",
			ConstLabels: cfg.ConstLabels,
		}, []string{"op"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_received_total",
			Help:        "Frames read from the transport by opcode",
			ConstLabels: cfg.ConstLabels,
		}, []string{"op"}),

		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "commands_total",
			Help:        "Executed commands by command and result code",
			ConstLabels: cfg.ConstLabels,
		}, []string{"cmd", "result"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "command_duration_seconds",
			Help:        "Time from enqueue to response per command",
			Buckets:     cfg.Buckets,
			ConstLabels: cfg.ConstLabels,
		}, []string{"cmd"}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "notifications_total",
			Help:        "Asynchronous DISPATCH events received by event",
			ConstLabels: cfg.ConstLabels,
		}, []string{"evt"}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.ErrorCodeOf(err))
}

// ConnectAttempt records the outcome of one dial + handshake.
func (m *Metrics) ConnectAttempt(err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(resultLabel(err)).Inc()
}

// SetState records the current connection state.
func (m *Metrics) SetState(s domain.ConnectionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

// FrameSent counts one outbound frame.
func (m *Metrics) FrameSent(op string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(op).Inc()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived(op string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(op).Inc()
}

// Command records one Execute call.
func (m *Metrics) Command(cmd domain.Command, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(string(cmd), resultLabel(err)).Inc()
	m.commandDuration.WithLabelValues(string(cmd)).Observe(elapsed.Seconds())
}

// Notification counts one DISPATCH event.
func (m *Metrics) Notification(evt domain.Event) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(evt)).Inc()
}
