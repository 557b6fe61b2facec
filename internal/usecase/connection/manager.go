// Package connection owns the IPC connection lifecycle: connect, handshake,
// pump frames while connected, and reconnect with backoff until the retry
// budget runs out.
//
// The Manager is an actor. Its Run goroutine is the only code that touches
// the transport or changes the connection state; everything else talks to it
// through the outbound and inbound queues and reads an atomic state snapshot.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"discord-rpc/internal/adapter/codec"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/metrics"
	"discord-rpc/internal/usecase/queue"
)

// Default manager settings.
const (
	defaultMaxRetries       = 10
	defaultBackoffDelay     = 5 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultPollTimeout      = time.Second
	defaultPumpInterval     = 500 * time.Millisecond
)

// Config configures a Manager.
type Config struct {
	ClientID string
	// MaxRetries is the number of consecutive failed connect attempts after
	// which the manager gives up for good. 0 means unlimited.
	MaxRetries int
	Backoff    BackoffConfig
	// HandshakeTimeout bounds the wait for READY.
	HandshakeTimeout time.Duration
	// PollTimeout bounds the single read issued per pump cycle.
	PollTimeout time.Duration
	// PumpInterval is the pause between pump cycles.
	PumpInterval time.Duration
	Limits       codec.Limits
}

// DefaultConfig returns the defaults for clientID.
func DefaultConfig(clientID string) Config {
	return Config{
		ClientID:         clientID,
		MaxRetries:       defaultMaxRetries,
		Backoff:          BackoffConfig{InitialDelay: defaultBackoffDelay, Multiplier: 1},
		HandshakeTimeout: defaultHandshakeTimeout,
		PollTimeout:      defaultPollTimeout,
		PumpInterval:     defaultPumpInterval,
		Limits:           codec.DefaultLimits(),
	}
}

// StateListener observes state transitions. It runs on the manager
// goroutine and must not block.
type StateListener func(from, to domain.ConnectionState)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithStateListener registers a callback for state transitions.
func WithStateListener(fn StateListener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// Manager runs the connection state machine for one client id.
type Manager struct {
	cfg       Config
	dialer    domain.Dialer
	policy    RetryPolicy
	outbound  *queue.Queue[codec.Frame]
	inbound   *queue.Queue[codec.Frame]
	state     atomic.Int32
	ready     atomic.Pointer[domain.Envelope]
	running   atomic.Bool
	listeners []StateListener
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewManager creates a Manager. Call Run to start it.
func NewManager(cfg Config, dialer domain.Dialer, opts ...Option) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.PumpInterval < 0 {
		cfg.PumpInterval = 0
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = codec.DefaultLimits()
	}
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		policy:   RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.Backoff},
		outbound: queue.New[codec.Frame](),
		inbound:  queue.New[codec.Frame](),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetState(domain.StateDisconnected)
	return m
}

// Send enqueues a frame for the peer. It never blocks.
func (m *Manager) Send(f codec.Frame) error {
	return m.outbound.Push(f)
}

// Pending returns the number of frames waiting to be written.
func (m *Manager) Pending() int {
	return m.outbound.Len()
}

// Recv returns the next application frame received from the peer.
func (m *Manager) Recv(ctx context.Context) (codec.Frame, error) {
	return m.inbound.Pop(ctx)
}

// State returns a snapshot of the connection state.
func (m *Manager) State() domain.ConnectionState {
	return domain.ConnectionState(m.state.Load())
}

// IsConnected reports whether a handshaken transport is installed.
func (m *Manager) IsConnected() bool {
	return m.State() == domain.StateConnected
}

// Ready returns the READY envelope of the current connection, or nil.
func (m *Manager) Ready() *domain.Envelope {
	return m.ready.Load()
}

// Close closes both queues. Blocked Recv calls return domain.ErrChannelClosed.
func (m *Manager) Close() {
	m.outbound.Close()
	m.inbound.Close()
}

// Run drives the state machine until ctx is cancelled or the retry budget
// is exhausted. It may only be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("connection manager for %s already running", m.cfg.ClientID)
	}
	m.logger.Debug("connection manager started", "client_id", m.cfg.ClientID, "max_retries", m.cfg.MaxRetries)

	var (
		conn     domain.Transport
		failures int
	)
	drop := func() {
		if conn != nil {
			conn.Close()
			conn = nil
		}
		m.ready.Store(nil)
	}
	defer drop()

	for {
		if err := ctx.Err(); err != nil {
			drop()
			m.setState(domain.StateDisconnected)
			m.logger.Debug("connection manager stopped", "client_id", m.cfg.ClientID)
			return err
		}

		if conn == nil {
			next, err := m.connect(ctx)
			m.metrics.ConnectAttempt(err)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				failures++
				decision := m.policy.Decide(failures, err)
				m.logAttempt(decision, err)
				if !decision.Retry {
					m.setState(domain.StateExhausted)
					return domain.NewDomainError("Manager.Run", domain.ErrRetriesExhausted,
						fmt.Sprintf("%d attempts", failures))
				}
				m.setState(domain.StateDisconnected)
				sleep(ctx, decision.Delay)
				continue
			}
			conn = next
			failures = 0
			m.setState(domain.StateConnected)
			continue
		}

		if err := m.pump(conn); err != nil {
			if errors.Is(err, domain.ErrChannelClosed) {
				m.logger.Error("inbound queue closed while connected", "error", err)
				drop()
				m.setState(domain.StateDisconnected)
				return err
			}
			m.logDisconnect(conn, err)
			drop()
			m.setState(domain.StateDisconnected)
		}
		sleep(ctx, m.cfg.PumpInterval)
	}
}

// connect dials and handshakes. On failure no transport survives.
func (m *Manager) connect(ctx context.Context) (domain.Transport, error) {
	m.setState(domain.StateConnecting)
	t, err := m.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	m.setState(domain.StateHandshaking)
	t.SetReadTimeout(m.cfg.HandshakeTimeout)
	ready, err := Handshake(t, m.cfg.ClientID, m.cfg.Limits)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.SetReadTimeout(m.cfg.PollTimeout)
	m.ready.Store(ready)
	m.logger.Info("connected to ipc endpoint", "endpoint", t.Endpoint(), "client_id", m.cfg.ClientID)
	return t, nil
}

// pump runs one cycle: flush the outbound queue in order, then issue exactly
// one bounded read. A nil return keeps the connection.
func (m *Manager) pump(t domain.Transport) error {
	for {
		f, ok := m.outbound.TryPop()
		if !ok {
			break
		}
		if err := codec.WriteFrame(t, f); err != nil {
			return fmt.Errorf("send %s frame: %w", f.Op, err)
		}
		m.metrics.FrameSent(f.Op.String())
	}

	f, err := codec.ReadFrame(t, m.cfg.Limits)
	if err != nil {
		if errors.Is(err, domain.ErrWouldBlock) {
			return nil
		}
		return err
	}
	m.metrics.FrameReceived(f.Op.String())

	switch f.Op {
	case codec.OpFrame:
		return m.inbound.Push(f)
	case codec.OpPing:
		if err := codec.WriteFrame(t, codec.Frame{Op: codec.OpPong, Payload: f.Payload}); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}
		m.metrics.FrameSent(codec.OpPong.String())
		return nil
	case codec.OpClose:
		var body domain.CloseData
		_ = json.Unmarshal(f.Payload, &body)
		return fmt.Errorf("peer sent close (code %d: %s): %w", body.Code, body.Message, domain.ErrConnectionClosed)
	default:
		m.logger.Debug("ignoring frame", "op", f.Op.String(), "bytes", len(f.Payload))
		return nil
	}
}

func (m *Manager) setState(to domain.ConnectionState) {
	from := domain.ConnectionState(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.metrics.SetState(to)
	m.logger.Debug("connection state changed", "from", from.String(), "to", to.String())
	for _, fn := range m.listeners {
		fn(from, to)
	}
}

func (m *Manager) logAttempt(d Decision, err error) {
	attrs := []any{
		"attempt", d.Attempt,
		"max_retries", d.MaxRetries,
		"error", err,
	}
	if d.Retry {
		attrs = append(attrs, "retry_in", d.Delay)
	}
	if d.Severity == SeverityTransient {
		m.logger.Warn("failed to connect: peer not listening", attrs...)
		return
	}
	m.logger.Error("failed to connect", attrs...)
}

func (m *Manager) logDisconnect(t domain.Transport, err error) {
	if errors.Is(err, domain.ErrConnectionClosed) {
		m.logger.Info("ipc connection closed", "endpoint", t.Endpoint(), "error", err)
		return
	}
	m.logger.Error("ipc connection fault", "endpoint", t.Endpoint(), "error", err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
