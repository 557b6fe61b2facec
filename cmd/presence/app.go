package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"discord-rpc/internal/infra/config"
	"discord-rpc/internal/infra/logger"
	"discord-rpc/internal/infra/tracer"
	"discord-rpc/pkg/rpcsdk"
)

// app carries state shared by all subcommands.
type app struct {
	configPath string
	clientID   string

	// dialer replaces endpoint discovery; tests use it.
	dialer rpcsdk.Dialer

	cfg     *config.Config
	log     *slog.Logger
	cleanup []func()
}

// init loads the config and builds the logger and tracer.
func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.clientID != "" {
		cfg.ClientID = a.clientID
	}
	if cfg.ClientID == "" {
		return errors.New("no client id: set client_id in the config, DRPC_CLIENT_ID or --client-id")
	}
	a.cfg = cfg

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.cleanup = append(a.cleanup, func() { _ = logCloser() })

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	a.cleanup = append(a.cleanup, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.log.Warn("tracer shutdown", "error", err)
		}
	})
	return nil
}

// close runs cleanups in reverse order.
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// clientOptions maps the config onto client options.
func (a *app) clientOptions(reg prometheus.Registerer, extra ...rpcsdk.Option) []rpcsdk.Option {
	c := a.cfg.Connection
	opts := []rpcsdk.Option{
		rpcsdk.WithLogger(logger.Component(a.log, "rpc")),
		rpcsdk.WithMaxRetries(c.MaxRetries),
		rpcsdk.WithBackoff(c.Backoff.Initial, c.Backoff.Multiplier, c.Backoff.Max),
		rpcsdk.WithHandshakeTimeout(c.ReadTimeout),
		rpcsdk.WithDialTimeouts(c.DialTimeout, c.WriteTimeout),
		rpcsdk.WithPolling(c.PollTimeout, c.PumpInterval),
		rpcsdk.WithMaxPayload(c.MaxPayloadBytes),
		rpcsdk.WithActivityRateLimit(a.cfg.RateLimit.Interval, a.cfg.RateLimit.Burst),
	}
	if a.cfg.Breaker.Enabled {
		opts = append(opts, rpcsdk.WithBreaker(a.cfg.Breaker.MaxFailures, a.cfg.Breaker.Timeout))
	} else {
		opts = append(opts, rpcsdk.WithBreaker(0, 0))
	}
	if reg != nil {
		opts = append(opts, rpcsdk.WithRegisterer(reg), rpcsdk.WithMetricsNamespace(a.cfg.Metrics.Namespace))
	}
	if a.dialer != nil {
		opts = append(opts, rpcsdk.WithDialer(a.dialer))
	}
	return append(opts, extra...)
}

// connect starts a client and waits up to timeout for the handshake.
func (a *app) connect(ctx context.Context, timeout time.Duration, reg prometheus.Registerer, opts ...rpcsdk.Option) (*rpcsdk.Client, error) {
	return a.connectWith(ctx, ctx, timeout, reg, opts...)
}

// connectWith runs the client under runCtx but waits for the first
// connection under ctx. Callers that must talk to Discord after ctx is
// cancelled pass a runCtx that outlives it and call Stop themselves.
func (a *app) connectWith(runCtx, ctx context.Context, timeout time.Duration, reg prometheus.Registerer, opts ...rpcsdk.Option) (*rpcsdk.Client, error) {
	c, err := rpcsdk.New(a.cfg.ClientID, a.clientOptions(reg, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(runCtx); err != nil {
		return nil, err
	}
	if err := waitConnected(ctx, c, timeout); err != nil {
		c.Stop()
		return nil, err
	}
	return c, nil
}

// waitConnected polls until c is connected, gives up, or timeout passes.
func waitConnected(ctx context.Context, c *rpcsdk.Client, timeout time.Duration) error {
	if c.IsConnected() {
		return nil
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			if err := c.Err(); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return errors.New("connect: client stopped")
		case <-deadline.C:
			return fmt.Errorf("no Discord client answered within %s", timeout)
		case <-ticker.C:
			if c.IsConnected() {
				return nil
			}
		}
	}
}

// activityFromConfig builds the configured presence. started is used when
// show_elapsed is set.
func activityFromConfig(p config.PresenceConfig, started time.Time) (rpcsdk.Activity, error) {
	b := rpcsdk.NewActivity().State(p.State).Details(p.Details)
	if p.LargeImage != "" || p.LargeText != "" {
		b.LargeImage(p.LargeImage, p.LargeText)
	}
	if p.SmallImage != "" || p.SmallText != "" {
		b.SmallImage(p.SmallImage, p.SmallText)
	}
	if p.ShowElapsed {
		b.StartedAt(started)
	}
	for _, btn := range p.Buttons {
		b.Button(btn.Label, btn.URL)
	}
	return b.Build()
}

// onConnected returns an option that signals the channel after every
// successful handshake. Signals coalesce while the receiver is busy.
func onConnected() (rpcsdk.Option, <-chan struct{}) {
	ch := make(chan struct{}, 1)
	return rpcsdk.WithStateListener(func(_, to rpcsdk.ConnectionState) {
		if to != rpcsdk.StateConnected {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	}), ch
}

// drain discards a pending signal, such as the one from the initial connect.
func drain(ch <-chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
