package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"discord-rpc/internal/adapter/gateway"
	"discord-rpc/internal/infra/logger"
	"discord-rpc/internal/infra/middleware"
	"discord-rpc/pkg/rpcsdk"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr    string
		forever bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local presence gateway",
		Long: `Keep a connection to Discord open and expose it on a local HTTP gateway:

  GET    /healthz          liveness
  GET    /api/v1/status    connection and user
  PUT    /api/v1/activity  publish an activity (JSON body)
  DELETE /api/v1/activity  clear it
  GET    /ws               WebSocket: events plus set_activity, clear_activity,
                           subscribe, unsubscribe and status methods
  GET    /metrics          Prometheus metrics, when enabled

The configured presence is published at startup. The current activity is
published again whenever Discord reconnects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.init(ctx); err != nil {
				return err
			}
			defer a.close()
			if cmd.Flags().Changed("addr") {
				a.cfg.Gateway.Addr = addr
			}

			var reg *prometheus.Registry
			if a.cfg.Metrics.Enabled {
				reg = prometheus.NewRegistry()
			}

			reconnected, connected := onConnected()
			extra := []rpcsdk.Option{reconnected}
			if forever {
				extra = append(extra, rpcsdk.WithMaxRetries(0))
			}
			c, err := rpcsdk.New(a.cfg.ClientID, a.clientOptions(registerer(reg), extra...)...)
			if err != nil {
				return err
			}
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer c.Stop()

			k := newKeeper(c, a.log)
			if a.cfg.Presence.State != "" || a.cfg.Presence.Details != "" {
				act, err := activityFromConfig(a.cfg.Presence, time.Now())
				if err != nil {
					return fmt.Errorf("presence config: %w", err)
				}
				k.remember(act)
			}
			go k.run(ctx, connected)

			opts := []gateway.Option{
				gateway.WithVersion(version),
				gateway.WithRateLimit(middleware.RateLimitConfig{
					RequestsPerMin: a.cfg.Gateway.RequestsPerMin,
					BurstSize:      a.cfg.Gateway.Burst,
				}),
			}
			if reg != nil {
				opts = append(opts, gateway.WithMetricsHandler(gateway.MetricsHandler(reg)))
			}
			tokens := make([]gateway.Token, 0, len(a.cfg.Gateway.Tokens))
			for _, t := range a.cfg.Gateway.Tokens {
				tokens = append(tokens, gateway.Token{Value: t.Token, Name: t.Name})
			}
			srv := gateway.NewServer(k, gateway.NewAuthenticator(tokens), a.cfg.Gateway.Addr,
				logger.Component(a.log, "gateway"), opts...)

			info(cmd.OutOrStdout(), "gateway listening on http://%s", a.cfg.Gateway.Addr)
			errc := make(chan error, 1)
			go func() { errc <- srv.Start(ctx) }()

			select {
			case err := <-errc:
				return err
			case <-c.Done():
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Stop(shutdown)
				if err := c.Err(); err != nil && ctx.Err() == nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				return <-errc
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides gateway.addr)")
	cmd.Flags().BoolVar(&forever, "forever", true, "retry the Discord connection without limit")
	return cmd
}
