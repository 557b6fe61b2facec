package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"discord-rpc/internal/adapter/gateway"
	"discord-rpc/pkg/rpcsdk"
)

// activityEvents are the dispatches watch subscribes to.
var activityEvents = []rpcsdk.Event{
	rpcsdk.EvtActivityJoin,
	rpcsdk.EvtActivitySpectate,
	rpcsdk.EvtActivityJoinRequest,
}

func watchCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print activity join, spectate and join request events",
		Long: `Connect, subscribe to activity events and print every dispatch until
interrupted. Subscriptions are renewed after a reconnect.

With metrics enabled in the config, Prometheus metrics are served on
metrics.addr while watching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.init(ctx); err != nil {
				return err
			}
			defer a.close()
			out := cmd.OutOrStdout()

			var reg *prometheus.Registry
			if a.cfg.Metrics.Enabled {
				reg = prometheus.NewRegistry()
				stop := serveMetrics(a, reg)
				defer stop()
				info(out, "metrics on http://%s/metrics", a.cfg.Metrics.Addr)
			}

			reconnected, connected := onConnected()
			states := rpcsdk.WithStateListener(func(from, to rpcsdk.ConnectionState) {
				a.log.Debug("state", "from", from.String(), "to", to.String())
			})
			c, err := a.connect(ctx, timeout, registerer(reg), reconnected, states)
			if err != nil {
				return err
			}
			defer c.Stop()
			drain(connected)

			c.OnEvent("", func(_ context.Context, n rpcsdk.Notification) {
				printNotification(out, n)
			})

			for {
				if err := subscribeAll(ctx, c); err != nil {
					warn(out, "subscribe: %v", err)
				} else {
					success(out, "watching %d event types", len(activityEvents))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-c.Done():
					return fmt.Errorf("connection lost: %w", c.Err())
				case <-connected:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for Discord")
	return cmd
}

func subscribeAll(ctx context.Context, c *rpcsdk.Client) error {
	var errs []error
	for _, evt := range activityEvents {
		if _, err := c.Subscribe(ctx, evt, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", evt, err))
		}
	}
	return errors.Join(errs...)
}

func printNotification(w io.Writer, n rpcsdk.Notification) {
	fmt.Fprintf(w, "%s %s %s\n",
		styleDim.Render(n.Timestamp.Format(time.TimeOnly)),
		styleAccent.Render(string(n.Type)),
		string(n.Data),
	)
}

// serveMetrics exposes reg on metrics.addr and returns a stop function.
func serveMetrics(a *app, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", gateway.MetricsHandler(reg))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// registerer avoids handing a typed nil *Registry to an interface.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}
