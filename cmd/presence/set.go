package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"discord-rpc/internal/infra/config"
	"discord-rpc/pkg/rpcsdk"
)

type setFlags struct {
	state, details        string
	largeImage, largeText string
	smallImage, smallText string
	elapsed               bool
	buttons               []string
	partyID               string
	partySize, partyMax   int
	once                  bool
	timeout               time.Duration
}

func setCmd(a *app) *cobra.Command {
	var f setFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Publish an activity",
		Long: `Publish an activity built from the config's presence section and the flags.

Discord clears an activity when the publishing process disconnects, so set
keeps running until interrupted unless --once is given.`,
		Example: `  presence set --state "In a match" --details "Ranked" --elapsed
  presence set --button "Website=https://example.com" --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.init(ctx); err != nil {
				return err
			}
			defer a.close()

			act, err := f.activity(cmd, a)
			if err != nil {
				return err
			}

			reconnected, connected := onConnected()
			// The client outlives Ctrl-C so the activity can still be cleared.
			c, err := a.connectWith(context.WithoutCancel(ctx), ctx, f.timeout, nil, reconnected)
			if err != nil {
				return err
			}
			defer c.Stop()

			k := newKeeper(c, a.log)
			got, err := k.SetActivity(ctx, act)
			if err != nil {
				return fmt.Errorf("set activity: %w", err)
			}
			out := cmd.OutOrStdout()
			success(out, "activity published")
			fmt.Fprintln(out, renderActivity(got))

			if f.once {
				return nil
			}
			info(out, "holding presence, press Ctrl-C to clear")
			drain(connected)
			go k.run(ctx, connected)
			select {
			case <-ctx.Done():
			case <-c.Done():
				return fmt.Errorf("connection lost: %w", c.Err())
			}

			clearCtx, clearCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer clearCancel()
			if err := k.ClearActivity(clearCtx); err != nil {
				warn(out, "could not clear activity: %v", err)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.state, "state", "", "activity state line")
	fl.StringVar(&f.details, "details", "", "activity details line")
	fl.StringVar(&f.largeImage, "large-image", "", "large image asset key")
	fl.StringVar(&f.largeText, "large-text", "", "large image tooltip")
	fl.StringVar(&f.smallImage, "small-image", "", "small image asset key")
	fl.StringVar(&f.smallText, "small-text", "", "small image tooltip")
	fl.BoolVar(&f.elapsed, "elapsed", false, "show time elapsed since now")
	fl.StringArrayVar(&f.buttons, "button", nil, "button as LABEL=URL (repeatable, max 2)")
	fl.StringVar(&f.partyID, "party-id", "", "party id")
	fl.IntVar(&f.partySize, "party-size", 0, "current party size")
	fl.IntVar(&f.partyMax, "party-max", 0, "maximum party size")
	fl.BoolVar(&f.once, "once", false, "exit right after publishing")
	fl.DurationVar(&f.timeout, "timeout", 10*time.Second, "how long to wait for Discord")
	return cmd
}

// activity merges the flags over the configured presence.
func (f *setFlags) activity(cmd *cobra.Command, a *app) (rpcsdk.Activity, error) {
	p := a.cfg.Presence
	changed := cmd.Flags().Changed
	if changed("state") {
		p.State = f.state
	}
	if changed("details") {
		p.Details = f.details
	}
	if changed("large-image") {
		p.LargeImage = f.largeImage
	}
	if changed("large-text") {
		p.LargeText = f.largeText
	}
	if changed("small-image") {
		p.SmallImage = f.smallImage
	}
	if changed("small-text") {
		p.SmallText = f.smallText
	}
	if changed("elapsed") {
		p.ShowElapsed = f.elapsed
	}
	if len(f.buttons) > 0 {
		buttons, err := parseButtons(f.buttons)
		if err != nil {
			return rpcsdk.Activity{}, err
		}
		p.Buttons = buttons
	}

	act, err := activityFromConfig(p, time.Now())
	if err != nil {
		return act, err
	}
	if f.partyID != "" || f.partyMax > 0 {
		act.Party = &rpcsdk.Party{ID: f.partyID}
		if f.partyMax > 0 {
			act.Party.Size = &[2]int{f.partySize, f.partyMax}
		}
		if err := act.Validate(); err != nil {
			return rpcsdk.Activity{}, err
		}
	}
	return act, nil
}

func renderActivity(a *rpcsdk.Activity) string {
	fields := []field{
		{"State", a.State},
		{"Details", a.Details},
	}
	if a.Assets != nil {
		fields = append(fields,
			field{"Large", strings.TrimSpace(a.Assets.LargeImage + " " + styleDim.Render(a.Assets.LargeText))},
			field{"Small", strings.TrimSpace(a.Assets.SmallImage + " " + styleDim.Render(a.Assets.SmallText))},
		)
	}
	if a.Timestamps != nil && a.Timestamps.Start > 0 {
		fields = append(fields, field{"Since", time.UnixMilli(a.Timestamps.Start).Format(time.Kitchen)})
	}
	if a.Party != nil && a.Party.Size != nil {
		fields = append(fields, field{"Party", fmt.Sprintf("%d of %d", a.Party.Size[0], a.Party.Size[1])})
	}
	for _, b := range a.Buttons {
		fields = append(fields, field{"Button", b.Label + " " + styleDim.Render(b.URL)})
	}
	return panel("Activity", fields...)
}

// parseButtons parses LABEL=URL pairs.
func parseButtons(specs []string) ([]config.ButtonConfig, error) {
	out := make([]config.ButtonConfig, 0, len(specs))
	for _, spec := range specs {
		label, url, ok := strings.Cut(spec, "=")
		if !ok || label == "" || url == "" {
			return nil, fmt.Errorf("--button %q: want LABEL=URL", spec)
		}
		out = append(out, config.ButtonConfig{Label: label, URL: url})
	}
	return out, nil
}
