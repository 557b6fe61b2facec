package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect once and report the Discord client and user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.init(ctx); err != nil {
				return err
			}
			defer a.close()

			c, err := a.connect(ctx, timeout, nil)
			if err != nil {
				return err
			}
			defer c.Stop()

			ready, ok := c.Ready()
			if !ok {
				return fmt.Errorf("connected but READY payload is missing")
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ready)
			}

			user := ready.User.Username
			if ready.User.GlobalName != "" {
				user = ready.User.GlobalName + " " + styleDim.Render("@"+ready.User.Username)
			}
			success(out, "connected to Discord")
			fmt.Fprintln(out, panel("Discord",
				field{"Client", a.cfg.ClientID},
				field{"User", user},
				field{"User ID", ready.User.ID},
				field{"Env", ready.Config.Environment},
				field{"API", ready.Config.APIEndpoint},
				field{"Protocol", fmt.Sprintf("v%d", ready.V)},
			))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for Discord")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the READY payload as JSON")
	return cmd
}
