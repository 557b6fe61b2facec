package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func clearCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the activity published for the application",
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

			if err := c.ClearActivity(ctx); err != nil {
				return fmt.Errorf("clear activity: %w", err)
			}
			success(cmd.OutOrStdout(), "activity cleared")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for Discord")
	return cmd
}
