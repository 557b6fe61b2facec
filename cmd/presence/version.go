package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return
			}
			fmt.Fprintln(out, panel("presence",
				field{"Version", version},
				field{"Commit", commit},
				field{"Built", date},
				field{"Go", runtime.Version()},
				field{"OS/Arch", runtime.GOOS + "/" + runtime.GOARCH},
			))
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
