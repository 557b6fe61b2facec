// Command presence publishes Discord rich presence from the command line and
// exposes a local gateway other tools can drive.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render(symbolError+" "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "presence",
		Short: "Discord rich presence over the local IPC socket",
		Long: `presence talks to the Discord desktop client through its local IPC socket.

It can publish an activity, clear it, print activity events, and run a local
HTTP/WebSocket gateway that keeps a configured presence alive across Discord
restarts.

Configuration is read from --config (YAML, or TOML for *.toml files) and
DRPC_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "config file path")
	root.PersistentFlags().StringVar(&a.clientID, "client-id", "", "application id (overrides config)")

	root.AddCommand(
		setCmd(a),
		clearCmd(a),
		watchCmd(a),
		statusCmd(a),
		serveCmd(a),
		versionCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("DRPC_CONFIG"); p != "" {
		return p
	}
	return "presence.yaml"
}
