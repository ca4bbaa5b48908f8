// Command blueledger runs the lending ledger and its operator tooling.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "blueledger",
		Short:        "Deterministic isolated-market lending ledger",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default blueledger.yaml in . or /etc/blueledger)")

	root.AddCommand(
		newServeCmd(&configFile),
		newReplayCmd(&configFile),
		newMigrateCmd(&configFile),
	)
	root.AddCommand(newClientCmds()...)
	return root
}
