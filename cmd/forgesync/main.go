// Command forgesync mirrors GitHub repository data and Jira issues into a
// local store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The aggregate report was already printed by sync.
		if !errors.As(err, new(*orchestrator.AggregateError)) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "forgesync",
		Short:         "Sync GitHub and Jira data into a local store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./forgesync.yaml)")

	root.AddCommand(
		newSyncCmd(&configPath),
		newResourcesCmd(),
		newStatusCmd(&configPath),
		newQuotaCmd(&configPath),
	)
	return root
}
