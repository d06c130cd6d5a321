package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/forge-sync/internal/resources"
)

func newResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the resources forgesync can sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tUPSTREAM\tDEPENDS ON\tSYMBOL\tDESCRIPTION")
			for _, r := range resources.All() {
				dep := r.DependsOn
				if dep == "" {
					dep = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Upstream, dep, r.Symbol, r.Description)
			}
			return w.Flush()
		},
	}
}
