package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/forge-sync/internal/resources"
	"github.com/Sternrassler/forge-sync/internal/store"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show when each resource was last synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			return printStatus(cmd.OutOrStdout(), st, time.Now())
		},
	}
}

func printStatus(out io.Writer, st *store.Store, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tLAST SYNC\tDOCUMENTS")
	for _, name := range resources.Names() {
		state, ok, err := st.State(name)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "%s\tnever\t-\n", name)
			continue
		}
		ago := now.Sub(state.SyncedAt).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s (%s ago)\t%d\n", name, state.SyncedAt.Local().Format(time.DateTime), ago, state.Documents)
	}
	return w.Flush()
}
