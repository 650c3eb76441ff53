package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pthm-cable/gradient/storage"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List experiments recorded in the run index",
		Example: `  gradient runs --db runs.db
  gradient runs --db runs.db --fronts 3f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig(cmd)
			path, _ := cmd.Flags().GetString("db")
			if path == "" {
				path = cfg.Output.Database
			}
			if path == "" {
				return fmt.Errorf("no run index: pass --db or set output.database")
			}

			store, err := storage.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if runID, _ := cmd.Flags().GetString("fronts"); runID != "" {
				fronts, err := store.FrontHistory(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(fronts) == 0 {
					return fmt.Errorf("run %s has no checkpoints", runID)
				}
				for k, f := range fronts {
					fmt.Fprintf(out, "%d\t%.2f\n", k, f)
				}
				return nil
			}

			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tELAPSED\tREPLICATES\tDURATION\tLATTICE\tALPHA\tSEED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%g\t%dx%d\t%.4g\t%d\n",
					r.ID, humanize.Time(r.Started), r.Elapsed, r.Replicates, r.Duration,
					r.Length, r.Capacity, r.Alpha, r.Seed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("db", "", "SQLite run index (default: output.database)")
	cmd.Flags().String("fronts", "", "Print the mean front per checkpoint for this run id")
	return cmd
}
