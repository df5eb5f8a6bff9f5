package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/hetgraph/graph/store"
	"github.com/dshills/hetgraph/internal/config"
)

func newHistoryCmd() *cobra.Command {
	var runID string
	var planID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show persisted runs and actor records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.DriverMemory {
				return fmt.Errorf("history needs a persistent store (--store-driver sqlite|mysql)")
			}
			if (runID == "") == (planID == "") {
				return fmt.Errorf("exactly one of --run or --plan is required")
			}

			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if planID != "" {
				runs, err := st.ListRuns(ctx, planID)
				if err != nil {
					return err
				}
				return printRuns(out, runs)
			}

			run, err := st.LoadRun(ctx, runID)
			if err != nil {
				return fmt.Errorf("load run %s: %w", runID, err)
			}
			records, err := st.ListActorRecords(ctx, runID)
			if err != nil {
				return err
			}
			if err := printRuns(out, []store.RunRecord{run}); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return printActorRecords(out, records)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run ID to show")
	cmd.Flags().StringVar(&planID, "plan", "", "Plan fingerprint whose runs to list")

	return cmd
}

func printRuns(w io.Writer, runs []store.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSEQ\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Microsecond).String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Seq, r.Status, r.StartedAt.Format(time.RFC3339Nano), duration, r.Error)
	}
	return tw.Flush()
}

func printActorRecords(w io.Writer, records []store.ActorRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTOR\tBACKEND\tSTATUS\tMS\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n", r.Actor, r.Backend, r.Status, r.DurationMs, r.Error)
	}
	return tw.Flush()
}
