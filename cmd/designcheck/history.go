package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/designcheck/history"
	"github.com/hazyhaar/designcheck/outcome"
	"github.com/hazyhaar/designcheck/report"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		limit int
		runID string
		key   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent validation runs, one run, or the outcomes of one element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			if a.cfg.History.Disabled {
				return fmt.Errorf("history is disabled in the configuration")
			}
			if err := a.openHistory(); err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if runID != "" && key != "" {
				return fmt.Errorf("--run and --key are exclusive")
			}
			if key != "" {
				results, err := a.store.ElementHistory(cmd.Context(), key, limit)
				if err != nil {
					return err
				}
				printElementHistory(w, key, results)
				return nil
			}
			if runID != "" {
				run, err := a.store.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run not found: %s", runID)
				}
				fmt.Fprintf(w, "Run %s  iteration %d  %s\n", run.RunID, run.Iteration, run.StartedAt.Local().Format("2006-01-02 15:04:05"))
				report.WriteTally(w, *run)
				return nil
			}
			runs, err := a.store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(w, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs (or element results with --key) to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the results of one run")
	cmd.Flags().StringVar(&key, "key", "", "show the latest outcomes of one element, e.g. cards-with-image")
	return cmd
}

func printRuns(w io.Writer, runs []*history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tBLOCKS\tITER\tPASSED\tFAILED\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), joinBlocks(r.Blocks),
			r.Iteration, r.Passed, r.Failed, r.Errored)
	}
	tw.Flush()
}

// printElementHistory lists one element's outcomes, newest first.
func printElementHistory(w io.Writer, key string, results []outcome.ElementResult) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No results recorded for %s.\n", key)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSTATUS\tMISMATCH\tNODE\tDETAIL")
	for _, r := range results {
		detail := r.ReportPath
		if r.Error != "" {
			detail = r.Error
		}
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status(), r.MismatchPercent, r.NodeID, detail)
	}
	tw.Flush()
}

func joinBlocks(blocks []string) string {
	if len(blocks) == 0 {
		return "-"
	}
	return strings.Join(blocks, ",")
}
