package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/geekane/1127jixiao/scoring"
	"github.com/spf13/cobra"
)

// opContext bounds a command by --timeout.
func (c *cli) opContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

// =============================================================================
// REFRESH
// =============================================================================

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload both fact tables for the previous month",
		Long: `Runs the full refresh and waits for it. --timeout does not apply: a
started refresh always runs to completion so neither fact table is left
half loaded. The export client's own HTTP and download timeouts bound it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Service.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh %s: %w", res.RunID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s (%s): %d monthly facts, %d daily facts\n",
				res.RunID, res.Period, res.MonthlyCount, res.DailyCount)
			return nil
		},
	}
}

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent refresh runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.opContext(cmd)
			defer cancel()

			runs, err := c.app.Service.Runs(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTRIGGER\tPERIOD\tSTATUS\tMONTHLY\tDAILY\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s~%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.Trigger, r.PeriodStart, r.PeriodEnd, r.Status, r.MonthlyCount, r.DailyCount, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list, 0 for all")
	return cmd
}

// =============================================================================
// IMPORTS
// =============================================================================

func (c *cli) importAssignmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-assignments <file.xlsx|file.xls>",
		Short: "Replace the store-to-operator assignments from a sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.opContext(cmd)
			defer cancel()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := c.app.Service.ImportAssignments(ctx, data, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no valid records found, assignments unchanged")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d assignments\n", n)
			return nil
		},
	}
}

func (c *cli) importTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-templates <file.yaml>",
		Short: "Replace the KPI templates of every person in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.opContext(cmd)
			defer cancel()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := c.app.Service.ImportTemplates(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported templates for %d persons\n", n)
			return nil
		},
	}
}

// =============================================================================
// REPORTS
// =============================================================================

func (c *cli) summariesCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "Show one summary per operator",
		Long: `Aggregates the stored facts per operator. Without --start and --end the
previous calendar month is used, and a refresh is started first when the
stored facts are stale; the command waits for it before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.opContext(cmd)
			defer cancel()

			report, err := c.app.Service.OperatorSummaries(ctx, start, end)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "range %s (%s)\n", report.Range, report.Source)
			if report.UpdateTriggered {
				fmt.Fprintln(out, "facts are stale, a refresh was started; figures below are the stored ones")
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OPERATOR\tGROUP\tSTORES\tVERIFIED\tAVG SCORE")
			for _, s := range report.Summaries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					s.OperatorName, s.GroupID, s.StoreCount,
					s.TotalVerifiedAmount.StringFixed(2), s.AvgScore.StringFixed(2))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Range end date (YYYY-MM-DD)")
	return cmd
}

func (c *cli) scoreCmd() *cobra.Command {
	var month, person, start, end string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a person's KPI score for a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.opContext(cmd)
			defer cancel()

			res, err := c.app.Service.Score(ctx, month, person, start, end)
			if err != nil {
				return err
			}
			printScore(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Performance month (required)")
	cmd.Flags().StringVar(&person, "person", "", "Person name (required)")
	cmd.Flags().StringVar(&start, "start", "", "Summary range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Summary range end date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("month")
	cmd.MarkFlagRequired("person")
	return cmd
}

func printScore(cmd *cobra.Command, res scoring.ScoreResult) {
	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDICATOR\tCATEGORY\tSCORE\tNOTE")
	for _, it := range res.Items {
		note := it.Error
		if it.Missing {
			note = "missing entry"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", it.Indicator, it.Category, it.Score, note)
	}
	tw.Flush()

	fmt.Fprintf(out, "process %.2f, management %.2f, total %.2f\n",
		res.ProcessSubtotal, res.ManagementSubtotal, res.GrandTotal)
	if len(res.Missing) > 0 {
		fmt.Fprintf(out, "missing entries: %v\n", res.Missing)
	}
}
