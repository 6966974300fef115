package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	fleeterrors "github.com/rahul/botfleet/internal/errors"
	"github.com/rahul/botfleet/internal/report"
	"github.com/rahul/botfleet/internal/store"
)

func newReportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate and read daily and weekly reports",
	}
	cmd.AddCommand(newReportGenerateCommand(a), newReportListCommand(a), newReportShowCommand(a))
	return cmd
}

func parsePeriod(raw string) (store.Period, error) {
	p := store.Period(raw)
	if !p.Valid() {
		return "", fleeterrors.NewValidation("period", "unknown period %q (want daily or weekly)", raw)
	}
	return p, nil
}

func newReportGenerateCommand(a *app) *cobra.Command {
	var (
		asOf   string
		format string
	)
	cmd := &cobra.Command{
		Use:       "generate daily|weekly",
		Short:     "Summarise the last day or week of task activity",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(store.PeriodDaily), string(store.PeriodWeekly)},
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := parsePeriod(args[0])
			if err != nil {
				return err
			}
			var at time.Time
			if asOf != "" {
				if at, err = time.Parse(time.RFC3339, asOf); err != nil {
					return fleeterrors.NewValidation("as-of", "want RFC3339 time: %v", err)
				}
			}
			rep, err := a.aggregator.GenerateReport(cmd.Context(), period, at)
			if err != nil {
				return err
			}
			if format == "text" {
				printReport(cmd.OutOrStdout(), rep)
				return nil
			}
			return writeFormatted(cmd.OutOrStdout(), format, rep)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "end of the report window, RFC3339 (default now)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func newReportListCommand(a *app) *cobra.Command {
	var (
		period string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.ReportFilter{Limit: limit}
			if period != "" {
				p, err := parsePeriod(period)
				if err != nil {
					return err
				}
				filter.Period = p
			}
			reports, err := a.store.ListReports(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(reports) == 0 {
				fmt.Fprintln(out, gray("no reports"))
			}
			for _, r := range reports {
				fmt.Fprintf(out, "%s  %-7s %s  %s tasks\n", r.ID, cyan(string(r.Period)),
					r.GeneratedAt.Format(timeFormat), formatMetric(report.MetricTasksTotal, r.SummaryMetrics[report.MetricTasksTotal]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "only daily or weekly reports")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of reports (0 = all)")
	return cmd
}

func newReportShowCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.store.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == "text" {
				printReport(cmd.OutOrStdout(), rep)
				return nil
			}
			return writeFormatted(cmd.OutOrStdout(), format, rep)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}
