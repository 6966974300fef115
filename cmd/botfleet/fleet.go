package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/botfleet/internal/agent"
	"github.com/rahul/botfleet/internal/dashboard"
	"github.com/rahul/botfleet/internal/observability"
)

func newAgentsCommand(a *app) *cobra.Command {
	var subs bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the bots in the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, ag := range a.roster.Agents() {
				fmt.Fprintf(out, "%-16s %-10s %2d sub-agents  %s\n", bold(ag.Label), ag.Role, ag.SubAgents,
					gray(strings.Join(ag.Capabilities, ", ")))
				if subs {
					fmt.Fprintf(out, "  %s\n", strings.Join(a.roster.SubAgentLabels(ag.Label), " "))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&subs, "subs", false, "also list sub-agent labels")
	return cmd
}

func newDashboardCommand(a *app) *cobra.Command {
	var (
		limit    int
		noBanner bool
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print a one-shot overview of tasks, reports and bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := dashboard.Collect(cmd.Context(), a.store, a.roster, limit, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			width := observability.TermWidth()
			if !noBanner {
				observability.PrintBanner(out, width, observability.IsTerminal() && !a.noColor)
			}
			fmt.Fprintln(out, dashboard.Render(snap, width))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent tasks and reports")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "skip the banner")
	return cmd
}

func newAutoCommand(a *app) *cobra.Command {
	var (
		interval time.Duration
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run the automation loop: periodic analysis tasks and fresh reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = a.cfg.Scheduler.Interval
			}
			sched := agent.NewScheduler(a.pipeline, a.aggregator, a.store, interval, a.logger)
			out := cmd.OutOrStdout()

			if once {
				res, err := sched.Tick(cmd.Context(), time.Now())
				printTick(out, res)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(out, "%s every %s, Ctrl-C to stop\n", green("auto mode"), interval)
			err := sched.Start(ctx, func(res agent.TickResult, err error) {
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), red("tick failed: ")+err.Error())
				}
				printTick(out, res)
			})
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, gray("stopped"))
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between automated tasks (default scheduler.interval)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	return cmd
}

func printTick(out io.Writer, res agent.TickResult) {
	if res.Task != nil {
		printTaskLine(out, res.Task.Task)
	}
	for _, r := range res.Reports {
		fmt.Fprintf(out, "%s %s report %s\n", green("generated"), r.Period, r.ID)
	}
}

func newMetricsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Dump Prometheus metrics in text exposition format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := a.store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			byName := make(map[string]int, len(counts))
			for st, n := range counts {
				byName[string(st)] = n
			}
			a.metrics.SetTaskCounts(byName)
			return a.metrics.WriteText(cmd.OutOrStdout())
		},
	}
}
