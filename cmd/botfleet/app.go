package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rahul/botfleet/internal/agent"
	"github.com/rahul/botfleet/internal/governance"
	"github.com/rahul/botfleet/internal/observability"
	"github.com/rahul/botfleet/internal/report"
	"github.com/rahul/botfleet/internal/store"
	"github.com/rahul/botfleet/pkg/config"
)

// app holds everything a command needs. It is opened once per invocation.
type app struct {
	configPath string
	dbPath     string
	verbose    bool
	noColor    bool

	cfg        *config.Config
	store      *store.Store
	logger     *observability.Logger
	metrics    *observability.Metrics
	roster     *agent.Roster
	pipeline   *agent.Pipeline
	aggregator *report.Aggregator
}

func (a *app) open(cmd *cobra.Command) error {
	if a.store != nil {
		return nil
	}
	if a.noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Store.Path = a.dbPath
	}
	a.cfg = cfg

	var eventOut io.Writer = io.Discard
	if a.verbose || !cfg.Log.Quiet {
		eventOut = cmd.ErrOrStderr()
	}
	a.logger = observability.NewLogger(observability.LogConfig{
		Output:    eventOut,
		FilePath:  cfg.Log.Path,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	a.metrics = observability.DefaultMetrics()

	if a.roster, err = cfg.Roster(); err != nil {
		return err
	}
	policy, err := governance.NewPolicyEngine(cfg.Policy.DeniedAgents, cfg.Policy.DeniedPatterns)
	if err != nil {
		return err
	}

	a.store, err = store.Open(cfg.Store.Path,
		store.WithLogger(a.logger),
		store.WithMetrics(a.metrics),
		store.WithPageSize(cfg.Store.PageSize))
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	a.pipeline = agent.NewPipeline(a.store, a.roster, policy,
		agent.WithSuccessThreshold(cfg.Scheduler.SuccessThreshold),
		agent.WithPipelineLogger(a.logger),
		agent.WithPipelineMetrics(a.metrics))
	a.aggregator = report.NewAggregator(a.store)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "botfleet",
		Short:         "Track tasks through a simulated bot fleet and summarise them in reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default botfleet.yaml in . or $HOME/.botfleet)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides store.path)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "stream structured events to stderr")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newTaskCommand(a))
	root.AddCommand(newReportCommand(a))
	root.AddCommand(newAgentsCommand(a))
	root.AddCommand(newDashboardCommand(a))
	root.AddCommand(newAutoCommand(a))
	root.AddCommand(newMetricsCommand(a))
	return root, a
}
