package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/Readm/cluster_pm/config"
	"github.com/Readm/cluster_pm/hooks"
	"github.com/Readm/cluster_pm/plugins/metrics"
	"github.com/Readm/cluster_pm/plugins/trace"
	"github.com/Readm/cluster_pm/simulator"
)

const defaultPreset = "tc2"

type cliOptions struct {
	configPath string
	logLevel   string

	steps       int
	seed        int64
	timeout     time.Duration
	showMetrics bool

	all bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:          "cluster-pm",
		Short:        "Simulate reference-counted power sequencing on a dual-cluster machine",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file (overrides the preset argument)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "Run a randomized workload on every core and print statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}
	runCmd.Flags().IntVar(&opts.steps, "steps", 0, "commands issued by the boot cpu (0 keeps the configured value)")
	runCmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 keeps the configured value)")
	runCmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "abort the run after this long")
	runCmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "dump prometheus metrics after the run")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [name]",
		Short: "Run scripted power sequencing scenarios",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}
	scenarioCmd.Flags().BoolVar(&opts.all, "all", false, "run every scenario")

	describeCmd := &cobra.Command{
		Use:   "describe",
		Short: "List presets, scenarios and plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return describe(cmd.OutOrStdout())
		},
	}

	root.AddCommand(runCmd, scenarioCmd, describeCmd)
	return root
}

// loadConfig resolves the configuration from --config or a preset name and
// applies the log level.
func loadConfig(opts *cliOptions, preset string) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if preset == "" {
			preset = defaultPreset
		}
		cfg = config.ByName(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q", preset)
		}
	}
	if opts.logLevel != "" {
		cfg.Simulation.LogLevel = opts.logLevel
	}
	level, err := ParseLogLevel(cfg.Simulation.LogLevel)
	if err != nil {
		return nil, err
	}
	GetLogger().SetLevel(level)
	return cfg, nil
}

func runSimulation(ctx context.Context, out io.Writer, opts *cliOptions, args []string) error {
	preset := ""
	if len(args) > 0 {
		preset = args[0]
	}
	cfg, err := loadConfig(opts, preset)
	if err != nil {
		return err
	}
	if opts.steps > 0 {
		cfg.Simulation.Steps = opts.steps
	}
	if opts.seed != 0 {
		cfg.Simulation.Seed = opts.seed
	}
	log := GetLogger()

	reg := prometheus.NewRegistry()
	m, err := simulator.New(cfg, simulator.Options{Logger: log.Slog(), Registerer: reg})
	if err != nil {
		return err
	}
	log.Infof("running %s: %d steps, seed %d", cfg.Platform.Name, cfg.Simulation.Steps, cfg.Simulation.Seed)

	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	stats, err := m.Run(ctx)
	if err != nil {
		return err
	}
	PrintStats(out, stats)
	if opts.showMetrics {
		if err := dumpMetrics(out, reg); err != nil {
			return err
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("run timed out after %s", opts.timeout)
	}
	if stats.Faulted || stats.Invariant != "" || len(stats.Violations) > 0 {
		return fmt.Errorf("run on %s broke power bookkeeping", cfg.Platform.Name)
	}
	return nil
}

func dumpMetrics(out io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Metrics ===")
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}

func runScenarios(ctx context.Context, out io.Writer, opts *cliOptions, args []string) error {
	var names []string
	switch {
	case opts.all:
		for _, sc := range simulator.Scenarios() {
			names = append(names, sc.Name)
		}
	case len(args) == 1:
		names = args
	default:
		return errors.New("name a scenario or pass --all")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var failed []error
	for _, name := range names {
		cfg, err := loadConfig(opts, "")
		if err != nil {
			return err
		}
		res, err := simulator.RunScenario(ctx, name, cfg, simulator.Options{
			Logger:     GetLogger().Slog(),
			Registerer: prometheus.NewRegistry(),
		})
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			failed = append(failed, err)
			continue
		}
		fmt.Fprintf(out, "PASS %s\n", name)
		PrintTimelines(out, res.Timelines)
	}
	return errors.Join(failed...)
}

func describe(out io.Writer) error {
	fmt.Fprintln(out, "Presets:")
	for _, p := range config.Presets() {
		fmt.Fprintf(out, "  %-12s %s\n", p.Name, p.Description)
	}
	fmt.Fprintln(out, "Scenarios:")
	for _, sc := range simulator.Scenarios() {
		fmt.Fprintf(out, "  %-14s %s\n", sc.Name, sc.Description)
	}

	reg := hooks.NewRegistry(nil)
	if err := trace.Register(reg, trace.NewRecorder(trace.HistoryConfig{})); err != nil {
		return err
	}
	if err := metrics.Register(reg, prometheus.NewRegistry(), nil); err != nil {
		return err
	}
	fmt.Fprintln(out, "Plugins:")
	for _, name := range reg.Names() {
		desc, _ := reg.Descriptor(name)
		fmt.Fprintf(out, "  %-20s %s\n", name, desc.Description)
	}
	return nil
}
