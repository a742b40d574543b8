// Command pcsmac optimizes a synthetic classification pipeline with the
// pipeline-aware SMBO loop. It exists to exercise the optimizer end to end,
// with logging, tracing, metrics and shared histories wired in.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/pcsmac"
	"github.com/thalesfsp/pcsmac/pipeline"
	"github.com/thalesfsp/pcsmac/shared"
)

var version = "dev"

var (
	configPath  string
	seed        int64
	logLevel    string
	tracing     bool
	metricsAddr string
	sharedDir   string
	runID       string
	steps       []string
	policy      string
	maxRuns     int

	rootCmd = &cobra.Command{
		Use:           "pcsmac",
		Short:         "Pipeline-aware Bayesian optimization of machine-learning pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Optimize the synthetic pipeline within the configured budget",
		RunE:  runOptimize,
	}

	spaceCmd = &cobra.Command{
		Use:   "space",
		Short: "Print the configuration space of the pipeline",
		RunE:  runSpace,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&steps, "steps", nil, "pipeline steps, in order (default: all registered classification steps)")

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML or JSON configuration file")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (overrides the configuration)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	runCmd.Flags().BoolVar(&tracing, "trace", false, "export spans to stdout")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&sharedDir, "shared-dir", "", "share run histories with other instances through this directory")
	runCmd.Flags().StringVar(&runID, "run-id", "", "identifier of this optimizer instance")
	runCmd.Flags().StringVar(&policy, "policy", "", "plain or cache_aware")
	runCmd.Flags().IntVar(&maxRuns, "max-runs", 0, "maximum number of target runs")

	rootCmd.AddCommand(runCmd, spaceCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

//////
// Commands.
//////

func runOptimize(cmd *cobra.Command, _ []string) error {
	cfg, err := pcsmac.ReadConfig(configPath)
	if err != nil {
		return err
	}

	applyFlags(cmd, &cfg)

	logger, err := newLogger(cfg.Observability.LogLevel)
	if err != nil {
		return err
	}

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Tracing {
		shutdown, err := initTracer()
		if err != nil {
			return err
		}

		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := shutdown(sctx); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Observability.MetricsAddr != "" {
		srv := serveMetrics(cfg.Observability.MetricsAddr, logger)
		defer srv.Close()
	}

	p, err := pipeline.New(steps...)
	if err != nil {
		return err
	}

	space, err := p.BuildSpace()
	if err != nil {
		return err
	}

	constant, variable := p.Partition()
	if len(cfg.Selector.ConstantSteps) == 0 {
		cfg.Selector.ConstantSteps = constant
		cfg.Selector.VariableSteps = variable
	}

	opts := []pcsmac.Option{pcsmac.WithLogger(logger)}

	if cfg.Shared.Enabled {
		if cfg.Shared.RunID == "" {
			cfg.Shared.RunID = uuid.NewString()
		}

		store, err := shared.Open(shared.Config{
			Path:              cfg.Shared.Dir,
			RunID:             cfg.Shared.RunID,
			SyncWrites:        true,
			NumVersionsToKeep: 1,
			Logger:            logger,
		})
		if err != nil {
			return err
		}

		defer store.Close()

		opts = append(opts, pcsmac.WithSharedHistory(store))
	}

	progress := make(chan pcsmac.ProgressUpdate, 16)
	cfg.ProgressChan = progress

	done := make(chan struct{})

	go func() {
		defer close(done)

		for u := range progress {
			logger.Info("progress",
				slog.Int("iteration", u.Iteration),
				slog.Float64("incumbent_cost", u.IncumbentCost),
				slog.Int("challengers", u.Challengers),
				slog.Duration("selection_time", u.SelectionTime),
			)
		}
	}()

	target := newSyntheticTarget(p, constant)

	res, err := pcsmac.Optimize(ctx, cfg, space, target.Evaluate, opts...)

	close(progress)
	<-done

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "run id:      %s\n", res.RunID)
	fmt.Fprintf(out, "iterations:  %d\n", res.Iterations)
	fmt.Fprintf(out, "runs:        %d\n", res.Runs)
	fmt.Fprintf(out, "cost:        %.6f\n", res.IncumbentCost)
	fmt.Fprintln(out, "incumbent:")

	for _, k := range res.Incumbent.Keys() {
		v, _ := res.Incumbent.Get(k)
		fmt.Fprintf(out, "  %s = %v\n", k, v)
	}

	return nil
}

func runSpace(cmd *cobra.Command, _ []string) error {
	p, err := pipeline.New(steps...)
	if err != nil {
		return err
	}

	space, err := p.BuildSpace()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	for _, hp := range space.Hyperparameters() {
		switch h := hp.(type) {
		case *pcsmac.CategoricalHyperparameter:
			fmt.Fprintf(out, "%s {%s} default %v\n", h.Name(), strings.Join(h.Choices, ", "), h.Default())
		case *pcsmac.NumericalHyperparameter[float64]:
			fmt.Fprintf(out, "%s [%g, %g] default %v log %t\n", h.Name(), h.Range.Min, h.Range.Max, h.Default(), h.Log)
		case *pcsmac.NumericalHyperparameter[int64]:
			fmt.Fprintf(out, "%s [%d, %d] default %v log %t\n", h.Name(), h.Range.Min, h.Range.Max, h.Default(), h.Log)
		}
	}

	constant, variable := p.Partition()
	fmt.Fprintf(out, "\nconstant steps: %s\nvariable steps: %s\n", strings.Join(constant, ", "), strings.Join(variable, ", "))

	return nil
}

//////
// Helper functions.
//////

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *pcsmac.Config) {
	flags := cmd.Flags()

	if flags.Changed("seed") {
		cfg.Seed = seed
	}

	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}

	if tracing {
		cfg.Observability.Tracing = true
	}

	if metricsAddr != "" {
		cfg.Observability.MetricsAddr = metricsAddr
	}

	if sharedDir != "" {
		cfg.Shared.Enabled = true
		cfg.Shared.Dir = sharedDir
	}

	if runID != "" {
		cfg.Shared.RunID = runID
	}

	if policy != "" {
		cfg.Selector.Policy = pcsmac.Policy(policy)
	}

	if maxRuns > 0 {
		cfg.Budget.MaxRuns = maxRuns
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", addr))

	return srv
}
