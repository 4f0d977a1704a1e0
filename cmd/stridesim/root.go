package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"strideos/internal/config"
	"strideos/internal/job"
	"strideos/internal/kernel"
	"strideos/internal/logging"
	"strideos/internal/sched"
	"strideos/internal/timer"
)

type options struct {
	configPath string
	csvPath    string
	logLevel   string
	quiet      bool
	metrics    bool
	timeout    time.Duration
}

// demoTasks run when the config names none.
var demoTasks = []config.TaskSpec{
	{Name: "spin-lo", Priority: 2, Kind: "spin", Rounds: 20},
	{Name: "spin-hi", Priority: 8, Kind: "spin", Rounds: 20},
	{Name: "clock", Priority: 4, Kind: "clock", Rounds: 5},
	{Name: "memory", Priority: 4, Kind: "memory", Rounds: 5},
	{Name: "info", Priority: 16, Kind: "info", Rounds: 3},
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "stridesim",
		Short:         "Boot a stride-scheduled kernel and run user workloads on it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.yml", "path to the YAML configuration")
	f.StringVar(&opts.csvPath, "csv", "", "write scheduler events as CSV to this file")
	f.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print scheduler events")
	f.BoolVar(&opts.metrics, "metrics", false, "print prometheus metrics when the run ends")
	f.DurationVar(&opts.timeout, "timeout", time.Minute, "abort the run after this long")
	return cmd
}

func run(ctx context.Context, out io.Writer, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	var clock timer.Clock
	if cfg.Clock == "tick" {
		tc := timer.NewTickClock(cfg.TickUS)
		tc.Start(time.Duration(cfg.TickUS) * time.Microsecond)
		defer tc.Stop()
		clock = tc
	} else {
		clock = timer.NewMonotonicClock()
	}

	var sinks sched.MultiSink
	if !opts.quiet {
		sinks = append(sinks, sched.NewPrintSink(out))
	}
	if opts.csvPath != "" {
		csv, err := sched.OpenCSVSink(opts.csvPath, runID)
		if err != nil {
			return errors.Wrap(err, "opening event log")
		}
		defer csv.Close()
		sinks = append(sinks, csv.WithLogger(logger))
	}

	reg := prometheus.NewRegistry()
	k := kernel.New(cfg, kernel.Options{
		Clock:    clock,
		Logger:   logger,
		Registry: reg,
		Sink:     sinks,
		Console:  out,
	})

	tasks := cfg.Tasks
	if len(tasks) == 0 {
		tasks = demoTasks
	}
	if err := job.SpawnAll(k, tasks); err != nil {
		return err
	}
	logger.Info("booted", "tasks", len(tasks), "big_stride", cfg.BigStride, "slice_us", cfg.SliceUS)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	start := time.Now()
	if err := k.Run(ctx); err != nil {
		return errors.Wrap(err, "scheduler stopped")
	}
	logger.Info("all tasks exited", "elapsed", time.Since(start))

	if opts.metrics {
		return dumpMetrics(out, reg)
	}
	return nil
}

func dumpMetrics(w io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	fmt.Fprintln(w)
	return nil
}
