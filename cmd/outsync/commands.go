// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/outsync/pkg/logging"
	"github.com/AleutianAI/outsync/services/outsync/telemetry"
)

// metricExporterAuto selects prometheus for watch and none otherwise.
const metricExporterAuto = "auto"

// app holds global flag values and the per-invocation logger and telemetry.
type app struct {
	logLevel       string
	logJSON        bool
	logDir         string
	traceExporter  string
	metricExporter string
	stateDir       string
	root           string
	outputs        string

	logger   *logging.Logger
	recent   *logging.RingExporter
	shutdown func(context.Context) error
}

// recentProblems is how many warnings and errors watch reports on /healthz.
const recentProblems = 20

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "outsync",
		Short: "Synchronize generated artifacts into an output root",
		Long: `outsync writes generated files described by generation plans into an
output root. Unchanged files are not rewritten, "._trace" and ".smap"
siblings follow the trace data of each artifact, and source files get
markers pointing at the traces generated from them.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&a.logJSON, "log-json", false, "Log JSON to stderr (default: when stderr is not a terminal)")
	pf.StringVar(&a.logDir, "log-dir", "", "Also write daily JSON log files to this directory")
	pf.StringVar(&a.traceExporter, "trace-exporter", "none", "Trace exporter (otlp, stdout, none)")
	pf.StringVar(&a.metricExporter, "metric-exporter", metricExporterAuto, "Metric exporter (prometheus, stdout, none, auto)")
	pf.StringVar(&a.stateDir, "state-dir", "", "Metadata directory (default: <root>/.outsync)")
	pf.StringVar(&a.root, "root", ".", "Output root all store paths are relative to")
	pf.StringVar(&a.outputs, "outputs", "", "Output configurations (.yaml, .yml or .hcl; default: DEFAULT_OUTPUT)")

	rootCmd.AddCommand(
		newSyncCmd(a),
		newDeleteCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
		newMarkersCmd(a),
		newTraceCmd(a),
	)
	return rootCmd
}

// setup configures logging and telemetry for one invocation.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	jsonLogs := logging.AutoJSON(os.Stderr)
	if cmd.Flags().Changed("log-json") {
		jsonLogs = a.logJSON
	}
	cfgLog := logging.Config{
		Level:   level,
		LogDir:  a.logDir,
		Service: "outsync",
		JSON:    jsonLogs,
		Output:  cmd.ErrOrStderr(),
	}
	if cmd.Name() == "watch" {
		a.recent = logging.NewRingExporter(recentProblems, logging.LevelWarn)
		cfgLog.Exporter = a.recent
	}
	a.logger = logging.New(cfgLog)
	slog.SetDefault(a.logger.Slog())

	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = a.traceExporter
	cfg.MetricExporter = a.metricExporter
	if cfg.MetricExporter == metricExporterAuto {
		cfg.MetricExporter = "none"
		if cmd.Name() == "watch" {
			cfg.MetricExporter = "prometheus"
		}
	}
	cfg.Output = cmd.ErrOrStderr()
	a.shutdown, err = telemetry.Init(cmd.Context(), cfg)
	if err != nil {
		a.logger.Close()
		a.logger = nil
		return err
	}
	return nil
}

// run wraps a command body so that teardown also runs when the body fails.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		return errors.Join(err, a.teardown())
	}
}

// teardown flushes telemetry and closes the logger. It is safe to call twice.
func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		a.shutdown = nil
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logger = nil
	}
	return errors.Join(errs...)
}

// log returns the invocation logger, falling back to slog.Default when
// setup did not run.
func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}
