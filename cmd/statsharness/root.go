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
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statsharness/pkg/logging"
	"github.com/AleutianAI/statsharness/pkg/ux"
	"github.com/AleutianAI/statsharness/services/statistics/store"
	"github.com/AleutianAI/statsharness/services/statistics/telemetry"
)

// --- Global Flags ---
type globalFlags struct {
	logLevel       string
	logDir         string
	jsonLogs       bool
	output         string
	traceExporter  string
	metricExporter string
}

// app carries what every subcommand shares once PersistentPreRunE has run.
type app struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer

	logger            *logging.Logger
	printer           *ux.Printer
	shutdownTelemetry func(context.Context) error
}

// newRootCmd assembles the command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "statsharness",
		Short: "Run statistics exercises and compare them against baselines",
		Long: `statsharness runs producer/consumer pipes for a number of iterations,
computes statistics over the collected measurements and checks them
against per-environment baselines.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&a.flags.logDir, "log-dir", "", "Also write JSON logs to this directory")
	pf.BoolVar(&a.flags.jsonLogs, "json-logs", false, "Write console logs as JSON")
	pf.StringVarP(&a.flags.output, "output", "o", "auto", "Output format: auto, rich, plain or json")
	pf.StringVar(&a.flags.traceExporter, "trace-exporter", "", "Trace exporter: otlp, stdout or none (default $OTEL_TRACES_EXPORTER or none)")
	pf.StringVar(&a.flags.metricExporter, "metric-exporter", "", "Metric exporter: prometheus, stdout or none (default $OTEL_METRICS_EXPORTER or prometheus)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
		newReportCmd(a),
		newBaselineCmd(a),
	)
	return rootCmd, a
}

// setup initializes logging, telemetry and the printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(a.flags.logLevel)
	if err != nil {
		return err
	}
	mode, err := ux.ParseMode(a.flags.output)
	if err != nil {
		return err
	}

	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  a.flags.logDir,
		Service: logging.DefaultService,
		JSON:    a.flags.jsonLogs,
		Output:  a.stderr,
	})
	slog.SetDefault(a.logger.Slog())
	a.printer = ux.NewPrinter(a.stdout, mode)

	cfg := telemetry.DefaultConfig()
	if a.flags.traceExporter != "" {
		cfg.TraceExporter = a.flags.traceExporter
	}
	if a.flags.metricExporter != "" {
		cfg.MetricExporter = a.flags.metricExporter
	}
	cfg.Writer = a.stderr

	shutdown, err := telemetry.Init(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown
	return nil
}

// close flushes telemetry and the log file. Safe to call when setup never
// ran.
func (a *app) close() error {
	var errs []error
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		a.shutdownTelemetry = nil
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openDB opens the persistent report database in dir.
func (a *app) openDB(dir string) (*store.DB, error) {
	if dir == "" {
		return nil, fmt.Errorf("--db: %w", store.ErrPathRequired)
	}
	cfg := store.DefaultConfig(dir)
	cfg.Logger = a.logger.Slog()
	return store.Open(cfg)
}
