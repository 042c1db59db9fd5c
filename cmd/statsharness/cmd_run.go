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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/statsharness/services/statistics/scenario"
	"github.com/AleutianAI/statsharness/services/statistics/sink"
	"github.com/AleutianAI/statsharness/services/statistics/store"
)

type runFlags struct {
	config      string
	check       bool
	noCheck     bool
	parallel    bool
	iterations  int
	environment string

	db          string
	dbBaselines bool

	influx    bool
	influxURL string

	gcsBucket  string
	gcsPrefix  string
	gcsKey     string
	gcsProject string
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run --config scenario.yaml",
		Short: "Run the exercise described by a scenario file",
		Long: `Runs every pipe of the scenario for the configured number of iterations,
computes the statistics and, unless --no-check is given, checks them against
their baselines. A criteria failure exits with status 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExercise(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "Scenario YAML file (required)")
	fl.BoolVar(&f.check, "check", false, "Force criteria checking on")
	fl.BoolVar(&f.noCheck, "no-check", false, "Skip criteria checking")
	fl.BoolVar(&f.parallel, "parallel", false, "Ingest pipes concurrently")
	fl.IntVarP(&f.iterations, "iterations", "n", 0, "Override the scenario's iteration count")
	fl.StringVar(&f.environment, "env", "", "Override the baseline environment")
	fl.StringVar(&f.db, "db", "", "Save the report to the database in this directory")
	fl.BoolVar(&f.dbBaselines, "db-baselines", false, "Read baselines from --db instead of the scenario")
	fl.BoolVar(&f.influx, "influx", false, "Write statistics to InfluxDB ($INFLUXDB_URL, $INFLUXDB_TOKEN, $INFLUXDB_ORG, $INFLUXDB_BUCKET)")
	fl.StringVar(&f.influxURL, "influx-url", "", "Override $INFLUXDB_URL")
	fl.StringVar(&f.gcsBucket, "gcs-bucket", "", "Upload the JSON report to this GCS bucket")
	fl.StringVar(&f.gcsPrefix, "gcs-prefix", "statsharness", "Object prefix inside --gcs-bucket")
	fl.StringVar(&f.gcsKey, "gcs-key", "", "Service account key for --gcs-bucket (default: application credentials)")
	fl.StringVar(&f.gcsProject, "gcs-project", "", "GCP project of --gcs-bucket")
	_ = cmd.MarkFlagRequired("config")
	cmd.MarkFlagsMutuallyExclusive("check", "no-check")

	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate scenario.yaml...",
		Short: "Parse and validate scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var errs []error
			for _, path := range args {
				s, err := scenario.Load(path)
				if err != nil {
					a.printer.Error(err.Error())
					errs = append(errs, err)
					continue
				}
				a.printer.Success(fmt.Sprintf("%s: %s, %d pipes x %d iterations", path, s.Name, len(s.Pipes), s.Iterations))
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) runExercise(cmd *cobra.Command, f *runFlags) error {
	ctx := cmd.Context()
	logger := a.logger.Slog()

	s, err := scenario.Load(f.config)
	if err != nil {
		return err
	}
	switch {
	case f.check:
		s.CheckCriteria = true
	case f.noCheck:
		s.CheckCriteria = false
	}
	if f.parallel {
		s.Parallel = true
	}
	if f.iterations > 0 {
		s.Iterations = f.iterations
	}
	if f.environment != "" {
		s.Environment = f.environment
	}

	buildOpts := []scenario.BuildOption{scenario.WithLogger(logger)}

	var reports *store.ReportStore
	if f.db != "" {
		db, err := a.openDB(f.db)
		if err != nil {
			return err
		}
		defer db.Close()
		reports = store.NewReportStore(db, logger)
		if f.dbBaselines {
			buildOpts = append(buildOpts, scenario.WithBaselineProvider(store.NewBaselineStore(db, s.Environment, logger)))
		}
	}

	sinks, err := a.buildSinks(ctx, f)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sinks.Close(); cerr != nil {
			logger.Warn("closing sinks failed", slog.String("error", cerr.Error()))
		}
	}()

	ex, err := s.Build(buildOpts...)
	if err != nil {
		return err
	}
	defer ex.Close()

	a.printer.Muted(fmt.Sprintf("running %s: %d pipes x %d iterations", s.Name, len(ex.Tags), s.Iterations))

	stats, runErr := ex.Run(ctx)
	if stats == nil {
		return runErr
	}

	var outErrs []error
	if reports != nil {
		if err := reports.Save(ctx, stats); err != nil {
			outErrs = append(outErrs, fmt.Errorf("save report: %w", err))
		}
	}
	if len(sinks) > 0 {
		if err := sinks.Write(ctx, stats); err != nil {
			outErrs = append(outErrs, fmt.Errorf("export report: %w", err))
		}
	}

	if err := renderReport(a.printer, stats, runErr); err != nil {
		outErrs = append(outErrs, err)
	}
	return errors.Join(append([]error{runErr}, outErrs...)...)
}

// buildSinks creates the export sinks selected by flags.
func (a *app) buildSinks(ctx context.Context, f *runFlags) (sink.Multi, error) {
	logger := a.logger.Slog()
	var sinks sink.Multi

	if f.influx || f.influxURL != "" {
		cfg := sink.DefaultInfluxConfig()
		if f.influxURL != "" {
			cfg.URL = f.influxURL
		}
		sinks = append(sinks, sink.NewInfluxSink(cfg, logger))
	}

	if f.gcsBucket != "" {
		gcs, err := sink.NewGCSSink(ctx, sink.GCSConfig{
			ProjectID:       f.gcsProject,
			Bucket:          f.gcsBucket,
			Prefix:          f.gcsPrefix,
			CredentialsFile: f.gcsKey,
		}, logger)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, gcs)
	}
	return sinks, nil
}
