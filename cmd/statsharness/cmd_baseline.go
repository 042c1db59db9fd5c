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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/statsharness/pkg/ux"
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/metadata"
	"github.com/AleutianAI/statsharness/services/statistics/store"
)

type baselineFlags struct {
	db          string
	environment string
}

func newBaselineCmd(a *app) *cobra.Command {
	f := &baselineFlags{}

	baselineCmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage stored baselines",
		Long: `Baselines live in the report database, one set per environment.
Runs read them with "run --db <dir> --db-baselines".`,
	}
	pf := baselineCmd.PersistentFlags()
	pf.StringVar(&f.db, "db", "", "Report database directory (required)")
	pf.StringVar(&f.environment, "env", "", "Baseline environment (default: host architecture, or the report's for promote)")
	_ = baselineCmd.MarkPersistentFlagRequired("db")

	baselineCmd.AddCommand(
		newBaselineListCmd(a, f),
		newBaselineSetCmd(a, f),
		newBaselineDeleteCmd(a, f),
		newBaselinePromoteCmd(a, f),
		newBaselineExportCmd(a, f),
	)
	return baselineCmd
}

// withBaselines opens the database and runs fn against the baselines of env.
func (a *app) withBaselines(f *baselineFlags, env string, fn func(*store.BaselineStore) error) error {
	db, err := a.openDB(f.db)
	if err != nil {
		return err
	}
	defer db.Close()

	if env == "" {
		env = metadata.DefaultEnvironment()
	}
	return fn(store.NewBaselineStore(db, env, a.logger.Slog()))
}

func newBaselineListCmd(a *app, f *baselineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the baselines of an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBaselines(f, f.environment, func(bs *store.BaselineStore) error {
				baselines, err := bs.List(cmd.Context())
				if err != nil {
					return err
				}
				if a.printer.Mode() == ux.ModeJSON {
					return a.printer.JSON(map[string]any{"environment": bs.Environment(), "baselines": baselines})
				}
				if len(baselines) == 0 {
					a.printer.Muted(fmt.Sprintf("no baselines for %s", bs.Environment()))
					return nil
				}
				return a.printer.Table(baselinesTable(baselines))
			})
		},
	}
}

func newBaselineSetCmd(a *app, f *baselineFlags) *cobra.Command {
	var target, tolerance float64
	cmd := &cobra.Command{
		Use:   "set <measurement> <statistic> --target <value>",
		Short: "Set one baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := criteria.NewBaseline(target)
			if cmd.Flags().Changed("tolerance") {
				b = criteria.NewBaselineWithTolerance(target, tolerance)
			}
			return a.withBaselines(f, f.environment, func(bs *store.BaselineStore) error {
				if err := bs.Set(cmd.Context(), args[0], args[1], b); err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("%s %s_%s = %s", bs.Environment(), args[0], args[1], formatBaseline(b)))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&target, "target", 0, "Expected value (required)")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Allowed absolute deviation for EqualWith")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newBaselineDeleteCmd(a *app, f *baselineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <measurement> <statistic>",
		Short: "Delete one baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBaselines(f, f.environment, func(bs *store.BaselineStore) error {
				if err := bs.Delete(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("deleted %s %s_%s", bs.Environment(), args[0], args[1]))
				return nil
			})
		},
	}
}

func newBaselinePromoteCmd(a *app, f *baselineFlags) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "promote <run-id>",
		Short: "Record a stored report's statistics as baseline targets",
		Long: `Copies every statistic of the report (or of one pipe with --tag) into the
baselines of the report's environment. Existing tolerances are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger.Slog()

			db, err := a.openDB(f.db)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := store.NewReportStore(db, logger).Get(ctx, args[0])
			if err != nil {
				return err
			}
			env := f.environment
			if env == "" {
				env = report.Environment
			}
			bs := store.NewBaselineStore(db, env, logger)

			n, err := bs.Promote(ctx, report, tag)
			if err != nil {
				return err
			}
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(map[string]any{"run_id": report.RunID, "environment": bs.Environment(), "promoted": n})
			}
			a.printer.Success(fmt.Sprintf("promoted %d baselines from %s into %s", n, report.RunID, bs.Environment()))
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only promote the pipe with this tag")
	return cmd
}

func newBaselineExportCmd(a *app, f *baselineFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the stored baselines as a scenario baselines block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBaselines(f, f.environment, func(bs *store.BaselineStore) error {
				cfg, err := bs.Config(cmd.Context())
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(a.stdout)
				enc.SetIndent(2)
				if err := enc.Encode(map[string]metadata.BaselinesConfig{"baselines": cfg}); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
}

func baselinesTable(baselines map[string]map[string]criteria.Baseline) ux.Table {
	t := ux.Table{Headers: []string{"measurement", "statistic", "target", "tolerance"}}
	for _, ms := range sortedKeys(baselines) {
		for _, stat := range sortedKeys(baselines[ms]) {
			b := baselines[ms][stat]
			row := []string{ms, stat, "-", "-"}
			if v, ok := b.TargetValue(); ok {
				row[2] = formatValue(v)
			}
			if v, ok := b.ToleranceValue(); ok {
				row[3] = formatValue(v)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

func formatBaseline(b criteria.Baseline) string {
	out := "-"
	if v, ok := b.TargetValue(); ok {
		out = formatValue(v)
	}
	if v, ok := b.ToleranceValue(); ok {
		out += " ± " + formatValue(v)
	}
	return out
}
