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

	"github.com/AleutianAI/statsharness/pkg/ux"
	"github.com/AleutianAI/statsharness/services/statistics/store"
)

func newReportCmd(a *app) *cobra.Command {
	var dbDir string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect stored exercise reports",
	}
	reportCmd.PersistentFlags().StringVar(&dbDir, "db", "", "Report database directory (required)")
	_ = reportCmd.MarkPersistentFlagRequired("db")

	var exercise string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB(dbDir)
			if err != nil {
				return err
			}
			defer db.Close()

			reports, err := store.NewReportStore(db, a.logger.Slog()).List(cmd.Context(), exercise, limit)
			if err != nil {
				return err
			}
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(reports)
			}
			if len(reports) == 0 {
				a.printer.Muted("no reports")
				return nil
			}
			return a.printer.Table(reportsTable(reports))
		},
	}
	listCmd.Flags().StringVar(&exercise, "exercise", "", "Only list reports of this exercise")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of reports (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(dbDir)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := store.NewReportStore(db, a.logger.Slog()).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderReport(a.printer, report, nil)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(dbDir)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.NewReportStore(db, a.logger.Slog()).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("deleted report %s", args[0]))
			return nil
		},
	}

	reportCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return reportCmd
}
