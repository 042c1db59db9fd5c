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
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/statsharness/services/statistics/api"
	"github.com/AleutianAI/statsharness/services/statistics/store"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		dbDir       string
		addr        string
		environment string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve --db <dir>",
		Short: "Serve stored reports and baselines over HTTP",
		Long: `Serves the report database read-only:

  GET /v1/health
  GET /v1/reports?exercise=<name>&limit=<n>
  GET /v1/reports/:id
  GET /v1/baselines
  GET /metrics

Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !debug {
				gin.SetMode(gin.ReleaseMode)
			}

			db, err := a.openDB(dbDir)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := a.logger.Slog()
			server := api.NewServer(
				store.NewReportStore(db, logger),
				store.NewBaselineStore(db, environment, logger),
				api.WithLogger(logger),
			)
			return server.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&dbDir, "db", "", "Report database directory (required)")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&environment, "env", "", "Baseline environment served on /v1/baselines (default: host architecture)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Run gin in debug mode")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
