// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/statsharness/services/statistics/core"
	"github.com/AleutianAI/statsharness/services/statistics/store"
)

const defaultListLimit = 50

// ReportSummary is one entry of GET /v1/reports.
type ReportSummary struct {
	RunID           string    `json:"run_id"`
	Name            string    `json:"name"`
	Environment     string    `json:"environment,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CriteriaChecked bool      `json:"criteria_checked"`
	Passed          bool      `json:"passed"`
	Pipes           int       `json:"pipes"`
}

func summarize(r *core.Statistics) ReportSummary {
	return ReportSummary{
		RunID:           r.RunID,
		Name:            r.Name,
		Environment:     r.Environment,
		StartedAt:       r.StartedAt,
		CriteriaChecked: r.CriteriaChecked,
		Passed:          r.Passed,
		Pipes:           len(r.Results),
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListReports(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	reports, err := s.reports.List(c.Request.Context(), c.Query("exercise"), limit)
	if err != nil {
		s.internalError(c, "list reports failed", err)
		return
	}

	out := make([]ReportSummary, 0, len(reports))
	for _, r := range reports {
		out = append(out, summarize(r))
	}
	c.JSON(http.StatusOK, gin.H{"reports": out})
}

func (s *Server) handleGetReport(c *gin.Context) {
	id := c.Param("id")
	report, err := s.reports.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found", "run_id": id})
		return
	}
	if err != nil {
		s.internalError(c, "get report failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListBaselines(c *gin.Context) {
	baselines, err := s.baselines.List(c.Request.Context())
	if err != nil {
		s.internalError(c, "list baselines failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"environment": s.baselines.Environment(),
		"baselines":   baselines,
	})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg,
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
