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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/statsharness/pkg/ux"
	"github.com/AleutianAI/statsharness/services/statistics/core"
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
)

// renderReport prints a finished (or partial) report and the run verdict.
func renderReport(p *ux.Printer, stats *core.Statistics, runErr error) error {
	if p.Mode() == ux.ModeJSON {
		return p.JSON(stats)
	}

	p.Title(stats.Name)
	p.KeyValues(reportHeader(stats))
	if err := p.Table(statisticsTable(stats)); err != nil {
		return err
	}

	for _, tag := range sortedKeys(stats.Custom) {
		p.Muted(fmt.Sprintf("custom data recorded for %s (%d iterations)", tag, len(stats.Custom[tag])))
	}

	switch {
	case runErr != nil:
		p.Error(describeFailure(runErr))
	case !stats.CriteriaChecked:
		p.Warning("criteria not checked")
	case stats.Passed:
		p.Success("all criteria passed")
	}
	return nil
}

func reportHeader(stats *core.Statistics) [][2]string {
	pairs := [][2]string{
		{"run", stats.RunID},
		{"environment", stats.Environment},
		{"iterations", strconv.Itoa(stats.Iterations)},
		{"started", stats.StartedAt.Format(time.RFC3339)},
	}
	if !stats.FinishedAt.IsZero() {
		pairs = append(pairs, [2]string{"duration", stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond).String()})
	}
	if len(stats.Labels) > 0 {
		labels := make([]string, 0, len(stats.Labels))
		for _, k := range sortedKeys(stats.Labels) {
			labels = append(labels, k+"="+stats.Labels[k])
		}
		pairs = append(pairs, [2]string{"labels", strings.Join(labels, ",")})
	}
	return pairs
}

// statisticsTable lists every statistic sorted by pipe, measurement and
// statistic name.
func statisticsTable(stats *core.Statistics) ux.Table {
	t := ux.Table{Headers: []string{"pipe", "measurement", "statistic", "value", "unit"}}
	for _, tag := range sortedKeys(stats.Results) {
		results := stats.Results[tag]
		for _, ms := range sortedKeys(results) {
			r := results[ms]
			for _, stat := range sortedKeys(r.Values) {
				t.Rows = append(t.Rows, []string{tag, ms, stat, formatValue(r.Values[stat]), r.Unit})
			}
		}
	}
	return t
}

// reportsTable summarizes stored reports, newest first.
func reportsTable(reports []*core.Statistics) ux.Table {
	t := ux.Table{Headers: []string{"run", "exercise", "environment", "started", "result"}}
	for _, r := range reports {
		t.Rows = append(t.Rows, []string{r.RunID, r.Name, r.Environment, r.StartedAt.Format(time.RFC3339), verdict(r)})
	}
	return t
}

func verdict(r *core.Statistics) string {
	switch {
	case !r.CriteriaChecked:
		return "unchecked"
	case r.Passed:
		return ux.CellPass
	default:
		return ux.CellFail
	}
}

func describeFailure(err error) string {
	var failed *criteria.Failed
	var pipeErr *core.PipeError
	if errors.As(err, &failed) && errors.As(err, &pipeErr) {
		return fmt.Sprintf("pipe %s failed %s: %s", pipeErr.Tag, failed.Criteria, failed.Msg)
	}
	return err.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
