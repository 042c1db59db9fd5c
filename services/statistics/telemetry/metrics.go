// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the harness instruments. All names use the "statsharness_"
// prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ExercisesTotal counts finished exercises by exercise and status.
	ExercisesTotal metric.Int64Counter

	// ExerciseDuration records wall time per exercise in seconds.
	ExerciseDuration metric.Float64Histogram

	// IterationsTotal counts completed produce+ingest rounds by pipe.
	IterationsTotal metric.Int64Counter

	// ProduceDuration records producer latency in seconds by pipe.
	ProduceDuration metric.Float64Histogram

	// CriteriaFailuresTotal counts failed pass criteria by pipe and criteria.
	CriteriaFailuresTotal metric.Int64Counter
}

// NewMetrics registers the harness instruments with meter.
//
// Example:
//
//	m, err := telemetry.NewMetrics(otel.Meter("statsharness/core"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExercisesTotal, err = meter.Int64Counter(
		"statsharness_exercises_total",
		metric.WithDescription("Total exercises run"),
		metric.WithUnit("{exercise}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create exercises_total: %w", err)
	}

	m.ExerciseDuration, err = meter.Float64Histogram(
		"statsharness_exercise_duration_seconds",
		metric.WithDescription("Exercise duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800),
	)
	if err != nil {
		return nil, fmt.Errorf("create exercise_duration: %w", err)
	}

	m.IterationsTotal, err = meter.Int64Counter(
		"statsharness_iterations_total",
		metric.WithDescription("Total produce and ingest rounds"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.ProduceDuration, err = meter.Float64Histogram(
		"statsharness_produce_duration_seconds",
		metric.WithDescription("Producer latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create produce_duration: %w", err)
	}

	m.CriteriaFailuresTotal, err = meter.Int64Counter(
		"statsharness_criteria_failures_total",
		metric.WithDescription("Total failed pass criteria"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create criteria_failures_total: %w", err)
	}

	return m, nil
}
