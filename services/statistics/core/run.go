// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/telemetry"
)

// Statistics is the report of one exercise run.
type Statistics struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Name is the exercise name.
	Name string `json:"name"`

	// Iterations is the number of rounds run per pipe.
	Iterations int `json:"iterations"`

	// Environment is the environment the run was checked against.
	Environment string `json:"environment,omitempty"`

	// Labels are free-form run annotations such as versions.
	Labels map[string]string `json:"labels,omitempty"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// CriteriaChecked reports whether pass criteria were evaluated.
	CriteriaChecked bool `json:"criteria_checked"`

	// Passed is true when criteria were checked and none failed.
	Passed bool `json:"passed"`

	// Results holds per-pipe statistics keyed by pipe tag.
	Results map[string]consumer.Results `json:"results"`

	// Custom holds per-pipe custom data, only for pipes that recorded any.
	Custom map[string]consumer.Custom `json:"custom"`
}

// RunExercise runs every pipe and assembles the report.
//
// Description:
//
//	Each pipe runs Iterations rounds of Produce followed by Ingest. Once
//	every pipe is drained, consumers are processed in insertion order with
//	checkCriteria. The first failure aborts the exercise: no further
//	iteration or pipe runs.
//
// Inputs:
//
//	ctx - Cancellation and tracing context, passed to every producer.
//	checkCriteria - Whether pass criteria are evaluated.
//
// Outputs:
//
//	*Statistics - The report. On a processing failure the partially
//	              filled report is returned alongside the error with
//	              Passed false, so failed runs can still be recorded.
//	error - *PipeError for pipe failures (use errors.As to reach a
//	        *criteria.Failed), ErrNoPipes or ErrNilPipe.
//
// Thread Safety: Runs are serialized per Core.
func (c *Core) RunExercise(ctx context.Context, checkCriteria bool) (*Statistics, error) {
	c.running.Lock()
	defer c.running.Unlock()

	pipes := c.Pipes()
	if len(pipes) == 0 {
		return nil, ErrNoPipes
	}
	for _, p := range pipes {
		if p.Producer == nil || p.Consumer == nil {
			return nil, &PipeError{Tag: p.Tag, Phase: PhaseProduce, Err: ErrNilPipe}
		}
	}

	stats := &Statistics{
		RunID:           uuid.NewString(),
		Name:            c.name,
		Iterations:      c.iterations,
		Environment:     c.environment,
		Labels:          c.copyLabels(),
		StartedAt:       c.clock(),
		CriteriaChecked: checkCriteria,
		Results:         make(map[string]consumer.Results, len(pipes)),
		Custom:          make(map[string]consumer.Custom),
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "Core.RunExercise",
		trace.WithAttributes(
			attribute.String("exercise", c.name),
			attribute.String("run_id", stats.RunID),
			attribute.Int("iterations", c.iterations),
			attribute.Int("pipes", len(pipes)),
			attribute.Bool("check_criteria", checkCriteria),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, c.logger).With(slog.String("run_id", stats.RunID))
	logger.Info("exercise started",
		slog.Int("pipes", len(pipes)),
		slog.Int("iterations", c.iterations),
		slog.Bool("check_criteria", checkCriteria),
	)

	err := c.ingestAll(ctx, pipes)
	if err == nil {
		err = c.processAll(ctx, pipes, checkCriteria, stats)
	}

	stats.FinishedAt = c.clock()
	duration := stats.FinishedAt.Sub(stats.StartedAt).Seconds()
	status := "ok"
	if err != nil {
		status = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("exercise", c.name), attribute.String("status", status))
	c.metrics.ExercisesTotal.Add(ctx, 1, attrs)
	c.metrics.ExerciseDuration.Record(ctx, duration, attrs)

	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("exercise failed", slog.String("error", err.Error()))

		var pipeErr *PipeError
		if errors.As(err, &pipeErr) && pipeErr.Phase == PhaseProcess {
			stats.Passed = false
			return stats, err
		}
		return nil, err
	}

	stats.Passed = checkCriteria
	telemetry.SetSpanOK(span)
	logger.Info("exercise finished",
		slog.Bool("passed", stats.Passed),
		slog.Duration("duration", stats.FinishedAt.Sub(stats.StartedAt)),
	)
	return stats, nil
}

func (c *Core) ingestAll(ctx context.Context, pipes []Pipe) error {
	if !c.parallel {
		for _, p := range pipes {
			if err := c.ingestPipe(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pipes {
		g.Go(func() error {
			return c.ingestPipe(gctx, p)
		})
	}
	return g.Wait()
}

// ingestPipe runs every iteration of one pipe.
func (c *Core) ingestPipe(ctx context.Context, p Pipe) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Core.ingestPipe",
		trace.WithAttributes(attribute.String("pipe", p.Tag)),
	)
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("exercise", c.name), attribute.String("pipe", p.Tag))
	for i := 0; i < c.iterations; i++ {
		if err := ctx.Err(); err != nil {
			pipeErr := &PipeError{Tag: p.Tag, Phase: PhaseProduce, Iteration: i, Err: err}
			telemetry.RecordError(span, pipeErr)
			return pipeErr
		}

		start := time.Now()
		raw, err := p.Producer.Produce(ctx)
		c.metrics.ProduceDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			pipeErr := &PipeError{Tag: p.Tag, Phase: PhaseProduce, Iteration: i, Err: err}
			telemetry.RecordError(span, pipeErr)
			return pipeErr
		}

		if err := p.Consumer.Ingest(i, raw); err != nil {
			pipeErr := &PipeError{Tag: p.Tag, Phase: PhaseIngest, Iteration: i, Err: err}
			telemetry.RecordError(span, pipeErr)
			return pipeErr
		}
		c.metrics.IterationsTotal.Add(ctx, 1, attrs)
	}

	c.logger.Debug("pipe drained", slog.String("pipe", p.Tag), slog.Int("iterations", c.iterations))
	telemetry.SetSpanOK(span)
	return nil
}

// processAll processes consumers in order and stops at the first failure.
func (c *Core) processAll(ctx context.Context, pipes []Pipe, checkCriteria bool, stats *Statistics) error {
	for _, p := range pipes {
		_, span := telemetry.StartSpan(ctx, tracerName, "Core.processPipe",
			trace.WithAttributes(attribute.String("pipe", p.Tag)),
		)

		results, custom, err := p.Consumer.Process(checkCriteria)
		if err != nil {
			var failed *criteria.Failed
			if errors.As(err, &failed) {
				c.metrics.CriteriaFailuresTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("exercise", c.name),
					attribute.String("pipe", p.Tag),
					attribute.String("criteria", failed.Criteria),
				))
			}
			pipeErr := &PipeError{Tag: p.Tag, Phase: PhaseProcess, Iteration: -1, Err: err}
			telemetry.RecordError(span, pipeErr)
			span.End()
			return pipeErr
		}

		stats.Results[p.Tag] = results
		if len(custom) > 0 {
			stats.Custom[p.Tag] = custom
		}
		telemetry.SetSpanOK(span)
		span.End()
	}
	return nil
}

func (c *Core) copyLabels() map[string]string {
	if len(c.labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.labels))
	for k, v := range c.labels {
		out[k] = v
	}
	return out
}
