// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package core drives statistical exercises.
//
// An exercise is a named set of pipes, each pairing a producer with a
// consumer. RunExercise drains every pipe for a fixed number of iterations,
// then asks each consumer to process its data and merges the results into
// one Statistics report keyed by pipe tag.
//
// # Ordering
//
// Pipes run in insertion order and each pipe is fully drained before the
// next one starts. With WithParallelIngestion pipes are drained
// concurrently; iterations within a pipe stay ordered. Processing is always
// sequential in insertion order, and the first failure aborts the exercise.
//
// # Example
//
//	c, err := core.New("network_latency", 10)
//	if err != nil {
//	    return err
//	}
//	c.AddPipe(producer.NewHostCommand("ping -c 100 -i 0.2 10.0.0.1"), consumer.NewPingConsumer(), "g2h")
//	stats, err := c.RunExercise(ctx, true)
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/producer"
	"github.com/AleutianAI/statsharness/services/statistics/telemetry"
)

const tracerName = "statsharness/core"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidIterations indicates an iteration count below one.
	ErrInvalidIterations = errors.New("iterations must be at least 1")

	// ErrEmptyName indicates an exercise without a name.
	ErrEmptyName = errors.New("exercise name is required")

	// ErrNilPipe indicates a pipe without a producer or consumer.
	ErrNilPipe = errors.New("pipe requires a producer and a consumer")

	// ErrNoPipes indicates an exercise without pipes.
	ErrNoPipes = errors.New("exercise has no pipes")
)

// Phase names the pipe step an error occurred in.
type Phase string

// Pipe phases.
const (
	PhaseProduce Phase = "produce"
	PhaseIngest  Phase = "ingest"
	PhaseProcess Phase = "process"
)

// PipeError labels an exercise failure with the pipe it came from.
type PipeError struct {
	// Tag is the pipe tag.
	Tag string

	// Phase is the step that failed.
	Phase Phase

	// Iteration is the failing round, or -1 for PhaseProcess.
	Iteration int

	// Err is the underlying error, for example a *criteria.Failed.
	Err error
}

// Error implements error.
func (e *PipeError) Error() string {
	if e.Phase == PhaseProcess {
		return fmt.Sprintf("pipe %q: %s: %v", e.Tag, e.Phase, e.Err)
	}
	return fmt.Sprintf("pipe %q: %s iteration %d: %v", e.Tag, e.Phase, e.Iteration, e.Err)
}

// Unwrap returns the underlying error.
func (e *PipeError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Pipe
// -----------------------------------------------------------------------------

// Pipe pairs a producer with the consumer of its output.
type Pipe struct {
	Tag      string
	Producer producer.Producer
	Consumer consumer.Consumer
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source used for default tags and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Core) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithEnvironment records the environment the exercise runs in, for
// example the baseline environment key.
func WithEnvironment(env string) Option {
	return func(c *Core) {
		c.environment = env
	}
}

// WithLabels attaches free-form labels to every report. labels is copied.
func WithLabels(labels map[string]string) Option {
	return func(c *Core) {
		for k, v := range labels {
			c.labels[k] = v
		}
	}
}

// WithMeter sets the meter harness metrics are recorded on.
func WithMeter(meter metric.Meter) Option {
	return func(c *Core) {
		if meter != nil {
			c.meter = meter
		}
	}
}

// WithParallelIngestion drains pipes concurrently.
func WithParallelIngestion() Option {
	return func(c *Core) {
		c.parallel = true
	}
}

// -----------------------------------------------------------------------------
// Core
// -----------------------------------------------------------------------------

// Core owns the pipes of one exercise.
//
// Thread Safety: AddPipe and RunExercise are safe to call from different
// goroutines, but a Core runs one exercise at a time. Consumers are
// stateful, so running the same Core twice aggregates over both runs.
type Core struct {
	name        string
	iterations  int
	logger      *slog.Logger
	clock       func() time.Time
	environment string
	labels      map[string]string
	meter       metric.Meter
	metrics     *telemetry.Metrics
	parallel    bool

	mu      sync.Mutex
	pipes   []*Pipe
	index   map[string]int
	lastTag time.Time
	running sync.Mutex
}

// New creates an exercise named name running iterations rounds per pipe.
//
// Outputs:
//
//	*Core - The exercise.
//	error - ErrEmptyName, ErrInvalidIterations, or a metrics setup error.
func New(name string, iterations int, opts ...Option) (*Core, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if iterations < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidIterations, iterations)
	}

	c := &Core{
		name:       name,
		iterations: iterations,
		logger:     slog.Default(),
		clock:      time.Now,
		labels:     make(map[string]string),
		meter:      otel.Meter(tracerName),
		index:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	m, err := telemetry.NewMetrics(c.meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	c.metrics = m
	c.logger = c.logger.With(slog.String("exercise", name))
	return c, nil
}

// Name returns the exercise name.
func (c *Core) Name() string { return c.name }

// Iterations returns the rounds run per pipe.
func (c *Core) Iterations() int { return c.iterations }

// AddPipe registers a pipe and returns its tag.
//
// Description:
//
//	An empty tag is replaced by "<name>_<unix seconds>" with microsecond
//	precision from the clock. Default tags strictly increase across calls,
//	so pipes added in a tight loop never collide. An explicit tag that is
//	already registered replaces that pipe in place, keeping its position.
//
// Example:
//
//	tag := c.AddPipe(p, cons, "")
//	// tag == "network_latency_1700000000.123456"
func (c *Core) AddPipe(p producer.Producer, cons consumer.Consumer, tag string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tag == "" {
		tag = c.defaultTagLocked()
	}

	pipe := &Pipe{Tag: tag, Producer: p, Consumer: cons}
	if i, ok := c.index[tag]; ok {
		c.logger.Warn("pipe tag already registered, replacing",
			slog.String("tag", tag),
		)
		c.pipes[i] = pipe
		return tag
	}

	c.index[tag] = len(c.pipes)
	c.pipes = append(c.pipes, pipe)
	return tag
}

func (c *Core) defaultTagLocked() string {
	now := c.clock()
	if !now.After(c.lastTag) {
		now = c.lastTag.Add(time.Microsecond)
	}
	for {
		c.lastTag = now
		tag := fmt.Sprintf("%s_%d.%06d", c.name, now.Unix(), now.Nanosecond()/1000)
		if _, taken := c.index[tag]; !taken {
			return tag
		}
		now = now.Add(time.Microsecond)
	}
}

// Pipes returns a copy of the registered pipes in run order.
func (c *Core) Pipes() []Pipe {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Pipe, len(c.pipes))
	for i, p := range c.pipes {
		out[i] = *p
	}
	return out
}
