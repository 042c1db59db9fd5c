// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/core"
	"github.com/AleutianAI/statsharness/services/statistics/metadata"
	"github.com/AleutianAI/statsharness/services/statistics/producer"
)

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	baselines metadata.BaselineProvider
	logger    *slog.Logger
	coreOpts  []core.Option
	executors map[string]producer.Executor
}

// WithBaselineProvider overrides the baselines declared in the scenario,
// for example with a store.BaselineStore.
func WithBaselineProvider(p metadata.BaselineProvider) BuildOption {
	return func(o *buildOptions) {
		o.baselines = p
	}
}

// WithLogger sets the logger passed to the core.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithCoreOptions appends options for core.New.
func WithCoreOptions(opts ...core.Option) BuildOption {
	return func(o *buildOptions) {
		o.coreOpts = append(o.coreOpts, opts...)
	}
}

// WithExecutor supplies the executor for an ssh connection name instead of
// dialing the configured target.
func WithExecutor(connection string, exec producer.Executor) BuildOption {
	return func(o *buildOptions) {
		o.executors[connection] = exec
	}
}

// Exercise is a built scenario ready to run.
type Exercise struct {
	*core.Core

	// CheckCriteria is the scenario's check_criteria setting.
	CheckCriteria bool

	// Tags lists the pipe tags in run order.
	Tags []string

	closers []io.Closer
}

// Run runs the exercise with the scenario's criteria setting.
func (e *Exercise) Run(ctx context.Context) (*core.Statistics, error) {
	return e.RunExercise(ctx, e.CheckCriteria)
}

// Close releases SSH connections opened by Build.
func (e *Exercise) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Build turns the scenario into an exercise.
//
// Description:
//
//	Creates one SSH connection per referenced target, one producer and
//	consumer per pipe, and the core. Each consumer also loads the declared
//	measurements it records (with their statistics and criteria) on top
//	of its built-in definitions.
//
// Outputs:
//
//	*Exercise - The exercise. Close it when done.
//	error - Metadata, SSH or core construction errors.
func (s *Scenario) Build(opts ...BuildOption) (*Exercise, error) {
	o := buildOptions{executors: make(map[string]producer.Executor)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	consumerOpts := make([][]consumer.Option, len(s.Pipes))
	if s.HasMetadata() {
		baselines := o.baselines
		if baselines == nil {
			baselines = metadata.NewDictBaselineProvider(s.Baselines, s.Environment)
		}
		for i, spec := range s.Pipes {
			provider, err := s.pipeMetadata(spec.Consumer, baselines)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: pipes[%d]: %w", s.Name, i, err)
			}
			if provider != nil {
				consumerOpts[i] = []consumer.Option{consumer.WithMetadata(provider)}
			}
		}
	}

	coreOpts := []core.Option{
		core.WithLogger(o.logger),
		core.WithEnvironment(s.Environment),
		core.WithLabels(s.Labels),
	}
	if s.Parallel {
		coreOpts = append(coreOpts, core.WithParallelIngestion())
	}
	coreOpts = append(coreOpts, o.coreOpts...)

	c, err := core.New(s.Name, s.Iterations, coreOpts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	ex := &Exercise{Core: c, CheckCriteria: s.CheckCriteria}
	if err := s.openConnections(&o, ex); err != nil {
		ex.Close()
		return nil, err
	}

	for i, spec := range s.Pipes {
		p, err := buildProducer(spec.Producer, o.executors)
		if err != nil {
			ex.Close()
			return nil, fmt.Errorf("pipes[%d]: %w", i, err)
		}
		cons := buildConsumer(spec.Consumer, consumerOpts[i])
		ex.Tags = append(ex.Tags, c.AddPipe(p, cons, spec.Tag))
	}

	o.logger.Info("scenario built",
		slog.String("exercise", s.Name),
		slog.Int("pipes", len(ex.Tags)),
		slog.String("environment", s.Environment),
	)
	return ex, nil
}

// pipeMetadata resolves the declared measurements recorded by the consumer
// of spec. It returns nil when the scenario declares none of them.
func (s *Scenario) pipeMetadata(spec ConsumerSpec, baselines metadata.BaselineProvider) (*metadata.DictProvider, error) {
	measurements := make(metadata.MeasurementsConfig)
	statistics := make(metadata.StatisticsConfig)
	for _, ms := range spec.Records() {
		unit, ok := s.Measurements[ms]
		if !ok {
			continue
		}
		measurements[ms] = unit
		if specs, ok := s.Statistics[ms]; ok {
			statistics[ms] = specs
		}
	}
	if len(measurements) == 0 {
		return nil, nil
	}
	return metadata.NewDictProvider(measurements, statistics, baselines)
}

// openConnections creates an SSH connection for every referenced target
// without an injected executor.
func (s *Scenario) openConnections(o *buildOptions, ex *Exercise) error {
	used := make(map[string]bool)
	for _, p := range s.Pipes {
		if p.Producer.Type == ProducerSSH {
			used[p.Producer.Connection] = true
		}
	}
	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := o.executors[name]; ok {
			continue
		}
		target := s.SSH[name]
		conn, err := producer.NewSSHConnection(producer.SSHConfig{
			Host:                  target.Host,
			User:                  target.User,
			KeyFile:               target.KeyFile,
			KnownHostsFile:        target.KnownHostsFile,
			InsecureIgnoreHostKey: target.InsecureIgnoreHostKey,
			DialTimeout:           target.DialTimeout.Duration(),
			DialAttempts:          target.DialAttempts,
		})
		if err != nil {
			return fmt.Errorf("ssh connection %q: %w", name, err)
		}
		o.executors[name] = conn
		ex.closers = append(ex.closers, conn)
	}
	return nil
}

func buildProducer(spec ProducerSpec, executors map[string]producer.Executor) (producer.Producer, error) {
	var p producer.Producer
	switch spec.Type {
	case ProducerHost:
		h := producer.NewHostCommand(spec.Command)
		h.Dir = spec.Dir
		h.Timeout = spec.Timeout.Duration()
		for k, v := range spec.Env {
			h.Env = append(h.Env, k+"="+v)
		}
		sort.Strings(h.Env)
		p = h
	case ProducerSSH:
		exec, ok := executors[spec.Connection]
		if !ok {
			return nil, fmt.Errorf("%w: unknown ssh connection %q", ErrInvalidScenario, spec.Connection)
		}
		p = producer.NewSSHCommand(spec.Command, exec)
	default:
		return nil, fmt.Errorf("%w: unknown producer type %q", ErrInvalidScenario, spec.Type)
	}

	if spec.Interval > 0 {
		p = producer.NewPaced(p, spec.Interval.Duration())
	}
	return p, nil
}

func buildConsumer(spec ConsumerSpec, opts []consumer.Option) consumer.Consumer {
	switch spec.Type {
	case ConsumerPing:
		return consumer.NewPingConsumer(opts...)
	case ConsumerIperf3:
		return consumer.NewIperf3Consumer(opts...)
	case ConsumerThreads:
		return consumer.NewThreadCPUConsumer(spec.VMMThread, spec.VCPUPrefix, opts...)
	default:
		return consumer.NewFuncConsumer(consumer.NumberIngest(spec.Measurement), opts...)
	}
}
