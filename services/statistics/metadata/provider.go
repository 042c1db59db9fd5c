// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metadata resolves declarative measurement and statistic
// configuration into definitions a consumer can process.
//
// # Configuration Schema
//
//	measurements:
//	  latency: millisecond
//	statistics:
//	  latency:
//	    - function: Avg
//	      criteria: EqualWith
//	    - function: Percentile99
//	      name: p99
//	baselines:
//	  latency:
//	    x86_64:
//	      Avg: {target: 0.15, delta: 0.05}
//
// A statistic only gets pass criteria when its spec names one AND a
// baseline exists for it; otherwise it is reported without a check.
package metadata

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/function"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownMeasurement indicates statistics reference a measurement
	// that is not defined.
	ErrUnknownMeasurement = errors.New("measurement not defined")

	// ErrMissingFunction indicates a statistic spec without a function.
	ErrMissingFunction = errors.New("statistic definition requires a function")

	// ErrUnknownFunction indicates a statistic names an unregistered function.
	ErrUnknownFunction = function.ErrUnknownFunction

	// ErrUnknownCriteria indicates a statistic names an unregistered criteria.
	ErrUnknownCriteria = criteria.ErrUnknownCriteria
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// MeasurementsConfig maps measurement names to units.
type MeasurementsConfig map[string]string

// StatisticSpec declares one statistic of a measurement.
type StatisticSpec struct {
	// Function is the function registry key. Required.
	Function string `json:"function" yaml:"function" validate:"required"`

	// Criteria is the criteria registry key. Optional.
	Criteria string `json:"criteria,omitempty" yaml:"criteria,omitempty"`

	// Name overrides the function's default statistic name. Optional.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// StatisticsConfig maps measurement names to their ordered statistic specs.
type StatisticsConfig map[string][]StatisticSpec

// -----------------------------------------------------------------------------
// Provider
// -----------------------------------------------------------------------------

// Provider exposes resolved measurement and statistic definitions.
//
// Both methods return copies; callers may not mutate provider state.
type Provider interface {
	// Measurements returns definitions keyed by measurement name.
	Measurements() map[string]types.MeasurementDef

	// Statistics returns definitions keyed by measurement then statistic.
	Statistics() map[string]map[string]types.StatisticDef
}

// ProviderOption configures a DictProvider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	functions *function.Registry
	criteria  *criteria.Registry
}

// WithFunctionRegistry resolves function keys against r.
func WithFunctionRegistry(r *function.Registry) ProviderOption {
	return func(o *providerOptions) {
		if r != nil {
			o.functions = r
		}
	}
}

// WithCriteriaRegistry resolves criteria keys against r.
func WithCriteriaRegistry(r *criteria.Registry) ProviderOption {
	return func(o *providerOptions) {
		if r != nil {
			o.criteria = r
		}
	}
}

// DictProvider builds definitions from in-memory configuration.
//
// Thread Safety: Immutable after construction, safe for concurrent use.
type DictProvider struct {
	measurements map[string]types.MeasurementDef
	statistics   map[string]map[string]types.StatisticDef
}

// NewDictProvider resolves configuration into definitions.
//
// Description:
//
//	Creates one MeasurementDef per measurements entry, then resolves every
//	statistic spec through the function registry. Criteria are attached
//	only when the entry names one and baselines returns a baseline for
//	(measurement, statistic name). Resolution errors are configuration
//	mistakes and are returned immediately.
//
// Inputs:
//
//	measurements - Measurement name to unit.
//	statistics - Measurement name to statistic specs.
//	baselines - Baseline source. Nil disables all criteria.
//	opts - Registry overrides.
//
// Outputs:
//
//	*DictProvider - The resolved provider.
//	error - ErrUnknownMeasurement, ErrMissingFunction, ErrUnknownFunction
//	        or ErrUnknownCriteria, wrapped with the offending names.
//
// Example:
//
//	provider, err := metadata.NewDictProvider(
//	    metadata.MeasurementsConfig{"ints": "none"},
//	    metadata.StatisticsConfig{"ints": {{Function: "Sum", Criteria: "LowerThan"}}},
//	    baselines,
//	)
func NewDictProvider(
	measurements MeasurementsConfig,
	statistics StatisticsConfig,
	baselines BaselineProvider,
	opts ...ProviderOption,
) (*DictProvider, error) {
	o := providerOptions{
		functions: function.DefaultRegistry,
		criteria:  criteria.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if baselines == nil {
		baselines = NoBaselines{}
	}

	p := &DictProvider{
		measurements: make(map[string]types.MeasurementDef, len(measurements)),
		statistics:   make(map[string]map[string]types.StatisticDef, len(statistics)),
	}
	for name, unit := range measurements {
		p.measurements[name] = types.NewMeasurementDef(name, unit)
	}

	// Sorted so the first reported error does not depend on map order.
	names := make([]string, 0, len(statistics))
	for name := range statistics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, ms := range names {
		if _, ok := p.measurements[ms]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMeasurement, ms)
		}

		defs := make(map[string]types.StatisticDef, len(statistics[ms]))
		for i, spec := range statistics[ms] {
			if spec.Function == "" {
				return nil, fmt.Errorf("%w: %s[%d]", ErrMissingFunction, ms, i)
			}
			fn, err := o.functions.New(spec.Function, spec.Name)
			if err != nil {
				return nil, fmt.Errorf("measurement %q: %w", ms, err)
			}

			var pass criteria.Criteria
			if spec.Criteria != "" {
				if baseline, ok := baselines.Get(ms, fn.Name()); ok {
					pass, err = o.criteria.New(spec.Criteria, baseline)
					if err != nil {
						return nil, fmt.Errorf("measurement %q statistic %q: %w", ms, fn.Name(), err)
					}
				}
			}

			defs[fn.Name()] = types.NewStatisticDef(ms, fn, pass)
		}
		p.statistics[ms] = defs
	}

	return p, nil
}

// Measurements implements Provider.
func (p *DictProvider) Measurements() map[string]types.MeasurementDef {
	out := make(map[string]types.MeasurementDef, len(p.measurements))
	for k, v := range p.measurements {
		out[k] = v
	}
	return out
}

// Statistics implements Provider.
func (p *DictProvider) Statistics() map[string]map[string]types.StatisticDef {
	out := make(map[string]map[string]types.StatisticDef, len(p.statistics))
	for ms, defs := range p.statistics {
		inner := make(map[string]types.StatisticDef, len(defs))
		for k, v := range defs {
			inner[k] = v
		}
		out[ms] = inner
	}
	return out
}

var _ Provider = (*DictProvider)(nil)
