// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consumer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/metadata"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// Aggregator accumulates samples, direct statistic values and custom data
// and implements Process. Embed it in concrete consumers.
//
// The zero value is ready to use. Each consumer owns its Aggregator; state
// is never shared between instances.
//
// Thread Safety: Not safe for concurrent use. The core drives one consumer
// from one goroutine at a time.
type Aggregator struct {
	iteration       int
	measurementDefs map[string]types.MeasurementDef
	statisticDefs   map[string]map[string]types.StatisticDef
	samples         map[string][]float64
	direct          map[string]map[string]float64
	custom          Custom
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.init()
	return a
}

func (a *Aggregator) init() {
	if a.measurementDefs == nil {
		a.measurementDefs = make(map[string]types.MeasurementDef)
	}
	if a.statisticDefs == nil {
		a.statisticDefs = make(map[string]map[string]types.StatisticDef)
	}
	if a.samples == nil {
		a.samples = make(map[string][]float64)
	}
	if a.direct == nil {
		a.direct = make(map[string]map[string]float64)
	}
	if a.custom == nil {
		a.custom = make(Custom)
	}
}

// BeginIteration sets the iteration custom data is attributed to.
func (a *Aggregator) BeginIteration(iteration int) {
	a.iteration = iteration
}

// Iteration returns the current iteration.
func (a *Aggregator) Iteration() int {
	return a.iteration
}

// ConsumeMeasurement appends a raw sample for measurement.
func (a *Aggregator) ConsumeMeasurement(measurement string, value float64) {
	a.init()
	a.samples[measurement] = append(a.samples[measurement], value)
}

// ConsumeStat records a final value for (measurement, statistic), bypassing
// the statistic's function. The first value recorded wins; later calls for
// the same key are ignored.
func (a *Aggregator) ConsumeStat(statistic, measurement string, value float64) {
	a.init()
	stats, ok := a.direct[measurement]
	if !ok {
		stats = make(map[string]float64)
		a.direct[measurement] = stats
	}
	if _, exists := stats[statistic]; exists {
		return
	}
	stats[statistic] = value
}

// ConsumeCustom records side data for the current iteration. Custom data is
// not validated.
func (a *Aggregator) ConsumeCustom(name string, value any) {
	a.init()
	entry, ok := a.custom[a.iteration]
	if !ok {
		entry = make(map[string]any)
		a.custom[a.iteration] = entry
	}
	entry[name] = value
}

// SetMeasurementDef registers a measurement definition, replacing any
// definition with the same name.
func (a *Aggregator) SetMeasurementDef(def types.MeasurementDef) {
	a.init()
	a.measurementDefs[def.Name] = def
}

// SetStatDef registers a statistic definition, replacing any definition
// with the same (measurement, statistic) key.
func (a *Aggregator) SetStatDef(def types.StatisticDef) {
	a.init()
	defs, ok := a.statisticDefs[def.MeasurementName]
	if !ok {
		defs = make(map[string]types.StatisticDef)
		a.statisticDefs[def.MeasurementName] = defs
	}
	defs[def.Name()] = def
}

// LoadMetadata registers every definition the provider exposes.
func (a *Aggregator) LoadMetadata(p metadata.Provider) {
	for _, def := range p.Measurements() {
		a.SetMeasurementDef(def)
	}
	for _, defs := range p.Statistics() {
		for _, def := range defs {
			a.SetStatDef(def)
		}
	}
}

// Process validates definitions and computes every statistic.
//
// Description:
//
//	Every defined measurement is processed in name order. For each
//	statistic definition a direct value wins; otherwise the function is
//	applied to the samples, and a statistic with neither fails with
//	ErrMissingData. When checkCriteria
//	is set, pass criteria run on each value and the first failure is
//	returned with a "<measurement>/<statistic>: " prefix.
//
// Outputs:
//
//	Results - Computed statistics per measurement. Fresh on every call.
//	Custom - Copy of the recorded custom data.
//	error - *ValidationError, ErrMissingData, *criteria.Failed or a
//	        function/criteria error.
func (a *Aggregator) Process(checkCriteria bool) (Results, Custom, error) {
	a.init()
	if err := a.validate(); err != nil {
		return nil, nil, err
	}

	results := make(Results)
	for _, ms := range sortedKeys(a.statisticDefs) {
		defs := a.statisticDefs[ms]
		values := make(map[string]float64, len(defs))

		for _, name := range sortedKeys(defs) {
			def := defs[name]
			value, err := a.compute(ms, name, def)
			if err != nil {
				return nil, nil, err
			}

			if checkCriteria && def.PassCriteria != nil {
				if err := def.PassCriteria.Check(value); err != nil {
					return nil, nil, prefixCriteriaError(ms, name, err)
				}
			}
			values[name] = value
		}

		results[ms] = MeasurementResult{
			Unit:   a.measurementDefs[ms].Unit,
			Values: values,
		}
	}

	return results, a.copyCustom(), nil
}

func (a *Aggregator) compute(ms, name string, def types.StatisticDef) (float64, error) {
	if v, ok := a.direct[ms][name]; ok {
		return v, nil
	}
	samples := a.samples[ms]
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrMissingData, ms, name)
	}
	if def.Function == nil {
		return 0, fmt.Errorf("%s/%s: statistic has no function", ms, name)
	}
	value, err := def.Function.Apply(samples)
	if err != nil {
		return 0, fmt.Errorf("%s/%s: %w", ms, name, err)
	}
	return value, nil
}

// validate checks definitions against each other and against ingested data.
func (a *Aggregator) validate() error {
	for _, ms := range sortedKeys(a.statisticDefs) {
		if _, ok := a.measurementDefs[ms]; !ok {
			return &ValidationError{Measurement: ms, Reason: "statistics defined", Err: ErrMissingMeasurementDef}
		}
	}
	for _, ms := range sortedKeys(a.measurementDefs) {
		if len(a.statisticDefs[ms]) == 0 {
			return &ValidationError{Measurement: ms, Reason: "measurement defined", Err: ErrMissingStatisticDef}
		}
	}
	for _, ms := range a.measurementsWithData() {
		if _, ok := a.measurementDefs[ms]; !ok {
			return &ValidationError{Measurement: ms, Reason: "results ingested", Err: ErrMissingMeasurementDef}
		}
		if len(a.statisticDefs[ms]) == 0 {
			return &ValidationError{Measurement: ms, Reason: "results ingested", Err: ErrMissingStatisticDef}
		}
	}
	return nil
}

func (a *Aggregator) measurementsWithData() []string {
	seen := make(map[string]struct{}, len(a.samples)+len(a.direct))
	for ms, samples := range a.samples {
		if len(samples) > 0 {
			seen[ms] = struct{}{}
		}
	}
	for ms, stats := range a.direct {
		if len(stats) > 0 {
			seen[ms] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func (a *Aggregator) copyCustom() Custom {
	out := make(Custom, len(a.custom))
	for iteration, entry := range a.custom {
		inner := make(map[string]any, len(entry))
		for k, v := range entry {
			inner[k] = v
		}
		out[iteration] = inner
	}
	return out
}

func prefixCriteriaError(ms, stat string, err error) error {
	prefix := ms + "/" + stat + ": "
	var failed *criteria.Failed
	if errors.As(err, &failed) {
		return &criteria.Failed{
			Criteria: failed.Criteria,
			Msg:      prefix + failed.Msg,
			Target:   failed.Target,
			Actual:   failed.Actual,
		}
	}
	return fmt.Errorf("%s%w", prefix, err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
