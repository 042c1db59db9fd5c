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
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/statsharness/services/statistics/metadata"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// IngestFunc parses one raw observation into the aggregator.
type IngestFunc func(a *Aggregator, raw any) error

// Option configures a consumer's definitions.
type Option func(*Aggregator)

// WithMetadata loads definitions from a metadata provider.
func WithMetadata(p metadata.Provider) Option {
	return func(a *Aggregator) {
		if p != nil {
			a.LoadMetadata(p)
		}
	}
}

// WithMeasurementDefs registers measurement definitions.
func WithMeasurementDefs(defs ...types.MeasurementDef) Option {
	return func(a *Aggregator) {
		for _, def := range defs {
			a.SetMeasurementDef(def)
		}
	}
}

// WithStatisticDefs registers statistic definitions.
func WithStatisticDefs(defs ...types.StatisticDef) Option {
	return func(a *Aggregator) {
		for _, def := range defs {
			a.SetStatDef(def)
		}
	}
}

// FuncConsumer is a Consumer whose parsing is a plain function.
type FuncConsumer struct {
	Aggregator
	fn IngestFunc
}

// NewFuncConsumer returns a consumer calling fn for each observation.
//
// Example:
//
//	c := consumer.NewFuncConsumer(consumer.NumberIngest("ints"),
//	    consumer.WithMeasurementDefs(types.NewMeasurementDef("ints", "none")),
//	    consumer.WithStatisticDefs(types.NewStatisticDef("ints", function.NewSum(""), nil)),
//	)
func NewFuncConsumer(fn IngestFunc, opts ...Option) *FuncConsumer {
	c := &FuncConsumer{fn: fn}
	c.init()
	for _, opt := range opts {
		opt(&c.Aggregator)
	}
	return c
}

// Ingest implements Consumer.
func (c *FuncConsumer) Ingest(iteration int, raw any) error {
	c.BeginIteration(iteration)
	if c.fn == nil {
		return nil
	}
	return c.fn(&c.Aggregator, raw)
}

// NumberIngest returns an IngestFunc that records numeric raw data as
// samples of measurement.
//
// Numbers are consumed as-is. Strings and byte slices are split into lines
// and every non-blank line is parsed as a float.
func NumberIngest(measurement string) IngestFunc {
	return func(a *Aggregator, raw any) error {
		switch v := raw.(type) {
		case float64:
			a.ConsumeMeasurement(measurement, v)
		case float32:
			a.ConsumeMeasurement(measurement, float64(v))
		case int:
			a.ConsumeMeasurement(measurement, float64(v))
		case int64:
			a.ConsumeMeasurement(measurement, float64(v))
		case int32:
			a.ConsumeMeasurement(measurement, float64(v))
		case uint64:
			a.ConsumeMeasurement(measurement, float64(v))
		case string:
			return ingestLines(a, measurement, v)
		case []byte:
			return ingestLines(a, measurement, string(v))
		default:
			return fmt.Errorf("%w: %T", ErrUnsupportedRawData, raw)
		}
		return nil
	}
}

func ingestLines(a *Aggregator, measurement, text string) error {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrMalformedOutput, line)
		}
		a.ConsumeMeasurement(measurement, v)
	}
	return nil
}

var _ Consumer = (*FuncConsumer)(nil)
