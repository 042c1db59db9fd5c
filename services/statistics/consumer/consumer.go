// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consumer turns raw producer output into measurement samples and
// summarizes them into statistics.
//
// # Lifecycle
//
// A consumer has two phases. Ingest is called zero or more times, once per
// iteration, and records samples, direct statistic values or custom data.
// Process is then called once to validate definitions, compute statistics
// and check pass criteria. Ingesting after Process is not supported.
//
// # Implementing a Consumer
//
// Embed Aggregator and implement Ingest:
//
//	type lineCounter struct {
//	    consumer.Aggregator
//	}
//
//	func (c *lineCounter) Ingest(iteration int, raw any) error {
//	    c.BeginIteration(iteration)
//	    c.ConsumeMeasurement("lines", float64(strings.Count(raw.(string), "\n")))
//	    return nil
//	}
//
// For one-off parsing, FuncConsumer wraps a plain function instead.
package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrMissingMeasurementDef indicates statistics or results exist for a
	// measurement that has no measurement definition.
	ErrMissingMeasurementDef = errors.New("missing measurement definition")

	// ErrMissingStatisticDef indicates a measurement definition or results
	// exist without any statistic definition.
	ErrMissingStatisticDef = errors.New("missing statistic definition")

	// ErrMissingData indicates a statistic has neither a direct value nor
	// samples to compute it from.
	ErrMissingData = errors.New("no data for statistic")

	// ErrUnsupportedRawData indicates raw producer output of a type the
	// consumer cannot parse.
	ErrUnsupportedRawData = errors.New("unsupported raw data")

	// ErrMalformedOutput indicates tool output that does not match the
	// expected format.
	ErrMalformedOutput = errors.New("malformed tool output")
)

// ValidationError reports a mismatch between definitions and ingested data.
//
// These are configuration mistakes and are never retried.
type ValidationError struct {
	// Measurement is the measurement the mismatch was found on.
	Measurement string

	// Reason describes the mismatch.
	Reason string

	// Err is ErrMissingMeasurementDef or ErrMissingStatisticDef.
	Err error
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("consumer validation failed for measurement %q: %s: %v", e.Measurement, e.Reason, e.Err)
}

// Unwrap returns the sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Consumer
// -----------------------------------------------------------------------------

// Consumer ingests raw producer output and summarizes it.
type Consumer interface {
	// Ingest parses one raw observation. iteration is the zero-based round
	// index the observation was produced in.
	Ingest(iteration int, raw any) error

	// Process validates definitions, computes every statistic and, when
	// checkCriteria is set, evaluates pass criteria. A failed check returns
	// a *criteria.Failed.
	Process(checkCriteria bool) (Results, Custom, error)
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// unitKey is the reserved JSON key carrying a measurement's unit.
const unitKey = "_unit"

// MeasurementResult holds the computed statistics of one measurement.
//
// It serializes as a flat object: {"_unit": unit, "<stat>": value, ...}.
type MeasurementResult struct {
	Unit   string
	Values map[string]float64
}

// MarshalJSON implements json.Marshaler.
func (r MeasurementResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+1)
	for name, value := range r.Values {
		out[name] = value
	}
	out[unitKey] = r.Unit
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *MeasurementResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Unit = ""
	r.Values = make(map[string]float64, len(raw))
	for key, msg := range raw {
		if key == unitKey {
			if err := json.Unmarshal(msg, &r.Unit); err != nil {
				return fmt.Errorf("decoding %s: %w", unitKey, err)
			}
			continue
		}
		var v float64
		if err := json.Unmarshal(msg, &v); err != nil {
			return fmt.Errorf("decoding statistic %q: %w", key, err)
		}
		r.Values[key] = v
	}
	return nil
}

// Results maps measurement names to their computed statistics.
type Results map[string]MeasurementResult

// Custom holds caller-defined side data keyed by iteration then name.
type Custom map[int]map[string]any
