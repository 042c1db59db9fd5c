// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package function provides the named statistic functions applied to
// measurement samples.
//
// A Function reduces the samples gathered for one measurement across all
// iterations of an exercise into a single value. Functions are stateless and
// never modify the slice they are given, so one instance may be shared by
// several statistic definitions.
package function

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptyInput indicates a function was applied to zero samples.
	ErrEmptyInput = errors.New("function requires at least one sample")

	// ErrInvalidPercentile indicates a percentile rank outside [0, 100].
	ErrInvalidPercentile = errors.New("percentile must be between 0 and 100")
)

// -----------------------------------------------------------------------------
// Function
// -----------------------------------------------------------------------------

// Function is a named reduction over measurement samples.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Function interface {
	// Name identifies the statistic produced by the function.
	Name() string

	// Apply reduces samples to one value. Must not modify samples.
	Apply(samples []float64) (float64, error)
}

// Default statistic names for the built-in functions.
const (
	NameSum         = "Sum"
	NameMin         = "Min"
	NameMax         = "Max"
	NameAvg         = "Avg"
	NameStddev      = "Stddev"
	NameP50         = "P50"
	NameP90         = "P90"
	NameP99         = "P99"
	NamePlaceholder = "value"
)

type named struct {
	name string
}

func (n named) Name() string { return n.name }

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// Sum adds all samples.
type Sum struct{ named }

// NewSum returns a Sum function. An empty name selects "Sum".
func NewSum(name string) *Sum { return &Sum{named{nameOr(name, NameSum)}} }

// Apply returns the sum of samples.
func (f *Sum) Apply(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyInput, f.name)
	}
	return stats.Sum(samples)
}

// Min selects the smallest sample.
type Min struct{ named }

// NewMin returns a Min function. An empty name selects "Min".
func NewMin(name string) *Min { return &Min{named{nameOr(name, NameMin)}} }

// Apply returns the minimum sample.
func (f *Min) Apply(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyInput, f.name)
	}
	return stats.Min(samples)
}

// Max selects the largest sample.
type Max struct{ named }

// NewMax returns a Max function. An empty name selects "Max".
func NewMax(name string) *Max { return &Max{named{nameOr(name, NameMax)}} }

// Apply returns the maximum sample.
func (f *Max) Apply(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyInput, f.name)
	}
	return stats.Max(samples)
}

// Avg computes the arithmetic mean.
type Avg struct{ named }

// NewAvg returns an Avg function. An empty name selects "Avg".
func NewAvg(name string) *Avg { return &Avg{named{nameOr(name, NameAvg)}} }

// Apply returns the mean of samples.
func (f *Avg) Apply(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyInput, f.name)
	}
	return stats.Mean(samples)
}

// Stddev computes the sample standard deviation.
type Stddev struct{ named }

// NewStddev returns a Stddev function. An empty name selects "Stddev".
func NewStddev(name string) *Stddev { return &Stddev{named{nameOr(name, NameStddev)}} }

// Apply returns the sample standard deviation (n-1 denominator).
//
// A single sample is returned as is instead of an undefined deviation.
func (f *Stddev) Apply(samples []float64) (float64, error) {
	switch len(samples) {
	case 0:
		return 0, fmt.Errorf("%w: %s", ErrEmptyInput, f.name)
	case 1:
		return samples[0], nil
	}
	return stats.StandardDeviationSample(samples)
}

// Percentile computes the k-th percentile.
type Percentile struct {
	named
	k float64
}

// NewPercentile returns a percentile function for rank k.
//
// Inputs:
//   - k: Percentile rank in [0, 100].
//   - name: Statistic name. Empty selects "P<k>".
//
// Outputs:
//   - *Percentile: The function.
//   - error: ErrInvalidPercentile if k is out of range.
func NewPercentile(k float64, name string) (*Percentile, error) {
	if k < 0 || k > 100 || math.IsNaN(k) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPercentile, k)
	}
	return &Percentile{
		named: named{nameOr(name, fmt.Sprintf("P%g", k))},
		k:     k,
	}, nil
}

// K returns the percentile rank.
func (f *Percentile) K() float64 { return f.k }

// Apply returns the k-th percentile of samples.
//
// Description:
//
//	Sorts a copy of the samples and locates rank k/100 * (n-1). An integral
//	rank selects that element; a fractional rank interpolates linearly
//	between its floor and ceiling neighbours.
//
// Thread Safety: Stateless, safe for concurrent use.
func (f *Percentile) Apply(samples []float64) (float64, error) {
	switch len(samples) {
	case 0:
		return 0, fmt.Errorf("%w: %s", ErrEmptyInput, f.name)
	case 1:
		return samples[0], nil
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return percentile(sorted, f.k/100), nil
}

// percentile expects sorted input with at least one element.
func percentile(sorted []float64, p float64) float64 {
	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}

// ValuePlaceholder marks a statistic whose value is reported directly by the
// consumer rather than computed.
type ValuePlaceholder struct{ named }

// NewValuePlaceholder returns a placeholder. An empty name selects "value".
func NewValuePlaceholder(name string) *ValuePlaceholder {
	return &ValuePlaceholder{named{nameOr(name, NamePlaceholder)}}
}

// Apply returns the most recent sample, or 0 when there are none.
func (f *ValuePlaceholder) Apply(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	return samples[len(samples)-1], nil
}

var (
	_ Function = (*Sum)(nil)
	_ Function = (*Min)(nil)
	_ Function = (*Max)(nil)
	_ Function = (*Avg)(nil)
	_ Function = (*Stddev)(nil)
	_ Function = (*Percentile)(nil)
	_ Function = (*ValuePlaceholder)(nil)
)
