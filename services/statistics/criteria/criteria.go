// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package criteria provides pass/fail comparisons between a computed
// statistic and its baseline.
//
// A comparison that does not hold returns a *Failed error. A baseline that
// lacks the values a comparison needs returns an error wrapping
// ErrBaselineNotDefined instead, so callers can tell a misconfigured
// baseline apart from a regression:
//
//	err := c.Check(actual)
//	var failed *criteria.Failed
//	switch {
//	case errors.As(err, &failed):
//	    // the statistic missed its target
//	case errors.Is(err, criteria.ErrBaselineNotDefined):
//	    // the baseline is incomplete
//	}
package criteria

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBaselineNotDefined indicates the baseline lacks a required value.
	ErrBaselineNotDefined = errors.New("baseline not defined")
)

// Failed is returned when a statistic does not satisfy its criteria.
type Failed struct {
	// Criteria is the name of the comparison that failed.
	Criteria string

	// Msg is the human readable failure description.
	Msg string

	// Target is the baseline target.
	Target float64

	// Actual is the measured value.
	Actual float64
}

// Error returns the failure message.
func (f *Failed) Error() string {
	return f.Msg
}

// -----------------------------------------------------------------------------
// Baseline
// -----------------------------------------------------------------------------

// Baseline carries the expected value of a statistic.
//
// Pointer fields distinguish "absent" from zero. Delta is accepted as an
// alias of Tolerance when decoding configuration.
type Baseline struct {
	Target    *float64 `json:"target,omitempty" yaml:"target,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	Delta     *float64 `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// NewBaseline returns a baseline holding only a target.
func NewBaseline(target float64) Baseline {
	return Baseline{Target: &target}
}

// NewBaselineWithTolerance returns a baseline with target and tolerance.
func NewBaselineWithTolerance(target, tolerance float64) Baseline {
	return Baseline{Target: &target, Tolerance: &tolerance}
}

// TargetValue returns the target and whether it is defined.
//
// Only an absent target is undefined. Zero is a valid target, e.g. for
// retransmits or packet loss.
func (b Baseline) TargetValue() (float64, bool) {
	if b.Target == nil {
		return 0, false
	}
	return *b.Target, true
}

// ToleranceValue returns the tolerance, falling back to Delta.
func (b Baseline) ToleranceValue() (float64, bool) {
	switch {
	case b.Tolerance != nil:
		return *b.Tolerance, true
	case b.Delta != nil:
		return *b.Delta, true
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------------
// Criteria
// -----------------------------------------------------------------------------

// Criteria compares an actual value against a baseline.
//
// Thread Safety: Implementations are immutable and safe for concurrent use.
type Criteria interface {
	// Name identifies the comparison, e.g. "GreaterThan".
	Name() string

	// Baseline returns the baseline the comparison was built with.
	Baseline() Baseline

	// Check returns nil when actual satisfies the comparison.
	Check(actual float64) error
}

// Built-in criteria names.
const (
	NameGreaterThan = "GreaterThan"
	NameLowerThan   = "LowerThan"
	NameEqualWith   = "EqualWith"
)

type base struct {
	name     string
	baseline Baseline
}

func (b base) Name() string       { return b.name }
func (b base) Baseline() Baseline { return b.baseline }

func (b base) target() (float64, error) {
	target, ok := b.baseline.TargetValue()
	if !ok {
		return 0, fmt.Errorf("%w: %s requires a target", ErrBaselineNotDefined, b.name)
	}
	return target, nil
}

func (b base) fail(target, actual float64, targetText string) *Failed {
	return &Failed{
		Criteria: b.name,
		Msg: fmt.Sprintf("%s failed. Target: '%s' vs Actual: '%s'.",
			b.name, targetText, formatNumber(actual)),
		Target: target,
		Actual: actual,
	}
}

// GreaterThan passes only when the actual value is strictly above the
// target. A value equal to the target fails.
type GreaterThan struct{ base }

// NewGreaterThan builds a GreaterThan comparison.
func NewGreaterThan(baseline Baseline) *GreaterThan {
	return &GreaterThan{base{NameGreaterThan, baseline}}
}

// Check returns a *Failed when actual <= target.
func (c *GreaterThan) Check(actual float64) error {
	target, err := c.target()
	if err != nil {
		return err
	}
	if actual <= target {
		return c.fail(target, actual, formatNumber(target))
	}
	return nil
}

// LowerThan passes when the actual value is at or below the target.
type LowerThan struct{ base }

// NewLowerThan builds a LowerThan comparison.
func NewLowerThan(baseline Baseline) *LowerThan {
	return &LowerThan{base{NameLowerThan, baseline}}
}

// Check returns a *Failed when actual > target.
func (c *LowerThan) Check(actual float64) error {
	target, err := c.target()
	if err != nil {
		return err
	}
	if actual > target {
		return c.fail(target, actual, formatNumber(target))
	}
	return nil
}

// EqualWith fails when the actual value is further than the tolerance from
// the target.
type EqualWith struct{ base }

// NewEqualWith builds an EqualWith comparison.
func NewEqualWith(baseline Baseline) *EqualWith {
	return &EqualWith{base{NameEqualWith, baseline}}
}

// Check returns a *Failed when |target - actual| > tolerance.
func (c *EqualWith) Check(actual float64) error {
	target, err := c.target()
	if err != nil {
		return err
	}
	tolerance, ok := c.baseline.ToleranceValue()
	if !ok {
		return fmt.Errorf("%w: %s requires a tolerance", ErrBaselineNotDefined, c.name)
	}
	if math.Abs(target-actual) > tolerance {
		return c.fail(target, actual, formatNumber(target)+" +- "+formatNumber(tolerance))
	}
	return nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	_ Criteria = (*GreaterThan)(nil)
	_ Criteria = (*LowerThan)(nil)
	_ Criteria = (*EqualWith)(nil)
)
