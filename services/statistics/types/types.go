// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package types defines measurement and statistic definitions.
package types

import (
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/function"
)

// Default measurement names shared by host-side consumers.
const (
	MeasurementCPUUtilizationVMM        = "cpu_utilization_vmm"
	MeasurementCPUUtilizationVCPUsTotal = "cpu_utilization_vcpus_total"
	UnitPercentage                      = "percentage"
)

// MeasurementDef names a sampled quantity and its unit.
//
// The unit is a free-form label carried into reports unchanged.
type MeasurementDef struct {
	Name string `json:"name" yaml:"name"`
	Unit string `json:"unit" yaml:"unit"`
}

// NewMeasurementDef returns a measurement definition.
func NewMeasurementDef(name, unit string) MeasurementDef {
	return MeasurementDef{Name: name, Unit: unit}
}

// CPUUtilizationVMM is the VMM thread CPU utilization measurement.
func CPUUtilizationVMM() MeasurementDef {
	return NewMeasurementDef(MeasurementCPUUtilizationVMM, UnitPercentage)
}

// CPUUtilizationVCPUsTotal is the summed vCPU thread utilization measurement.
func CPUUtilizationVCPUsTotal() MeasurementDef {
	return NewMeasurementDef(MeasurementCPUUtilizationVCPUsTotal, UnitPercentage)
}

// StatisticDef binds a measurement to the function that summarizes it and
// an optional pass criteria.
//
// The statistic is identified within its measurement by Function.Name().
type StatisticDef struct {
	MeasurementName string
	Function        function.Function
	PassCriteria    criteria.Criteria
}

// NewStatisticDef returns a statistic definition. pass may be nil.
func NewStatisticDef(measurement string, fn function.Function, pass criteria.Criteria) StatisticDef {
	return StatisticDef{
		MeasurementName: measurement,
		Function:        fn,
		PassCriteria:    pass,
	}
}

// Name returns the statistic name, which is the function name.
func (d StatisticDef) Name() string {
	if d.Function == nil {
		return ""
	}
	return d.Function.Name()
}

// DefaultStatisticDefs builds one definition per function for measurement.
//
// passCriteria is keyed by statistic name; functions without an entry get
// no criteria. A nil map is allowed.
func DefaultStatisticDefs(measurement string, functions []function.Function, passCriteria map[string]criteria.Criteria) []StatisticDef {
	defs := make([]StatisticDef, 0, len(functions))
	for _, fn := range functions {
		defs = append(defs, NewStatisticDef(measurement, fn, passCriteria[fn.Name()]))
	}
	return defs
}
