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

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/function"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// Default thread names of a Firecracker process.
const (
	DefaultVMMThread  = "firecracker"
	DefaultVCPUPrefix = "fc_vcpu"
)

// ThreadCPUConsumer parses per-thread CPU usage of a VMM process, one
// "<thread name> <percent>" pair per line, as printed by
// `ps -L -o comm=,pcpu= -p <pid>`.
//
// Threads named VMMThread are summed into cpu_utilization_vmm and threads
// starting with VCPUPrefix into cpu_utilization_vcpus_total, one sample per
// iteration each. Other threads are ignored. A snapshot without a matching
// thread records nothing for that measurement, so Process reports the gap
// as missing data.
type ThreadCPUConsumer struct {
	Aggregator

	VMMThread  string
	VCPUPrefix string
}

// NewThreadCPUConsumer returns a consumer with the default CPU utilization
// definitions. Empty names select DefaultVMMThread and DefaultVCPUPrefix.
func NewThreadCPUConsumer(vmmThread, vcpuPrefix string, opts ...Option) *ThreadCPUConsumer {
	if vmmThread == "" {
		vmmThread = DefaultVMMThread
	}
	if vcpuPrefix == "" {
		vcpuPrefix = DefaultVCPUPrefix
	}
	c := &ThreadCPUConsumer{VMMThread: vmmThread, VCPUPrefix: vcpuPrefix}
	c.init()
	for _, def := range ThreadCPUMeasurementDefs() {
		c.SetMeasurementDef(def)
	}
	for _, def := range ThreadCPUStatisticDefs(nil) {
		c.SetStatDef(def)
	}
	for _, opt := range opts {
		opt(&c.Aggregator)
	}
	return c
}

// ThreadCPUMeasurementDefs returns the VMM and vCPU utilization measurements.
func ThreadCPUMeasurementDefs() []types.MeasurementDef {
	return []types.MeasurementDef{
		types.CPUUtilizationVMM(),
		types.CPUUtilizationVCPUsTotal(),
	}
}

// ThreadCPUStatisticDefs returns Avg and Max of both measurements. pass is
// keyed by statistic name and applies to both measurements; it may be nil.
func ThreadCPUStatisticDefs(pass map[string]criteria.Criteria) []types.StatisticDef {
	var defs []types.StatisticDef
	for _, ms := range []string{types.MeasurementCPUUtilizationVMM, types.MeasurementCPUUtilizationVCPUsTotal} {
		defs = append(defs, types.DefaultStatisticDefs(ms, []function.Function{
			function.NewAvg(""),
			function.NewMax(""),
		}, pass)...)
	}
	return defs
}

// Ingest implements Consumer.
func (c *ThreadCPUConsumer) Ingest(iteration int, raw any) error {
	c.BeginIteration(iteration)

	var out string
	switch v := raw.(type) {
	case string:
		out = v
	case []byte:
		out = string(v)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedRawData, raw)
	}

	var vmm, vcpus float64
	var vmmSeen, vcpuThreads int
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return fmt.Errorf("%w: thread line %q has no cpu percentage", ErrMalformedOutput, line)
		}
		pct, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return fmt.Errorf("%w: thread cpu %q", ErrMalformedOutput, fields[len(fields)-1])
		}
		name := strings.Join(fields[:len(fields)-1], " ")

		switch {
		case name == c.VMMThread:
			vmm += pct
			vmmSeen++
		case strings.HasPrefix(name, c.VCPUPrefix):
			vcpus += pct
			vcpuThreads++
		}
	}

	if vmmSeen > 0 {
		c.ConsumeMeasurement(types.MeasurementCPUUtilizationVMM, vmm)
	}
	if vcpuThreads > 0 {
		c.ConsumeMeasurement(types.MeasurementCPUUtilizationVCPUsTotal, vcpus)
	}
	c.ConsumeCustom("vcpu_threads", vcpuThreads)
	return nil
}

var _ Consumer = (*ThreadCPUConsumer)(nil)
