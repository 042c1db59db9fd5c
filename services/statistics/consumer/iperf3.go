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
	"encoding/json"
	"fmt"
	"math"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/function"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// Measurement names recorded by Iperf3Consumer.
const (
	MeasurementDuration            = "duration"
	MeasurementRetransmits         = "retransmits"
	MeasurementThroughput          = "throughput"
	MeasurementCPUUtilizationHost  = "cpu_utilization_host"
	MeasurementCPUUtilizationGuest = "cpu_utilization_guest"
)

// Statistic names recorded by Iperf3Consumer.
const (
	StatDurationTotal            = "duration_total"
	StatRetransmitsTotal         = "retransmits_total"
	StatThroughputTotal          = "throughput_total"
	StatCPUUtilizationHostTotal  = "cpu_utilization_host_total"
	StatCPUUtilizationGuestTotal = "cpu_utilization_guest_total"
)

// iperf3Report is the subset of `iperf3 --json` output the consumer reads.
type iperf3Report struct {
	Error string `json:"error"`
	End   struct {
		SumSent struct {
			Retransmits float64 `json:"retransmits"`
		} `json:"sum_sent"`
		SumReceived struct {
			Seconds       float64 `json:"seconds"`
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_received"`
		CPUUtilizationPercent struct {
			HostTotal   float64 `json:"host_total"`
			RemoteTotal float64 `json:"remote_total"`
		} `json:"cpu_utilization_percent"`
	} `json:"end"`
}

// Iperf3Consumer parses `iperf3 --json` TCP client output.
//
// Per iteration it records the receiver duration, sender retransmits,
// receiver throughput in Mbps rounded to two decimals, and host and remote
// CPU utilization. Totals are averaged over iterations, except
// retransmits which are summed.
type Iperf3Consumer struct {
	Aggregator
}

// NewIperf3Consumer returns a consumer with the default iperf3 definitions.
func NewIperf3Consumer(opts ...Option) *Iperf3Consumer {
	c := &Iperf3Consumer{}
	c.init()
	for _, def := range Iperf3MeasurementDefs() {
		c.SetMeasurementDef(def)
	}
	for _, def := range Iperf3StatisticDefs(nil) {
		c.SetStatDef(def)
	}
	for _, opt := range opts {
		opt(&c.Aggregator)
	}
	return c
}

// Iperf3MeasurementDefs returns the measurements Iperf3Consumer records.
func Iperf3MeasurementDefs() []types.MeasurementDef {
	return []types.MeasurementDef{
		types.NewMeasurementDef(MeasurementDuration, "seconds"),
		types.NewMeasurementDef(MeasurementRetransmits, "#"),
		types.NewMeasurementDef(MeasurementThroughput, "Mbps"),
		types.NewMeasurementDef(MeasurementCPUUtilizationHost, types.UnitPercentage),
		types.NewMeasurementDef(MeasurementCPUUtilizationGuest, types.UnitPercentage),
	}
}

// Iperf3StatisticDefs returns one total statistic per measurement. pass is
// keyed by statistic name and may be nil.
func Iperf3StatisticDefs(pass map[string]criteria.Criteria) []types.StatisticDef {
	return []types.StatisticDef{
		types.NewStatisticDef(MeasurementDuration, function.NewAvg(StatDurationTotal), pass[StatDurationTotal]),
		types.NewStatisticDef(MeasurementRetransmits, function.NewSum(StatRetransmitsTotal), pass[StatRetransmitsTotal]),
		types.NewStatisticDef(MeasurementThroughput, function.NewAvg(StatThroughputTotal), pass[StatThroughputTotal]),
		types.NewStatisticDef(MeasurementCPUUtilizationHost, function.NewAvg(StatCPUUtilizationHostTotal), pass[StatCPUUtilizationHostTotal]),
		types.NewStatisticDef(MeasurementCPUUtilizationGuest, function.NewAvg(StatCPUUtilizationGuestTotal), pass[StatCPUUtilizationGuestTotal]),
	}
}

// Ingest implements Consumer.
func (c *Iperf3Consumer) Ingest(iteration int, raw any) error {
	c.BeginIteration(iteration)

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedRawData, raw)
	}

	var report iperf3Report
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("%w: iperf3 json: %v", ErrMalformedOutput, err)
	}
	if report.Error != "" {
		return fmt.Errorf("%w: iperf3 reported %q", ErrMalformedOutput, report.Error)
	}

	end := report.End
	c.ConsumeMeasurement(MeasurementDuration, end.SumReceived.Seconds)
	c.ConsumeMeasurement(MeasurementRetransmits, end.SumSent.Retransmits)
	c.ConsumeMeasurement(MeasurementThroughput, math.Round(end.SumReceived.BitsPerSecond/1e4)/100)
	c.ConsumeMeasurement(MeasurementCPUUtilizationHost, end.CPUUtilizationPercent.HostTotal)
	c.ConsumeMeasurement(MeasurementCPUUtilizationGuest, end.CPUUtilizationPercent.RemoteTotal)
	return nil
}

var _ Consumer = (*Iperf3Consumer)(nil)
