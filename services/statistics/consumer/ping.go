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
	"regexp"
	"strconv"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/function"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// Measurement names recorded by PingConsumer.
const (
	MeasurementLatency = "latency"
	MeasurementPktLoss = "pkt_loss"
)

var (
	pingTimeRe = regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?) ?ms`)
	pingLossRe = regexp.MustCompile(`([0-9]+) packets transmitted, ([0-9]+) (?:packets )?received.*?([0-9]+(?:\.[0-9]+)?)% packet loss`)
	pingRTTRe  = regexp.MustCompile(`= ([0-9.]+)/([0-9.]+)/([0-9.]+)/([0-9.]+) ms`)
)

// PingConsumer parses the output of `ping -c N -i I host`.
//
// Each reply's round trip time becomes a latency sample. The summary line
// (min/avg/max/mdev) is recorded as direct Min, Avg, Max and Stddev values,
// so those statistics match what ping itself reports. Packet loss is a
// pkt_loss sample. Transmitted and received counts are kept as custom data.
type PingConsumer struct {
	Aggregator
}

// NewPingConsumer returns a consumer with the default ping definitions.
// Options run after the defaults and may replace them, for example to
// attach criteria to Avg.
func NewPingConsumer(opts ...Option) *PingConsumer {
	c := &PingConsumer{}
	c.init()
	for _, def := range PingMeasurementDefs() {
		c.SetMeasurementDef(def)
	}
	for _, def := range PingStatisticDefs(nil) {
		c.SetStatDef(def)
	}
	for _, opt := range opts {
		opt(&c.Aggregator)
	}
	return c
}

// PingMeasurementDefs returns the latency and packet loss measurements.
func PingMeasurementDefs() []types.MeasurementDef {
	return []types.MeasurementDef{
		types.NewMeasurementDef(MeasurementLatency, "millisecond"),
		types.NewMeasurementDef(MeasurementPktLoss, types.UnitPercentage),
	}
}

// PingStatisticDefs returns the default latency statistics plus the last
// observed packet loss. pass is keyed by statistic name and may be nil.
func PingStatisticDefs(pass map[string]criteria.Criteria) []types.StatisticDef {
	p50, _ := function.NewPercentile(50, function.NameP50)
	p90, _ := function.NewPercentile(90, function.NameP90)
	p99, _ := function.NewPercentile(99, function.NameP99)

	defs := types.DefaultStatisticDefs(MeasurementLatency, []function.Function{
		function.NewMax(""),
		function.NewMin(""),
		function.NewAvg(""),
		function.NewStddev(""),
		p50,
		p90,
		p99,
	}, pass)

	return append(defs, types.NewStatisticDef(
		MeasurementPktLoss,
		function.NewValuePlaceholder(MeasurementPktLoss),
		pass[MeasurementPktLoss],
	))
}

// Ingest implements Consumer. Empty output is ignored.
func (c *PingConsumer) Ingest(iteration int, raw any) error {
	c.BeginIteration(iteration)

	var out string
	switch v := raw.(type) {
	case string:
		out = v
	case []byte:
		out = string(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedRawData, raw)
	}
	if out == "" {
		return nil
	}

	loss := pingLossRe.FindStringSubmatch(out)
	if loss == nil {
		return fmt.Errorf("%w: ping output has no packet loss summary", ErrMalformedOutput)
	}
	transmitted, _ := strconv.Atoi(loss[1])
	received, _ := strconv.Atoi(loss[2])
	lossPct, err := strconv.ParseFloat(loss[3], 64)
	if err != nil {
		return fmt.Errorf("%w: packet loss %q", ErrMalformedOutput, loss[3])
	}
	c.ConsumeMeasurement(MeasurementPktLoss, lossPct)
	c.ConsumeCustom("transmitted", transmitted)
	c.ConsumeCustom("received", received)

	for _, m := range pingTimeRe.FindAllStringSubmatch(out, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return fmt.Errorf("%w: reply time %q", ErrMalformedOutput, m[1])
		}
		c.ConsumeMeasurement(MeasurementLatency, v)
	}

	if rtt := pingRTTRe.FindStringSubmatch(out); rtt != nil {
		names := []string{function.NameMin, function.NameAvg, function.NameMax, function.NameStddev}
		for i, name := range names {
			v, err := strconv.ParseFloat(rtt[i+1], 64)
			if err != nil {
				return fmt.Errorf("%w: rtt %s %q", ErrMalformedOutput, name, rtt[i+1])
			}
			c.ConsumeStat(name, MeasurementLatency, v)
		}
	}

	return nil
}

var _ Consumer = (*PingConsumer)(nil)
