// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/statsharness/services/statistics/core"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// Measurement is the Influx measurement of statistic points. Run
	// summaries go to Measurement + "_runs".
	Measurement string `yaml:"measurement"`
}

// DefaultInfluxConfig reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET, falling back to a local development server.
func DefaultInfluxConfig() InfluxConfig {
	cfg := InfluxConfig{
		URL:         os.Getenv("INFLUXDB_URL"),
		Token:       os.Getenv("INFLUXDB_TOKEN"),
		Org:         os.Getenv("INFLUXDB_ORG"),
		Bucket:      os.Getenv("INFLUXDB_BUCKET"),
		Measurement: "statsharness",
	}
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8086"
	}
	if cfg.Org == "" {
		cfg.Org = "statsharness"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "statistics"
	}
	return cfg
}

// PointWriter writes points synchronously. The InfluxDB blocking write API
// satisfies it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one point per (pipe, measurement, statistic) and one
// run summary point per report.
type InfluxSink struct {
	client      influxdb2.Client
	writer      PointWriter
	measurement string
	logger      *slog.Logger
}

// NewInfluxSink connects to the server in cfg.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := NewInfluxSinkWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement, logger)
	s.client = client
	s.logger.Info("influx sink ready",
		slog.String("url", cfg.URL),
		slog.String("org", cfg.Org),
		slog.String("bucket", cfg.Bucket),
	)
	return s
}

// NewInfluxSinkWithWriter returns a sink writing through w.
func NewInfluxSinkWithWriter(w PointWriter, measurement string, logger *slog.Logger) *InfluxSink {
	if measurement == "" {
		measurement = "statsharness"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxSink{
		writer:      w,
		measurement: measurement,
		logger:      logger.With(slog.String("sink", "influx")),
	}
}

// Points converts report into Influx points, sorted by pipe, measurement
// and statistic, followed by the run summary.
func (s *InfluxSink) Points(report *core.Statistics) []*write.Point {
	base := map[string]string{
		"exercise": report.Name,
		"run_id":   report.RunID,
	}
	if report.Environment != "" {
		base["environment"] = report.Environment
	}
	for k, v := range report.Labels {
		base["label_"+k] = v
	}

	var points []*write.Point
	for _, tag := range sortedKeys(report.Results) {
		results := report.Results[tag]
		for _, measurement := range sortedKeys(results) {
			result := results[measurement]
			for _, statistic := range sortedKeys(result.Values) {
				tags := make(map[string]string, len(base)+4)
				for k, v := range base {
					tags[k] = v
				}
				tags["pipe"] = tag
				tags["measurement"] = measurement
				tags["statistic"] = statistic
				tags["unit"] = result.Unit

				points = append(points, influxdb2.NewPoint(s.measurement, tags,
					map[string]interface{}{"value": result.Values[statistic]},
					report.StartedAt,
				))
			}
		}
	}

	points = append(points, influxdb2.NewPointWithMeasurement(s.measurement+"_runs").
		AddTag("exercise", report.Name).
		AddTag("run_id", report.RunID).
		AddField("iterations", report.Iterations).
		AddField("pipes", len(report.Results)).
		AddField("criteria_checked", report.CriteriaChecked).
		AddField("passed", report.Passed).
		AddField("duration_seconds", report.FinishedAt.Sub(report.StartedAt).Seconds()).
		SetTime(report.StartedAt))
	return points
}

// Write implements Sink.
func (s *InfluxSink) Write(ctx context.Context, report *core.Statistics) error {
	if report == nil {
		return ErrNilReport
	}
	points := s.Points(report)
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %s: %w", report.RunID, err)
	}
	s.logger.Debug("report written",
		slog.String("run_id", report.RunID),
		slog.Int("points", len(points)),
	)
	return nil
}

// Close implements Sink.
func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
