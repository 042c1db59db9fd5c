// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink exports exercise reports to external systems.
//
// A Sink receives every finished report. InfluxSink turns statistics into
// time series points, GCSSink uploads the JSON report to a bucket, and
// Multi fans a report out to several sinks.
package sink

import (
	"context"
	"errors"

	"github.com/AleutianAI/statsharness/services/statistics/core"
)

// ErrNilReport indicates a nil report was written.
var ErrNilReport = errors.New("nil report")

// Sink receives finished reports.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sink interface {
	// Write exports report.
	Write(ctx context.Context, report *core.Statistics) error

	// Close releases the sink's connections.
	Close() error
}

// Multi writes to every sink in order.
//
// All sinks are attempted even when one fails; the errors are joined.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, report *core.Statistics) error {
	if report == nil {
		return ErrNilReport
	}
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = Multi(nil)
	_ Sink = (*InfluxSink)(nil)
	_ Sink = (*GCSSink)(nil)
)
