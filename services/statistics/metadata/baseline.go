// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metadata

import (
	"runtime"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
)

// BaselineProvider supplies the expected value for a statistic.
//
// Thread Safety: Implementations must be safe for concurrent reads.
type BaselineProvider interface {
	// Get returns the baseline for (measurement, statistic). A missing
	// baseline returns false; it is never an error.
	Get(measurement, statistic string) (criteria.Baseline, bool)
}

// BaselinesConfig is the nested baseline configuration:
//
//	measurement -> environment -> statistic -> {target, tolerance|delta}
type BaselinesConfig map[string]map[string]map[string]criteria.Baseline

// DictBaselineProvider resolves baselines from a BaselinesConfig for one
// environment (for example the host architecture).
type DictBaselineProvider struct {
	config      BaselinesConfig
	environment string
}

// NewDictBaselineProvider returns a provider reading cfg for environment.
//
// An empty environment selects DefaultEnvironment().
func NewDictBaselineProvider(cfg BaselinesConfig, environment string) *DictBaselineProvider {
	if environment == "" {
		environment = DefaultEnvironment()
	}
	return &DictBaselineProvider{config: cfg, environment: environment}
}

// Environment returns the environment key used for lookups.
func (p *DictBaselineProvider) Environment() string {
	return p.environment
}

// Get implements BaselineProvider.
func (p *DictBaselineProvider) Get(measurement, statistic string) (criteria.Baseline, bool) {
	envs, ok := p.config[measurement]
	if !ok {
		return criteria.Baseline{}, false
	}
	stats, ok := envs[p.environment]
	if !ok {
		return criteria.Baseline{}, false
	}
	baseline, ok := stats[statistic]
	return baseline, ok
}

// NoBaselines is a BaselineProvider that never returns a baseline.
type NoBaselines struct{}

// Get implements BaselineProvider.
func (NoBaselines) Get(string, string) (criteria.Baseline, bool) {
	return criteria.Baseline{}, false
}

// DefaultEnvironment names the host platform the way baseline files key it.
func DefaultEnvironment() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

var (
	_ BaselineProvider = (*DictBaselineProvider)(nil)
	_ BaselineProvider = NoBaselines{}
)
