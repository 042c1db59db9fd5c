// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/statsharness/pkg/validation"
	"github.com/AleutianAI/statsharness/services/statistics/core"
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/metadata"
)

const baselinePrefix = "b/"

// ErrInvalidKey indicates a measurement or statistic name unusable as a key
// part.
var ErrInvalidKey = errors.New("invalid baseline key")

// BaselineStore keeps baselines for one environment and serves them as a
// metadata.BaselineProvider.
//
// Thread Safety: Safe for concurrent use.
type BaselineStore struct {
	db          *DB
	environment string
	logger      *slog.Logger
}

// NewBaselineStore returns a store for environment. An empty environment
// selects metadata.DefaultEnvironment().
func NewBaselineStore(db *DB, environment string, logger *slog.Logger) *BaselineStore {
	if environment == "" {
		environment = metadata.DefaultEnvironment()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BaselineStore{
		db:          db,
		environment: environment,
		logger:      logger.With(slog.String("component", "baseline_store"), slog.String("environment", environment)),
	}
}

// Environment returns the environment key.
func (s *BaselineStore) Environment() string {
	return s.environment
}

func (s *BaselineStore) envPrefix() string {
	return baselinePrefix + s.environment + "/"
}

func (s *BaselineStore) key(measurement, statistic string) ([]byte, error) {
	if err := validation.ValidateName("measurement", measurement); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if err := validation.ValidateName("statistic", statistic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return []byte(s.envPrefix() + measurement + "/" + statistic), nil
}

// Get implements metadata.BaselineProvider. Storage errors are logged and
// reported as a missing baseline.
func (s *BaselineStore) Get(measurement, statistic string) (criteria.Baseline, bool) {
	b, err := s.Lookup(context.Background(), measurement, statistic)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("baseline lookup failed",
				slog.String("measurement", measurement),
				slog.String("statistic", statistic),
				slog.String("error", err.Error()),
			)
		}
		return criteria.Baseline{}, false
	}
	return b, true
}

// Lookup returns the baseline for (measurement, statistic) or ErrNotFound.
func (s *BaselineStore) Lookup(ctx context.Context, measurement, statistic string) (criteria.Baseline, error) {
	key, err := s.key(measurement, statistic)
	if err != nil {
		return criteria.Baseline{}, err
	}

	var b criteria.Baseline
	err = s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		})
	})
	if err != nil {
		return criteria.Baseline{}, err
	}
	return b, nil
}

// Set stores the baseline for (measurement, statistic).
func (s *BaselineStore) Set(ctx context.Context, measurement, statistic string, b criteria.Baseline) error {
	key, err := s.key(measurement, statistic)
	if err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("set baseline %s/%s: %w", measurement, statistic, err)
	}
	return nil
}

// Delete removes the baseline for (measurement, statistic), or returns
// ErrNotFound.
func (s *BaselineStore) Delete(ctx context.Context, measurement, statistic string) error {
	key, err := s.key(measurement, statistic)
	if err != nil {
		return err
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// List returns every baseline of the environment as measurement ->
// statistic -> baseline.
func (s *BaselineStore) List(ctx context.Context) (map[string]map[string]criteria.Baseline, error) {
	prefix := s.envPrefix()
	out := make(map[string]map[string]criteria.Baseline)

	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := strings.TrimPrefix(string(item.Key()), prefix)
			measurement, statistic, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}

			var b criteria.Baseline
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return fmt.Errorf("decode baseline %s: %w", rest, err)
			}
			if out[measurement] == nil {
				out[measurement] = make(map[string]criteria.Baseline)
			}
			out[measurement][statistic] = b
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	return out, nil
}

// Config exports the stored baselines in the nested configuration shape.
func (s *BaselineStore) Config(ctx context.Context) (metadata.BaselinesConfig, error) {
	stored, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	cfg := make(metadata.BaselinesConfig, len(stored))
	for measurement, stats := range stored {
		cfg[measurement] = map[string]map[string]criteria.Baseline{s.environment: stats}
	}
	return cfg, nil
}

// Promote records the statistics of report as baseline targets.
//
// Description:
//
//	Every statistic of the pipe tagged tag becomes the target of its
//	(measurement, statistic) baseline. An empty tag promotes every pipe in
//	tag order, so later tags win on shared measurement names. Existing
//	tolerances are kept.
//
// Outputs:
//
//	int - Number of baselines written.
//	error - ErrNilReport, ErrNotFound for an unknown tag, or a storage error.
func (s *BaselineStore) Promote(ctx context.Context, report *core.Statistics, tag string) (int, error) {
	if report == nil || report.RunID == "" {
		return 0, ErrNilReport
	}

	tags := make([]string, 0, len(report.Results))
	if tag != "" {
		if _, ok := report.Results[tag]; !ok {
			return 0, fmt.Errorf("%w: pipe %q in report %s", ErrNotFound, tag, report.RunID)
		}
		tags = append(tags, tag)
	} else {
		for t := range report.Results {
			tags = append(tags, t)
		}
		sort.Strings(tags)
	}

	written := 0
	for _, t := range tags {
		for measurement, result := range report.Results[t] {
			for statistic, value := range result.Values {
				b, err := s.Lookup(ctx, measurement, statistic)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return written, err
				}
				target := value
				b.Target = &target
				if err := s.Set(ctx, measurement, statistic, b); err != nil {
					return written, err
				}
				written++
			}
		}
	}

	s.logger.Info("baselines promoted",
		slog.String("run_id", report.RunID),
		slog.String("tag", tag),
		slog.Int("count", written),
	)
	return written, nil
}

var _ metadata.BaselineProvider = (*BaselineStore)(nil)
