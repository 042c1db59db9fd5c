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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/statsharness/services/statistics/core"
)

const (
	reportPrefix = "r/"
	timePrefix   = "t/"
)

// ReportStore persists exercise reports.
//
// Thread Safety: Safe for concurrent use.
type ReportStore struct {
	db     *DB
	logger *slog.Logger
}

// NewReportStore returns a report store backed by db.
func NewReportStore(db *DB, logger *slog.Logger) *ReportStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportStore{db: db, logger: logger.With(slog.String("component", "report_store"))}
}

func reportKey(runID string) []byte {
	return []byte(reportPrefix + runID)
}

// timeKey orders reports newest first by inverting the start time.
func timeKey(report *core.Statistics) []byte {
	key := make([]byte, 0, len(timePrefix)+8+1+len(report.RunID))
	key = append(key, timePrefix...)
	key = binary.BigEndian.AppendUint64(key, math.MaxUint64-uint64(report.StartedAt.UnixNano()))
	key = append(key, '/')
	return append(key, report.RunID...)
}

// Save stores report, replacing any report with the same run id.
//
// Outputs:
//
//	error - ErrNilReport, or a storage error.
func (s *ReportStore) Save(ctx context.Context, report *core.Statistics) error {
	if report == nil || report.RunID == "" {
		return ErrNilReport
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.RunID, err)
	}

	err = s.db.update(ctx, func(txn *badger.Txn) error {
		if old, err := getReport(txn, report.RunID); err == nil {
			if err := txn.Delete(timeKey(old)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(reportKey(report.RunID), data); err != nil {
			return err
		}
		return txn.Set(timeKey(report), []byte(report.Name))
	})
	if err != nil {
		return fmt.Errorf("save report %s: %w", report.RunID, err)
	}

	s.logger.Debug("report saved",
		slog.String("run_id", report.RunID),
		slog.String("exercise", report.Name),
	)
	return nil
}

// Get returns the report with runID, or ErrNotFound.
func (s *ReportStore) Get(ctx context.Context, runID string) (*core.Statistics, error) {
	var report *core.Statistics
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		var err error
		report, err = getReport(txn, runID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", runID, err)
	}
	return report, nil
}

// List returns reports newest first.
//
// Inputs:
//
//	exercise - Only reports of this exercise. Empty lists all.
//	limit - Maximum number of reports. Zero or less means no limit.
func (s *ReportStore) List(ctx context.Context, exercise string, limit int) ([]*core.Statistics, error) {
	var reports []*core.Statistics
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(timePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(reports) >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			if exercise != "" {
				name, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if string(name) != exercise {
					continue
				}
			}

			key := item.Key()
			runID := string(key[len(timePrefix)+9:])
			report, err := getReport(txn, runID)
			if err != nil {
				return fmt.Errorf("load report %s: %w", runID, err)
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// Delete removes the report with runID, or returns ErrNotFound.
func (s *ReportStore) Delete(ctx context.Context, runID string) error {
	err := s.db.update(ctx, func(txn *badger.Txn) error {
		report, err := getReport(txn, runID)
		if err != nil {
			return err
		}
		if err := txn.Delete(timeKey(report)); err != nil {
			return err
		}
		return txn.Delete(reportKey(runID))
	})
	if err != nil {
		return fmt.Errorf("delete report %s: %w", runID, err)
	}
	s.logger.Info("report deleted", slog.String("run_id", runID))
	return nil
}

func getReport(txn *badger.Txn, runID string) (*core.Statistics, error) {
	item, err := txn.Get(reportKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	report := &core.Statistics{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, report)
	})
	if err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
