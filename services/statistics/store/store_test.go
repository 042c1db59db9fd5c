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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/core"
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testReport(runID, name string, started time.Time, sum float64) *core.Statistics {
	return &core.Statistics{
		RunID:      runID,
		Name:       name,
		Iterations: 10,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Results: map[string]consumer.Results{
			"ints_pipe": {
				"ints": {Unit: "none", Values: map[string]float64{"Sum": sum}},
			},
		},
		Custom: map[string]consumer.Custom{
			"ints_pipe": {0: {"seed": 7.0}},
		},
	}
}

func TestOpen(t *testing.T) {
	t.Run("persistent requires path", func(t *testing.T) {
		_, err := Open(Config{})
		assert.ErrorIs(t, err, ErrPathRequired)
	})

	t.Run("persistent reopen keeps data", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig(dir)
		cfg.SyncWrites = false

		db, err := Open(cfg)
		require.NoError(t, err)
		reports := NewReportStore(db, nil)
		require.NoError(t, reports.Save(context.Background(), testReport("run-1", "randint", time.Unix(100, 0), 42)))
		require.NoError(t, db.Close())
		require.NoError(t, db.Close(), "second close is a no-op")

		db2, err := Open(cfg)
		require.NoError(t, err)
		defer db2.Close()

		got, err := NewReportStore(db2, nil).Get(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, 42.0, got.Results["ints_pipe"]["ints"].Values["Sum"])
	})

	t.Run("in memory", func(t *testing.T) {
		db := openTestDB(t)
		assert.True(t, db.InMemory())
	})
}

func TestReportStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	s := NewReportStore(openTestDB(t), nil)

	want := testReport("run-1", "randint", time.Unix(1700000000, 0).UTC(), 245)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Iterations, got.Iterations)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, want.Results, got.Results)
	assert.Equal(t, 7.0, got.Custom["ints_pipe"][0]["seed"])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Save(ctx, nil), ErrNilReport)
	assert.ErrorIs(t, s.Save(ctx, &core.Statistics{}), ErrNilReport)
}

func TestReportStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewReportStore(openTestDB(t), nil)

	base := time.Unix(1700000000, 0)
	require.NoError(t, s.Save(ctx, testReport("a", "latency", base, 1)))
	require.NoError(t, s.Save(ctx, testReport("b", "throughput", base.Add(time.Minute), 2)))
	require.NoError(t, s.Save(ctx, testReport("c", "latency", base.Add(2*time.Minute), 3)))

	tests := []struct {
		name     string
		exercise string
		limit    int
		want     []string
	}{
		{"all newest first", "", 0, []string{"c", "b", "a"}},
		{"filtered", "latency", 0, []string{"c", "a"}},
		{"limited", "", 2, []string{"c", "b"}},
		{"unknown exercise", "fio", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports, err := s.List(ctx, tt.exercise, tt.limit)
			require.NoError(t, err)

			var ids []string
			for _, r := range reports {
				ids = append(ids, r.RunID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestReportStore_ResaveMovesIndex(t *testing.T) {
	ctx := context.Background()
	s := NewReportStore(openTestDB(t), nil)

	base := time.Unix(1700000000, 0)
	require.NoError(t, s.Save(ctx, testReport("a", "latency", base, 1)))
	require.NoError(t, s.Save(ctx, testReport("b", "latency", base.Add(time.Minute), 2)))
	require.NoError(t, s.Save(ctx, testReport("a", "latency", base.Add(2*time.Minute), 5)))

	reports, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "a", reports[0].RunID)
	assert.Equal(t, 5.0, reports[0].Results["ints_pipe"]["ints"].Values["Sum"])
}

func TestReportStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewReportStore(openTestDB(t), nil)

	require.NoError(t, s.Save(ctx, testReport("a", "latency", time.Unix(1, 0), 1)))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

	reports, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestReportStore_CancelledContext(t *testing.T) {
	s := NewReportStore(openTestDB(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, testReport("a", "latency", time.Unix(1, 0), 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBaselineStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewBaselineStore(openTestDB(t), "x86_64", nil)
	assert.Equal(t, "x86_64", s.Environment())

	_, ok := s.Get("latency", "Avg")
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "latency", "Avg", criteria.NewBaselineWithTolerance(0.15, 0.05)))

	b, ok := s.Get("latency", "Avg")
	require.True(t, ok)
	target, _ := b.TargetValue()
	tolerance, _ := b.ToleranceValue()
	assert.Equal(t, 0.15, target)
	assert.Equal(t, 0.05, tolerance)

	other := NewBaselineStore(s.db, "aarch64", nil)
	_, ok = other.Get("latency", "Avg")
	assert.False(t, ok, "baselines are scoped by environment")
}

func TestBaselineStore_InvalidKey(t *testing.T) {
	s := NewBaselineStore(openTestDB(t), "x86_64", nil)

	tests := []struct {
		name        string
		measurement string
		statistic   string
	}{
		{"empty measurement", "", "Avg"},
		{"empty statistic", "latency", ""},
		{"slash", "lat/ency", "Avg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Set(context.Background(), tt.measurement, tt.statistic, criteria.NewBaseline(1))
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestBaselineStore_DeleteList(t *testing.T) {
	ctx := context.Background()
	s := NewBaselineStore(openTestDB(t), "x86_64", nil)

	require.NoError(t, s.Set(ctx, "latency", "Avg", criteria.NewBaseline(0.2)))
	require.NoError(t, s.Set(ctx, "latency", "P99", criteria.NewBaseline(0.5)))
	require.NoError(t, s.Set(ctx, "throughput", "throughput_total", criteria.NewBaseline(9000)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, all["latency"], 2)

	require.NoError(t, s.Delete(ctx, "latency", "P99"))
	assert.ErrorIs(t, s.Delete(ctx, "latency", "P99"), ErrNotFound)

	cfg, err := s.Config(ctx)
	require.NoError(t, err)
	assert.Contains(t, cfg["latency"]["x86_64"], "Avg")
	assert.NotContains(t, cfg["latency"]["x86_64"], "P99")
}

func TestBaselineStore_Promote(t *testing.T) {
	ctx := context.Background()
	s := NewBaselineStore(openTestDB(t), "x86_64", nil)

	require.NoError(t, s.Set(ctx, "ints", "Sum", criteria.NewBaselineWithTolerance(100, 10)))

	report := testReport("run-1", "randint", time.Unix(1, 0), 245)
	n, err := s.Promote(ctx, report, "ints_pipe")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, ok := s.Get("ints", "Sum")
	require.True(t, ok)
	target, _ := b.TargetValue()
	tolerance, ok := b.ToleranceValue()
	assert.Equal(t, 245.0, target)
	assert.True(t, ok, "existing tolerance is kept")
	assert.Equal(t, 10.0, tolerance)

	_, err = s.Promote(ctx, report, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Promote(ctx, nil, "")
	assert.ErrorIs(t, err, ErrNilReport)

	n, err = s.Promote(ctx, report, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
