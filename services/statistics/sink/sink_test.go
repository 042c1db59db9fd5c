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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/core"
)

func testReport() *core.Statistics {
	started := time.Unix(1700000000, 0).UTC()
	return &core.Statistics{
		RunID:           "run-1",
		Name:            "randint",
		Iterations:      10,
		Environment:     "x86_64",
		Labels:          map[string]string{"kernel": "6.1"},
		StartedAt:       started,
		FinishedAt:      started.Add(2 * time.Second),
		CriteriaChecked: true,
		Passed:          true,
		Results: map[string]consumer.Results{
			"ints_pipe": {
				"ints": {Unit: "none", Values: map[string]float64{"Sum": 245, "Avg": 24.5}},
			},
		},
	}
}

type recordingWriter struct {
	points []*write.Point
	err    error
}

func (w *recordingWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	w.points = append(w.points, points...)
	return w.err
}

type recordingUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, object string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[object] = data
	return nil
}

func TestInfluxSink_Points(t *testing.T) {
	w := &recordingWriter{}
	s := NewInfluxSinkWithWriter(w, "", nil)

	require.NoError(t, s.Write(context.Background(), testReport()))
	require.Len(t, w.points, 3)

	first := write.PointToLineProtocol(w.points[0], time.Second)
	assert.True(t, strings.HasPrefix(first, "statsharness,"), first)
	assert.Contains(t, first, "statistic=Avg")
	assert.Contains(t, first, "label_kernel=6.1")
	assert.Contains(t, first, "pipe=ints_pipe")
	assert.Contains(t, first, "value=24.5")

	assert.Contains(t, write.PointToLineProtocol(w.points[1], time.Second), "value=245")

	run := write.PointToLineProtocol(w.points[2], time.Second)
	assert.True(t, strings.HasPrefix(run, "statsharness_runs,"), run)
	assert.Contains(t, run, "passed=true")
	assert.Contains(t, run, "iterations=10i")
	assert.Contains(t, run, "duration_seconds=2")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(run), " 1700000000"), run)
}

func TestInfluxSink_WriteError(t *testing.T) {
	s := NewInfluxSinkWithWriter(&recordingWriter{err: errors.New("unauthorized")}, "bench", nil)

	err := s.Write(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-1")
	assert.ErrorIs(t, s.Write(context.Background(), nil), ErrNilReport)
}

func TestInfluxSink_Server(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, path = string(data), r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "o", Bucket: "b", Measurement: "bench"}, nil)
	defer s.Close()

	require.NoError(t, s.Write(context.Background(), testReport()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/api/v2/write", path)
	assert.Contains(t, body, "bench,")
	assert.Contains(t, body, "bench_runs,")
}

func TestDefaultInfluxConfig(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "")
	t.Setenv("INFLUXDB_ORG", "")
	t.Setenv("INFLUXDB_BUCKET", "perf")
	t.Setenv("INFLUXDB_TOKEN", "secret")

	cfg := DefaultInfluxConfig()
	assert.Equal(t, "http://localhost:8086", cfg.URL)
	assert.Equal(t, "statsharness", cfg.Org)
	assert.Equal(t, "perf", cfg.Bucket)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "statsharness", cfg.Measurement)
}

func TestGCSSink_Write(t *testing.T) {
	u := &recordingUploader{}
	s := NewGCSSinkWithUploader(u, "bucket", "reports", nil)

	report := testReport()
	require.NoError(t, s.Write(context.Background(), report))
	assert.Equal(t, "reports/randint/run-1.json", s.ObjectName(report))

	data, ok := u.objects["reports/randint/run-1.json"]
	require.True(t, ok)

	var decoded core.Statistics
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, 245.0, decoded.Results["ints_pipe"]["ints"].Values["Sum"])
	assert.NoError(t, s.Close())
}

func TestNewGCSSink_Errors(t *testing.T) {
	_, err := NewGCSSink(context.Background(), GCSConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoBucket)

	_, err = NewGCSSink(context.Background(), GCSConfig{
		Bucket:          "b",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key")
}

func TestMulti(t *testing.T) {
	boom := errors.New("upload failed")
	failing := NewGCSSinkWithUploader(&recordingUploader{err: boom}, "b", "", nil)
	w := &recordingWriter{}
	ok := NewInfluxSinkWithWriter(w, "", nil)

	m := Multi{failing, ok}
	err := m.Write(context.Background(), testReport())
	assert.ErrorIs(t, err, boom)
	assert.NotEmpty(t, w.points, "later sinks still receive the report")

	assert.ErrorIs(t, m.Write(context.Background(), nil), ErrNilReport)
	assert.NoError(t, m.Close())
}
