// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package core

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/function"
	"github.com/AleutianAI/statsharness/services/statistics/producer"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// recordingConsumer counts calls and returns a fixed process error.
type recordingConsumer struct {
	mu         sync.Mutex
	ingested   []any
	processed  int
	processErr error
	ingestErr  error
	results    consumer.Results
	custom     consumer.Custom
}

func (r *recordingConsumer) Ingest(_ int, raw any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ingestErr != nil {
		return r.ingestErr
	}
	r.ingested = append(r.ingested, raw)
	return nil
}

func (r *recordingConsumer) Process(bool) (consumer.Results, consumer.Custom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	if r.processErr != nil {
		return nil, nil, r.processErr
	}
	return r.results, r.custom, nil
}

func constProducer(v any) producer.Producer {
	return producer.ProducerFunc(func(context.Context) (any, error) { return v, nil })
}

func sumConsumer(ms string, pass criteria.Criteria) *consumer.FuncConsumer {
	return consumer.NewFuncConsumer(consumer.NumberIngest(ms),
		consumer.WithMeasurementDefs(types.NewMeasurementDef(ms, "none")),
		consumer.WithStatisticDefs(types.NewStatisticDef(ms, function.NewSum(""), pass)),
	)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		exercise   string
		iterations int
		wantErr    error
	}{
		{"valid", "latency", 1, nil},
		{"empty name", "", 1, ErrEmptyName},
		{"zero iterations", "latency", 0, ErrInvalidIterations},
		{"negative iterations", "latency", -3, ErrInvalidIterations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.exercise, tt.iterations)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exercise, c.Name())
			assert.Equal(t, tt.iterations, c.Iterations())
		})
	}
}

func TestAddPipe_DefaultTagsAreDistinct(t *testing.T) {
	now := time.Unix(1700000000, 123456000)
	c, err := New("net", 1, WithClock(fixedClock(now)))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tag := c.AddPipe(constProducer(1), sumConsumer("x", nil), "")
		assert.False(t, seen[tag], "duplicate default tag %q", tag)
		seen[tag] = true
	}

	pipes := c.Pipes()
	require.Len(t, pipes, 50)
	assert.Equal(t, "net_1700000000.123456", pipes[0].Tag)
	assert.Equal(t, "net_1700000000.123457", pipes[1].Tag)
}

func TestAddPipe_DuplicateTagReplaces(t *testing.T) {
	c, err := New("net", 1)
	require.NoError(t, err)

	first := &recordingConsumer{}
	second := &recordingConsumer{}
	c.AddPipe(constProducer(1), first, "a")
	c.AddPipe(constProducer(2), &recordingConsumer{}, "b")
	c.AddPipe(constProducer(3), second, "a")

	pipes := c.Pipes()
	require.Len(t, pipes, 2)
	assert.Equal(t, "a", pipes[0].Tag)
	assert.Same(t, second, pipes[0].Consumer)
	assert.Equal(t, "b", pipes[1].Tag)
}

func TestRunExercise_NoPipes(t *testing.T) {
	c, err := New("empty", 1)
	require.NoError(t, err)

	_, err = c.RunExercise(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoPipes)
}

func TestRunExercise_NilPipe(t *testing.T) {
	c, err := New("nil", 1)
	require.NoError(t, err)
	c.AddPipe(nil, &recordingConsumer{}, "broken")

	_, err = c.RunExercise(context.Background(), false)
	assert.ErrorIs(t, err, ErrNilPipe)
}

// Mirrors a random integer generator summed over ten iterations.
func TestRunExercise_RandomIntegers(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	randint := producer.NewFunc(func(context.Context) (any, error) {
		return rng.IntN(50), nil
	})

	c, err := New("randint", 10)
	require.NoError(t, err)
	c.AddPipe(randint, sumConsumer("ints", criteria.NewLowerThan(criteria.NewBaseline(600))), "ints_pipe")

	stats, err := c.RunExercise(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, stats.Passed)
	assert.False(t, stats.CriteriaChecked)
	assert.NotEmpty(t, stats.RunID)

	res, ok := stats.Results["ints_pipe"]
	require.True(t, ok)
	ints, ok := res["ints"]
	require.True(t, ok)
	assert.Equal(t, "none", ints.Unit)
	assert.Less(t, ints.Values["Sum"], 500.0)
	assert.Empty(t, stats.Custom)

	body, err := json.Marshal(stats.Results)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"ints_pipe":{"ints":{"Sum":`)
	assert.Contains(t, string(body), `"_unit":"none"`)
}

func TestRunExercise_CriteriaFailure(t *testing.T) {
	c, err := New("randint", 10)
	require.NoError(t, err)
	c.AddPipe(constProducer(100), sumConsumer("ints", criteria.NewLowerThan(criteria.NewBaseline(600))), "ints_pipe")

	stats, err := c.RunExercise(context.Background(), true)
	require.Error(t, err)

	var pipeErr *PipeError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, "ints_pipe", pipeErr.Tag)
	assert.Equal(t, PhaseProcess, pipeErr.Phase)

	var failed *criteria.Failed
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Msg, "LowerThan")
	assert.Equal(t, 1000.0, failed.Actual)

	require.NotNil(t, stats)
	assert.False(t, stats.Passed)
	assert.True(t, stats.CriteriaChecked)
}

func TestRunExercise_Passes(t *testing.T) {
	c, err := New("randint", 10, WithEnvironment("x86_64"), WithLabels(map[string]string{"kernel": "6.1"}))
	require.NoError(t, err)
	c.AddPipe(constProducer(10), sumConsumer("ints", criteria.NewLowerThan(criteria.NewBaseline(600))), "ints_pipe")

	stats, err := c.RunExercise(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, stats.Passed)
	assert.Equal(t, 100.0, stats.Results["ints_pipe"]["ints"].Values["Sum"])
	assert.Equal(t, "x86_64", stats.Environment)
	assert.Equal(t, map[string]string{"kernel": "6.1"}, stats.Labels)
	assert.False(t, stats.FinishedAt.Before(stats.StartedAt))
}

func TestRunExercise_AbortsOnFirstProcessFailure(t *testing.T) {
	c, err := New("abort", 2)
	require.NoError(t, err)

	boom := errors.New("boom")
	first := &recordingConsumer{processErr: boom}
	second := &recordingConsumer{}
	c.AddPipe(constProducer("a"), first, "first")
	c.AddPipe(constProducer("b"), second, "second")

	_, err = c.RunExercise(context.Background(), true)
	require.ErrorIs(t, err, boom)

	var pipeErr *PipeError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, "first", pipeErr.Tag)
	assert.Equal(t, -1, pipeErr.Iteration)
	assert.True(t, strings.HasPrefix(err.Error(), `pipe "first"`))

	assert.Equal(t, 1, first.processed)
	assert.Equal(t, 0, second.processed, "second pipe must not be processed")
	assert.Len(t, second.ingested, 2, "ingestion completes before processing")
}

func TestRunExercise_ProduceFailure(t *testing.T) {
	c, err := New("produce", 5)
	require.NoError(t, err)

	var calls atomic.Int32
	failing := producer.ProducerFunc(func(context.Context) (any, error) {
		if calls.Add(1) == 3 {
			return nil, errors.New("exit 1")
		}
		return 1, nil
	})
	later := &recordingConsumer{}
	c.AddPipe(failing, &recordingConsumer{}, "flaky")
	c.AddPipe(constProducer(1), later, "later")

	stats, err := c.RunExercise(context.Background(), false)
	assert.Nil(t, stats)

	var pipeErr *PipeError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, "flaky", pipeErr.Tag)
	assert.Equal(t, PhaseProduce, pipeErr.Phase)
	assert.Equal(t, 2, pipeErr.Iteration)
	assert.Empty(t, later.ingested)
}

func TestRunExercise_IngestFailure(t *testing.T) {
	c, err := New("ingest", 3)
	require.NoError(t, err)
	c.AddPipe(constProducer(struct{}{}), sumConsumer("x", nil), "bad")

	_, err = c.RunExercise(context.Background(), false)

	var pipeErr *PipeError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, PhaseIngest, pipeErr.Phase)
	assert.Equal(t, 0, pipeErr.Iteration)
	assert.ErrorIs(t, err, consumer.ErrUnsupportedRawData)
}

func TestRunExercise_Cancelled(t *testing.T) {
	c, err := New("cancel", 3)
	require.NoError(t, err)
	c.AddPipe(constProducer(1), sumConsumer("x", nil), "p")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.RunExercise(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunExercise_CustomOnlyWhenPresent(t *testing.T) {
	c, err := New("custom", 1)
	require.NoError(t, err)
	c.AddPipe(constProducer(1), &recordingConsumer{
		results: consumer.Results{},
		custom:  consumer.Custom{0: {"transmitted": 4}},
	}, "with")
	c.AddPipe(constProducer(1), &recordingConsumer{results: consumer.Results{}}, "without")

	stats, err := c.RunExercise(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, stats.Custom, "with")
	assert.NotContains(t, stats.Custom, "without")
	assert.Contains(t, stats.Results, "without")
}

func TestRunExercise_ParallelIngestion(t *testing.T) {
	c, err := New("parallel", 4, WithParallelIngestion())
	require.NoError(t, err)

	var inFlight, peak atomic.Int32
	slow := func(v int) producer.Producer {
		return producer.ProducerFunc(func(context.Context) (any, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return v, nil
		})
	}
	c.AddPipe(slow(1), sumConsumer("x", nil), "one")
	c.AddPipe(slow(2), sumConsumer("x", nil), "two")

	stats, err := c.RunExercise(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 4.0, stats.Results["one"]["x"].Values["Sum"])
	assert.Equal(t, 8.0, stats.Results["two"]["x"].Values["Sum"])
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunExercise_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	c, err := New("metrics", 3, WithMeter(mp.Meter("test")))
	require.NoError(t, err)
	c.AddPipe(constProducer(1), sumConsumer("x", nil), "p")

	_, err = c.RunExercise(context.Background(), false)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var iterations int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "statsharness_iterations_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				iterations += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), iterations)
}
