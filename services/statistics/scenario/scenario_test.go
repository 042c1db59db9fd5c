// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/statsharness/services/statistics/criteria"
	"github.com/AleutianAI/statsharness/services/statistics/metadata"
	"github.com/AleutianAI/statsharness/services/statistics/producer"
)

const numbersScenario = `
name: numbers
iterations: 3
check_criteria: true
environment: x86_64
labels:
  kernel: "6.1"
pipes:
  - tag: seq
    producer:
      type: host
      command: printf '1\n2\n3\n'
      timeout: 5s
    consumer:
      type: number
      measurement: ints
measurements:
  ints: none
statistics:
  ints:
    - {function: Sum, criteria: LowerThan}
    - {function: Max}
baselines:
  ints:
    x86_64:
      Sum: {target: 600}
`

const pingOutput = `PING 10.0.0.1 (10.0.0.1) 56(84) bytes of data.
64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=0.100 ms
64 bytes from 10.0.0.1: icmp_seq=2 ttl=64 time=0.200 ms

--- 10.0.0.1 ping statistics ---
2 packets transmitted, 2 received, 0% packet loss, time 1001ms
rtt min/avg/max/mdev = 0.100/0.150/0.200/0.050 ms
`

type fakeExecutor struct {
	out string
}

func (f fakeExecutor) Run(context.Context, string) (producer.ExecResult, error) {
	return producer.ExecResult{Stdout: f.out}, nil
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"string", `d: 1.5s`, 1500 * time.Millisecond, false},
		{"int seconds", `d: 2`, 2 * time.Second, false},
		{"float seconds", `d: 0.25`, 250 * time.Millisecond, false},
		{"empty", `d: ""`, 0, false},
		{"bad", `d: soon`, 0, true},
		{"not scalar", `d: [1]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.D.Duration())
		})
	}
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(numbersScenario))
	require.NoError(t, err)

	assert.Equal(t, "numbers", s.Name)
	assert.Equal(t, 3, s.Iterations)
	assert.True(t, s.CheckCriteria)
	assert.Equal(t, 5*time.Second, s.Pipes[0].Producer.Timeout.Duration())
	assert.Equal(t, "LowerThan", s.Statistics["ints"][0].Criteria)

	target, ok := s.Baselines["ints"]["x86_64"]["Sum"].TargetValue()
	require.True(t, ok)
	assert.Equal(t, 600.0, target)
}

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte(`
name: minimal
pipes:
  - producer: {type: host, command: echo 1}
    consumer: {type: number, measurement: x}
`))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Iterations)
	assert.Equal(t, metadata.DefaultEnvironment(), s.Environment)
	assert.False(t, s.HasMetadata())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"unknown key", "name: x\nbogus: 1\npipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"missing name", "pipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"zero iterations", "name: x\niterations: 0\npipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"no pipes", "name: x"},
		{"bad producer type", "name: x\npipes: [{producer: {type: docker, command: a}, consumer: {type: ping}}]"},
		{"bad consumer type", "name: x\npipes: [{producer: {type: host, command: a}, consumer: {type: fio}}]"},
		{"number without measurement", "name: x\npipes: [{producer: {type: host, command: a}, consumer: {type: number}}]"},
		{"ssh without connection", "name: x\npipes: [{producer: {type: ssh, command: a}, consumer: {type: ping}}]"},
		{"unknown connection", "name: x\npipes: [{producer: {type: ssh, connection: vm, command: a}, consumer: {type: ping}}]"},
		{"ssh without known hosts", "name: x\nssh: {vm: {host: h, key_file: k}}\npipes: [{producer: {type: ssh, connection: vm, command: a}, consumer: {type: ping}}]"},
		{"duplicate tag", "name: x\npipes: [{tag: a, producer: {type: host, command: a}, consumer: {type: ping}}, {tag: a, producer: {type: host, command: b}, consumer: {type: ping}}]"},
		{"statistic without function", "name: x\nmeasurements: {m: ms}\nstatistics: {m: [{criteria: LowerThan}]}\npipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"tag with slash", "name: x\npipes: [{tag: a/b, producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"measurement with space", "name: x\nmeasurements: {rtt avg: ms}\npipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"measurement no pipe records", "name: x\nmeasurements: {m: ms}\nstatistics: {m: [{function: Sum}]}\npipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
		{"undeclared measurement", "name: x\nmeasurements: {m: ms}\nstatistics: {n: [{function: Sum}]}\npipes: [{producer: {type: host, command: a}, consumer: {type: ping}}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(numbersScenario), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "numbers", s.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuild_RunsHostPipe(t *testing.T) {
	s, err := Parse([]byte(numbersScenario))
	require.NoError(t, err)

	ex, err := s.Build()
	require.NoError(t, err)
	defer ex.Close()
	assert.Equal(t, []string{"seq"}, ex.Tags)

	stats, err := ex.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Passed)
	assert.Equal(t, "x86_64", stats.Environment)
	assert.Equal(t, "6.1", stats.Labels["kernel"])

	ints := stats.Results["seq"]["ints"]
	assert.Equal(t, "none", ints.Unit)
	assert.Equal(t, 18.0, ints.Values["Sum"])
	assert.Equal(t, 3.0, ints.Values["Max"])
}

func TestBuild_BaselineOverride(t *testing.T) {
	s, err := Parse([]byte(numbersScenario))
	require.NoError(t, err)

	low := metadata.NewDictBaselineProvider(metadata.BaselinesConfig{
		"ints": {"x86_64": {"Sum": criteria.NewBaseline(10)}},
	}, "x86_64")

	ex, err := s.Build(WithBaselineProvider(low))
	require.NoError(t, err)
	defer ex.Close()

	_, err = ex.Run(context.Background())
	var failed *criteria.Failed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 18.0, failed.Actual)
}

func TestBuild_SSHPingWithExecutor(t *testing.T) {
	s, err := Parse([]byte(`
name: latency
iterations: 2
environment: x86_64
ssh:
  guest: {host: 10.0.0.2, key_file: /nonexistent, insecure_ignore_host_key: true}
pipes:
  - tag: g2h
    producer: {type: ssh, connection: guest, command: ping -c 2 10.0.0.1, interval: 1ms}
    consumer: {type: ping}
`))
	require.NoError(t, err)

	ex, err := s.Build(WithExecutor("guest", fakeExecutor{out: pingOutput}))
	require.NoError(t, err)
	defer ex.Close()

	stats, err := ex.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.CriteriaChecked)

	latency := stats.Results["g2h"]["latency"]
	assert.Equal(t, "millisecond", latency.Unit)
	assert.InDelta(t, 0.1, latency.Values["Min"], 1e-9)
	assert.InDelta(t, 0.2, latency.Values["Max"], 1e-9)
	assert.Contains(t, stats.Custom, "g2h")
}

func TestBuild_SSHKeyMissing(t *testing.T) {
	s, err := Parse([]byte(`
name: latency
ssh:
  guest: {host: 10.0.0.2, key_file: /nonexistent/key, insecure_ignore_host_key: true}
pipes:
  - producer: {type: ssh, connection: guest, command: uptime}
    consumer: {type: number, measurement: x}
`))
	require.NoError(t, err)

	_, err = s.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ssh connection "guest"`)
}

func TestBuild_MetadataError(t *testing.T) {
	s, err := Parse([]byte(`
name: x
measurements: {m: ms}
statistics: {m: [{function: Median}]}
pipes: [{producer: {type: host, command: echo 1}, consumer: {type: number, measurement: m}}]
`))
	require.NoError(t, err)

	_, err = s.Build()
	assert.ErrorIs(t, err, metadata.ErrUnknownFunction)
}

func TestConsumerSpec_Records(t *testing.T) {
	assert.Equal(t, []string{"ints"}, ConsumerSpec{Type: ConsumerNumber, Measurement: "ints"}.Records())
	assert.Equal(t, []string{"latency", "pkt_loss"}, ConsumerSpec{Type: ConsumerPing}.Records())
	assert.Equal(t, []string{"cpu_utilization_vmm", "cpu_utilization_vcpus_total"}, ConsumerSpec{Type: ConsumerThreads}.Records())
	assert.Contains(t, ConsumerSpec{Type: ConsumerIperf3}.Records(), "throughput")
}

func TestBuild_ScopesMetadataPerPipe(t *testing.T) {
	s, err := Parse([]byte(`
name: mixed
iterations: 2
check_criteria: true
environment: x86_64
ssh:
  guest: {host: 10.0.0.2, key_file: /nonexistent, insecure_ignore_host_key: true}
pipes:
  - tag: seq
    producer: {type: host, command: "printf '1\\n2\\n'"}
    consumer: {type: number, measurement: ints}
  - tag: cpu
    producer: {type: host, command: "printf 'firecracker 2.0\\nfc_vcpu 0 50.0\\n'"}
    consumer: {type: threads}
  - tag: g2h
    producer: {type: ssh, connection: guest, command: ping -c 2 10.0.0.1}
    consumer: {type: ping}
measurements:
  ints: none
  cpu_utilization_vmm: percentage
  latency: millisecond
statistics:
  ints:
    - {function: Sum}
  cpu_utilization_vmm:
    - {function: Max, criteria: LowerThan}
  latency:
    - {function: Avg, criteria: EqualWith}
baselines:
  cpu_utilization_vmm:
    x86_64:
      Max: {target: 5}
  latency:
    x86_64:
      Avg: {target: 0.15, delta: 0.01}
`))
	require.NoError(t, err)

	ex, err := s.Build(WithExecutor("guest", fakeExecutor{out: pingOutput}))
	require.NoError(t, err)
	defer ex.Close()

	stats, err := ex.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Passed)

	assert.Equal(t, []string{"ints"}, sortedKeys(stats.Results["seq"]))
	assert.Equal(t, 6.0, stats.Results["seq"]["ints"].Values["Sum"])

	assert.Equal(t, []string{"cpu_utilization_vcpus_total", "cpu_utilization_vmm"}, sortedKeys(stats.Results["cpu"]))
	assert.Equal(t, 2.0, stats.Results["cpu"]["cpu_utilization_vmm"].Values["Max"])
	assert.Equal(t, 50.0, stats.Results["cpu"]["cpu_utilization_vcpus_total"].Values["Avg"])

	assert.Equal(t, []string{"latency", "pkt_loss"}, sortedKeys(stats.Results["g2h"]))
	assert.InDelta(t, 0.15, stats.Results["g2h"]["latency"].Values["Avg"], 1e-9)
}
