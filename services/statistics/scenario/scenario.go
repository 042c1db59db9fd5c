// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario loads exercise definitions from YAML.
//
// A scenario names the exercise, its pipes and the statistics metadata:
//
//	name: network_latency
//	iterations: 5
//	check_criteria: true
//	ssh:
//	  guest:
//	    host: 192.168.0.2
//	    key_file: /srv/keys/id_rsa
//	    insecure_ignore_host_key: true
//	pipes:
//	  - tag: guest_to_host
//	    producer: {type: ssh, connection: guest, command: "ping -c 20 -i 0.2 192.168.0.1"}
//	    consumer: {type: ping}
//	measurements:
//	  latency: millisecond
//	statistics:
//	  latency:
//	    - {function: Avg, criteria: EqualWith}
//	baselines:
//	  latency:
//	    x86_64:
//	      Avg: {target: 0.15, delta: 0.05}
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/statsharness/pkg/validation"
	"github.com/AleutianAI/statsharness/services/statistics/consumer"
	"github.com/AleutianAI/statsharness/services/statistics/metadata"
	"github.com/AleutianAI/statsharness/services/statistics/types"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidScenario indicates a scenario that fails validation.
	ErrInvalidScenario = errors.New("invalid scenario")
)

// Producer and consumer types.
const (
	ProducerHost = "host"
	ProducerSSH  = "ssh"

	ConsumerPing    = "ping"
	ConsumerIperf3  = "iperf3"
	ConsumerNumber  = "number"
	ConsumerThreads = "threads"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration that decodes from a Go duration string
// ("1.5s") or a number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// SSHTarget describes a remote machine producers can run commands on.
type SSHTarget struct {
	Host                  string   `yaml:"host" validate:"required"`
	User                  string   `yaml:"user"`
	KeyFile               string   `yaml:"key_file" validate:"required"`
	KnownHostsFile        string   `yaml:"known_hosts_file" validate:"required_without=InsecureIgnoreHostKey"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key"`
	DialTimeout           Duration `yaml:"dial_timeout"`
	DialAttempts          uint     `yaml:"dial_attempts"`
}

// ProducerSpec configures the producer of a pipe.
type ProducerSpec struct {
	Type       string            `yaml:"type" validate:"required,oneof=host ssh"`
	Command    string            `yaml:"command" validate:"required"`
	Connection string            `yaml:"connection" validate:"required_if=Type ssh"`
	Dir        string            `yaml:"dir"`
	Env        map[string]string `yaml:"env"`
	Timeout    Duration          `yaml:"timeout"`

	// Interval spaces consecutive iterations. Zero runs them back to back.
	Interval Duration `yaml:"interval"`
}

// ConsumerSpec configures the consumer of a pipe.
type ConsumerSpec struct {
	Type string `yaml:"type" validate:"required,oneof=ping iperf3 number threads"`

	// Measurement receives the samples of a number consumer.
	Measurement string `yaml:"measurement" validate:"required_if=Type number"`

	// VMMThread and VCPUPrefix select the threads of a threads consumer.
	// Empty values select the Firecracker thread names.
	VMMThread  string `yaml:"vmm_thread"`
	VCPUPrefix string `yaml:"vcpu_prefix"`
}

// Records returns the names of the measurements the consumer records.
func (c ConsumerSpec) Records() []string {
	var defs []types.MeasurementDef
	switch c.Type {
	case ConsumerPing:
		defs = consumer.PingMeasurementDefs()
	case ConsumerIperf3:
		defs = consumer.Iperf3MeasurementDefs()
	case ConsumerThreads:
		defs = consumer.ThreadCPUMeasurementDefs()
	default:
		return []string{c.Measurement}
	}
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return names
}

// PipeSpec configures one pipe.
type PipeSpec struct {
	Tag      string       `yaml:"tag"`
	Producer ProducerSpec `yaml:"producer"`
	Consumer ConsumerSpec `yaml:"consumer"`
}

// Scenario is a complete exercise definition.
type Scenario struct {
	Name          string            `yaml:"name" validate:"required"`
	Iterations    int               `yaml:"iterations" validate:"gte=1"`
	CheckCriteria bool              `yaml:"check_criteria"`
	Parallel      bool              `yaml:"parallel"`
	Environment   string            `yaml:"environment"`
	Labels        map[string]string `yaml:"labels"`

	SSH   map[string]SSHTarget `yaml:"ssh" validate:"dive"`
	Pipes []PipeSpec           `yaml:"pipes" validate:"required,min=1,dive"`

	Measurements metadata.MeasurementsConfig `yaml:"measurements"`
	Statistics   metadata.StatisticsConfig   `yaml:"statistics" validate:"dive,dive"`
	Baselines    metadata.BaselinesConfig    `yaml:"baselines"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario. Unknown keys are rejected.
//
// Defaults: iterations 1, environment metadata.DefaultEnvironment().
func Parse(data []byte) (*Scenario, error) {
	s := &Scenario{Iterations: 1}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidScenario)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if s.Environment == "" {
		s.Environment = metadata.DefaultEnvironment()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks struct tags and cross references.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.validateNames(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	tags := make(map[string]bool, len(s.Pipes))
	for i, p := range s.Pipes {
		if p.Tag != "" {
			if tags[p.Tag] {
				return fmt.Errorf("%w: pipes[%d]: duplicate tag %q", ErrInvalidScenario, i, p.Tag)
			}
			tags[p.Tag] = true
		}
		if p.Producer.Type == ProducerSSH {
			if _, ok := s.SSH[p.Producer.Connection]; !ok {
				return fmt.Errorf("%w: pipes[%d]: unknown ssh connection %q", ErrInvalidScenario, i, p.Producer.Connection)
			}
		}
	}

	for ms := range s.Statistics {
		if _, ok := s.Measurements[ms]; !ok {
			return fmt.Errorf("%w: statistics for undeclared measurement %q", ErrInvalidScenario, ms)
		}
	}

	recorded := make(map[string]bool)
	for _, p := range s.Pipes {
		for _, ms := range p.Consumer.Records() {
			recorded[ms] = true
		}
	}
	for _, ms := range sortedKeys(s.Measurements) {
		if !recorded[ms] {
			return fmt.Errorf("%w: measurement %q is not recorded by any pipe", ErrInvalidScenario, ms)
		}
	}
	return nil
}

// validateNames checks every name that ends up in a storage key.
func (s *Scenario) validateNames() error {
	if err := validation.ValidateName("exercise", s.Name); err != nil {
		return err
	}
	if err := validation.ValidateName("environment", s.Environment); err != nil {
		return err
	}

	var tags []string
	for _, p := range s.Pipes {
		if p.Tag != "" {
			tags = append(tags, p.Tag)
		}
	}
	if err := validation.ValidateNames("pipe tag", tags); err != nil {
		return err
	}

	measurements := sortedKeys(s.Measurements)
	if err := validation.ValidateNames("measurement", measurements); err != nil {
		return err
	}

	for _, ms := range measurements {
		for i, st := range s.Statistics[ms] {
			if st.Name == "" {
				continue
			}
			if err := validation.ValidateName("statistic", st.Name); err != nil {
				return fmt.Errorf("statistics.%s[%d]: %w", ms, i, err)
			}
		}
	}
	return nil
}

// HasMetadata reports whether the scenario declares measurements.
func (s *Scenario) HasMetadata() bool {
	return len(s.Measurements) > 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
