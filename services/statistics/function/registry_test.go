// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package function

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefaultRegistry_Builtins(t *testing.T) {
	want := []string{
		"Avg", "Max", "Min", "Percentile50", "Percentile90", "Percentile99",
		"Stddev", "Sum", "ValuePlaceholder",
	}
	if got := List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRegistry_New(t *testing.T) {
	tests := []struct {
		key      string
		name     string
		wantName string
	}{
		{"Sum", "", "Sum"},
		{"Percentile50", "", "P50"},
		{"Percentile90", "", "P90"},
		{"Percentile99", "latency_p99", "latency_p99"},
		{"ValuePlaceholder", "", "value"},
		{"ValuePlaceholder", "throughput_total", "throughput_total"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"/"+tt.wantName, func(t *testing.T) {
			fn, err := New(tt.key, tt.name)
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.key, err)
			}
			if fn.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", fn.Name(), tt.wantName)
			}
		})
	}
}

func TestRegistry_PercentileRank(t *testing.T) {
	fn, err := New("Percentile90", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p, ok := fn.(*Percentile)
	if !ok {
		t.Fatalf("New(Percentile90) returned %T, want *Percentile", fn)
	}
	if p.K() != 90 {
		t.Errorf("K() = %v, want 90", p.K())
	}
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := New("Median", "")
	if !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("New(Median) error = %v, want ErrUnknownFunction", err)
	}
	if _, ok := Get("Median"); ok {
		t.Error("Get(Median) found a factory")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("Sum", nil); !errors.Is(err, ErrNilFactory) {
		t.Errorf("Register(nil) error = %v, want ErrNilFactory", err)
	}

	factory := func(name string) Function { return NewSum(name) }
	if err := r.Register("Total", factory); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("Total", factory); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second Register() error = %v, want ErrAlreadyRegistered", err)
	}

	fn, err := r.New("Total", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if fn.Name() != "Sum" {
		t.Errorf("Name() = %q, want Sum", fn.Name())
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewBuiltinRegistry()
	defer func() {
		if recover() == nil {
			t.Error("MustRegister on duplicate key did not panic")
		}
	}()
	r.MustRegister("Sum", func(name string) Function { return NewSum(name) })
}
