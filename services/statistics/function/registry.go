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
	"fmt"
	"sort"
	"sync"
)

// -----------------------------------------------------------------------------
// Registry Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownFunction indicates no factory is registered under a key.
	ErrUnknownFunction = errors.New("unknown statistic function")

	// ErrAlreadyRegistered indicates a key is already taken.
	ErrAlreadyRegistered = errors.New("function already registered")

	// ErrNilFactory indicates a nil factory was passed to Register.
	ErrNilFactory = errors.New("function factory must not be nil")
)

// Factory builds a Function. An empty name selects the function's default.
type Factory func(name string) Function

// Registry maps configuration keys to function factories.
//
// Description:
//
//	Configuration files refer to functions by key ("Sum", "Percentile99").
//	The registry resolves those keys at provider construction time so that
//	an unknown key surfaces as a configuration error.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewBuiltinRegistry creates a registry holding the built-in functions.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// Register adds a factory under key.
//
// Outputs:
//   - error: ErrNilFactory if factory is nil, ErrAlreadyRegistered if the
//     key is taken.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(key string, factory Factory) error {
	if factory == nil {
		return ErrNilFactory
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	r.factories[key] = factory
	return nil
}

// MustRegister registers a factory and panics on error.
//
// Only for use during initialization.
func (r *Registry) MustRegister(key string, factory Factory) {
	if err := r.Register(key, factory); err != nil {
		panic(fmt.Sprintf("function: failed to register %s: %v", key, err))
	}
}

// Get returns the factory registered under key.
func (r *Registry) Get(key string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[key]
	return factory, ok
}

// New builds the function registered under key.
//
// Inputs:
//   - key: Registry key, e.g. "Avg".
//   - name: Optional statistic name override.
//
// Outputs:
//   - Function: The built function.
//   - error: ErrUnknownFunction if key is not registered.
func (r *Registry) New(key, name string) (Function, error) {
	factory, ok := r.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, key)
	}
	return factory(name), nil
}

// List returns all registered keys in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func mustPercentile(k float64) Factory {
	return func(name string) Function {
		p, err := NewPercentile(k, name)
		if err != nil {
			panic(err)
		}
		return p
	}
}

func registerBuiltins(r *Registry) {
	r.MustRegister("Sum", func(name string) Function { return NewSum(name) })
	r.MustRegister("Min", func(name string) Function { return NewMin(name) })
	r.MustRegister("Max", func(name string) Function { return NewMax(name) })
	r.MustRegister("Avg", func(name string) Function { return NewAvg(name) })
	r.MustRegister("Stddev", func(name string) Function { return NewStddev(name) })
	r.MustRegister("Percentile50", percentileFactory(50, NameP50))
	r.MustRegister("Percentile90", percentileFactory(90, NameP90))
	r.MustRegister("Percentile99", percentileFactory(99, NameP99))
	r.MustRegister("ValuePlaceholder", func(name string) Function { return NewValuePlaceholder(name) })
}

func percentileFactory(k float64, defaultName string) Factory {
	build := mustPercentile(k)
	return func(name string) Function {
		return build(nameOr(name, defaultName))
	}
}

// -----------------------------------------------------------------------------
// Default Registry
// -----------------------------------------------------------------------------

// DefaultRegistry holds the built-in functions.
var DefaultRegistry = NewBuiltinRegistry()

// Register adds a factory to the DefaultRegistry.
func Register(key string, factory Factory) error {
	return DefaultRegistry.Register(key, factory)
}

// Get looks up a factory in the DefaultRegistry.
func Get(key string) (Factory, bool) {
	return DefaultRegistry.Get(key)
}

// New builds a function from the DefaultRegistry.
func New(key, name string) (Function, error) {
	return DefaultRegistry.New(key, name)
}

// List returns the DefaultRegistry keys.
func List() []string {
	return DefaultRegistry.List()
}
