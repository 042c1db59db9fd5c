// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package criteria

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownCriteria indicates no factory is registered under a key.
	ErrUnknownCriteria = errors.New("unknown comparison criteria")

	// ErrAlreadyRegistered indicates a key is already taken.
	ErrAlreadyRegistered = errors.New("criteria already registered")

	// ErrNilFactory indicates a nil factory was passed to Register.
	ErrNilFactory = errors.New("criteria factory must not be nil")
)

// Factory builds a Criteria around a baseline.
type Factory func(baseline Baseline) Criteria

// Registry maps configuration keys to criteria factories.
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

// NewBuiltinRegistry creates a registry holding GreaterThan, LowerThan and
// EqualWith.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(NameGreaterThan, func(b Baseline) Criteria { return NewGreaterThan(b) })
	r.MustRegister(NameLowerThan, func(b Baseline) Criteria { return NewLowerThan(b) })
	r.MustRegister(NameEqualWith, func(b Baseline) Criteria { return NewEqualWith(b) })
	return r
}

// Register adds a factory under key.
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
func (r *Registry) MustRegister(key string, factory Factory) {
	if err := r.Register(key, factory); err != nil {
		panic(fmt.Sprintf("criteria: failed to register %s: %v", key, err))
	}
}

// Get returns the factory registered under key.
func (r *Registry) Get(key string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[key]
	return factory, ok
}

// New builds the criteria registered under key with the given baseline.
//
// Outputs:
//   - Criteria: The comparison.
//   - error: ErrUnknownCriteria if key is not registered.
func (r *Registry) New(key string, baseline Baseline) (Criteria, error) {
	factory, ok := r.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCriteria, key)
	}
	return factory(baseline), nil
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

// DefaultRegistry holds the built-in criteria.
var DefaultRegistry = NewBuiltinRegistry()

// Register adds a factory to the DefaultRegistry.
func Register(key string, factory Factory) error {
	return DefaultRegistry.Register(key, factory)
}

// Get looks up a factory in the DefaultRegistry.
func Get(key string) (Factory, bool) {
	return DefaultRegistry.Get(key)
}

// New builds a criteria from the DefaultRegistry.
func New(key string, baseline Baseline) (Criteria, error) {
	return DefaultRegistry.New(key, baseline)
}

// List returns the DefaultRegistry keys.
func List() []string {
	return DefaultRegistry.List()
}
