// SPDX-License-Identifier: AGPL-3.0-or-later

/*
infraglue - infraglue is a Go-based multi-workspace infrastructure orchestration engine that drives Terraform and Pulumi across a monorepo of independently-managed workspaces.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const registryName = "orchestrator.Registry"

var (
	// ErrUnknownProvider is returned when Get is called with an
	// unregistered provider tag.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrDuplicateProvider is used when registering a provider tag
	// that is already registered.
	ErrDuplicateProvider = errors.New("duplicate provider")
	// ErrEmptyProviderName is used when registering a provider whose
	// ProviderName() is empty.
	ErrEmptyProviderName = errors.New("empty provider name")
)

// Registry manages Provider registration and lookup by tag
// ("terraform", "pulumi").
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register registers p under its ProviderName. Panics if the name is
// empty or already registered — provider wiring is a startup-time
// concern, not a runtime one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.ProviderName()
	if name == "" {
		panic(fmt.Sprintf("%s.Register: %v", registryName, ErrEmptyProviderName))
	}
	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("%s.Register: %v: %q", registryName, ErrDuplicateProvider, name))
	}
	r.providers[name] = p
}

// Get retrieves a provider by tag.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// IDs returns all registered provider tags, sorted for determinism.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all registered providers, ordered by tag.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].ProviderName() < providers[j].ProviderName()
	})
	return providers
}

// Detect returns the first registered provider (in sorted tag order)
// whose ExistsInFolder reports true for dir.
func (r *Registry) Detect(dir string) (Provider, error) {
	for _, p := range r.List() {
		ok, err := p.ExistsInFolder(dir)
		if err != nil {
			return nil, fmt.Errorf("detecting provider %q in %s: %w", p.ProviderName(), dir, err)
		}
		if ok {
			return p, nil
		}
	}
	return nil, nil
}
