// SPDX-License-Identifier: MIT

package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownBackend marks lookups for a backend id that was never
// registered. Callers treat it as a client error.
var ErrUnknownBackend = errors.New("unknown backend")

// Registry holds the configured backends by id. Reloads swap whole
// registries, so lookups stay consistent within one request.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Generator)}
}

func (r *Registry) Register(gen Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := gen.Name()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}
	r.backends[name] = gen
	return nil
}

func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return gen, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
