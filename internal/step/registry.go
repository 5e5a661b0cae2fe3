package step

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maintains known step providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Builtins returns a registry preloaded with the builtin providers.
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister(RunProvider{})
	r.MustRegister(CheckoutProvider{})
	r.MustRegister(SetupRuntimeProvider{})
	r.MustRegister(SecretFileProvider{})
	return r
}

// Register installs a provider. Returns an error if the ID already exists.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("step: provider is required")
	}
	id := p.ID()
	if id == "" {
		return fmt.Errorf("step: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("step: provider %s already registered", id)
	}
	r.providers[id] = p
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(p Provider) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Resolve looks up a provider by ID.
func (r *Registry) Resolve(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("step: unknown provider %s", id)
	}
	return p, nil
}

// IDs returns a sorted list of registered provider identifiers.
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
