package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory produces a fresh plugin instance of one kind.
type Factory func() Plugin

// Registry maps plugin kind identifiers to factories. Workspaces refer to
// plugins by kind; the engine instantiates through the registry so the
// core never depends on a concrete plugin (or vendor) package.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a kind. Registering a kind twice is an
// error: kind identifiers are the stable contract workspaces persist.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" {
		return fmt.Errorf("register: empty kind")
	}
	if f == nil {
		return fmt.Errorf("register %q: nil factory", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("register %q: kind already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register that panics, for init-time wiring of builtins.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// New instantiates a plugin of the given kind.
func (r *Registry) New(kind string) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown plugin kind %q", kind)
	}
	return f(), nil
}

// Kinds returns the registered kind identifiers, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether a kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}
