package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned by [Registry.Create] when no constructor
// has been registered under the requested provider name.
var ErrNotRegistered = errors.New("provider: not registered")

// Constructor builds an adapter from per-endpoint settings.
type Constructor func(Settings) (Adapter, error)

// Registry maps provider names to adapter constructors. Endpoints select
// their adapter variant by name through [Registry.Create]. It is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register registers an adapter constructor under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Create instantiates an adapter using the constructor registered under
// s.Provider. Returns [ErrNotRegistered] if no constructor has been
// registered for that name.
func (r *Registry) Create(s Settings) (Adapter, error) {
	r.mu.RLock()
	c, ok := r.constructors[s.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrNotRegistered, s.Provider, r.Names())
	}
	return c(s)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
