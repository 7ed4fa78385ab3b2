package flow

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages registered treatments. Treatments are registered once at
// startup; lookups happen per flow step.
type Registry struct {
	mu         sync.RWMutex
	treatments map[string]Treatment
}

// NewRegistry creates an empty treatment registry.
func NewRegistry() *Registry {
	return &Registry{treatments: make(map[string]Treatment)}
}

// Register adds a treatment to the registry.
func (r *Registry) Register(t Treatment) error {
	if t == nil {
		return fmt.Errorf("cannot register nil treatment")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("treatment name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.treatments[name]; exists {
		return fmt.Errorf("treatment %q already registered", name)
	}
	r.treatments[name] = t
	return nil
}

// Get retrieves a treatment by name.
func (r *Registry) Get(name string) (Treatment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.treatments[name]
	if !exists {
		return nil, fmt.Errorf("treatment %q not found (available: %v)", name, r.names())
	}
	return t, nil
}

// Has checks if a treatment is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.treatments[name]
	return exists
}

// Names returns registered treatment names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.treatments))
	for n := range r.treatments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
