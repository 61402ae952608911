package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the registered strategy instances. A strategy name may
// own several instances, one per traded market. It is safe for concurrent
// use.
type Registry struct {
	strategies map[string][]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string][]Strategy),
	}
}

// Register adds a strategy instance under its name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = append(r.strategies[s.Name()], s)
}

// Get retrieves the instances registered under a name. It returns an error
// when the name is not registered.
func (r *Registry) Get(name string) ([]Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ss, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	out := make([]Strategy, len(ss))
	copy(out, ss)
	return out, nil
}

// List returns the distinct names of all registered strategies in sorted
// order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every registered instance, grouped by name in sorted order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []Strategy
	for _, n := range names {
		out = append(out, r.strategies[n]...)
	}
	return out
}

// Close closes every registered instance, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, ss := range r.strategies {
		for _, s := range ss {
			if err := s.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
