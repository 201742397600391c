package clock

import (
	"sort"
	"sync"

	"github.com/ChuLiYu/simclock/pkg/types"
)

// Registry maps clock names to clocks.
type Registry struct {
	mu     sync.RWMutex
	clocks map[string]Clock
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clocks: make(map[string]Clock)}
}

// Register adds c. Names are unique.
func (r *Registry) Register(c Clock) error {
	if c == nil || c.Name() == "" {
		return types.NewInvalidArgument("clock must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clocks[c.Name()]; ok {
		return types.NewDuplicateName("clock", c.Name())
	}
	r.clocks[c.Name()] = c
	return nil
}

// Unregister removes the clock called name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clocks[name]; !ok {
		return types.NewNotFound("clock %q", name)
	}
	delete(r.clocks, name)
	return nil
}

// Find returns the clock called name.
func (r *Registry) Find(name string) (Clock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clocks[name]
	if !ok {
		return nil, types.NewNotFound("clock %q", name)
	}
	return c, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clocks))
	for n := range r.clocks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
