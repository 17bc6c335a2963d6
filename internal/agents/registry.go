// Package agents adapts chat models to the engine's agent-invocation
// collaborator and keeps the registry of supported agent keys.
package agents

import (
	"slices"
	"sync"

	"github.com/rendis/chatflow/pkg/schema"
)

// Spec describes one supported agent.
type Spec struct {
	Key          string   `json:"key" yaml:"key" mapstructure:"key"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions,omitempty" mapstructure:"instructions"`
	Temperature  *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty" mapstructure:"temperature"`
}

// Registry is the set of agent keys workflows may reference. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates a registry holding specs. Later duplicates win.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Key != "" {
			r.specs[s.Key] = s
		}
	}
	return r
}

// Register adds a spec. The key must be non-empty and unused.
func (r *Registry) Register(s Spec) error {
	if s.Key == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[s.Key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "agent %q already registered", s.Key)
	}
	r.specs[s.Key] = s
	return nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Get returns the spec registered under key.
func (r *Registry) Get(key string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[key]
	return s, ok
}

// Keys lists the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.specs))
	for k := range r.specs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
