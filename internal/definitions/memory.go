// Package definitions supplies workflow definitions to the runner: an
// in-memory catalog and a loader for YAML and JSON files.
package definitions

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/chatflow/pkg/schema"
)

// Validator checks a definition before it is accepted into a catalog.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// Memory is an in-memory catalog of workflow definitions keyed by slug and
// version. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	versions map[string][]*schema.WorkflowDefinition // registration order
}

// NewMemory creates a catalog holding defs.
func NewMemory(defs ...*schema.WorkflowDefinition) *Memory {
	m := &Memory{versions: make(map[string][]*schema.WorkflowDefinition)}
	for _, d := range defs {
		m.Put(d)
	}
	return m
}

// Put adds def, replacing a definition with the same slug and version.
func (m *Memory) Put(def *schema.WorkflowDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.versions[def.Slug]
	for i, d := range list {
		if d.Version == def.Version {
			list[i] = def
			return
		}
	}
	m.versions[def.Slug] = append(list, def)
}

// Get returns the definition of slug at version, or the most recently
// registered version when version is empty.
func (m *Memory) Get(_ context.Context, slug, version string) (*schema.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.versions[slug]
	if len(list) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", slug)
	}
	if version == "" {
		return list[len(list)-1], nil
	}
	for _, d := range list {
		if d.Version == version {
			return d, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no version %q", slug, version)
}

// Slugs lists the cataloged workflow slugs in sorted order.
func (m *Memory) Slugs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.versions))
	for slug := range m.versions {
		out = append(out, slug)
	}
	slices.Sort(out)
	return out
}
