// Package catalog holds the compiled tool catalog and the request/response
// operations built on it.
package catalog

import (
	"sort"
	"sync"

	"toolbridge/internal/domain"
)

// Registry holds the compiled tools by name. A catalog is replaced as a
// whole, never edited in place.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]domain.ToolDefinition
	names []string
}

// NewRegistry creates a registry holding defs.
func NewRegistry(defs []domain.ToolDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace swaps in a freshly compiled catalog. Later duplicates of a name
// are dropped.
func (r *Registry) Replace(defs []domain.ToolDefinition) {
	tools := make(map[string]domain.ToolDefinition, len(defs))
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		if _, exists := tools[d.Name]; exists {
			continue
		}
		tools[d.Name] = d
		names = append(names, d.Name)
	}
	sort.Strings(names)

	r.mu.Lock()
	r.tools = tools
	r.names = names
	r.mu.Unlock()
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return domain.ToolDefinition{}, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all tools sorted by name.
func (r *Registry) List() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolDefinition, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tools[n])
	}
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Schemas returns all tool schemas for LLM function-calling.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}
