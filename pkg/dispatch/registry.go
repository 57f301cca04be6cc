// Package dispatch routes model-issued tool calls to runnable tool
// implementations looked up by sanitized name.
package dispatch

import (
	"context"
	"sort"

	"github.com/mirelabs/conductor/pkg/toolset"
)

// Tool is a runnable tool implementation. Operation selects a sub-command
// for tools that multiplex several; single-purpose tools ignore it.
type Tool interface {
	Execute(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error)
}

// Factory constructs a tool instance from its merged configuration. It is
// called once per dispatch so refreshed credentials take effect immediately.
type Factory func(config map[string]interface{}) (Tool, error)

// Registry is an immutable mapping from sanitized tool name to factory.
// Built once at startup and shared read-only across concurrent turns.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds a registry from a name→factory table. Keys are
// sanitized so registration and model-side lookup agree on names.
func NewRegistry(factories map[string]Factory) *Registry {
	sanitized := make(map[string]Factory, len(factories))
	for name, factory := range factories {
		sanitized[toolset.SanitizeName(name)] = factory
	}
	return &Registry{factories: sanitized}
}

// Lookup finds a factory by tool name. The name is sanitized before lookup,
// so raw and sanitized spellings both resolve.
func (r *Registry) Lookup(name string) (Factory, bool) {
	factory, ok := r.factories[toolset.SanitizeName(name)]
	return factory, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.factories)
}
