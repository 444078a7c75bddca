package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Spec is the declarative description of one agent
type Spec struct {
	Name    string
	Type    string
	Channel Channel
	Prompt  string
	Params  map[string]string
}

// Factory builds an agent from its spec
type Factory func(spec Spec) (Agent, error)

// Registry maps agent type names to factories. It is built explicitly and
// passed to whoever assembles a team.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a type twice is an error.
func (r *Registry) Register(typeName string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("agent type %q already registered", typeName)
	}
	r.factories[typeName] = f
	return nil
}

// Build creates an agent from a spec. The channel defaults to the agent name.
func (r *Registry) Build(spec Spec) (Agent, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q (known: %v)", spec.Type, r.Types())
	}
	if spec.Channel == "" {
		spec.Channel = Channel(spec.Name)
	}
	return f(spec)
}

// Types lists registered type names
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
