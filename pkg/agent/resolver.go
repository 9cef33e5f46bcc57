package agent

import (
	"github.com/tandemflow/tandem/pkg/registry"
)

// Resolver maps an agent name to an agent. A resolver that does not
// know the name returns (nil, false) so the next resolver in the chain
// can try.
type Resolver interface {
	Resolve(name string) (Agent, bool)
}

// Registry is a named collection of agents, resolvable by name.
type Registry struct {
	reg *registry.Registry[Agent]
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{reg: registry.New[Agent]()}
}

// Register adds an agent under its own name.
func (r *Registry) Register(a Agent) error {
	return r.reg.Register(a.Name(), a)
}

// Resolve implements Resolver.
func (r *Registry) Resolve(name string) (Agent, bool) {
	return r.reg.Get(name)
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	return r.reg.Names()
}

// Chain tries each resolver in order and returns the first match.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(name string) (Agent, bool) {
	for _, r := range c {
		if a, ok := r.Resolve(name); ok {
			return a, true
		}
	}
	return nil, false
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) (Agent, bool)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(name string) (Agent, bool) {
	return f(name)
}
