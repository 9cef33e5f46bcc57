package agent

import (
	"context"

	"github.com/tandemflow/tandem/pkg/a2a"
)

// Executor dispatches work to agents by name through a resolver. It is
// the bridge the scheduler invokes through.
type Executor struct {
	resolver Resolver
}

// NewExecutor creates an executor backed by the resolver (commonly a
// Chain ending in a Registry).
func NewExecutor(r Resolver) *Executor {
	return &Executor{resolver: r}
}

// Invoke resolves the named agent and delivers the input to it.
func (e *Executor) Invoke(ctx context.Context, agentName string, input *a2a.Envelope) (*a2a.Envelope, error) {
	a, ok := e.resolver.Resolve(agentName)
	if !ok {
		return nil, &UnknownAgentError{Name: agentName}
	}
	return a.Invoke(ctx, input)
}
