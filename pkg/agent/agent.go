// Package agent defines the executor-facing agent abstraction: remote
// agents reachable over the wire protocol, a registry keyed by name and
// a resolver chain for dynamic lookup.
package agent

import (
	"context"
	"fmt"

	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/a2a/client"
)

// Agent is an opaque unit of execution: it receives an envelope and
// produces one. Implementations must be safe for concurrent calls.
type Agent interface {
	// Name returns the stable agent identity used in workflow definitions.
	Name() string

	// Card returns the agent's capability descriptor.
	Card() *a2a.AgentCard

	// Invoke sends the input to the agent and returns its response.
	Invoke(ctx context.Context, input *a2a.Envelope) (*a2a.Envelope, error)

	// InvokeStream sends the input and returns a channel of response
	// chunks. Agents that do not stream return a single-item channel.
	InvokeStream(ctx context.Context, input *a2a.Envelope) (<-chan client.StreamResult, error)
}

// Descriptor is the static configuration of one agent.
type Descriptor struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`
	URL          string `yaml:"url"`
	Domain       string `yaml:"domain,omitempty"`
}

// Validate checks required descriptor fields.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if d.URL == "" {
		return fmt.Errorf("agent %q: url is required", d.Name)
	}
	return nil
}

// UnknownAgentError is returned when no resolver knows the agent.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %s", e.Name)
}
