package agent

import (
	"context"

	"github.com/tandemflow/tandem/pkg/a2a"
	"github.com/tandemflow/tandem/pkg/a2a/client"
)

// RemoteAgent is an agent reachable over the wire protocol. All
// variation between remote agents lives in the descriptor; behavior is
// identical.
type RemoteAgent struct {
	desc   Descriptor
	client *client.Client
}

// NewRemoteAgent creates an agent bound to the descriptor's endpoint.
func NewRemoteAgent(desc Descriptor, c *client.Client) (*RemoteAgent, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &RemoteAgent{desc: desc, client: c}, nil
}

func (a *RemoteAgent) Name() string { return a.desc.Name }

// Card returns the capability descriptor advertised for this agent.
func (a *RemoteAgent) Card() *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:            a.desc.Name,
		Description:     a.desc.Description,
		URL:             a.desc.URL,
		ProtocolVersion: a2a.ProtocolVersion,
		Capabilities:    a2a.AgentCapabilities{Streaming: true},
	}
}

// Invoke delivers the input over message/send.
func (a *RemoteAgent) Invoke(ctx context.Context, input *a2a.Envelope) (*a2a.Envelope, error) {
	return a.client.Send(ctx, a.desc.URL, input)
}

// InvokeStream delivers the input over message/stream.
func (a *RemoteAgent) InvokeStream(ctx context.Context, input *a2a.Envelope) (<-chan client.StreamResult, error) {
	return a.client.Stream(ctx, a.desc.URL, input)
}
