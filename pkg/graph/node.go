package graph

import (
	"github.com/tandemflow/tandem/pkg/a2a"
)

// Status is the lifecycle state of a node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped:
		return true
	}
	// Failed is not terminal: a retry may re-enter Running.
	return false
}

// Node is one schedulable unit of work bound to an agent.
type Node struct {
	// ID is the opaque node identity, unique within a graph.
	ID string

	// Agent names the agent capable of executing this node.
	Agent string

	// DependsOn lists the ids of nodes that must be Completed first.
	DependsOn []string

	// Input is the payload sent to the agent.
	Input *a2a.Envelope

	// Output is set atomically with the Completed transition and absent
	// before it.
	Output *a2a.Envelope

	// NoCache opts this node out of the result cache.
	NoCache bool

	Status   Status
	Attempts int
	LastErr  error
}

// clone returns a snapshot safe to hand to readers outside the graph
// lock. Envelope pointers are shared: inputs are caller-owned and
// outputs are immutable once published.
func (n *Node) clone() *Node {
	out := *n
	out.DependsOn = make([]string, len(n.DependsOn))
	copy(out.DependsOn, n.DependsOn)
	return &out
}
