// Package graph provides the workflow dependency graph: a DAG of task
// nodes with per-node status. All mutation is serialized; readers never
// observe a half-applied change.
package graph

import (
	"iter"
	"sync"

	"github.com/tandemflow/tandem/pkg/a2a"
)

// Graph is a directed acyclic graph of nodes keyed by id. Dependency
// edges are stored on the nodes (DependsOn). Safe for concurrent use.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// AddNode inserts a node. The node starts Pending unless a status was
// set. A node may declare dependencies on ids not yet present; it only
// becomes schedulable once every declared dependency exists and is
// Completed.
func (g *Graph) AddNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[n.ID]; exists {
		return &DuplicateNodeError{ID: n.ID}
	}
	for _, dep := range n.DependsOn {
		if dep == n.ID {
			return &CycleError{From: n.ID, To: n.ID}
		}
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	g.nodes[n.ID] = n.clone()
	return nil
}

// AddDependency records that `from` depends on `to`. The edge is
// rejected (graph unchanged) when either node is unknown, when `from`
// is already Completed, or when the edge would create a cycle.
func (g *Graph) AddDependency(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[from]
	if !ok {
		return &UnknownNodeError{ID: from}
	}
	if _, ok := g.nodes[to]; !ok {
		return &UnknownNodeError{ID: to}
	}
	if src.Status == StatusCompleted {
		return &GraphFrozenError{ID: from}
	}
	if from == to {
		return &CycleError{From: from, To: to}
	}

	// Reachability check before insertion: the new edge from -> to
	// closes a cycle iff `from` is already reachable from `to`.
	if g.reachableLocked(to, from) {
		return &CycleError{From: from, To: to}
	}

	for _, dep := range src.DependsOn {
		if dep == to {
			return nil // edge already present
		}
	}
	src.DependsOn = append(src.DependsOn, to)
	return nil
}

// reachableLocked reports whether target is reachable from start by
// following dependency edges. Assumes the lock is held.
func (g *Graph) reachableLocked(start, target string) bool {
	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := g.nodes[id]; ok {
			stack = append(stack, n.DependsOn...)
		}
	}
	return false
}

// Ready lazily yields every node that is dispatchable: status Pending
// with all dependencies Completed (the transition to Ready happens
// implicitly at read time), or already Ready but not yet dispatched.
// Dependencies are rechecked for Ready nodes too, because an edge may
// have been added since the promotion. Yielded nodes are snapshots.
func (g *Graph) Ready() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		g.mu.Lock()
		ready := make([]*Node, 0)
		for _, n := range g.nodes {
			switch n.Status {
			case StatusReady:
				if g.depsCompletedLocked(n) {
					ready = append(ready, n.clone())
				}
			case StatusPending:
				if g.depsCompletedLocked(n) {
					n.Status = StatusReady
					ready = append(ready, n.clone())
				}
			}
		}
		g.mu.Unlock()

		for _, n := range ready {
			if !yield(n) {
				return
			}
		}
	}
}

func (g *Graph) depsCompletedLocked(n *Node) bool {
	for _, dep := range n.DependsOn {
		d, ok := g.nodes[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// transitions is the legal status transition table. Failed -> Running
// is permitted only through the Retry option.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusReady: true, StatusSkipped: true},
	StatusReady:   {StatusRunning: true, StatusSkipped: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:  {StatusSkipped: true},
}

// TransitionOption adjusts a SetStatus call.
type TransitionOption func(*transition)

type transition struct {
	output   *a2a.Envelope
	err      error
	retry    bool
	attempts int
}

// WithOutput attaches the node output; applied atomically with the
// Completed transition so no dependent observes a partial result.
func WithOutput(env *a2a.Envelope) TransitionOption {
	return func(t *transition) { t.output = env }
}

// WithError records the error that caused a Failed transition.
func WithError(err error) TransitionOption {
	return func(t *transition) { t.err = err }
}

// WithRetry marks a Failed -> Running transition as a deliberate retry;
// it also increments the attempt count.
func WithRetry() TransitionOption {
	return func(t *transition) { t.retry = true }
}

// WithAttempts records the total invocation attempts a driver made for
// the node, for drivers that retry without re-entering the graph.
func WithAttempts(n int) TransitionOption {
	return func(t *transition) { t.attempts = n }
}

// SetStatus applies a status transition, enforcing the transition table.
func (g *Graph) SetStatus(id string, status Status, opts ...TransitionOption) error {
	var t transition
	for _, opt := range opts {
		opt(&t)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return &UnknownNodeError{ID: id}
	}

	legal := transitions[n.Status][status]
	if !legal && t.retry && n.Status == StatusFailed && status == StatusRunning {
		legal = true
	}
	if !legal {
		return &InvalidTransitionError{ID: id, From: n.Status, To: status}
	}

	n.Status = status
	switch status {
	case StatusRunning:
		n.Attempts++
	case StatusCompleted:
		n.Output = t.output
		n.LastErr = nil
	case StatusFailed, StatusSkipped:
		if t.err != nil {
			n.LastErr = t.err
		}
	}
	if t.attempts > 0 {
		n.Attempts = t.attempts
	}
	return nil
}

// Node returns a snapshot of the node.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// Nodes returns snapshots of every node.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.clone())
	}
	return out
}

// Len returns the node count.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Dependents returns the ids of nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dependentsLocked(id)
}

func (g *Graph) dependentsLocked(id string) []string {
	var out []string
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}

// TransitiveDependents returns the ids of every node downstream of id.
func (g *Graph) TransitiveDependents(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]bool)
	stack := []string{id}
	var out []string
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.dependentsLocked(cur) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			stack = append(stack, dep)
		}
	}
	return out
}

// Counts returns the number of nodes per status.
func (g *Graph) Counts() map[Status]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[Status]int)
	for _, n := range g.nodes {
		out[n.Status]++
	}
	return out
}
