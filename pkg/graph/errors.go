package graph

import "fmt"

// DuplicateNodeError: a node with the same id already exists.
type DuplicateNodeError struct {
	ID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q already exists", e.ID)
}

// UnknownNodeError: the referenced node id is not in the graph.
type UnknownNodeError struct {
	ID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

// CycleError: the requested edge would make the graph cyclic. The edge
// is rejected and the graph left unchanged.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.From, e.To)
}

// InvalidTransitionError: the requested status change violates the
// transition table.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("node %q: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// GraphFrozenError: the mutation targets a node already Completed.
type GraphFrozenError struct {
	ID string
}

func (e *GraphFrozenError) Error() string {
	return fmt.Sprintf("node %q is completed; its dependencies are frozen", e.ID)
}
