package graph

import (
	"errors"
	"testing"

	"github.com/tandemflow/tandem/pkg/a2a"
)

func node(id string, deps ...string) *Node {
	return &Node{ID: id, Agent: "agent", DependsOn: deps}
}

func mustAdd(t *testing.T, g *Graph, n *Node) {
	t.Helper()
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode(%s) error = %v", n.ID, err)
	}
}

func collectReady(g *Graph) []string {
	var ids []string
	for n := range g.Ready() {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestAddNodeDuplicate(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))

	err := g.AddNode(node("a"))
	var dup *DuplicateNodeError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %v, want DuplicateNodeError", err)
	}
	if dup.ID != "a" {
		t.Errorf("ID = %q, want a", dup.ID)
	}
}

func TestAddNodeSelfDependency(t *testing.T) {
	g := New()
	err := g.AddNode(node("a", "a"))
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("error = %v, want CycleError", err)
	}
	if g.Len() != 0 {
		t.Error("rejected node was inserted")
	}
}

func TestAddDependencyCycle(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))
	mustAdd(t, g, node("b", "a"))
	mustAdd(t, g, node("c", "b"))

	err := g.AddDependency("a", "c")
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("error = %v, want CycleError", err)
	}

	// Graph unchanged: a still has no dependencies.
	n, _ := g.Node("a")
	if len(n.DependsOn) != 0 {
		t.Errorf("a.DependsOn = %v after rejected edge", n.DependsOn)
	}
}

func TestAddDependencyUnknownNode(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))

	err := g.AddDependency("a", "ghost")
	var unknown *UnknownNodeError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want UnknownNodeError", err)
	}
}

func TestAddDependencyFrozen(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))
	mustAdd(t, g, node("b"))

	for range g.Ready() {
	}
	if err := g.SetStatus("a", StatusRunning); err != nil {
		t.Fatalf("SetStatus error = %v", err)
	}
	if err := g.SetStatus("a", StatusCompleted, WithOutput(nil)); err != nil {
		t.Fatalf("SetStatus error = %v", err)
	}

	err := g.AddDependency("a", "b")
	var frozen *GraphFrozenError
	if !errors.As(err, &frozen) {
		t.Fatalf("error = %v, want GraphFrozenError", err)
	}
}

func TestReadyOnlyWhenDepsCompleted(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))
	mustAdd(t, g, node("b"))
	mustAdd(t, g, node("c", "a", "b"))

	ready := collectReady(g)
	if len(ready) != 2 {
		t.Fatalf("ready = %v, want a and b", ready)
	}
	for _, id := range ready {
		if id == "c" {
			t.Fatal("c became ready before its dependencies completed")
		}
	}

	// Complete a only: c still not ready.
	g.SetStatus("a", StatusRunning)
	g.SetStatus("a", StatusCompleted)
	for _, id := range collectReady(g) {
		if id == "c" {
			t.Fatal("c ready with one dependency incomplete")
		}
	}

	g.SetStatus("b", StatusRunning)
	g.SetStatus("b", StatusCompleted)
	ready = collectReady(g)
	if len(ready) != 1 || ready[0] != "c" {
		t.Fatalf("ready = %v, want [c]", ready)
	}
}

func TestReadyYieldsUndispatchedAgain(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))

	if got := collectReady(g); len(got) != 1 {
		t.Fatalf("first pass ready = %v", got)
	}
	// Not dispatched: a second pass must yield it again.
	if got := collectReady(g); len(got) != 1 {
		t.Fatalf("second pass ready = %v, node starved", got)
	}
}

func TestReadyRechecksDepsAddedAfterPromotion(t *testing.T) {
	g := New()
	mustAdd(t, g, node("b"))

	// Promote b to Ready without dispatching it.
	if got := collectReady(g); len(got) != 1 || got[0] != "b" {
		t.Fatalf("first pass ready = %v, want [b]", got)
	}

	// b gains a dependency while still undispatched.
	mustAdd(t, g, node("y"))
	if err := g.AddDependency("b", "y"); err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}

	for _, id := range collectReady(g) {
		if id == "b" {
			t.Fatal("b yielded while new dependency y is not completed")
		}
	}

	g.SetStatus("y", StatusRunning)
	g.SetStatus("y", StatusCompleted)
	found := false
	for _, id := range collectReady(g) {
		if id == "b" {
			found = true
		}
	}
	if !found {
		t.Fatal("b not yielded after its new dependency completed")
	}
}

func TestSetStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		opts    []TransitionOption
		wantErr bool
	}{
		{"pending to ready", StatusPending, StatusReady, nil, false},
		{"ready to running", StatusReady, StatusRunning, nil, false},
		{"running to completed", StatusRunning, StatusCompleted, nil, false},
		{"running to failed", StatusRunning, StatusFailed, nil, false},
		{"failed to skipped", StatusFailed, StatusSkipped, nil, false},
		{"failed to running without retry", StatusFailed, StatusRunning, nil, true},
		{"failed to running with retry", StatusFailed, StatusRunning, []TransitionOption{WithRetry()}, false},
		{"pending to completed", StatusPending, StatusCompleted, nil, true},
		{"completed is terminal", StatusCompleted, StatusRunning, nil, true},
		{"skipped is terminal", StatusSkipped, StatusRunning, nil, true},
		{"pending to skipped", StatusPending, StatusSkipped, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			mustAdd(t, g, &Node{ID: "n", Agent: "a", Status: tt.from})

			err := g.SetStatus("n", tt.to, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetStatus(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr {
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Errorf("error type = %T, want InvalidTransitionError", err)
				}
			}
		})
	}
}

func TestCompletedAttachesOutput(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "n", Agent: "a", Status: StatusRunning})

	out := a2a.NewTextEnvelope(a2a.RoleAssistant, "done")
	if err := g.SetStatus("n", StatusCompleted, WithOutput(out)); err != nil {
		t.Fatalf("SetStatus error = %v", err)
	}

	n, _ := g.Node("n")
	if n.Output == nil || n.Output.Text() != "done" {
		t.Errorf("Output = %+v, want attached envelope", n.Output)
	}
	if !n.Status.Terminal() {
		t.Error("Completed not terminal")
	}
}

func TestFailedRecordsError(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "n", Agent: "a", Status: StatusRunning})

	cause := errors.New("agent exploded")
	if err := g.SetStatus("n", StatusFailed, WithError(cause), WithAttempts(3)); err != nil {
		t.Fatalf("SetStatus error = %v", err)
	}

	n, _ := g.Node("n")
	if !errors.Is(n.LastErr, cause) {
		t.Errorf("LastErr = %v, want cause", n.LastErr)
	}
	if n.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", n.Attempts)
	}
	if n.Status.Terminal() {
		t.Error("Failed must not be terminal; a retry may follow")
	}
}

func TestDependents(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))
	mustAdd(t, g, node("b", "a"))
	mustAdd(t, g, node("c", "b"))
	mustAdd(t, g, node("d", "a"))
	mustAdd(t, g, node("e"))

	direct := g.Dependents("a")
	if len(direct) != 2 {
		t.Errorf("Dependents(a) = %v, want b and d", direct)
	}

	all := g.TransitiveDependents("a")
	if len(all) != 3 {
		t.Errorf("TransitiveDependents(a) = %v, want b, c, d", all)
	}
	for _, id := range all {
		if id == "e" {
			t.Error("independent node e reported as dependent")
		}
	}
}

func TestDynamicInsertionAfterPartialExecution(t *testing.T) {
	g := New()
	mustAdd(t, g, node("a"))

	g.SetStatus("a", StatusReady)
	g.SetStatus("a", StatusRunning)
	g.SetStatus("a", StatusCompleted)

	// Grow: new node depending on the completed one is immediately ready.
	mustAdd(t, g, node("follow", "a"))
	ready := collectReady(g)
	if len(ready) != 1 || ready[0] != "follow" {
		t.Fatalf("ready = %v, want [follow]", ready)
	}
}
