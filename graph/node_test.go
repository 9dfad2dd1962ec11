package graph

import (
	"testing"

	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/spa"
)

func TestNodeLifecycleAndState(t *testing.T) {
	pool := pwpool.New()
	g := newGlobal(1, GlobalNode, 1, nil, nil)
	n, err := NewNode(g, spa.NewTestSourceNode(), pool)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer n.Close(pool)

	if n.State() != StateCreating {
		t.Fatalf("want StateCreating, got %v", n.State())
	}
	n.SetState(StateRunning)
	if n.State() != StateRunning {
		t.Fatalf("SetState didn't stick")
	}
	if n.IsDriver() {
		t.Fatalf("new node should not be a driver")
	}
	n.SetDriver(true)
	if !n.IsDriver() {
		t.Fatalf("SetDriver(true) didn't stick")
	}
}

func TestNodeTargetListCopyOnWrite(t *testing.T) {
	pool := pwpool.New()
	a, _ := NewNode(newGlobal(1, GlobalNode, 1, nil, nil), spa.NewTestSourceNode(), pool)
	b, _ := NewNode(newGlobal(2, GlobalNode, 1, nil, nil), spa.NewTestSourceNode(), pool)
	c, _ := NewNode(newGlobal(3, GlobalNode, 1, nil, nil), spa.NewTestSourceNode(), pool)
	defer a.Close(pool)
	defer b.Close(pool)
	defer c.Close(pool)

	if len(a.Targets()) != 0 {
		t.Fatalf("new node should have empty target list")
	}
	a.addTarget(b)
	a.addTarget(c)
	targets := a.Targets()
	if len(targets) != 2 {
		t.Fatalf("want 2 targets, got %d", len(targets))
	}
	a.removeTarget(b)
	if len(a.Targets()) != 1 || a.Targets()[0].node != c {
		t.Fatalf("removeTarget left wrong targets: %+v", a.Targets())
	}
}

func TestNodeXrunAccounting(t *testing.T) {
	pool := pwpool.New()
	n, _ := NewNode(newGlobal(1, GlobalNode, 1, nil, nil), spa.NewTestSourceNode(), pool)
	defer n.Close(pool)

	n.RecordXrun(1500)
	n.RecordXrun(2500)
	if n.XrunCount() != 2 {
		t.Fatalf("want 2 xruns, got %d", n.XrunCount())
	}
	count, total := n.Activation().XrunStats()
	if count != 2 || total != 4000 {
		t.Fatalf("activation xrun stats mismatch: count=%d total=%d", count, total)
	}
}
