package graph

import (
	"testing"

	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/spa"
)

func TestContextNodeAndLinkLifecycle(t *testing.T) {
	ctx, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src1 := spa.NewTestSourceNode()
	n1, err := ctx.AddNode(src1, "", "", nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, ok := ctx.Global(n1.Global.ID); !ok {
		t.Fatalf("node's global not registered")
	}

	src2 := spa.NewTestSourceNode()
	n2, err := ctx.AddNode(src2, "", "", nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if len(ctx.Nodes()) != 2 {
		t.Fatalf("want 2 nodes, got %d", len(ctx.Nodes()))
	}

	ctx.RemoveNode(n2)
	if len(ctx.Nodes()) != 1 {
		t.Fatalf("want 1 node after removal, got %d", len(ctx.Nodes()))
	}
	if _, ok := ctx.Global(n2.Global.ID); ok {
		t.Fatalf("removed node's global should be gone")
	}

	ctx.RemoveNode(n1)
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestContextAssignLoopPrefersNamedMatch models spec §4.3's loop-assignment
// rule: an exact loop.name match wins over class-based or LRU selection.
func TestContextAssignLoopPrefersNamedMatch(t *testing.T) {
	ctx, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tu := pwdataloop.NewInProcessThreadUtils()
	rt, err := ctx.AddDataLoop("rt-audio", "audio", tu, pwdataloop.Props{Name: "rt-audio"})
	if err != nil {
		t.Fatalf("AddDataLoop rt-audio: %v", err)
	}
	_, err = ctx.AddDataLoop("video", "video", tu, pwdataloop.Props{Name: "video"})
	if err != nil {
		t.Fatalf("AddDataLoop video: %v", err)
	}

	got := ctx.AssignLoop("rt-audio", "")
	if got != rt {
		t.Fatalf("expected exact name match to win")
	}

	got = ctx.AssignLoop("", "video")
	if got == rt {
		t.Fatalf("expected class match to pick the video loop, not rt-audio")
	}
}

func TestContextRecalculateAssignsDrivingNode(t *testing.T) {
	ctx, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	driverSrc := spa.NewTestSourceNode()
	driver, err := ctx.AddNode(driverSrc, "", "", nil)
	if err != nil {
		t.Fatalf("AddNode driver: %v", err)
	}
	driver.SetDriver(true)

	followerSrc := spa.NewTestSourceNode()
	follower, err := ctx.AddNode(followerSrc, "", "", nil)
	if err != nil {
		t.Fatalf("AddNode follower: %v", err)
	}
	driver.addTarget(follower)

	ctx.recalculate()

	if follower.DrivingNode() != driver {
		t.Fatalf("want follower's driving node to be the driver, got %v", follower.DrivingNode())
	}
}
