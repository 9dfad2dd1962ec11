package pwmetrics

import (
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pwcore/node-graph/graph"
	"github.com/pwcore/node-graph/ioarea"
	"github.com/pwcore/node-graph/pwbuffer"
	"github.com/pwcore/node-graph/pwport"
	"github.com/pwcore/node-graph/spa"
)

func audioFormat() spa.Param { return spa.Param{ID: 1} }

func newLinkedContext(t *testing.T) (ctx *graph.Context, driver, follower *graph.Node) {
	t.Helper()
	ctx, err := graph.New(nil)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	driver, err = ctx.AddNode(spa.NewTestSourceNode(), "", "", nil)
	if err != nil {
		t.Fatalf("AddNode driver: %v", err)
	}
	follower, err = ctx.AddNode(spa.NewTestSourceNode(), "", "", nil)
	if err != nil {
		t.Fatalf("AddNode follower: %v", err)
	}

	outPort := pwport.NewPort(0, spa.DirectionOutput, pwport.FlagCanAllocBuffers, []spa.Param{audioFormat()})
	inPort := pwport.NewPort(0, spa.DirectionInput, 0, []spa.Param{audioFormat()})
	outPort.SetBuffersParams([]spa.Param{{ID: 10}})
	inPort.SetBuffersParams([]spa.Param{{ID: 10}})
	driver.AddPort(outPort)
	follower.AddPort(inPort)

	link := ctx.AddLink(
		graph.LinkEndpoint{Node: driver, Port: outPort},
		graph.LinkEndpoint{Node: follower, Port: inPort},
		graph.LinkModeBlock, nil)
	can := pwbuffer.CanAlloc{Output: true, Input: false}
	if err := link.Activate(ctx.Pool, []spa.Param{audioFormat()}, []spa.Param{audioFormat()}, can, pwbuffer.PreferOutput); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	driver.SetDriver(true)
	return ctx, driver, follower
}

func TestMetricsRecordXrunWiredThroughScheduler(t *testing.T) {
	ctx, driver, follower := newLinkedContext(t)

	m := New()
	ctx.SetMetrics(m)

	if err := ctx.Scheduler().RunCycle(driver); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	// Stall the follower so the next cycle observes it still not FINISHED.
	follower.Activation().SetStatus(ioarea.StatusAwake)
	if err := ctx.Scheduler().RunCycle(driver); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}

	label := strconv.FormatUint(uint64(follower.Global.ID), 10)
	got := testutil.ToFloat64(m.XrunCount.WithLabelValues(label))
	if got != 1 {
		t.Fatalf("want 1 xrun recorded under label %q, got %v", label, got)
	}
}

func TestMetricsObserveCycleAndProcess(t *testing.T) {
	ctx, driver, _ := newLinkedContext(t)

	m := New()
	ctx.SetMetrics(m)

	if err := ctx.Scheduler().RunCycle(driver); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if n := testutil.CollectAndCount(m.CycleDuration); n == 0 {
		t.Fatalf("expected at least one cycle duration observation")
	}
	if n := testutil.CollectAndCount(m.ProcessDuration); n == 0 {
		t.Fatalf("expected at least one process duration observation")
	}
}
