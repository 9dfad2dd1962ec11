package graph

import (
	"testing"

	"github.com/pwcore/node-graph/ioarea"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/spa"
)

func startedTestNode(t *testing.T, pool *pwpool.Pool, id uint32) (*Node, *spa.TestSourceNode) {
	t.Helper()
	src := spa.NewTestSourceNode()
	n, err := NewNode(newGlobal(id, GlobalNode, 1, nil, nil), src, pool)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if err := src.SendCommand(spa.CommandStart); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	return n, src
}

// TestSchedulerSingleDriverTwoFollowers models spec §8 S1: a single driver
// node with two followers both reachable from it ticks both on one cycle.
func TestSchedulerSingleDriverTwoFollowers(t *testing.T) {
	pool := pwpool.New()
	driver, driverSrc := startedTestNode(t, pool, 1)
	f1, f1Src := startedTestNode(t, pool, 2)
	f2, f2Src := startedTestNode(t, pool, 3)
	defer driver.Close(pool)
	defer f1.Close(pool)
	defer f2.Close(pool)

	driver.SetDriver(true)
	driver.addTarget(f1)
	driver.addTarget(f2)

	sched := NewScheduler(nil)
	if err := sched.RunCycle(driver); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if f1Src.Cycles() != 1 || f2Src.Cycles() != 1 {
		t.Fatalf("both followers should have processed once: f1=%d f2=%d", f1Src.Cycles(), f2Src.Cycles())
	}
	_ = driverSrc
	if driver.Activation().Status() != ioarea.StatusFinished {
		t.Fatalf("driver should end FINISHED, got %v", driver.Activation().Status())
	}
	if f1.Activation().Status() != ioarea.StatusFinished || f2.Activation().Status() != ioarea.StatusFinished {
		t.Fatalf("followers should end FINISHED")
	}
}

// TestSchedulerChainedFollowers models a driver->f1->f2 chain: f2 only runs
// once f1's fetch_sub reaches zero.
func TestSchedulerChainedFollowers(t *testing.T) {
	pool := pwpool.New()
	driver, _ := startedTestNode(t, pool, 1)
	f1, _ := startedTestNode(t, pool, 2)
	f2, f2Src := startedTestNode(t, pool, 3)
	defer driver.Close(pool)
	defer f1.Close(pool)
	defer f2.Close(pool)

	driver.SetDriver(true)
	driver.addTarget(f1)
	f1.addTarget(f2)

	sched := NewScheduler(nil)
	if err := sched.RunCycle(driver); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if f2Src.Cycles() != 1 {
		t.Fatalf("want f2 to process once via the chain, got %d", f2Src.Cycles())
	}
}

// TestSchedulerXrunOnStaleFinish models spec §8 S3 (and §4.8's "still not
// FINISHED when the driver's next tick arrives" invariant): a follower that
// never reaches FINISHED by the time the next cycle starts gets an xrun.
func TestSchedulerXrunOnStaleFinish(t *testing.T) {
	pool := pwpool.New()
	driver, _ := startedTestNode(t, pool, 1)
	f1, _ := startedTestNode(t, pool, 2)
	defer driver.Close(pool)
	defer f1.Close(pool)

	driver.SetDriver(true)
	driver.addTarget(f1)

	sched := NewScheduler(nil)
	if err := sched.RunCycle(driver); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	// Simulate the follower getting stuck mid-cycle (never reaches FINISHED).
	f1.Activation().SetStatus(ioarea.StatusAwake)

	if err := sched.RunCycle(driver); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if f1.XrunCount() != 1 {
		t.Fatalf("want 1 xrun recorded against the stuck follower, got %d", f1.XrunCount())
	}
}

func TestArmSetsRequiredFromSubgraphFanIn(t *testing.T) {
	pool := pwpool.New()
	driver, _ := startedTestNode(t, pool, 1)
	f1, _ := startedTestNode(t, pool, 2)
	f2, _ := startedTestNode(t, pool, 3)
	sink, _ := startedTestNode(t, pool, 4)
	defer driver.Close(pool)
	defer f1.Close(pool)
	defer f2.Close(pool)
	defer sink.Close(pool)

	driver.SetDriver(true)
	driver.addTarget(f1)
	driver.addTarget(f2)
	f1.addTarget(sink)
	f2.addTarget(sink)

	sub := Subgraph(driver)
	Arm(sub, 0)
	if got := sink.Activation().State(0).Required(); got != 2 {
		t.Fatalf("sink should require 2 (fan-in from f1 and f2), got %d", got)
	}
}
