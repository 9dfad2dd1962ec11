package graph

import (
	"sync"
	"time"

	"github.com/pwcore/node-graph/ioarea"
)

// Scheduler implements the per-cycle activation state machine (spec §4.8
// "Activation & scheduler — the heart"): arm phase, driver tick, follower
// wake, completion, and xrun detection.
//
// RunCycle drives one cycle synchronously: it arms the driver's subgraph,
// ticks the driver, then recursively triggers followers as their pending
// counts reach zero, dispatching each node's process() via a blocking
// Invoke onto its own data loop whenever it has one (Invoke runs the call
// in place when already on that loop's thread). This
// makes a cycle's full completion observable to the caller without a
// separate "cycle-complete" eventfd, while still routing every node's
// process() through the one legitimate cross-loop mechanism (Invoke) the
// rest of the engine uses — a deliberate simplification of spec §4.8's
// fully asynchronous eventfd dispatch, made for in-process testability.
//
// Grounded on spec §4.8 directly; FetchSub/trigger recursion structure
// mirrors the teacher's core/concurrency EventLoop's synchronous dispatch
// of a frozen listener snapshot, generalized from "invoke every listener"
// to "invoke every target whose pending just reached zero."
type Scheduler struct {
	nowNs func() int64

	mu           sync.Mutex
	lastSubgraph map[*Node][]*Node
	metrics      MetricsSink
}

// NewScheduler constructs a Scheduler. nowNs supplies monotonic
// nanosecond timestamps for activation stamps; pass nil to use
// time.Now().UnixNano().
func NewScheduler(nowNs func() int64) *Scheduler {
	if nowNs == nil {
		nowNs = func() int64 { return time.Now().UnixNano() }
	}
	return &Scheduler{nowNs: nowNs, lastSubgraph: make(map[*Node][]*Node)}
}

// Subgraph computes the set of nodes reachable from driver via its
// target-list edges (spec §4.8 "driver subgraph"), driver included.
func Subgraph(driver *Node) []*Node {
	seen := map[*Node]bool{driver: true}
	order := []*Node{driver}
	queue := []*Node{driver}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range n.Targets() {
			if !seen[e.node] {
				seen[e.node] = true
				order = append(order, e.node)
				queue = append(queue, e.node)
			}
		}
	}
	return order
}

// Arm performs the arm phase for cycle over every node in subgraph (spec
// §4.8 step 1): "set required := count of direct input-link peers that are
// in D's subgraph and pending := required. Mark status = NOT_TRIGGERED."
func Arm(subgraph []*Node, cycle uint32) {
	required := make(map[*Node]int32, len(subgraph))
	inSubgraph := make(map[*Node]bool, len(subgraph))
	for _, n := range subgraph {
		inSubgraph[n] = true
	}
	for _, n := range subgraph {
		for _, e := range n.Targets() {
			if inSubgraph[e.node] {
				required[e.node]++
			}
		}
	}
	for _, n := range subgraph {
		n.Activation().State(cycle).SetRequired(required[n])
		n.Activation().SetStatus(ioarea.StatusNotTriggered)
	}
}

// checkXruns implements spec §4.8's xrun invariant: "If any node's status
// is still not FINISHED when the driver's next tick arrives, an xrun is
// recorded against that node."
func (s *Scheduler) checkXruns(subgraph []*Node, driver *Node) {
	for _, n := range subgraph {
		if n == driver {
			continue
		}
		if n.Activation().Status() != ioarea.StatusFinished && n.Activation().Status() != ioarea.StatusInactive {
			n.RecordXrun(0)
			s.reportXrun(n)
		}
	}
}

func (s *Scheduler) reportXrun(n *Node) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordXrun(n.Global.ID, nodeLabel(n))
}

// RunCycle executes exactly one cycle on driver's subgraph.
func (s *Scheduler) RunCycle(driver *Node) error {
	s.mu.Lock()
	prev := s.lastSubgraph[driver]
	s.mu.Unlock()
	if prev != nil {
		s.checkXruns(prev, driver)
	}

	subgraph := Subgraph(driver)
	cycle := driver.cycle.Load()
	Arm(subgraph, cycle)

	s.mu.Lock()
	s.lastSubgraph[driver] = subgraph
	s.mu.Unlock()

	now := s.nowNs()
	driver.Activation().SetStatus(ioarea.StatusTriggered)
	driver.Activation().StampSignalTime(now)

	for _, e := range driver.Targets() {
		s.fetchSubAndMaybeTrigger(e.node, cycle)
	}

	finish := s.nowNs()
	driver.Activation().SetStatus(ioarea.StatusFinished)
	driver.Activation().StampFinishTime(finish)
	driver.cycle.Add(1)

	if s.metrics != nil && finish > now {
		s.metrics.ObserveCycle(driver.Global.ID, nodeLabel(driver), time.Duration(finish-now))
	}
	return nil
}

// fetchSubAndMaybeTrigger performs the driver/follower fetch_sub → trigger
// dance (spec §4.8 steps 2-3): "performs an atomic fetch_sub(1, pending).
// If the result reaches 0... D calls the target's process() synchronously
// [or] writes 1 to the target's wakeup eventfd."
func (s *Scheduler) fetchSubAndMaybeTrigger(n *Node, cycle uint32) {
	remaining := n.Activation().State(cycle).FetchSub(1)
	if remaining < 0 {
		// spec §9 open question 3: negative pending is corruption.
		n.RecordXrun(0)
		return
	}
	if remaining == 0 {
		s.trigger(n, cycle)
	}
}

// trigger runs a follower's process() call and cascades the fetch_sub dance
// to its own targets (spec §4.8 step 3 "Follower wake").
func (s *Scheduler) trigger(n *Node, cycle uint32) {
	run := func() {
		awake := s.nowNs()
		n.Activation().StampAwakeTime(awake)
		n.Activation().SetStatus(ioarea.StatusAwake)

		if _, err := n.SpaNode().Process(); err != nil {
			n.SetState(StateError)
		}

		finish := s.nowNs()
		n.Activation().StampFinishTime(finish)
		n.Activation().SetStatus(ioarea.StatusFinished)

		if s.metrics != nil && finish > awake {
			s.metrics.ObserveProcess(n.Global.ID, nodeLabel(n), time.Duration(finish-awake))
		}

		for _, e := range n.Targets() {
			s.fetchSubAndMaybeTrigger(e.node, cycle)
		}
	}
	if dl := n.DataLoop(); dl != nil {
		dl.Loop.Invoke(run, true)
		return
	}
	run()
}
