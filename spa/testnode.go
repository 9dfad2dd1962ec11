package spa

import (
	"sync"
	"sync/atomic"
)

// TestSourceNode is a minimal in-process Node adapter modeling
// spa-audiotestsrc.c's shape (a single output port, no real signal
// synthesis, always reports HAVE_DATA once started) — used by the graph,
// clientnode, pwconfig and pwmetrics tests as a stand-in for a real SPA
// plugin adapter, which is out
// of scope for the core (spec §1 Non-goals: "Specific media plugins").
type TestSourceNode struct {
	mu      sync.Mutex
	events  *Events
	running atomic.Bool
	cycles  atomic.Uint64
}

// NewTestSourceNode constructs a ready-to-use single-output test node.
func NewTestSourceNode() *TestSourceNode {
	return &TestSourceNode{}
}

func (n *TestSourceNode) AddListener(events *Events) (int, error) {
	n.mu.Lock()
	n.events = events
	n.mu.Unlock()
	if events != nil && events.Info != nil {
		events.Info(NodeInfo{MaxOutputPorts: 1, NOutputPorts: 1})
	}
	return 1, nil
}

func (n *TestSourceNode) RemoveListener(token int) {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

func (n *TestSourceNode) SetIO(id IOAreaID, area []byte) error { return nil }

func (n *TestSourceNode) PortSetIO(dir Direction, port, mix uint32, id IOAreaID, area []byte) error {
	return nil
}

func (n *TestSourceNode) EnumParams(seq int32, id uint32, start, num uint32, filter *Param) (int32, error) {
	return 0, nil
}

func (n *TestSourceNode) SetParam(id uint32, flags uint32, param Param) error { return nil }

func (n *TestSourceNode) PortSetParam(dir Direction, port uint32, id uint32, flags uint32, param Param) error {
	return nil
}

func (n *TestSourceNode) PortUseBuffers(dir Direction, port, mix uint32, buffers []Buffer) error {
	return nil
}

func (n *TestSourceNode) PortAllocBuffers(dir Direction, port, mix uint32, count, size, stride, blocks uint32) ([]Buffer, error) {
	return nil, nil
}

func (n *TestSourceNode) SendCommand(cmd Command) error {
	switch cmd {
	case CommandStart:
		n.running.Store(true)
	case CommandSuspend, CommandPause:
		n.running.Store(false)
	}
	return nil
}

func (n *TestSourceNode) Process() (ProcessResult, error) {
	if !n.running.Load() {
		return ResultStopped, nil
	}
	n.cycles.Add(1)
	return ResultHaveData, nil
}

func (n *TestSourceNode) Sync(seq int32) error {
	n.mu.Lock()
	ev := n.events
	n.mu.Unlock()
	if ev != nil && ev.Result != nil {
		ev.Result(seq, 0, nil)
	}
	return nil
}

// Cycles reports how many Process calls have run while started, for test
// assertions.
func (n *TestSourceNode) Cycles() uint64 { return n.cycles.Load() }
