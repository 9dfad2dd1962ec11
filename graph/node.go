package graph

import (
	"sync"
	"sync/atomic"

	"github.com/pwcore/node-graph/ioarea"
	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/pwport"
	"github.com/pwcore/node-graph/spa"
)

// State is a node's lifecycle state (spec §3 Node "state ∈ {CREATING,
// SUSPENDED, IDLE, RUNNING, ERROR}").
type State int

const (
	StateCreating State = iota
	StateSuspended
	StateIdle
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateSuspended:
		return "SUSPENDED"
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Rate is a rational rate/quantum pair (spec §3 Node "rate {num/denom}",
// "latency {num/denom}").
type Rate struct {
	Num   uint32
	Denom uint32
}

// targetEdge is one entry in a driving node's target_list: the follower to
// signal. Its Activation is reached through the follower node.
type targetEdge struct {
	node *Node
}

// Node is a graph vertex wrapping a spa.Node handle with scheduling state
// (spec §3 "Node"). Exactly one Node exists per Global of type GlobalNode.
type Node struct {
	Global *Global

	mu          sync.Mutex
	driver      bool
	active      bool
	state       State
	dataLoop    *pwdataloop.DataLoop // nil => scheduled on the Context's main loop
	drivingNode *Node                // the driver that ticks this node, nil if self-driving
	latency     Rate
	rate        Rate
	ports       map[spa.Direction]map[uint32]*pwport.Port

	spaNode spa.Node

	// activation is this node's shared-memory activation record (spec §3
	// "Owns an activation record in shared memory"), backed by a pool
	// block so it is mappable into remote client-node peers.
	activationBlock *pwpool.Block
	activationMap   *pwpool.Mapping
	activation      *ioarea.Activation

	cycle atomic.Uint32 // current cycle index, used to pick state[cycle&1]

	// targets is this node's append-only, read-mostly target list (spec
	// §4.8/§4.9 "target_list"): the set of downstream followers this node
	// signals on completion. Mutated only on the main loop.
	targets atomic.Pointer[[]targetEdge]

	xrunCount uint64
}

// NewNode constructs a Node wrapping spaNode, allocating its activation
// record from pool. The node starts in StateCreating.
func NewNode(global *Global, spaNode spa.Node, pool *pwpool.Pool) (*Node, error) {
	block, err := pool.Alloc(int64(ioarea.ActivationHeaderSize+ioarea.IOPositionSize), pwpool.FlagReadwrite|pwpool.FlagMap)
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "NewNode", err)
	}
	mapping, err := pool.Map(block, 0, block.Size, pwpool.FlagReadwrite)
	if err != nil {
		block.Unref()
		return nil, pwerrno.New(pwerrno.ENOMEM, "NewNode", err)
	}
	n := &Node{
		Global:          global,
		state:           StateCreating,
		ports:           map[spa.Direction]map[uint32]*pwport.Port{spa.DirectionInput: {}, spa.DirectionOutput: {}},
		spaNode:         spaNode,
		activationBlock: block,
		activationMap:   mapping,
		activation:      ioarea.CastActivation(mapping.Ptr),
	}
	empty := []targetEdge{}
	n.targets.Store(&empty)
	return n, nil
}

// Activation returns the node's shared activation record.
func (n *Node) Activation() *ioarea.Activation { return n.activation }

// ActivationMemRef exposes the pool id and mapped (offset, size) backing
// this node's activation record, so a remote peer (package clientnode) can
// be told which previously add_mem'd block to bind via transport() (spec
// §4.10 "Server sends transport(readfd, writefd, activation_mem_id,
// offset, size)").
func (n *Node) ActivationMemRef() (memID uint32, offset, size int64) {
	return n.activationBlock.ID, n.activationMap.Offset, n.activationMap.Size
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SetState transitions the node's lifecycle state.
func (n *Node) SetState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// IsDriver reports whether this node is a driver (spec §4.8 "Driver
// selection. A node becomes a driver when it has a clock source... and
// node.driver = true").
func (n *Node) IsDriver() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.driver
}

// SetDriver marks/unmarks this node as a driver.
func (n *Node) SetDriver(v bool) {
	n.mu.Lock()
	n.driver = v
	n.mu.Unlock()
}

// DrivingNode returns the driver ticking this node, or nil if it drives
// itself (or is unassigned).
func (n *Node) DrivingNode() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.drivingNode
}

// SetDrivingNode assigns the driver that ticks this node (spec §4.8
// "Loop choice per node" / driver-assignment reachability pass).
func (n *Node) SetDrivingNode(d *Node) {
	n.mu.Lock()
	n.drivingNode = d
	n.mu.Unlock()
}

// DataLoop returns the data loop this node's process() runs on, or nil for
// the main loop.
func (n *Node) DataLoop() *pwdataloop.DataLoop {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dataLoop
}

// SetDataLoop reassigns the node's data loop (spec §4.3 "A node may be
// explicitly reassigned via an invoke" — the caller is responsible for
// performing this through Context.MainLoop's Invoke so it lands on the main
// loop).
func (n *Node) SetDataLoop(dl *pwdataloop.DataLoop) {
	n.mu.Lock()
	n.dataLoop = dl
	n.mu.Unlock()
}

// SetRate/SetLatency record the node's negotiated rate and latency.
func (n *Node) SetRate(r Rate)    { n.mu.Lock(); n.rate = r; n.mu.Unlock() }
func (n *Node) SetLatency(r Rate) { n.mu.Lock(); n.latency = r; n.mu.Unlock() }
func (n *Node) Rate() Rate        { n.mu.Lock(); defer n.mu.Unlock(); return n.rate }
func (n *Node) Latency() Rate     { n.mu.Lock(); defer n.mu.Unlock(); return n.latency }

// AddPort registers a port under the node, by direction and id.
func (n *Node) AddPort(p *pwport.Port) {
	n.mu.Lock()
	n.ports[p.Direction][p.ID] = p
	n.mu.Unlock()
}

// RemovePort unregisters a port.
func (n *Node) RemovePort(dir spa.Direction, id uint32) {
	n.mu.Lock()
	delete(n.ports[dir], id)
	n.mu.Unlock()
}

// Port looks up a port by direction and id.
func (n *Node) Port(dir spa.Direction, id uint32) (*pwport.Port, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.ports[dir][id]
	return p, ok
}

// Ports returns a snapshot of every port in the given direction.
func (n *Node) Ports(dir spa.Direction) []*pwport.Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*pwport.Port, 0, len(n.ports[dir]))
	for _, p := range n.ports[dir] {
		out = append(out, p)
	}
	return out
}

// SpaNode returns the wrapped plugin handle.
func (n *Node) SpaNode() spa.Node { return n.spaNode }

// addTarget appends a follower to this node's target list (spec §4.9
// Link.activate "adds the input node to the output node's target_list").
// Must be called from the main loop only.
func (n *Node) addTarget(target *Node) {
	old := n.targets.Load()
	next := append(append([]targetEdge{}, *old...), targetEdge{node: target})
	n.targets.Store(&next)
}

// removeTarget removes target from this node's target list (spec §4.9
// Link deactivate/destroy).
func (n *Node) removeTarget(target *Node) {
	old := n.targets.Load()
	next := make([]targetEdge, 0, len(*old))
	for _, e := range *old {
		if e.node != target {
			next = append(next, e)
		}
	}
	n.targets.Store(&next)
}

// Targets returns a read-only snapshot of this node's target list, safe to
// range over from the data-loop thread (spec §9 "read-only on data loops").
func (n *Node) Targets() []targetEdge {
	return *n.targets.Load()
}

// RecordXrun increments this node's xrun counters on both the Go-side
// accounting and the shared activation record (spec §4.8 invariant).
func (n *Node) RecordXrun(overrunNs uint64) {
	atomic.AddUint64(&n.xrunCount, 1)
	n.activation.RecordXrun(overrunNs)
}

// XrunCount reports the accumulated xrun count.
func (n *Node) XrunCount() uint64 {
	return atomic.LoadUint64(&n.xrunCount)
}

// Close releases the node's activation mapping and block.
func (n *Node) Close(pool *pwpool.Pool) {
	pool.Unmap(n.activationMap)
	n.activationBlock.Unref()
}
