package graph

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwloop"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/spa"
)

// Context is the process-wide root runtime (spec §3 "Context — process-
// wide root"). It owns the main loop, 0..N data loops, the memory pool,
// the plugin registry, a global id map, and the node/link lists.
//
// Grounded on the teacher's facade/hioload.go top-level wiring struct,
// generalized from a single reactor+pool pair to PipeWire's multi-loop
// Context.
type Context struct {
	Log *zap.Logger

	MainLoop *pwloop.Loop
	Pool     *pwpool.Pool
	Registry *spa.Registry

	ids idAllocator

	mu        sync.RWMutex
	globals   map[uint32]*Global
	nodes     map[uint32]*Node
	links     map[uint32]*Link
	dataLoops map[string]*dataLoopEntry

	scheduler    *Scheduler
	recalculator *Recalculator
	lruTick      uint64
}

type dataLoopEntry struct {
	loop    *pwdataloop.DataLoop
	class   string
	lastLRU uint64
}

// New constructs a Context with its main loop, memory pool, and SPA
// registry ready; no data loops are registered yet (call AddDataLoop).
func New(log *zap.Logger) (*Context, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mainLoop, err := pwloop.New("main")
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "graph.New", err)
	}
	c := &Context{
		Log:       log,
		MainLoop:  mainLoop,
		Pool:      pwpool.New(),
		Registry:  spa.NewRegistry(),
		globals:   make(map[uint32]*Global),
		nodes:     make(map[uint32]*Node),
		links:     make(map[uint32]*Link),
		dataLoops: make(map[string]*dataLoopEntry),
	}
	c.scheduler = NewScheduler(nil)
	c.recalculator = NewRecalculator(c.recalculate, rate.Every(0))
	return c, nil
}

// AddDataLoop registers a named data loop under the given loop.class (spec
// §4.3 "Node-to-loop assignment... the loop whose name/class best matches
// the node's requested loop.name/loop.class").
func (c *Context) AddDataLoop(name, class string, tu pwdataloop.ThreadUtils, props pwdataloop.Props) (*pwdataloop.DataLoop, error) {
	dl, err := pwdataloop.New(name, tu, props)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.dataLoops[name] = &dataLoopEntry{loop: dl, class: class}
	c.mu.Unlock()
	return dl, nil
}

// AssignLoop picks the data loop whose name or class best matches the
// request; ties are broken by least-recently-used (spec §4.3). Returns nil
// if no data loops are registered (the caller falls back to the main loop).
func (c *Context) AssignLoop(wantName, wantClass string) *pwdataloop.DataLoop {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.dataLoops) == 0 {
		return nil
	}
	if wantName != "" {
		if e, ok := c.dataLoops[wantName]; ok {
			e.lastLRU = c.nextLRUTickLocked()
			return e.loop
		}
	}
	var candidates []*dataLoopEntry
	for _, e := range c.dataLoops {
		if wantClass == "" || e.class == wantClass {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		for _, e := range c.dataLoops {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastLRU < candidates[j].lastLRU })
	chosen := candidates[0]
	chosen.lastLRU = c.nextLRUTickLocked()
	return chosen.loop
}

func (c *Context) nextLRUTickLocked() uint64 {
	c.lruTick++
	return c.lruTick
}

// RegisterGlobal allocates an id/generation pair and installs a new Global
// of the given type wrapping obj (spec §3 "Generation monotonically
// increases on registration").
func (c *Context) RegisterGlobal(typ GlobalType, obj any, props map[string]string) *Global {
	id, gen := c.ids.alloc()
	g := newGlobal(id, typ, gen, obj, props)
	c.mu.Lock()
	c.globals[id] = g
	c.mu.Unlock()
	return g
}

// UnregisterGlobal removes a Global and releases its id for reuse.
func (c *Context) UnregisterGlobal(id uint32) {
	c.mu.Lock()
	delete(c.globals, id)
	c.mu.Unlock()
	c.ids.release(id)
}

// Global looks up a registered Global by id.
func (c *Context) Global(id uint32) (*Global, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.globals[id]
	return g, ok
}

// AddNode registers spaNode as a graph Node, assigning it to the best-
// matching data loop per loopName/loopClass.
func (c *Context) AddNode(spaNode spa.Node, loopName, loopClass string, props map[string]string) (*Node, error) {
	global := c.RegisterGlobal(GlobalNode, nil, props)
	n, err := NewNode(global, spaNode, c.Pool)
	if err != nil {
		c.UnregisterGlobal(global.ID)
		return nil, err
	}
	global.obj = n
	n.SetDataLoop(c.AssignLoop(loopName, loopClass))
	n.SetState(StateSuspended)

	c.mu.Lock()
	c.nodes[global.ID] = n
	c.mu.Unlock()

	c.recalculator.Request()
	return n, nil
}

// RemoveNode destroys every link that references n, then tears down and
// unregisters the node.
func (c *Context) RemoveNode(n *Node) {
	c.mu.Lock()
	delete(c.nodes, n.Global.ID)
	var stale []*Link
	for _, l := range c.links {
		if l.OutNode == n || l.InNode == n {
			stale = append(stale, l)
		}
	}
	c.mu.Unlock()
	for _, l := range stale {
		c.RemoveLink(l)
	}
	n.Close(c.Pool)
	c.UnregisterGlobal(n.Global.ID)
	c.recalculator.Request()
}

// AddLink registers a new inactive Link between out and in.
func (c *Context) AddLink(out, in LinkEndpoint, mode LinkMode, props map[string]string) *Link {
	global := c.RegisterGlobal(GlobalLink, nil, props)
	l := NewLink(global, out, in, mode)
	global.obj = l
	c.mu.Lock()
	c.links[global.ID] = l
	c.mu.Unlock()
	c.recalculator.Request()
	return l
}

// RemoveLink tears down and unregisters a link.
func (c *Context) RemoveLink(l *Link) {
	l.Destroy(c.Pool)
	c.mu.Lock()
	delete(c.links, l.Global.ID)
	c.mu.Unlock()
	c.UnregisterGlobal(l.Global.ID)
	c.recalculator.Request()
}

// Nodes returns a snapshot of every registered node.
func (c *Context) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// Scheduler returns the Context's scheduler, for driving cycles in tests
// and from the main daemon's driver timer callback.
func (c *Context) Scheduler() *Scheduler { return c.scheduler }

// SetMetrics installs the telemetry sink every subsequent cycle reports
// xrun/cycle/process events through (SPEC_FULL.md §11).
func (c *Context) SetMetrics(m MetricsSink) { c.scheduler.SetMetrics(m) }

// recalculate re-derives driver assignment via a reachability pass over
// links (spec §4.8 "Driver selection"): drivers are visited in ascending id
// order, and each claims every node reachable from it along target edges
// that no earlier driver has claimed, so where two drivers reach the same
// node the lower id wins. Nodes carry no driver priority; id order alone
// decides.
func (c *Context) recalculate() {
	c.mu.RLock()
	nodes := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Global.ID < nodes[j].Global.ID })

	visited := make(map[*Node]bool)
	for _, n := range nodes {
		if visited[n] || !n.IsDriver() {
			continue
		}
		for _, follower := range Subgraph(n) {
			if follower == n {
				continue
			}
			if !visited[follower] {
				follower.SetDrivingNode(n)
				visited[follower] = true
			}
		}
		visited[n] = true
	}
}

// Close tears down the Context in reverse dependency order (spec §3
// "destroyed tears down everything in reverse dependency order"),
// collecting every component's shutdown error into one multierror instead
// of stopping at the first (SPEC_FULL.md §11, donor:
// r3e-network-service_layer).
func (c *Context) Close() error {
	var result *multierror.Error

	c.mu.Lock()
	links := make([]*Link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	nodes := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	dataLoops := make([]*dataLoopEntry, 0, len(c.dataLoops))
	for _, dl := range c.dataLoops {
		dataLoops = append(dataLoops, dl)
	}
	c.mu.Unlock()

	for _, l := range links {
		l.Destroy(c.Pool)
	}
	for _, n := range nodes {
		n.Close(c.Pool)
	}
	for _, dl := range dataLoops {
		if err := dl.loop.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.MainLoop.Stop()
	return result.ErrorOrNil()
}
