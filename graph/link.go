package graph

import (
	"sync"

	"github.com/pwcore/node-graph/ioarea"
	"github.com/pwcore/node-graph/pwbuffer"
	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/pwport"
	"github.com/pwcore/node-graph/spa"
)

// LinkMode controls overrun behavior on the shared IO-buffers slot (spec
// §4.7 "Overruns").
type LinkMode int

const (
	LinkModeBlock LinkMode = iota
	LinkModeDrop
	LinkModeAsync
)

// LinkState tracks a Link's activation lifecycle.
type LinkState int

const (
	LinkInit LinkState = iota
	LinkActive
	LinkError
)

// Link is a directed edge between an output port+mix and an input
// port+mix (spec §3 "Link"). It owns the shared IO-buffers area the two
// mixes use to hand off buffer ids.
type Link struct {
	Global *Global

	OutNode *Node
	OutPort *pwport.Port
	OutMix  *pwport.Mix

	InNode *Node
	InPort *pwport.Port
	InMix  *pwport.Mix

	Mode LinkMode

	mu           sync.Mutex
	state        LinkState
	ioBlock      *pwpool.Block
	ioMapping    *pwpool.Mapping
	ioArea       *ioarea.IOBuffers
	format       spa.Param
	buffers      []*pwbuffer.Buffer
	allocatorOut bool
}

// LinkEndpoint names one side of a prospective link.
type LinkEndpoint struct {
	Node *Node
	Port *pwport.Port
}

// NewLink constructs an inactive Link between out and in. Activate must be
// called to negotiate the format, choose the allocating side and wire
// activation edges.
func NewLink(global *Global, out, in LinkEndpoint, mode LinkMode) *Link {
	return &Link{
		Global:  global,
		OutNode: out.Node,
		OutPort: out.Port,
		InNode:  in.Node,
		InPort:  in.Port,
		Mode:    mode,
		state:   LinkInit,
	}
}

// State reports the link's current lifecycle state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Activate negotiates the format between the two ports, chooses which side
// allocates buffers (pwbuffer.ChooseAllocator), allocates the IO-buffers
// area from pool (mapped into both peers), and wires the activation edge
// (spec §4.9 "Operations... activate()"). The ports' Buffers params are not
// intersected here (Port.NegotiateBuffers is not called) and no buffers are
// allocated; see SetBuffers. peerOutFormats/
// peerInFormats are each port's advertised EnumFormat candidates, exchanged
// by the caller (the main loop) ahead of time. On failure the link's state
// stays LinkInit and no IO-buffers area or activation edges are added
// (spec §8 S5).
func (l *Link) Activate(pool *pwpool.Pool, peerOutFormats, peerInFormats []spa.Param, can pwbuffer.CanAlloc, policy pwbuffer.AllocatorPolicy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LinkActive {
		return nil
	}

	outFmt, err := l.OutPort.NegotiateFormat(peerInFormats)
	if err != nil {
		return pwerrno.New(pwerrno.EINVAL, "Link.Activate", err)
	}
	if _, err := l.InPort.NegotiateFormat(peerOutFormats); err != nil {
		return pwerrno.New(pwerrno.EINVAL, "Link.Activate", err)
	}
	l.format = outFmt

	outputAllocates, err := pwbuffer.ChooseAllocator(policy, can)
	if err != nil {
		return pwerrno.New(pwerrno.ENOTSUP, "Link.Activate", err)
	}
	l.allocatorOut = outputAllocates

	block, err := pool.Alloc(int64(ioarea.IOBuffersSize), pwpool.FlagReadwrite|pwpool.FlagMap)
	if err != nil {
		return pwerrno.New(pwerrno.ENOMEM, "Link.Activate", err)
	}
	mapping, err := pool.Map(block, 0, block.Size, pwpool.FlagReadwrite)
	if err != nil {
		block.Unref()
		return pwerrno.New(pwerrno.ENOMEM, "Link.Activate", err)
	}
	l.ioBlock = block
	l.ioMapping = mapping
	l.ioArea = ioarea.CastIOBuffers(mapping.Ptr)

	outMix := l.OutPort.NewMix(l.InNode.Global.ID)
	inMix := l.InPort.NewMix(l.OutNode.Global.ID)
	outMix.IOArea = l.ioArea
	inMix.IOArea = l.ioArea
	l.OutMix = outMix
	l.InMix = inMix

	// spec §4.9: "Adds the input node to the output node's target_list and
	// increments the input's required count." (required is re-derived by
	// the arm phase from target-list reachability, see scheduler.go.)
	l.OutNode.addTarget(l.InNode)

	l.state = LinkActive
	return nil
}

// Deactivate tears down the activation edge and releases the IO-buffers
// area (spec §4.9 "On deactivate the reverse").
func (l *Link) Deactivate(pool *pwpool.Pool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkActive {
		return
	}
	l.OutNode.removeTarget(l.InNode)
	if l.OutMix != nil {
		l.OutPort.RemoveMix(l.OutMix.ID)
	}
	if l.InMix != nil {
		l.InPort.RemoveMix(l.InMix.ID)
	}
	if l.ioMapping != nil {
		pool.Unmap(l.ioMapping)
	}
	if l.ioBlock != nil {
		l.ioBlock.Unref()
	}
	l.ioMapping = nil
	l.ioBlock = nil
	l.ioArea = nil
	l.buffers = nil
	l.state = LinkInit
}

// Destroy unconditionally deactivates first (spec §4.9 "destroy
// unconditionally deactivates first").
func (l *Link) Destroy(pool *pwpool.Pool) {
	l.Deactivate(pool)
}

// SetBuffers records the buffer set this link allocated (called by whoever
// drives Link through the pwbuffer.Allocate path once format/buffers have
// negotiated).
func (l *Link) SetBuffers(buffers []*pwbuffer.Buffer) {
	l.mu.Lock()
	l.buffers = buffers
	l.mu.Unlock()
}

// Buffers returns the buffer set currently bound to this link.
func (l *Link) Buffers() []*pwbuffer.Buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*pwbuffer.Buffer(nil), l.buffers...)
}

// AllocatorIsOutput reports which side was chosen to allocate buffers.
func (l *Link) AllocatorIsOutput() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocatorOut
}
