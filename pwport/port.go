// Package pwport implements Port and Mix (spec §3 "Port", "Mix"; §4.6
// "Port and format negotiation"): a typed endpoint on a node carrying IO
// slots and buffers, and its per-peer sub-endpoints.
//
// Grounded on the teacher's api package's endpoint/route abstractions
// (named, typed, registrable endpoints) generalized here to PipeWire's
// direction + dynamic-mix-fan-out model, and on original_source's
// spa-alsa-sink.c / spa-v4l2-source.c port structures for the
// EnumFormat/Format/Buffers param sequencing order.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwport

import (
	"sync"

	"github.com/pwcore/node-graph/ioarea"
	"github.com/pwcore/node-graph/pwbuffer"
	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/spa"
)

// InvalidMixID is the sentinel mix id a port carries when it is not marked
// DYNAMIC_PORTS (spec §4.6 "otherwise mix id is INVALID and the port
// carries one implicit mix").
const InvalidMixID = ^uint32(0)

// PortFlags mark negotiable capabilities/behaviors of a port.
type PortFlags uint32

const (
	FlagCanAllocBuffers PortFlags = 1 << iota
	FlagDynamicPorts
)

// Mix is a per-link sub-endpoint of a Port (spec §3 "Mix"): it carries its
// own IO-buffers area and its own buffer free-list, enabling fan-in/fan-out
// without serializing through a single slot.
type Mix struct {
	ID       uint32
	PeerID   uint32 // the remote node's global id this mix connects to
	IOArea   *ioarea.IOBuffers
	FreeList *pwbuffer.FreeList
	Buffers  []*pwbuffer.Buffer
}

// Port is a direction+id endpoint on a node (spec §3 "Port"). It holds the
// param list (EnumFormat, Format, Buffers entries), the negotiated format,
// and the set of Mixes currently bound.
type Port struct {
	ID        uint32
	Direction spa.Direction
	Flags     PortFlags

	mu               sync.Mutex
	enumFormats      []spa.Param // candidate formats advertised (EnumFormat)
	negotiatedFormat *spa.Param
	buffersParams    []spa.Param // candidate Buffers params advertised after format negotiation
	mixes            map[uint32]*Mix
}

// NewPort constructs a port with the given advertised EnumFormat params.
func NewPort(id uint32, dir spa.Direction, flags PortFlags, enumFormats []spa.Param) *Port {
	return &Port{
		ID:          id,
		Direction:   dir,
		Flags:       flags,
		enumFormats: enumFormats,
		mixes:       make(map[uint32]*Mix),
	}
}

// SetBuffersParams records the Buffers param candidates this port exposes
// once a format has been negotiated (spec §4.6 "each port exposes Buffers
// params describing buffer count/size/stride/blocks constraints").
func (p *Port) SetBuffersParams(params []spa.Param) {
	p.mu.Lock()
	p.buffersParams = params
	p.mu.Unlock()
}

// NegotiatedFormat returns the format this port has settled on, if any.
func (p *Port) NegotiatedFormat() (spa.Param, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.negotiatedFormat == nil {
		return spa.Param{}, false
	}
	return *p.negotiatedFormat, true
}

// NegotiateFormat intersects this port's advertised formats with peer's,
// picking the first common id (spec §4.6 "a client narrows with
// set_param(Format, ...)"; Link.Activate calls this on both ports with each
// other's enumerated formats). Returns EINVAL if no common format exists
// (spec §8 S5).
func (p *Port) NegotiateFormat(peerFormats []spa.Param) (spa.Param, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, mine := range p.enumFormats {
		for _, theirs := range peerFormats {
			if mine.ID == theirs.ID {
				p.negotiatedFormat = &mine
				return mine, nil
			}
		}
	}
	return spa.Param{}, pwerrno.New(pwerrno.EINVAL, "Port.NegotiateFormat", nil)
}

// NegotiateBuffers intersects this port's Buffers param candidates with
// peer's, per the Link's reconciliation rule (spec §4.6 "pick buffers param
// that intersects; prefer the allocator side"). allocatorIsSelf indicates
// whether this port is the designated allocator, breaking ties toward its
// own first matching candidate.
func (p *Port) NegotiateBuffers(peerParams []spa.Param, allocatorIsSelf bool) (spa.Param, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mine, theirs := p.buffersParams, peerParams
	if !allocatorIsSelf {
		mine, theirs = theirs, mine
	}
	for _, a := range mine {
		for _, b := range theirs {
			if a.ID == b.ID {
				return a, nil
			}
		}
	}
	return spa.Param{}, pwerrno.New(pwerrno.ENOTSUP, "Port.NegotiateBuffers", nil)
}

// NewMix allocates a mix id for a new link. For a non-DYNAMIC_PORTS port,
// always returns the single implicit mix (InvalidMixID), creating it on
// first use. For a DYNAMIC_PORTS port, each call allocates a fresh id
// (spec §4.6 "for a port marked DYNAMIC_PORTS, each Link creates a unique
// mix id").
func (p *Port) NewMix(peerID uint32) *Mix {
	p.mu.Lock()
	defer p.mu.Unlock()

	var id uint32
	if p.Flags&FlagDynamicPorts != 0 {
		id = uint32(len(p.mixes))
		for {
			if _, exists := p.mixes[id]; !exists {
				break
			}
			id++
		}
	} else {
		id = InvalidMixID
	}
	m := &Mix{ID: id, PeerID: peerID}
	p.mixes[id] = m
	return m
}

// Mix returns the mix with the given id, if bound.
func (p *Port) Mix(id uint32) (*Mix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mixes[id]
	return m, ok
}

// RemoveMix unbinds a mix, e.g. on link deactivation.
func (p *Port) RemoveMix(id uint32) {
	p.mu.Lock()
	delete(p.mixes, id)
	p.mu.Unlock()
}

// Mixes returns a snapshot of all currently bound mixes.
func (p *Port) Mixes() []*Mix {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Mix, 0, len(p.mixes))
	for _, m := range p.mixes {
		out = append(out, m)
	}
	return out
}
