package graph

import (
	"testing"

	"github.com/pwcore/node-graph/pwbuffer"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/pwport"
	"github.com/pwcore/node-graph/spa"
)

func audioFormat() spa.Param { return spa.Param{ID: 1} }

func newLinkedPair(t *testing.T, pool *pwpool.Pool) (out, in *Node, outPort, inPort *pwport.Port) {
	t.Helper()
	out, err := NewNode(newGlobal(1, GlobalNode, 1, nil, nil), spa.NewTestSourceNode(), pool)
	if err != nil {
		t.Fatalf("NewNode out: %v", err)
	}
	in, err = NewNode(newGlobal(2, GlobalNode, 1, nil, nil), spa.NewTestSourceNode(), pool)
	if err != nil {
		t.Fatalf("NewNode in: %v", err)
	}
	outPort = pwport.NewPort(0, spa.DirectionOutput, pwport.FlagCanAllocBuffers, []spa.Param{audioFormat()})
	inPort = pwport.NewPort(0, spa.DirectionInput, 0, []spa.Param{audioFormat()})
	outPort.SetBuffersParams([]spa.Param{{ID: 10}})
	inPort.SetBuffersParams([]spa.Param{{ID: 10}})
	out.AddPort(outPort)
	in.AddPort(inPort)
	return out, in, outPort, inPort
}

func TestLinkActivateHappyPath(t *testing.T) {
	pool := pwpool.New()
	out, in, outPort, inPort := newLinkedPair(t, pool)
	defer out.Close(pool)
	defer in.Close(pool)

	l := NewLink(newGlobal(3, GlobalLink, 1, nil, nil),
		LinkEndpoint{Node: out, Port: outPort},
		LinkEndpoint{Node: in, Port: inPort},
		LinkModeBlock)

	can := pwbuffer.CanAlloc{Output: true, Input: false}
	err := l.Activate(pool, []spa.Param{audioFormat()}, []spa.Param{audioFormat()}, can, pwbuffer.PreferOutput)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if l.State() != LinkActive {
		t.Fatalf("want LinkActive, got %v", l.State())
	}
	if !l.AllocatorIsOutput() {
		t.Fatalf("PreferOutput with Output-capable should allocate on output side")
	}

	targets := out.Targets()
	if len(targets) != 1 || targets[0].node != in {
		t.Fatalf("Activate didn't wire out->in target edge: %+v", targets)
	}

	l.Destroy(pool)
	if l.State() != LinkInit {
		t.Fatalf("Destroy should leave LinkInit, got %v", l.State())
	}
	if len(out.Targets()) != 0 {
		t.Fatalf("Destroy should remove the target edge")
	}
}

func TestLinkActivateNoCommonFormatFails(t *testing.T) {
	pool := pwpool.New()
	out, in, outPort, inPort := newLinkedPair(t, pool)
	defer out.Close(pool)
	defer in.Close(pool)

	l := NewLink(newGlobal(3, GlobalLink, 1, nil, nil),
		LinkEndpoint{Node: out, Port: outPort},
		LinkEndpoint{Node: in, Port: inPort},
		LinkModeBlock)

	can := pwbuffer.CanAlloc{Output: true}
	err := l.Activate(pool, []spa.Param{{ID: 99}}, []spa.Param{{ID: 98}}, can, pwbuffer.PreferOutput)
	if err == nil {
		t.Fatalf("expected format negotiation failure")
	}
	if l.State() != LinkInit {
		t.Fatalf("failed Activate must leave state LinkInit, got %v", l.State())
	}
	if len(out.Targets()) != 0 {
		t.Fatalf("failed Activate must not wire a target edge")
	}
}

func TestLinkDeactivateIsIdempotent(t *testing.T) {
	pool := pwpool.New()
	out, in, outPort, inPort := newLinkedPair(t, pool)
	defer out.Close(pool)
	defer in.Close(pool)

	l := NewLink(newGlobal(3, GlobalLink, 1, nil, nil),
		LinkEndpoint{Node: out, Port: outPort},
		LinkEndpoint{Node: in, Port: inPort},
		LinkModeBlock)
	l.Deactivate(pool) // never activated; must be a no-op, not a panic
	if l.State() != LinkInit {
		t.Fatalf("want LinkInit, got %v", l.State())
	}
}
