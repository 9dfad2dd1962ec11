package pwport_test

import (
	"testing"

	"github.com/pwcore/node-graph/pwport"
	"github.com/pwcore/node-graph/spa"
)

func TestNegotiateFormatCommonCase(t *testing.T) {
	out := pwport.NewPort(0, spa.DirectionOutput, 0, []spa.Param{{ID: 1}, {ID: 2}})
	got, err := out.NegotiateFormat([]spa.Param{{ID: 2}, {ID: 3}})
	if err != nil {
		t.Fatalf("NegotiateFormat: %v", err)
	}
	if got.ID != 2 {
		t.Fatalf("negotiated format id = %d, want 2", got.ID)
	}
	if nf, ok := out.NegotiatedFormat(); !ok || nf.ID != 2 {
		t.Fatalf("NegotiatedFormat not recorded correctly")
	}
}

func TestNegotiateFormatNoCommonFormat(t *testing.T) {
	out := pwport.NewPort(0, spa.DirectionOutput, 0, []spa.Param{{ID: 1}})
	_, err := out.NegotiateFormat([]spa.Param{{ID: 99}})
	if err == nil {
		t.Fatal("expected EINVAL-class error for disjoint formats (spec §8 S5)")
	}
}

func TestNegotiateBuffersPrefersAllocatorSide(t *testing.T) {
	p := pwport.NewPort(0, spa.DirectionOutput, pwport.FlagCanAllocBuffers, nil)
	p.SetBuffersParams([]spa.Param{{ID: 10, Payload: []byte("mine")}})

	got, err := p.NegotiateBuffers([]spa.Param{{ID: 10, Payload: []byte("theirs")}}, true)
	if err != nil {
		t.Fatalf("NegotiateBuffers: %v", err)
	}
	if string(got.Payload) != "mine" {
		t.Fatalf("allocator side's candidate should win, got %q", got.Payload)
	}
}

func TestImplicitMixIDForNonDynamicPort(t *testing.T) {
	p := pwport.NewPort(0, spa.DirectionInput, 0, nil)
	m1 := p.NewMix(5)
	m2 := p.NewMix(6)
	if m1.ID != pwport.InvalidMixID || m2.ID != pwport.InvalidMixID {
		t.Fatalf("non-dynamic port must always use the implicit mix id")
	}
}

func TestDynamicPortAllocatesDistinctMixIDs(t *testing.T) {
	p := pwport.NewPort(0, spa.DirectionInput, pwport.FlagDynamicPorts, nil)
	m1 := p.NewMix(5)
	m2 := p.NewMix(6)
	if m1.ID == m2.ID {
		t.Fatalf("dynamic port mixes must have distinct ids, got %d twice", m1.ID)
	}
	if len(p.Mixes()) != 2 {
		t.Fatalf("Mixes() = %d, want 2", len(p.Mixes()))
	}
	p.RemoveMix(m1.ID)
	if len(p.Mixes()) != 1 {
		t.Fatalf("Mixes() after RemoveMix = %d, want 1", len(p.Mixes()))
	}
}
