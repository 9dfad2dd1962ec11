package pwbuffer_test

import (
	"testing"

	"github.com/pwcore/node-graph/pwbuffer"
	"github.com/pwcore/node-graph/pwpool"
)

func TestAllocateAndRelease(t *testing.T) {
	pool := pwpool.New()
	bufs, err := pwbuffer.Allocate(pool, 1, 0, 2, 0, pwbuffer.AllocSpec{Count: 3, Size: 4096, Stride: 4, Blocks: 1})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(bufs) != 3 {
		t.Fatalf("len(bufs) = %d, want 3", len(bufs))
	}

	tagged := pool.FindTag(pwbuffer.Tag(1, 0, 2, 0, 0))
	if len(tagged) != 1 {
		t.Fatalf("FindTag for buffer 0 = %d blocks, want 1", len(tagged))
	}

	pwbuffer.Release(bufs)
	if got := pool.FindTag(pwbuffer.Tag(1, 0, 2, 0, 0)); len(got) != 0 {
		t.Fatalf("blocks still findable after Release: %d", len(got))
	}
}

func TestFreeListRoundTrip(t *testing.T) {
	b1 := &pwbuffer.Buffer{ID: 0}
	b2 := &pwbuffer.Buffer{ID: 1}
	fl := pwbuffer.NewFreeList([]*pwbuffer.Buffer{b1, b2})

	if fl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", fl.Len())
	}
	got := fl.Get()
	if got != b1 {
		t.Fatalf("Get() did not return FIFO head")
	}
	if fl.Len() != 1 {
		t.Fatalf("Len after Get = %d, want 1", fl.Len())
	}

	fl.Put(got)
	if fl.Len() != 2 {
		t.Fatalf("Len after Put = %d, want 2", fl.Len())
	}
}

func TestBufferRefcount(t *testing.T) {
	b := &pwbuffer.Buffer{ID: 0}
	b.Ref()
	b.Ref()
	if b.Unref() {
		t.Fatal("Unref reported last-ref too early")
	}
	if !b.Unref() {
		t.Fatal("Unref did not report last-ref")
	}
}

func TestChooseAllocatorPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy pwbuffer.AllocatorPolicy
		can    pwbuffer.CanAlloc
		want   bool
		ok     bool
	}{
		{"prefer-output-both", pwbuffer.PreferOutput, pwbuffer.CanAlloc{Output: true, Input: true}, true, true},
		{"prefer-output-fallback-input", pwbuffer.PreferOutput, pwbuffer.CanAlloc{Output: false, Input: true}, false, true},
		{"prefer-input-both", pwbuffer.PreferInput, pwbuffer.CanAlloc{Output: true, Input: true}, false, true},
		{"explicit-only-output", pwbuffer.PreferExplicit, pwbuffer.CanAlloc{Output: true, Input: false}, true, true},
		{"explicit-ambiguous", pwbuffer.PreferExplicit, pwbuffer.CanAlloc{Output: true, Input: true}, false, false},
		{"neither-side", pwbuffer.PreferOutput, pwbuffer.CanAlloc{}, false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := pwbuffer.ChooseAllocator(c.policy, c.can)
			if c.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !c.ok && err == nil {
				t.Fatalf("expected error, got none")
			}
			if c.ok && got != c.want {
				t.Fatalf("outputAllocates = %v, want %v", got, c.want)
			}
		})
	}
}
