// Package graph implements the heart of the engine: Context, Global, Node,
// Link, and the Activation & scheduler state machine (spec §3, §4.8, §4.9).
//
// Grounded on the teacher's facade/hioload.go top-level orchestration style
// (a root struct wiring loops + pools + registries together) and on
// original_source/src/pipewire/context.c for the id/generation allocator
// and teardown-order semantics.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package graph

import "sync"

// idAllocator hands out uint32 ids with free-list reuse, matching
// pipewire/context.c's map_id_alloc rather than a monotonically increasing
// counter forever (SPEC_FULL.md §12 "the Context's global id allocator
// reuses freed ids via a free-list").
type idAllocator struct {
	mu        sync.Mutex
	next      uint32
	free      []uint32
	generation uint32
}

// alloc returns a fresh id and the Context-wide generation at the moment of
// allocation (SPEC_FULL.md §12: "a global's generation is the Context-wide
// monotonic counter at time of registration").
func (a *idAllocator) alloc() (id uint32, generation uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
		return id, a.generation
	}
	id = a.next
	a.next++
	return id, a.generation
}

// release returns id to the free-list for reuse by a later alloc.
func (a *idAllocator) release(id uint32) {
	a.mu.Lock()
	a.free = append(a.free, id)
	a.mu.Unlock()
}

// currentGeneration reports the Context-wide generation counter without
// allocating, for ESTALE comparisons (spec §7 "ESTALE — object registered
// in a later generation than the observer").
func (a *idAllocator) currentGeneration() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}
