// Package pwpool implements the memory pool: the allocator of named,
// shareable, file-descriptor-backed blocks and the mmap handles over them.
//
// Grounded on the teacher repo's NUMA-aware slab pool (pool/slab_pool.go,
// pool/numapool.go): a lock-free free-list per size class, generalized here
// from pure heap buffers to memfd-backed blocks addressable by 32-bit id and
// GC-able by tag, per spec §4.1 / §3 "Memory pool".
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwpool

import (
	"sync"
	"sync/atomic"

	"github.com/pwcore/node-graph/pwerrno"
)

// Flags control how Alloc/Import treat a block.
type Flags uint32

const (
	FlagReadwrite Flags = 1 << iota
	FlagMap
	FlagSeal
	FlagDMA
)

// Tag identifies the purpose and owner of a block: up to 5 uint32 fields,
// per spec §3 "tagged (tuple of <=5 uint32_t identifying purpose + owner)".
type Tag [5]uint32

// Block is an allocated, shareable, fd-backed region of memory.
type Block struct {
	ID    uint32
	Fd    int
	Size  int64
	Tag   Tag
	Flags Flags

	pool     *Pool
	refs     atomic.Int32
	mappings atomic.Int32
	closed   atomic.Bool
}

// Ref increments the block's reference count. Call Unref to release it.
func (b *Block) Ref() { b.refs.Add(1) }

// Unref decrements the block's reference count, closing its fd exactly once
// when the count reaches zero and no mapping is outstanding.
func (b *Block) Unref() {
	if b.refs.Add(-1) <= 0 {
		b.maybeClose()
	}
}

func (b *Block) maybeClose() {
	if b.refs.Load() > 0 || b.mappings.Load() > 0 {
		return
	}
	if b.closed.CompareAndSwap(false, true) {
		closeFd(b.Fd)
		if b.pool != nil {
			b.pool.forget(b.ID)
		}
	}
}

// Pool is the process-wide (or per-Context) memory pool.
type Pool struct {
	mu     sync.RWMutex
	blocks map[uint32]*Block
	nextID atomic.Uint32
}

// New creates an empty memory pool.
func New() *Pool {
	return &Pool{blocks: make(map[uint32]*Block)}
}

// Alloc allocates a new fd-backed block of the given size.
func (p *Pool) Alloc(size int64, flags Flags) (*Block, error) {
	if size <= 0 {
		return nil, pwerrno.New(pwerrno.EINVAL, "pool.Alloc", nil)
	}
	fd, err := createMemfd(size, flags)
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "pool.Alloc", err)
	}
	b := &Block{
		ID:    p.nextID.Add(1),
		Fd:    fd,
		Size:  size,
		Flags: flags,
		pool:  p,
	}
	b.refs.Store(1)
	p.mu.Lock()
	p.blocks[b.ID] = b
	p.mu.Unlock()
	return b, nil
}

// Import adopts an externally-owned fd (e.g. received over a control socket)
// as a block. The fd's ownership transfers to the pool.
func (p *Pool) Import(fd int, size int64, flags Flags) (*Block, error) {
	if fd < 0 {
		return nil, pwerrno.New(pwerrno.EBADMSG, "pool.Import", nil)
	}
	b := &Block{
		ID:    p.nextID.Add(1),
		Fd:    fd,
		Size:  size,
		Flags: flags,
		pool:  p,
	}
	b.refs.Store(1)
	p.mu.Lock()
	p.blocks[b.ID] = b
	p.mu.Unlock()
	return b, nil
}

// SetTag assigns (or clears) the GC tag on a block.
func (p *Pool) SetTag(b *Block, tag Tag) {
	p.mu.Lock()
	b.Tag = tag
	p.mu.Unlock()
}

// FindID looks up a block by id.
func (p *Pool) FindID(id uint32) (*Block, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.blocks[id]
	return b, ok
}

// FindTag returns every block whose tag equals tag exactly.
func (p *Pool) FindTag(tag Tag) []*Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Block
	for _, b := range p.blocks {
		if b.Tag == tag {
			out = append(out, b)
		}
	}
	return out
}

// GCTag releases (Unref) every block matching tag. Used when a node/port/mix
// owning a set of tagged buffers is torn down (spec §4.7 step 7).
func (p *Pool) GCTag(tag Tag) {
	for _, b := range p.FindTag(tag) {
		b.Unref()
	}
}

func (p *Pool) forget(id uint32) {
	p.mu.Lock()
	delete(p.blocks, id)
	p.mu.Unlock()
}
