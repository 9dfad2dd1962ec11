// MemCache implements the client-side imported-memory cache (SPEC_FULL.md
// §12, grounded on original_source/pinos/modules/module-client-node/
// remote-node.c's mem-id caching by tag): imported blocks are deduplicated
// and reference-counted by tag (untagged imports by mem_id) so that
// re-sending the same allocation's fd for multiple ports does not mmap it
// twice.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
)

type memKey struct {
	memID uint32
	tag   pwpool.Tag
}

// MemCache caches blocks imported from add_mem messages, keyed by the
// caller-supplied tag, or by the wire-level mem_id the peer assigned when
// the tag is zero. Re-sends of the same tagged block under further mem_ids
// (one add_mem per port sharing an allocation) resolve to the cached block
// and bump its refcount.
type MemCache struct {
	pool *pwpool.Pool

	mu    sync.Mutex
	byKey map[memKey]*pwpool.Block
	byID  map[uint32]*pwpool.Block
}

// NewMemCache constructs an empty cache backed by pool.
func NewMemCache(pool *pwpool.Pool) *MemCache {
	return &MemCache{
		pool:  pool,
		byKey: make(map[memKey]*pwpool.Block),
		byID:  make(map[uint32]*pwpool.Block),
	}
}

// Import adopts fd as memID's backing block, deduplicating against any
// block already cached under tag (or under memID for a zero tag): a repeat
// add_mem for the same key bumps the existing block's refcount, records it
// under memID as well, and closes the newly-received fd instead of mapping
// it twice.
func (c *MemCache) Import(memID uint32, tag pwpool.Tag, fd int, size int64, flags pwpool.Flags) (*pwpool.Block, error) {
	key := memKey{memID: memID}
	if tag != (pwpool.Tag{}) {
		key = memKey{tag: tag}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byKey[key]; ok {
		existing.Ref()
		CloseFD(fd)
		c.byID[memID] = existing
		return existing, nil
	}

	b, err := c.pool.Import(fd, size, flags)
	if err != nil {
		return nil, err
	}
	c.pool.SetTag(b, tag)
	c.byKey[key] = b
	c.byID[memID] = b
	return b, nil
}

// Lookup returns the block previously imported under memID, if any.
func (c *MemCache) Lookup(memID uint32) (*pwpool.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[memID]
	return b, ok
}

// Release drops this cache's reference to memID's block (e.g. on a
// port_set_io release or mix teardown), returning ENOENT if unknown.
func (c *MemCache) Release(memID uint32) error {
	c.mu.Lock()
	b, ok := c.byID[memID]
	if !ok {
		c.mu.Unlock()
		return pwerrno.New(pwerrno.ENOENT, "MemCache.Release", nil)
	}
	delete(c.byID, memID)
	for k, v := range c.byKey {
		if v == b {
			delete(c.byKey, k)
			break
		}
	}
	c.mu.Unlock()
	b.Unref()
	return nil
}

// Clear releases every cached block, e.g. on transport disconnect.
func (c *MemCache) Clear() {
	c.mu.Lock()
	blocks := make([]*pwpool.Block, 0, len(c.byID))
	for _, b := range c.byID {
		blocks = append(blocks, b)
	}
	c.byID = make(map[uint32]*pwpool.Block)
	c.byKey = make(map[memKey]*pwpool.Block)
	c.mu.Unlock()
	for _, b := range blocks {
		b.Unref()
	}
}
