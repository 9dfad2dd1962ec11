package pwpool

import (
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
)

// mapKey identifies a unique (fd, offset, size) mmap region so that repeated
// Map calls over the same region share one underlying mapping, per spec
// §4.1 "ref-counting all mmap handles over the same (fd, offset, size)
// tuple".
type mapKey struct {
	fd     int
	offset int64
	size   int64
}

// Mapping is a refcounted view over a Block's fd at a given offset/size.
type Mapping struct {
	Ptr    []byte
	Block  *Block
	Offset int64
	Size   int64

	key  mapKey
	refs int
}

// Bytes returns the mapped region as a byte slice.
func (m *Mapping) Bytes() []byte { return m.Ptr }

var (
	mapRegistryMu sync.Mutex
	mapRegistry   = make(map[mapKey]*Mapping)
)

// Map mmaps a region of block at (offset, size) with flags, returning a
// refcounted Mapping. A second Map over the identical (fd, offset, size)
// tuple returns the existing handle with its refcount bumped.
func (p *Pool) Map(b *Block, offset, size int64, flags Flags) (*Mapping, error) {
	if b == nil || b.closed.Load() {
		return nil, pwerrno.New(pwerrno.EBADMSG, "pool.Map", nil)
	}
	if flags&FlagReadwrite != 0 && b.Flags&FlagReadwrite == 0 {
		return nil, pwerrno.New(pwerrno.EACCES, "pool.Map", nil)
	}
	key := mapKey{fd: b.Fd, offset: offset, size: size}

	mapRegistryMu.Lock()
	defer mapRegistryMu.Unlock()

	if existing, ok := mapRegistry[key]; ok {
		existing.refs++
		b.mappings.Add(1)
		return existing, nil
	}

	ptr, err := mmapRegion(b.Fd, offset, size, flags)
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "pool.Map", err)
	}
	m := &Mapping{Ptr: ptr, Block: b, Offset: offset, Size: size, key: key, refs: 1}
	mapRegistry[key] = m
	b.mappings.Add(1)
	return m, nil
}

// Unmap releases one reference to a Mapping, munmapping the region once the
// last reference is released. Mappings never outlive their owning block:
// callers must not use m.Ptr after Unmap drops the last reference.
func (p *Pool) Unmap(m *Mapping) error {
	mapRegistryMu.Lock()
	defer mapRegistryMu.Unlock()

	m.refs--
	if m.refs > 0 {
		m.Block.mappings.Add(-1)
		return nil
	}
	delete(mapRegistry, m.key)
	err := munmapRegion(m.Ptr)
	m.Block.mappings.Add(-1)
	m.Block.maybeClose()
	return err
}
