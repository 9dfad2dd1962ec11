// Package pwbuffer implements the Buffer descriptor and its lifecycle
// (spec §4.7 "Buffer lifecycle", §3 "Buffer"): one or more data blocks
// backed by the memory pool, the per-cycle Chunk payload window, and the
// allocator-policy knob a Link uses to pick which side allocates.
//
// Grounded on the teacher's core/buffer package (BufferBatch, the
// size-classed pool) for the batching/free-list idiom, generalized from
// fixed-size network buffers to PipeWire's variable data-type (MemPtr /
// MemFd / DmaBuf / MemId) descriptors.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwbuffer

import (
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
)

// DataType names how a Data's backing memory is referenced (spec §3
// "each data has: type (MemPtr | MemFd | DmaBuf | MemId)").
type DataType int

const (
	DataTypeMemPtr DataType = iota
	DataTypeMemFd
	DataTypeDmaBuf
	DataTypeMemId
)

// ChunkFlags mark per-cycle payload window properties.
type ChunkFlags uint32

const (
	ChunkFlagCorrupted ChunkFlags = 1 << iota
)

// Chunk is the per-cycle payload window within a Data block (spec §3
// "Chunk = {offset, size, stride} per cycle").
type Chunk struct {
	Offset uint32
	Size   uint32
	Stride int32
	Flags  ChunkFlags
}

// Data is one data block of a Buffer: a reference to pooled (or externally
// supplied) memory plus the chunk describing the currently valid payload
// within it.
type Data struct {
	Type     DataType
	Block    *pwpool.Block // non-nil for MemFd/DmaBuf-backed data
	Mapping  *pwpool.Mapping
	MapID    uint32 // populated for MemId-type cross-process references
	MaxSize  uint32
	Chunk    Chunk
}

// Meta is an out-of-band descriptor attached to a Buffer (Header,
// Ringbuffer, VideoCrop, ...); the core treats its payload opaquely.
type Meta struct {
	Type    uint32
	Payload []byte
}

// Buffer is the descriptor negotiated and exchanged between a link's two
// sides (spec §3 "Buffer"). It satisfies spa.Buffer (an empty marker
// interface spa defines to avoid an import cycle).
type Buffer struct {
	ID    uint32
	Metas []Meta
	Datas []Data

	mu   sync.Mutex
	refs int
}

// Ref increments the buffer's use-count: it is referenced while any mix on
// a link still holds it (spec §3 Buffer lifecycle "use-counted while
// referenced by any mix on a link").
func (b *Buffer) Ref() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

// Unref decrements the use-count, returning true if this was the last
// reference (the caller is then responsible for releasing the buffer's
// pool blocks via the owning Pool).
func (b *Buffer) Unref() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs <= 0 {
		return true
	}
	b.refs--
	return b.refs == 0
}

// Refs reports the current use-count, for tests and diagnostics.
func (b *Buffer) Refs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

// AllocatorPolicy resolves which side of a Link allocates buffers when both
// ports advertise CAN_ALLOC_BUFFERS (spec §9 open question 2, decided in
// SPEC_FULL.md §14.2).
type AllocatorPolicy int

const (
	PreferOutput AllocatorPolicy = iota
	PreferInput
	PreferExplicit
)

// CanAlloc marks which side(s) of a prospective link are willing to
// allocate buffers (spec §4.7 step 1 "matching CAN_ALLOC_BUFFERS flags").
type CanAlloc struct {
	Output bool
	Input  bool
}

// ChooseAllocator implements the Link's allocator-selection rule (spec
// §4.7 step 1, policy resolved per SPEC_FULL.md §14.2): PreferOutput and
// PreferInput pick a side if it's willing, falling back to the other side
// if not; PreferExplicit requires exactly one side willing and fails
// otherwise, modeling a property-forced override
// (spa-alsa-sink.c/spa-v4l2-source.c, SPEC_FULL.md §12).
func ChooseAllocator(policy AllocatorPolicy, can CanAlloc) (outputAllocates bool, err error) {
	switch policy {
	case PreferOutput:
		if can.Output {
			return true, nil
		}
		if can.Input {
			return false, nil
		}
	case PreferInput:
		if can.Input {
			return false, nil
		}
		if can.Output {
			return true, nil
		}
	case PreferExplicit:
		if can.Output && !can.Input {
			return true, nil
		}
		if can.Input && !can.Output {
			return false, nil
		}
	}
	return false, pwerrno.New(pwerrno.ENOTSUP, "ChooseAllocator", nil)
}

// Tag builds the pool tag a buffer's shared blocks are registered under
// (spec §4.7 step 2 "Shared blocks are added to the pool with tag
// (node_id, direction, port_id, mix_id, buffer_id)").
func Tag(nodeID uint32, direction uint32, portID, mixID, bufferID uint32) pwpool.Tag {
	return pwpool.Tag{nodeID, direction, portID, mixID, bufferID}
}
