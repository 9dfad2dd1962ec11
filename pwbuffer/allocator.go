package pwbuffer

import (
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
)

// AllocSpec describes the buffer layout to construct: n buffers of size
// bytes each, split into blocks data blocks with the given stride (spec
// §4.5 port_alloc_buffers contract).
type AllocSpec struct {
	Count  uint32
	Size   uint32
	Stride uint32
	Blocks uint32
}

// Allocate constructs spec.Count buffers, each with spec.Blocks data
// blocks drawn from pool, tagged for (nodeID, direction, portID, mixID)
// (spec §4.7 steps 1-2). Every data block is a single memfd-backed
// pwpool.Block; each Data.Chunk starts empty (Offset 0, Size 0) with the
// requested Stride.
func Allocate(pool *pwpool.Pool, nodeID uint32, direction uint32, portID, mixID uint32, spec AllocSpec) ([]*Buffer, error) {
	if spec.Count == 0 || spec.Size == 0 || spec.Blocks == 0 {
		return nil, pwerrno.New(pwerrno.EINVAL, "pwbuffer.Allocate", nil)
	}
	buffers := make([]*Buffer, 0, spec.Count)
	for i := uint32(0); i < spec.Count; i++ {
		buf := &Buffer{ID: i, Datas: make([]Data, spec.Blocks)}
		for j := uint32(0); j < spec.Blocks; j++ {
			block, err := pool.Alloc(int64(spec.Size), pwpool.FlagReadwrite|pwpool.FlagMap)
			if err != nil {
				return nil, err
			}
			pool.SetTag(block, Tag(nodeID, direction, portID, mixID, i))
			buf.Datas[j] = Data{
				Type:    DataTypeMemFd,
				Block:   block,
				MaxSize: spec.Size,
				Chunk:   Chunk{Offset: 0, Size: 0, Stride: int32(spec.Stride)},
			}
		}
		buffers = append(buffers, buf)
	}
	return buffers, nil
}

// Release drops the pool references held by every data block in buffers
// (spec §4.7 step 7 "allocator frees the pool blocks after the last
// reference"). Safe to call once per buffer set, after every mix referencing
// these buffers has called PortUseBuffers(nil).
func Release(buffers []*Buffer) {
	for _, b := range buffers {
		for _, d := range b.Datas {
			if d.Block != nil {
				d.Block.Unref()
			}
		}
	}
}

// FreeList is a single mix's queue of buffers available for the producer to
// dequeue (spec §4.7 step 4 "port queues them into a free-list"). Safe for
// concurrent Put/Get from the data-loop thread and, during teardown, the
// main loop.
type FreeList struct {
	mu      sync.Mutex
	buffers []*Buffer
}

// NewFreeList seeds a FreeList with the given buffers, as happens right
// after PortUseBuffers.
func NewFreeList(buffers []*Buffer) *FreeList {
	fl := &FreeList{buffers: append([]*Buffer(nil), buffers...)}
	return fl
}

// Get dequeues a buffer, or returns nil if none are available (the producer
// must then skip the cycle or record an xrun depending on link mode, spec
// §4.7 "Overruns").
func (fl *FreeList) Get() *Buffer {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if len(fl.buffers) == 0 {
		return nil
	}
	b := fl.buffers[0]
	fl.buffers = fl.buffers[1:]
	return b
}

// Put returns a buffer to the free-list (spec §4.7 step 6 "recycles by
// writing buffer_id back to an OK slot").
func (fl *FreeList) Put(b *Buffer) {
	fl.mu.Lock()
	fl.buffers = append(fl.buffers, b)
	fl.mu.Unlock()
}

// Len reports how many buffers are currently queued.
func (fl *FreeList) Len() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.buffers)
}
