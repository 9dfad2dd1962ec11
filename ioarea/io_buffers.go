// Package ioarea implements the shared-memory IO structs through which
// peers exchange per-cycle data: io_buffers, io_clock, io_position, and the
// activation record (spec §3 IO areas, §6 "bit-exact for version
// compatibility").
//
// These are laid out with explicit field widths and no padding-sensitive
// ordering changes, and read/written only through atomic or explicitly
// fenced accessors — they alias shared memory mapped by pwpool, possibly
// into another process.
//
// Grounded on original_source/src/pipewire/pipewire/src/pipewire/*.h struct
// layouts (io.h / stream.h) for field order and widths, and on the
// teacher's core/buffer package for the Go idiom of a typed struct
// overlaying a raw []byte region obtained from a pool mapping.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ioarea

import (
	"sync/atomic"
	"unsafe"
)

// IOStatus is the producer/consumer handshake state of an IOBuffers slot.
type IOStatus int32

const (
	StatusOK        IOStatus = 0 // unfilled
	StatusNeedData  IOStatus = 1
	StatusHaveData  IOStatus = 2
	StatusStopped   IOStatus = 3
)

// IOBuffersSize is the exact wire size of IOBuffers: int32 + uint32, 8 bytes.
const IOBuffersSize = 8

// IOBuffers is the single-producer/single-consumer handshake struct shared
// between a link's two mixes (spec §3 "IO-buffers area"). Fields are
// accessed only through Load/Store so this struct is safe to alias directly
// onto a pwpool mapping shared with another process.
type IOBuffers struct {
	status   int32
	bufferID uint32
}

// LoadStatus atomically reads the handshake status.
func (b *IOBuffers) LoadStatus() IOStatus {
	return IOStatus(atomic.LoadInt32(&b.status))
}

// StoreStatus atomically writes the handshake status.
func (b *IOBuffers) StoreStatus(s IOStatus) {
	atomic.StoreInt32(&b.status, int32(s))
}

// LoadBufferID atomically reads the current buffer id.
func (b *IOBuffers) LoadBufferID() uint32 {
	return atomic.LoadUint32(&b.bufferID)
}

// StoreBufferID atomically writes the current buffer id.
func (b *IOBuffers) StoreBufferID(id uint32) {
	atomic.StoreUint32(&b.bufferID, id)
}

// Publish is the producer-side handshake: write buffer id, then release the
// slot by setting status=HAVE_DATA. The store order matters: a consumer
// observing HAVE_DATA must already see the correct buffer id (spec §5
// "Producer writes (buffer_id, status=HAVE_DATA) then a release fence").
func (b *IOBuffers) Publish(id uint32) {
	b.StoreBufferID(id)
	b.StoreStatus(StatusHaveData)
}

// Consume is the consumer-side handshake: read back the buffer id and
// reopen the slot by setting status=NEED_DATA.
func (b *IOBuffers) Consume() uint32 {
	id := b.LoadBufferID()
	b.StoreStatus(StatusNeedData)
	return id
}

// CastIOBuffers overlays an IOBuffers struct onto a raw shared-memory
// region. Callers are responsible for region's lifetime (it must outlive
// the returned pointer); regions normally come from a pwpool mapping.
func CastIOBuffers(region []byte) *IOBuffers {
	if len(region) < IOBuffersSize {
		panic("ioarea: region smaller than IOBuffers")
	}
	return (*IOBuffers)(unsafe.Pointer(&region[0]))
}
