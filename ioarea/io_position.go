package ioarea

import "unsafe"

// MaxSegments bounds the fixed segment array in IOPosition (spec §6
// "segment[8]").
const MaxSegments = 8

// PositionState mirrors the driver's transport state as distributed to
// followers (stopped/running/paused are the states a follower needs to
// decide whether to process at all).
type PositionState int32

const (
	PositionStopped PositionState = iota
	PositionRunning
	PositionPaused
)

// Segment is a placeholder for a playback segment descriptor (loop/rate
// region); the core treats its contents as opaque beyond start/duration,
// since segment semantics belong to session policy (out of scope, spec §1).
type Segment struct {
	Start    uint64
	Duration uint64
	Rate     Rate
}

// VideoInfo is a minimal placeholder for the per-cycle video timing info
// non-audio drivers publish; the core never interprets its contents.
type VideoInfo struct {
	Flags uint32
	_     uint32 // padding to keep the struct 8-byte aligned
}

// IOPosition is the driver's full per-cycle publication: a clock plus
// segment/state info, distributed read-only to every follower of a driver
// (spec §3 "IO-position area"). Followers that don't share memory with the
// driver receive the activation record's Position copy instead (see
// Activation.Position in activation.go).
type IOPosition struct {
	Clock     IOClock
	Video     VideoInfo
	State     int32
	NSegments uint32
	Segments  [MaxSegments]Segment
}

// IOPositionSize is IOPosition's fixed wire size.
const IOPositionSize = unsafe.Sizeof(IOPosition{})

// CastIOPosition overlays an IOPosition onto a raw shared-memory region.
func CastIOPosition(region []byte) *IOPosition {
	if uintptr(len(region)) < IOPositionSize {
		panic("ioarea: region smaller than IOPosition")
	}
	return (*IOPosition)(unsafe.Pointer(&region[0]))
}
