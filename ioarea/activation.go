package ioarea

import (
	"sync/atomic"
	"unsafe"
)

// Status is a node's per-cycle lifecycle state as published in its
// Activation record (spec §3 Activation record).
type Status int32

const (
	StatusInactive     Status = iota
	StatusNotTriggered
	StatusTriggered
	StatusAwake
	StatusFinished
)

// Flags are per-cycle activation flags (spec §3 "flags — per-cycle flags
// (e.g., PROFILER)").
type Flags uint32

const (
	FlagProfiler Flags = 1 << iota
)

// CycleState is one half of the activation record's double-buffered
// pending/required counters (spec §3 "state[2] double-buffered by cycle
// parity"). Only fetch_sub on pending and the plain store of required are
// legal mutations (spec §5 "Activation records... sole mutations are the
// fetch_sub on pending and the monotonic timestamp stamps").
type CycleState struct {
	pending  int32
	required int32
}

// Required atomically reads the required count armed for this cycle slot.
func (s *CycleState) Required() int32 { return atomic.LoadInt32(&s.required) }

// SetRequired arms this cycle slot: called only from the main loop's arm
// phase (spec §4.8 step 1).
func (s *CycleState) SetRequired(n int32) {
	atomic.StoreInt32(&s.required, n)
	atomic.StoreInt32(&s.pending, n)
}

// Pending atomically reads the current pending count.
func (s *CycleState) Pending() int32 { return atomic.LoadInt32(&s.pending) }

// FetchSub is the sole hot-path synchronization primitive between peers
// (spec §4.8 "fetch_sub is the sole synchronization between peers; no locks
// are taken on the hot path"). Returns the value *after* the subtraction.
// A result of exactly 0 means the caller is the one that completes this
// node's cycle and must trigger it; a negative result is corruption (spec
// §9 open question 3) and must be treated as an xrun by the caller.
func (s *CycleState) FetchSub(n int32) int32 {
	return atomic.AddInt32(&s.pending, -n)
}

// Activation is the shared-memory record through which peers signal
// per-cycle completion to a node (spec §3 Activation record). One
// Activation exists per node, mapped into every peer that must signal it
// via FetchSub; remote (client-node) peers hold only a (fd, offset, size)
// reference to the same memory, never ownership (spec §9 design note on
// cross-process shared ownership).
//
// The fixed-size part is the header fields below Position
// (ActivationHeaderSize, 80 bytes); it is not padded out to 512 bytes.
// Position itself is a full IOPosition
// snapshot copied in for followers that don't share the driver's memory
// directly (spec §3 "position — a copy of the driver's IO-position"), and
// is sized independently since its segment array is driver-configurable.
type Activation struct {
	status int32 // Status, atomic

	state [2]CycleState

	signalTime int64 // atomic, ns
	awakeTime  int64 // atomic, ns
	finishTime int64 // atomic, ns

	flags uint32 // atomic

	clientVersion uint32
	serverVersion uint32

	xrunCount uint64 // atomic
	xrunTime  uint64 // atomic, cumulative overrun ns

	Position IOPosition
}

// ActivationHeaderSize is the fixed-size portion of Activation excluding
// the variable-sized Position snapshot.
const ActivationHeaderSize = unsafe.Offsetof(Activation{}.Position)

// Status atomically reads the node's lifecycle status.
func (a *Activation) Status() Status {
	return Status(atomic.LoadInt32(&a.status))
}

// SetStatus atomically writes the node's lifecycle status.
func (a *Activation) SetStatus(s Status) {
	atomic.StoreInt32(&a.status, int32(s))
}

// State returns the cycle-state slot for cycle index cycle&1 (spec §3
// "state[2] double-buffered by cycle parity").
func (a *Activation) State(cycle uint32) *CycleState {
	return &a.state[cycle&1]
}

func (a *Activation) SignalTime() int64      { return atomic.LoadInt64(&a.signalTime) }
func (a *Activation) StampSignalTime(t int64) { atomic.StoreInt64(&a.signalTime, t) }
func (a *Activation) AwakeTime() int64       { return atomic.LoadInt64(&a.awakeTime) }
func (a *Activation) StampAwakeTime(t int64)  { atomic.StoreInt64(&a.awakeTime, t) }
func (a *Activation) FinishTime() int64      { return atomic.LoadInt64(&a.finishTime) }
func (a *Activation) StampFinishTime(t int64) { atomic.StoreInt64(&a.finishTime, t) }

func (a *Activation) Flags() Flags     { return Flags(atomic.LoadUint32(&a.flags)) }
func (a *Activation) SetFlags(f Flags) { atomic.StoreUint32(&a.flags, uint32(f)) }

// Versions returns the negotiated client/server version pair (spec §4.10
// Versioning).
func (a *Activation) Versions() (client, server uint32) {
	return atomic.LoadUint32(&a.clientVersion), atomic.LoadUint32(&a.serverVersion)
}

// SetVersions records the negotiated client/server version pair.
func (a *Activation) SetVersions(client, server uint32) {
	atomic.StoreUint32(&a.clientVersion, client)
	atomic.StoreUint32(&a.serverVersion, server)
}

// RecordXrun bumps the xrun counters by one occurrence of overrunNs (spec
// §4.8 invariant "an xrun is recorded against that node: xrun_count++,
// xrun_time += overrun_ns").
func (a *Activation) RecordXrun(overrunNs uint64) {
	atomic.AddUint64(&a.xrunCount, 1)
	atomic.AddUint64(&a.xrunTime, overrunNs)
}

// XrunStats returns the cumulative xrun count and total overrun time.
func (a *Activation) XrunStats() (count, timeNs uint64) {
	return atomic.LoadUint64(&a.xrunCount), atomic.LoadUint64(&a.xrunTime)
}

// CastActivation overlays an Activation onto a raw shared-memory region.
func CastActivation(region []byte) *Activation {
	need := ActivationHeaderSize + IOPositionSize
	if uintptr(len(region)) < need {
		panic("ioarea: region smaller than Activation")
	}
	return (*Activation)(unsafe.Pointer(&region[0]))
}
