package ioarea

import "unsafe"

// Rate is a rational sample-rate/duration pair, num/denom (spec §6
// "struct rate num/denom").
type Rate struct {
	Num   uint32
	Denom uint32
}

// ClockNameSize matches the fixed char name[64] field in the original
// io_clock struct (spec §6).
const ClockNameSize = 64

// IOClock is the driver's per-cycle clock publication (spec §3 "IO-clock
// area", §6 layout). Written once per cycle by the driver on its own data
// loop; read by every follower sharing that driver's IO-position. Field
// order matches spec §6 exactly so serialized snapshots sent to client-node
// peers are bit-compatible.
type IOClock struct {
	Flags    uint32
	ID       uint32
	Name     [ClockNameSize]byte
	Nsec     uint64
	Rate     Rate
	Position uint64
	Duration uint64
	Delay    int64
	RateDiff float64
	NextNsec uint64

	TargetRate     Rate
	TargetDuration uint64
	TargetSeq      uint32
	Cycle          uint32

	Extra [8]uint64
}

// IOClockSize is the struct's fixed wire size used for pool allocation
// sizing and bounds checks when casting a shared region.
const IOClockSize = unsafe.Sizeof(IOClock{})

// SetName copies name into the fixed-size Name field, truncating if
// necessary.
func (c *IOClock) SetName(name string) {
	n := copy(c.Name[:], name)
	for i := n; i < len(c.Name); i++ {
		c.Name[i] = 0
	}
}

// CastIOClock overlays an IOClock onto a raw shared-memory region.
func CastIOClock(region []byte) *IOClock {
	if uintptr(len(region)) < IOClockSize {
		panic("ioarea: region smaller than IOClock")
	}
	return (*IOClock)(unsafe.Pointer(&region[0]))
}
