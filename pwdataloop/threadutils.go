// Package pwdataloop implements the Data loop (spec §4.3) and the Thread
// utils capability (spec §4.4): a Loop pinned to a real-time OS thread, and
// the pluggable interface used to elevate/drop that thread's scheduling
// priority.
//
// Grounded on the teacher repo's affinity/affinity.go platform-neutral
// wrapper over affinity_linux.go's cgo pthread_setaffinity_np shim, and on
// _examples/original_source/src/modules/module-rt.c's RT-priority fallback
// ladder (configured priority -> privileged helper -> SCHED_OTHER).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwdataloop

import (
	"github.com/pwcore/node-graph/pwerrno"
)

// ThreadHandle identifies an OS thread previously created by ThreadUtils.
type ThreadHandle int

// ThreadProps configures a thread created via ThreadUtils.Create.
type ThreadProps struct {
	Name        string
	CPUAffinity []int // logical CPU ids; empty = no pinning
	NiceLevel   int
	RTPriority  int // -1 = "use configured default"
	UtilClampMin int
	UtilClampMax int
}

// ThreadUtils is the pluggable capability the Context consumes to
// create/join threads and elevate/drop their real-time priority. Concrete
// implementations: an in-process impl (setpriority + sched_setscheduler)
// and an out-of-process impl that models the RTKit/portal fallback ladder.
type ThreadUtils interface {
	Create(fn func(), props ThreadProps) (ThreadHandle, error)
	Join(t ThreadHandle) error
	GetRTRange() (min, max int)
	AcquireRT(t ThreadHandle, priority int) error
	DropRT(t ThreadHandle) error
}

// clampPriority clamps requested into [min,max], per spec §4.4
// "Implementations must clamp requested priorities into [min,max]".
func clampPriority(requested, min, max int) int {
	if requested < min {
		return min
	}
	if requested > max {
		return max
	}
	return requested
}

var errRTUnavailable = pwerrno.New(pwerrno.EPERM, "threadutils.AcquireRT", nil)
