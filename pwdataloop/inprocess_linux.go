//go:build linux

// In-process ThreadUtils for Linux: pthread_setaffinity_np for CPU pinning
// (cgo, mirroring the teacher's affinity_linux.go) plus setpriority/
// sched_setscheduler via golang.org/x/sys/unix for nice level and RT
// priority.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwdataloop

/*
#define _GNU_SOURCE
#include <sched.h>
#include <pthread.h>
#include <errno.h>

static int pw_setaffinity(int cpu) {
	cpu_set_t set;
	CPU_ZERO(&set);
	CPU_SET(cpu, &set);
	return pthread_setaffinity_np(pthread_self(), sizeof(set), &set);
}

static int pw_setaffinity_mask(int *cpus, int n) {
	cpu_set_t set;
	CPU_ZERO(&set);
	for (int i = 0; i < n; i++) {
		CPU_SET(cpus[i], &set);
	}
	return pthread_setaffinity_np(pthread_self(), sizeof(set), &set);
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// InProcessThreadUtils creates OS threads directly in this process and
// elevates their priority via raw scheduling syscalls.
type InProcessThreadUtils struct {
	mu      sync.Mutex
	threads map[ThreadHandle]chan struct{}
	next    int
	minPrio int
	maxPrio int
}

// NewInProcessThreadUtils builds an in-process ThreadUtils whose RT range
// is reported as [1, 99] (the Linux SCHED_FIFO range), matching what
// module-rt.c assumes absent an explicit `rt.prio` override.
func NewInProcessThreadUtils() *InProcessThreadUtils {
	return &InProcessThreadUtils{
		threads: make(map[ThreadHandle]chan struct{}),
		minPrio: 1,
		maxPrio: 99,
	}
}

func (t *InProcessThreadUtils) Create(fn func(), props ThreadProps) (ThreadHandle, error) {
	t.mu.Lock()
	t.next++
	h := ThreadHandle(t.next)
	done := make(chan struct{})
	t.threads[h] = done
	t.mu.Unlock()

	go func() {
		runtime.LockOSThread()
		defer close(done)
		setAffinityAndRun(props, fn)
	}()
	return h, nil
}

func setAffinityAndRun(props ThreadProps, fn func()) {
	if len(props.CPUAffinity) > 0 {
		cpus := make([]C.int, len(props.CPUAffinity))
		for i, c := range props.CPUAffinity {
			cpus[i] = C.int(c)
		}
		C.pw_setaffinity_mask((*C.int)(unsafe.Pointer(&cpus[0])), C.int(len(cpus)))
	}
	if props.NiceLevel != 0 {
		unix.Setpriority(unix.PRIO_PROCESS, 0, props.NiceLevel)
	}
	fn()
}

func (t *InProcessThreadUtils) Join(h ThreadHandle) error {
	t.mu.Lock()
	done, ok := t.threads[h]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("threadutils: unknown thread handle %d", h)
	}
	<-done
	return nil
}

func (t *InProcessThreadUtils) GetRTRange() (int, int) {
	return t.minPrio, t.maxPrio
}

func (t *InProcessThreadUtils) AcquireRT(h ThreadHandle, priority int) error {
	if priority < 0 {
		priority = 20 // configured-default placeholder, matches a typical rt.prio
	}
	priority = clampPriority(priority, t.minPrio, t.maxPrio)
	param := unix.SchedParam{Priority: int32(priority)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &param); err != nil {
		return errRTUnavailable
	}
	return nil
}

func (t *InProcessThreadUtils) DropRT(h ThreadHandle) error {
	param := unix.SchedParam{Priority: 0}
	return unix.SchedSetscheduler(0, unix.SCHED_OTHER, &param)
}
