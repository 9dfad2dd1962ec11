// Package pwdataloop implements the Data loop (spec §4.3): a pwloop.Loop
// pinned to its own OS thread with real-time scheduling, plus the freewheel
// transition used when a node graph's driver is replaced by a software
// clock (spec §4.8 "freewheel driver").
//
// Grounded on the teacher repo's core/concurrency/threadpool.go worker
// lifecycle (create/start/join) and affinity_linux.go's cgo affinity shim,
// generalized here from a generic worker pool entry to a single pinned
// real-time thread per DataLoop.
package pwdataloop

import (
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwloop"
)

// Props configures a DataLoop at construction time.
type Props struct {
	Name         string
	CPUAffinity  []int
	NiceLevel    int
	RTPriority   int // -1 = use the configured default, per ThreadProps.RTPriority
	UtilClampMin int
	UtilClampMax int
}

// DataLoop wraps a *pwloop.Loop running on a dedicated OS thread, with
// real-time priority acquired through a ThreadUtils implementation. Nodes
// bound to a DataLoop (spec §4.6 Node.dataLoop) schedule their process()
// calls on this loop's thread.
type DataLoop struct {
	Loop *pwloop.Loop

	tu     ThreadUtils
	handle ThreadHandle
	props  Props

	mu        sync.Mutex
	freewheel bool
	started   bool
}

// New creates a DataLoop bound to tu. The underlying pwloop.Loop is created
// but not yet running; call Start to spawn its thread.
func New(name string, tu ThreadUtils, props Props) (*DataLoop, error) {
	l, err := pwloop.New(name)
	if err != nil {
		return nil, err
	}
	props.Name = name
	return &DataLoop{Loop: l, tu: tu, props: props}, nil
}

// Start spawns the data loop's OS thread, pins its CPU affinity and nice
// level via ThreadUtils.Create, and attempts to acquire RT priority for it.
// Failure to acquire RT priority is not fatal (spec §4.4 edge case); the
// loop still runs, degraded to SCHED_OTHER.
func (d *DataLoop) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	ready := make(chan struct{})
	tp := ThreadProps{
		Name:         d.props.Name,
		CPUAffinity:  d.props.CPUAffinity,
		NiceLevel:    d.props.NiceLevel,
		RTPriority:   d.props.RTPriority,
		UtilClampMin: d.props.UtilClampMin,
		UtilClampMax: d.props.UtilClampMax,
	}
	h, err := d.tu.Create(func() {
		close(ready)
		d.Loop.Run()
	}, tp)
	if err != nil {
		return pwerrno.New(pwerrno.ENOMEM, "DataLoop.Start", err)
	}
	d.handle = h
	<-ready

	if !d.freewheeling() {
		prio := d.props.RTPriority
		d.Loop.Invoke(func() {
			d.tu.AcquireRT(d.handle, prio) // degraded fallback is not an error, see ThreadUtils.AcquireRT
		}, true)
	}
	return nil
}

// Stop signals the underlying loop to exit and waits for its thread to
// finish.
func (d *DataLoop) Stop() error {
	d.Loop.Stop()
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	return d.tu.Join(d.handle)
}

func (d *DataLoop) freewheeling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freewheel
}

// SetFreewheel transitions the data loop in or out of freewheel mode: when
// a software clock driver takes over from a hardware-timed one (or vice
// versa), the thread's RT priority is dropped or re-acquired without
// stopping the loop (spec §4.3 "On freewheel transition: drops or raises RT
// priority without stopping").
func (d *DataLoop) SetFreewheel(on bool) error {
	d.mu.Lock()
	if d.freewheel == on {
		d.mu.Unlock()
		return nil
	}
	d.freewheel = on
	d.mu.Unlock()

	if !d.started {
		return nil
	}
	if on {
		return d.tu.DropRT(d.handle)
	}
	return d.tu.AcquireRT(d.handle, d.props.RTPriority)
}
