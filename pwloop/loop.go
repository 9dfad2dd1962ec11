// Package pwloop implements the Loop component (spec §4.2): a single-
// threaded cooperative event loop multiplexing file-descriptor, timer,
// event and signal wake sources, plus the cross-thread invoke queue that is
// the sole legal way to mutate loop-private state from another goroutine.
//
// Grounded on the teacher repo's core/concurrency/eventloop.go: the
// copy-on-write handler-list-under-mutex pattern ("frozen listener" idiom,
// spec §4.2) is kept, generalized from a single in-process channel of
// application Events to a real poll-mode multiplexer over heterogeneous
// wake sources.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwloop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/petermattis/goid"
	"github.com/pwcore/node-graph/pwerrno"
)

// Source is a wake source the Loop multiplexes: a file descriptor, a timer,
// an eventfd-style counter, or a Unix signal. Concrete constructors live in
// source.go; the platform-specific poll backend lives in poll_linux.go /
// poll_other.go.
type Source struct {
	id      uint64
	kind    sourceKind
	fd      int
	period  time.Duration // >0 for periodic timers
	handler func()

	// nextFire is read/written only by the loop goroutine.
	nextFire time.Time
	active   bool
}

type sourceKind int

const (
	kindFD sourceKind = iota
	kindTimer
	kindEvent
	kindSignal
	kindIdle
)

// invokeItem is one queued cross-thread closure.
type invokeItem struct {
	fn       func()
	done     chan struct{}
	blocking bool
}

// Loop is a single-threaded event pump. The zero value is not usable; use
// New.
type Loop struct {
	backend pollBackend

	sourcesMu  sync.Mutex
	sources    atomic.Pointer[[]*Source] // frozen snapshot, swapped at iteration boundaries
	pendingAdd []*Source
	pendingDel map[uint64]bool
	nextSrcID  atomic.Uint64

	invokeMu  sync.Mutex
	invokeQ   *queue.Queue
	wakeEvent *Source // eventfd-backed source that breaks the poll wait

	loopGoid int64
	running  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
}

// New creates a Loop. name is used only for diagnostics (log fields, panics).
func New(name string) (*Loop, error) {
	backend, err := newPollBackend(name)
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "pwloop.New", err)
	}
	l := &Loop{
		backend:    backend,
		pendingDel: make(map[uint64]bool),
		invokeQ:    queue.New(),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	empty := []*Source{}
	l.sources.Store(&empty)

	wake, err := l.addEventSourceLocked(func() {})
	if err != nil {
		backend.Close()
		return nil, err
	}
	l.wakeEvent = wake
	return l, nil
}

// onLoopThread reports whether the calling goroutine is the one running
// Run's dispatch loop. Used to give Invoke its synchronous fast path (spec
// §4.2 ordering guarantee).
func (l *Loop) onLoopThread() bool {
	return l.running.Load() && goid.Get() == atomic.LoadInt64(&l.loopGoid)
}

// Run executes the loop until Stop is called. Must be called from the
// thread/goroutine that is meant to own the loop (a data-loop thread, or the
// process main goroutine for the main loop).
func (l *Loop) Run() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	atomic.StoreInt64(&l.loopGoid, goid.Get())
	defer func() {
		l.running.Store(false)
		close(l.done)
	}()

	for {
		select {
		case <-l.quit:
			return
		default:
		}

		timeout := l.nextTimeout()
		ready, err := l.backend.Wait(timeout)
		if err != nil {
			continue
		}
		for _, fd := range ready {
			l.dispatchFD(fd)
		}
		l.dispatchDueTimers()
		l.drainInvokeQueue()
		l.applyPendingTopologyChanges()
	}
}

// nextTimeout computes the earliest timer deadline across active sources.
func (l *Loop) nextTimeout() time.Duration {
	srcs := *l.sources.Load()
	const maxWait = 250 * time.Millisecond
	best := maxWait
	now := time.Now()
	for _, s := range srcs {
		if s.kind == kindTimer && s.active {
			d := s.nextFire.Sub(now)
			if d < 0 {
				d = 0
			}
			if d < best {
				best = d
			}
		}
	}
	return best
}

func (l *Loop) dispatchFD(fd int) {
	srcs := *l.sources.Load()
	for _, s := range srcs {
		if s.kind == kindFD && s.fd == fd {
			s.handler()
		}
		if (s.kind == kindEvent || s.kind == kindSignal) && s.fd == fd {
			drainEventFd(fd)
			s.handler()
		}
	}
}

func (l *Loop) dispatchDueTimers() {
	now := time.Now()
	srcs := *l.sources.Load()
	for _, s := range srcs {
		if s.kind != kindTimer || !s.active {
			continue
		}
		if !now.Before(s.nextFire) {
			s.handler()
			if s.period > 0 {
				s.nextFire = now.Add(s.period)
			} else {
				s.active = false
			}
		}
	}
}

// drainInvokeQueue runs every closure queued since the previous iteration.
// This happens strictly between a wakeup and the next poll, per spec §4.2.
func (l *Loop) drainInvokeQueue() {
	for {
		l.invokeMu.Lock()
		if l.invokeQ.Length() == 0 {
			l.invokeMu.Unlock()
			return
		}
		item := l.invokeQ.Remove().(invokeItem)
		l.invokeMu.Unlock()

		item.fn()
		if item.blocking {
			close(item.done)
		}
	}
}

// Invoke submits fn to run on the loop's thread. If blocking, Invoke does
// not return until fn has executed. Calling Invoke from the loop's own
// thread runs fn synchronously in place, per the ordering guarantee in spec
// §4.2.
func (l *Loop) Invoke(fn func(), blocking bool) {
	if l.onLoopThread() {
		fn()
		return
	}
	item := invokeItem{fn: fn, blocking: blocking}
	if blocking {
		item.done = make(chan struct{})
	}
	l.invokeMu.Lock()
	l.invokeQ.Add(item)
	l.invokeMu.Unlock()
	l.wake()

	if blocking {
		<-item.done
	}
}

func (l *Loop) wake() {
	writeEventFd(l.wakeEvent.fd)
}

// Stop signals Run to exit and waits for it to do so. Safe to call
// concurrently with Run from any goroutine, and safe to call multiple
// times.
func (l *Loop) Stop() {
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
	if l.running.Load() {
		l.wake()
		<-l.done
	}
	l.backend.Close()
}
