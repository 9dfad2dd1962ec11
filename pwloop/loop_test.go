package pwloop_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pwcore/node-graph/pwloop"
)

func TestInvokeFromOtherGoroutineRunsOnLoopThread(t *testing.T) {
	l, err := pwloop.New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go l.Run()
	defer l.Stop()

	done := make(chan struct{})
	var ran atomic.Bool
	l.Invoke(func() {
		ran.Store(true)
		close(done)
	}, true)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not run within timeout")
	}
	if !ran.Load() {
		t.Fatal("invoked function did not run")
	}
}

func TestInvokeFromLoopThreadRunsSynchronously(t *testing.T) {
	l, err := pwloop.New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started := make(chan struct{})
	go func() {
		close(started)
		l.Run()
	}()
	defer l.Stop()
	<-started

	outer := make(chan bool, 1)
	l.Invoke(func() {
		var inner bool
		l.Invoke(func() { inner = true }, true)
		outer <- inner
	}, true)

	select {
	case v := <-outer:
		if !v {
			t.Fatal("nested Invoke from the loop thread should run synchronously")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outer Invoke never completed")
	}
}

func TestTimerSourceFires(t *testing.T) {
	l, err := pwloop.New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{}, 1)
	l.AddTimerSource(5*time.Millisecond, 0, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestEventSourceSignal(t *testing.T) {
	l, err := pwloop.New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go l.Run()
	defer l.Stop()

	woke := make(chan struct{}, 1)
	var src *pwloop.Source
	src, err = l.AddEventSource(func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("AddEventSource: %v", err)
	}

	l.Signal(src)

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("event source never woke the loop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l, err := pwloop.New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go l.Run()
	l.Stop()
	l.Stop()
}
