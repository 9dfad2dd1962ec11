//go:build !linux

// Portable fallback backend: an in-process channel pair stands in for a
// SOCK_SEQPACKET socketpair, and a plain counter stands in for an eventfd,
// following the same "keep it usable off Linux for dev/test, real
// deployments target Linux" texture as pwpool/block_other.go and
// pwloop/poll_other.go.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"io"
	"sync"
	"sync/atomic"
)

// errEventFDEmpty mirrors the Linux backend surfacing EAGAIN when a
// software eventfd's counter is already zero: a caller polling for a
// wakeup must be able to tell "nothing pending yet" from "drained".
var errEventFDEmpty = io.ErrNoProgress

type fakeMsg struct {
	data []byte
	fds  []int
}

type fakeEndpoint struct {
	mu     sync.Mutex
	peer   *fakeEndpoint
	queue  chan fakeMsg
	closed bool
}

var (
	fakeMu    sync.Mutex
	fakeNext  = 1
	fakeEnds  = map[int]*fakeEndpoint{}
	fakeEvent = map[int]*int64{}
)

func socketpairRaw() (int, int, error) {
	a := &fakeEndpoint{queue: make(chan fakeMsg, 256)}
	b := &fakeEndpoint{queue: make(chan fakeMsg, 256)}
	a.peer, b.peer = b, a

	fakeMu.Lock()
	fa := fakeNext
	fakeNext++
	fb := fakeNext
	fakeNext++
	fakeEnds[fa] = a
	fakeEnds[fb] = b
	fakeMu.Unlock()
	return fa, fb, nil
}

func sendMsgRaw(fd int, data []byte, fds []int) error {
	fakeMu.Lock()
	e, ok := fakeEnds[fd]
	fakeMu.Unlock()
	if !ok {
		return io.ErrClosedPipe
	}
	e.mu.Lock()
	closed := e.closed
	peer := e.peer
	e.mu.Unlock()
	if closed || peer == nil {
		return io.ErrClosedPipe
	}

	cp := append([]byte(nil), data...)
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return io.ErrClosedPipe
	}
	select {
	case peer.queue <- fakeMsg{data: cp, fds: fds}:
		return nil
	default:
		return io.ErrShortWrite
	}
}

func recvMsgRaw(fd int, maxPayload int) ([]byte, []int, error) {
	fakeMu.Lock()
	e, ok := fakeEnds[fd]
	fakeMu.Unlock()
	if !ok {
		return nil, nil, io.EOF
	}
	m, ok := <-e.queue
	if !ok {
		return nil, nil, io.EOF
	}
	return m.data, m.fds, nil
}

func closeFdRaw(fd int) error {
	fakeMu.Lock()
	e, ok := fakeEnds[fd]
	delete(fakeEnds, fd)
	delete(fakeEvent, fd)
	fakeMu.Unlock()
	if ok {
		e.mu.Lock()
		if !e.closed {
			e.closed = true
			close(e.queue)
		}
		peer := e.peer
		e.mu.Unlock()
		if peer != nil {
			peer.mu.Lock()
			if !peer.closed {
				peer.closed = true
				close(peer.queue)
			}
			peer.mu.Unlock()
		}
	}
	return nil
}

func eventfdRaw() (int, error) {
	fakeMu.Lock()
	defer fakeMu.Unlock()
	fd := fakeNext
	fakeNext++
	var zero int64
	fakeEvent[fd] = &zero
	return fd, nil
}

func writeEventFdRaw(fd int) error {
	fakeMu.Lock()
	ctr, ok := fakeEvent[fd]
	fakeMu.Unlock()
	if !ok {
		return io.ErrClosedPipe
	}
	atomic.AddInt64(ctr, 1)
	return nil
}

func drainEventFdRaw(fd int) error {
	fakeMu.Lock()
	ctr, ok := fakeEvent[fd]
	fakeMu.Unlock()
	if !ok {
		return io.ErrClosedPipe
	}
	if atomic.SwapInt64(ctr, 0) == 0 {
		return errEventFDEmpty
	}
	return nil
}
