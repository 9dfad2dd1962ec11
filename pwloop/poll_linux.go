//go:build linux

// Linux epoll backend, grounded on the teacher's internal/concurrency
// poller_linux.go (epoll_create1/epoll_ctl/epoll_wait) and its
// affinity_linux.go style of thin golang.org/x/sys/unix shims.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwloop

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type epollBackend struct {
	epfd int
	mu   sync.Mutex
}

func newPollBackend(name string) (pollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: epfd}, nil
}

func (b *epollBackend) Add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) Del(fd int) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) Wait(timeout time.Duration) ([]int, error) {
	ms := int(timeout / time.Millisecond)
	if ms <= 0 && timeout > 0 {
		ms = 1
	}
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, int(events[i].Fd))
	}
	return out, nil
}

func (b *epollBackend) Close() error {
	return unix.Close(b.epfd)
}

func createEventFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func writeEventFd(fd int) {
	var buf [8]byte
	buf[0] = 1
	unix.Write(fd, buf[:])
}

func drainEventFd(fd int) {
	var buf [8]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func closeFd(fd int) {
	unix.Close(fd)
}

// newTimerFD creates a Linux timerfd armed for initial delay then period
// repeats, giving the driver node a kernel-precise clock source (spec §4.8
// "usually a timerfd aligned to next_nsec") rather than the Loop's software
// timer list.
func newTimerFD(initial, period time.Duration) (int, bool) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, false
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(initial.Nanoseconds()),
		Interval: unix.NsecToTimespec(period.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, false
	}
	return fd, true
}

func drainTimerFd(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}

// SetTimerFDPeriod rearms a timerfd-backed source for a new period, used
// when the driver's quantum/rate changes mid-run.
func SetTimerFDPeriod(fd int, next time.Duration, period time.Duration) {
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(next.Nanoseconds()),
		Interval: unix.NsecToTimespec(period.Nanoseconds()),
	}
	unix.TimerfdSettime(fd, 0, &spec, nil)
}

func watchSignals(fd int, sigs []Signal) {
	ch := make(chan os.Signal, len(sigs))
	for _, s := range sigs {
		switch s {
		case SIGTERM:
			signal.Notify(ch, syscall.SIGTERM)
		case SIGINT:
			signal.Notify(ch, syscall.SIGINT)
		case SIGHUP:
			signal.Notify(ch, syscall.SIGHUP)
		}
	}
	go func() {
		for range ch {
			writeEventFd(fd)
		}
	}()
}
