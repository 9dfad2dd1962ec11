package pwloop

import "time"

// applyPendingTopologyChanges publishes a new frozen snapshot of the source
// list, folding in every Add/Remove queued during the iteration that just
// finished dispatching. New/removed sources only take effect here, so
// handlers may freely call AddXxx/RemoveSource on themselves or siblings
// without invalidating the slice currently being ranged over (spec §4.2
// "frozen-listener pattern").
func (l *Loop) applyPendingTopologyChanges() {
	l.sourcesMu.Lock()
	defer l.sourcesMu.Unlock()

	if len(l.pendingAdd) == 0 && len(l.pendingDel) == 0 {
		return
	}

	old := *l.sources.Load()
	next := make([]*Source, 0, len(old)+len(l.pendingAdd))
	for _, s := range old {
		if !l.pendingDel[s.id] {
			next = append(next, s)
		}
	}
	next = append(next, l.pendingAdd...)

	l.sources.Store(&next)
	l.pendingAdd = nil
	l.pendingDel = make(map[uint64]bool)
}

// AddFDSource registers handler to run whenever fd becomes readable.
func (l *Loop) AddFDSource(fd int, handler func()) (*Source, error) {
	if err := l.backend.Add(fd); err != nil {
		return nil, err
	}
	s := &Source{id: l.nextSrcID.Add(1), kind: kindFD, fd: fd, handler: handler, active: true}
	l.queueAdd(s)
	return s, nil
}

// AddTimerSource registers a timer that first fires after delay and then,
// if period > 0, repeats every period thereafter.
func (l *Loop) AddTimerSource(delay, period time.Duration, handler func()) *Source {
	s := &Source{
		id:       l.nextSrcID.Add(1),
		kind:     kindTimer,
		period:   period,
		handler:  handler,
		nextFire: time.Now().Add(delay),
		active:   true,
	}
	l.queueAdd(s)
	return s
}

// AddRealtimeTimerSource registers a kernel-precise timer (Linux timerfd)
// when available, falling back to the Loop's software timer list
// otherwise. This is the driver's clock source in spec §4.8.
func (l *Loop) AddRealtimeTimerSource(initial, period time.Duration, handler func()) *Source {
	fd, ok := newTimerFD(initial, period)
	if !ok {
		return l.AddTimerSource(initial, period, handler)
	}
	if err := l.backend.Add(fd); err != nil {
		closeFd(fd)
		return l.AddTimerSource(initial, period, handler)
	}
	s := &Source{
		id:   l.nextSrcID.Add(1),
		kind: kindFD,
		fd:   fd,
		handler: func() {
			drainTimerFd(fd)
			handler()
		},
		active: true,
	}
	l.queueAdd(s)
	return s
}

// addEventSourceLocked is used internally during New() to install the
// loop's own wake source before any public API can race with it.
func (l *Loop) addEventSourceLocked(handler func()) (*Source, error) {
	fd, err := createEventFd()
	if err != nil {
		return nil, err
	}
	if err := l.backend.Add(fd); err != nil {
		closeFd(fd)
		return nil, err
	}
	s := &Source{id: l.nextSrcID.Add(1), kind: kindEvent, fd: fd, handler: handler, active: true}
	l.sourcesMu.Lock()
	old := *l.sources.Load()
	next := append(append([]*Source{}, old...), s)
	l.sources.Store(&next)
	l.sourcesMu.Unlock()
	return s, nil
}

// AddEventSource registers an eventfd-backed wake source: any goroutine may
// call Signal(s) to wake the loop and run handler.
func (l *Loop) AddEventSource(handler func()) (*Source, error) {
	fd, err := createEventFd()
	if err != nil {
		return nil, err
	}
	if err := l.backend.Add(fd); err != nil {
		closeFd(fd)
		return nil, err
	}
	s := &Source{id: l.nextSrcID.Add(1), kind: kindEvent, fd: fd, handler: handler, active: true}
	l.queueAdd(s)
	return s, nil
}

// Signal wakes the loop and runs s's handler on the next iteration. Safe to
// call from any thread; this is the mechanism the scheduler uses to wake a
// follower node on a different data loop (spec §4.8 "writes 1 to the
// target's wakeup eventfd").
func (l *Loop) Signal(s *Source) {
	writeEventFd(s.fd)
}

// AddSignalSource registers handler to run when the process receives one of
// sigs (e.g. SIGTERM for graceful Context shutdown).
func (l *Loop) AddSignalSource(handler func(), sigs ...Signal) (*Source, error) {
	fd, err := createEventFd()
	if err != nil {
		return nil, err
	}
	if err := l.backend.Add(fd); err != nil {
		closeFd(fd)
		return nil, err
	}
	s := &Source{id: l.nextSrcID.Add(1), kind: kindSignal, fd: fd, handler: handler, active: true}
	watchSignals(fd, sigs)
	l.queueAdd(s)
	return s, nil
}

func (l *Loop) queueAdd(s *Source) {
	l.sourcesMu.Lock()
	l.pendingAdd = append(l.pendingAdd, s)
	l.sourcesMu.Unlock()
}

// RemoveSource unregisters s. Takes effect at the next iteration boundary.
func (l *Loop) RemoveSource(s *Source) {
	l.sourcesMu.Lock()
	l.pendingDel[s.id] = true
	l.sourcesMu.Unlock()
	if s.kind != kindTimer {
		l.backend.Del(s.fd)
	}
}

// Pending reports how many invoke-queue items are waiting to run.
func (l *Loop) Pending() int {
	l.invokeMu.Lock()
	defer l.invokeMu.Unlock()
	return l.invokeQ.Length()
}
