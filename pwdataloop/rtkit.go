// RTKit-style ThreadUtils: models the privileged-helper fallback ladder in
// _examples/original_source/src/modules/module-rt.c. pipewire-pulse and
// pipewire-media-session ask a session-level RTKit/portal service for RT
// priority when the process itself lacks CAP_SYS_NICE; this package can't
// actually dial a DBus RTKit service without a system bus, so RTKitThreadUtils
// wraps an inner ThreadUtils (normally *InProcessThreadUtils) and degrades
// through the same three rungs module-rt.c does: direct AcquireRT, a
// configured helper callback standing in for the RTKit DBus call, then
// SCHED_OTHER with a logged warning.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwdataloop

import (
	"go.uber.org/zap"
)

// RTKitRequester models the "RTKit1.MakeThreadRealtimeWithPID" DBus call:
// given a thread identifier and priority, it asks an external privileged
// service to elevate that thread. Returning a non-nil error means the
// helper is unavailable or refused the request.
type RTKitRequester func(handle ThreadHandle, priority int) error

// RTKitThreadUtils layers the RTKit fallback ladder on top of an inner
// ThreadUtils. If inner.AcquireRT succeeds, it's used as-is (the process
// already holds CAP_SYS_NICE or an rlimit grant). Otherwise, if Requester is
// set, it is asked to elevate the thread out-of-process. If both fail,
// AcquireRT logs a warning and returns nil: the thread keeps running under
// SCHED_OTHER rather than failing the node (spec §4.4 Edge cases: "A context
// that cannot obtain RT priority must still be able to run, degraded").
type RTKitThreadUtils struct {
	inner     ThreadUtils
	Requester RTKitRequester
	log       *zap.Logger
}

// NewRTKitThreadUtils wraps inner with the privileged-helper fallback
// ladder. log may be nil, in which case a no-op logger is used.
func NewRTKitThreadUtils(inner ThreadUtils, requester RTKitRequester, log *zap.Logger) *RTKitThreadUtils {
	if log == nil {
		log = zap.NewNop()
	}
	return &RTKitThreadUtils{inner: inner, Requester: requester, log: log}
}

func (t *RTKitThreadUtils) Create(fn func(), props ThreadProps) (ThreadHandle, error) {
	return t.inner.Create(fn, props)
}

func (t *RTKitThreadUtils) Join(h ThreadHandle) error { return t.inner.Join(h) }

func (t *RTKitThreadUtils) GetRTRange() (int, int) { return t.inner.GetRTRange() }

func (t *RTKitThreadUtils) AcquireRT(h ThreadHandle, priority int) error {
	if err := t.inner.AcquireRT(h, priority); err == nil {
		return nil
	}

	if t.Requester != nil {
		if err := t.Requester(h, priority); err == nil {
			return nil
		} else {
			t.log.Warn("rtkit: helper refused realtime request, falling back to SCHED_OTHER",
				zap.Int("thread", int(h)), zap.Int("priority", priority), zap.Error(err))
		}
	} else {
		t.log.Warn("rtkit: no privileged helper configured, falling back to SCHED_OTHER",
			zap.Int("thread", int(h)), zap.Int("priority", priority))
	}
	return nil
}

func (t *RTKitThreadUtils) DropRT(h ThreadHandle) error { return t.inner.DropRT(h) }
