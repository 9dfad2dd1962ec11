package graph

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Recalculator coalesces topology-change-triggered recalculations (spec
// §4.8 "Any change to the node set, link set, or driver assignment triggers
// a recalculation on the main loop. The recalc is guarded: re-entrant
// recalcs are deferred (recalc_pending) and coalesced"), and throttles how
// often an xrun burst may trigger one (spec §7 "a burst above threshold
// optionally triggers a node suspend + renegotiate").
//
// Grounded on SPEC_FULL.md §11's golang.org/x/time/rate wiring (donor:
// r3e-network-service_layer / teranos-QNTX), generalized from an HTTP
// request limiter to a recalculation-storm limiter.
type Recalculator struct {
	limiter *rate.Limiter
	pending atomic.Bool

	mu    sync.Mutex
	fn    func()
	armed bool
}

// NewRecalculator constructs a Recalculator that runs fn at most once per
// minInterval, coalescing any Request calls that land inside that window.
func NewRecalculator(fn func(), minInterval rate.Limit) *Recalculator {
	return &Recalculator{limiter: rate.NewLimiter(minInterval, 1), fn: fn}
}

// Request schedules a recalculation: it marks one pending and runs fn at
// once if the rate limiter allows. Otherwise the pending recalculation
// absorbs this and any further Requests and runs once, on the first later
// Request the limiter allows or on Flush (spec §4.8 "re-entrant recalcs are
// deferred (recalc_pending) and coalesced").
func (r *Recalculator) Request() {
	r.pending.Store(true)
	if !r.limiter.Allow() {
		// still pending; a later Request (or an explicit Flush) will run it.
		return
	}
	r.run()
}

// Flush forces any coalesced pending recalculation to run now, ignoring
// the rate limit.
func (r *Recalculator) Flush() {
	if r.pending.Load() {
		r.run()
	}
}

func (r *Recalculator) run() {
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	r.pending.Store(false)
	if fn != nil {
		fn()
	}
}

// Pending reports whether a recalculation is currently deferred.
func (r *Recalculator) Pending() bool {
	return r.pending.Load()
}
