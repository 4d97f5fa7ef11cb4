// Package roundtimer holds the single round deadline of a session.
//
// Every Schedule call bumps a generation counter and returns it as the Handle.
// A callback that fires late carries a handle that no longer matches Current,
// so the owner can tell a stale expiry from a live one.
//
// A Timer is not safe for concurrent use; it is owned by the session loop.
package roundtimer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle identifies one scheduled deadline. The zero Handle never matches.
type Handle uint64

type Timer struct {
	clock clockwork.Clock
	gen   Handle
	live  clockwork.Timer
}

func New(clock clockwork.Clock) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Timer{clock: clock}
}

// Schedule arms a new deadline, invalidating the previous one. fire runs on
// the clock's goroutine and receives the handle it was scheduled under.
func (t *Timer) Schedule(d time.Duration, fire func(Handle)) Handle {
	t.stop()

	t.gen++
	h := t.gen
	t.live = t.clock.AfterFunc(d, func() { fire(h) })

	return h
}

// Cancel stops the deadline identified by h. Cancelling a stale or zero
// handle is a no-op.
func (t *Timer) Cancel(h Handle) {
	if h == 0 || h != t.gen {
		return
	}

	t.stop()
}

// CancelAll stops whatever deadline is outstanding.
func (t *Timer) CancelAll() {
	t.stop()
}

// Current reports whether h is the outstanding deadline.
func (t *Timer) Current(h Handle) bool {
	return h != 0 && h == t.gen && t.live != nil
}

// Pending returns the outstanding handle, or zero.
func (t *Timer) Pending() Handle {
	if t.live == nil {
		return 0
	}

	return t.gen
}

func (t *Timer) stop() {
	if t.live == nil {
		return
	}

	t.live.Stop()
	t.live = nil
}
