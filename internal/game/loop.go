package game

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/roundtimer"
)

const defaultEventBuffer = 256

// Loop serializes every event that touches session state onto one goroutine.
// Transport pumps and timer callbacks only enqueue.
type Loop struct {
	events chan Event
	done   chan struct{}
}

func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Loop{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Run dispatches events to r until ctx is done. It must be called once.
func (l *Loop) Run(ctx context.Context, r *Router) error {
	defer close(l.done)

	slog.InfoContext(ctx, "loop: started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "loop: stopped")
			return nil
		case e := <-l.events:
			l.handle(ctx, r, e)
		}
	}
}

func (l *Loop) handle(ctx context.Context, r *Router, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "loop: handler panic",
				"action", e.Action,
				"error", fmt.Errorf("%v, stack: %s", rec, debug.Stack()),
			)
		}
	}()

	if e.call != nil {
		e.call()
		return
	}

	r.Dispatch(ctx, e)
}

// Deliver parses an inbound frame from conn and queues it. Malformed frames
// are dropped.
func (l *Loop) Deliver(ctx context.Context, conn domain.Conn, raw []byte) {
	e, err := ParseEvent(conn, raw)
	if err != nil {
		slog.DebugContext(ctx, "loop: dropping malformed frame", "conn", connID(conn), "error", err)
		return
	}

	l.enqueue(ctx, e)
}

// Disconnect queues the departure of conn.
func (l *Loop) Disconnect(ctx context.Context, conn domain.Conn) {
	l.enqueue(ctx, Event{
		Action:   ActionPlayerDisconnected,
		Conn:     conn,
		internal: true,
	})
}

// Expire queues a round deadline. It is the callback given to the round timer.
func (l *Loop) Expire(h roundtimer.Handle) {
	l.enqueue(context.Background(), Event{
		Action:   ActionRoundExpired,
		Round:    h,
		internal: true,
	})
}

// Do runs fn on the loop goroutine and waits for it.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.enqueue(ctx, Event{call: func() {
		defer close(finished)
		fn()
	}}) {
		return fmt.Errorf("loop: not running")
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return fmt.Errorf("loop: stopped")
	}
}

func (l *Loop) enqueue(ctx context.Context, e Event) bool {
	select {
	case l.events <- e:
		return true
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	}
}
