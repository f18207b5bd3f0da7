package promise

import (
	"sync"
	"time"
)

// Clock is the wall-clock source a ControlFlow uses for timeouts and
// timestamps. The only contract required by the scheduler (per the host
// requirements this package assumes) is Now.
type Clock interface {
	Now() time.Time
}

// MicrotaskScheduler enqueues a callback to run "soon" — after the current
// synchronous code finishes but before any timer fires. ControlFlow uses
// this to drive its drain loop and to defer the idle event by one turn.
type MicrotaskScheduler interface {
	ScheduleMicrotask(fn func())
}

// TimerScheduler schedules fn to run after d elapses, returning a cancel
// function that prevents the callback from firing if it hasn't already.
// Calling cancel after the timer has already fired is a no-op.
type TimerScheduler interface {
	ScheduleTimer(d time.Duration, fn func()) (cancel func())
}

// defaultHost backs promises and handlers that have no owning ControlFlow
// (e.g. Fulfilled/Rejected called with no active flow, or Then/Finally
// attached to such a promise): there is no flow to schedule a Task on, but
// handlers must still run asynchronously rather than inline.
var defaultHost = newGoroutineHost()

// systemClock is the default Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// goroutineHost is the default MicrotaskScheduler/TimerScheduler pairing.
// It models a microtask queue as a FIFO drained by a single dedicated
// goroutine, matching spec §9's guidance for hosts without a native
// microtask primitive ("implement with a FIFO drained at the end of the
// current task body"); timers are backed by time.AfterFunc, which hands
// its callback to the same microtask FIFO rather than running it on an
// arbitrary timer goroutine, preserving "runs before any I/O but after
// current synchronous code" semantics relative to anything already queued.
//
// Grounded on the teacher's Loop.tick/Loop.ScheduleMicrotask, stripped of
// the epoll-driven poll() step this package has no use for.
type goroutineHost struct {
	mu      sync.Mutex
	queue   []func()
	pending bool
}

func newGoroutineHost() *goroutineHost {
	return &goroutineHost{}
}

func (h *goroutineHost) ScheduleMicrotask(fn func()) {
	h.mu.Lock()
	h.queue = append(h.queue, fn)
	started := h.pending
	h.pending = true
	h.mu.Unlock()
	if !started {
		go h.drain()
	}
}

func (h *goroutineHost) drain() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.pending = false
			h.mu.Unlock()
			return
		}
		fn := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		fn()
	}
}

func (h *goroutineHost) ScheduleTimer(d time.Duration, fn func()) (cancel func()) {
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		h.ScheduleMicrotask(fn)
	})
	return func() { t.Stop() }
}
