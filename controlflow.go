package promise

import "sync"

// ControlFlow is the deterministic, single-threaded scheduler: it owns a
// set of sibling TaskQueues, drains exactly one runnable Task per
// microtask turn (depth-first, left-to-right within a queue; across
// queues, the earliest-created queue with a runnable task is served, so
// queues do not alternate turn by turn and a later queue runs only while
// every earlier one is blocked or finished), and emits idle/uncaughtException/reset events. Grounded
// on the teacher's Loop, with the epoll/FD-readiness half of Loop removed
// entirely (spec §1 explicitly scopes I/O polling out) and the scheduling
// half regeneralized from ChainedPromise-specific bookkeeping to the
// Frame/TaskQueue tree this spec describes.
type ControlFlow struct {
	mu       sync.Mutex
	opts     *controlFlowOptions
	queues   []*TaskQueue
	running  *Frame // frame executing synchronously right now, if any
	frames   map[uint64]*Frame
	draining bool
	idleWait bool
	events   eventTable
}

// New constructs a ControlFlow with the given options applied over the
// package defaults (system clock, goroutine-backed microtask/timer host,
// no logger, short stack traces).
func New(opts ...Option) *ControlFlow {
	return &ControlFlow{
		opts:   resolveOptions(opts),
		frames: make(map[uint64]*Frame),
	}
}

// registerFrame/deregisterFrame maintain the handle-keyed arena described
// in frame.go's doc comment. Both assume cf.mu is already held by the
// caller.
func (cf *ControlFlow) registerFrame(f *Frame) {
	cf.frames[f.handle] = f
}

func (cf *ControlFlow) deregisterFrame(f *Frame) {
	delete(cf.frames, f.handle)
}

// withLock runs fn with cf.mu held. Exported-package-internal helper used
// by Task.Cancel, which needs to mutate a Frame's pending slice under the
// same lock the drain loop uses.
func (cf *ControlFlow) withLock(fn func()) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	fn()
}

func (cf *ControlFlow) reportUncaughtException(err error) {
	cf.events.emit(EventUncaughtException, err)
	logUnhandledRejection(cf.opts.logger, err)
}

// On registers a persistent listener for kind.
func (cf *ControlFlow) On(kind EventKind, fn func(args ...any)) uint64 {
	return cf.events.on(kind, fn)
}

// Once registers a listener removed after its first delivery.
func (cf *ControlFlow) Once(kind EventKind, fn func(args ...any)) uint64 {
	return cf.events.once(kind, fn)
}

// Off removes a previously registered listener.
func (cf *ControlFlow) Off(kind EventKind, id uint64) {
	cf.events.off(kind, id)
}

// Execute schedules fn as a new Task and returns its promise.
// Per the "slot-at-call-time" placement rule (spec §8 scenario 3): if
// Execute (or Then/Finally) is called synchronously from within an
// already-running task's body, the new task lands in that task's own
// frame, immediately after whatever was already queued there; otherwise
// it either reuses an as-yet-unstarted sibling queue or opens a new one.
func (cf *ControlFlow) Execute(description string, fn func() (Result, error)) *Promise {
	t := cf.scheduleNewTask(description, fn)
	return t.promise
}

// scheduleHandlerTask is Then/Finally/Catch's entry point into the same
// placement algorithm Execute uses: per spec §4.1, a handler attached to
// an owned promise is scheduled as a Task immediately, not deferred until
// the parent settles.
func (cf *ControlFlow) scheduleHandlerTask(description string, fn taskFunc) *Task {
	return cf.scheduleNewTask(description, fn)
}

func (cf *ControlFlow) scheduleNewTask(description string, fn taskFunc) *Task {
	cf.mu.Lock()
	frame := cf.resolveTargetFrame_locked()
	t := newTask(cf, frame, description, fn)
	frame.pending = append(frame.pending, t)
	cf.ensureDraining_locked()
	cf.mu.Unlock()
	return t
}

// resolveTargetFrame_locked implements the placement rule: prefer the
// frame currently executing synchronously; else reuse a not-yet-started
// sibling queue's root frame; else open a brand new sibling queue. Must be
// called with cf.mu held.
func (cf *ControlFlow) resolveTargetFrame_locked() *Frame {
	if cf.running != nil {
		return cf.running
	}
	for _, q := range cf.queues {
		if q.state == QueueNew {
			return q.root
		}
	}
	q := newTaskQueue(cf)
	cf.queues = append(cf.queues, q)
	return q.root
}

// ensureDraining_locked schedules a drain tick if one isn't already
// pending. Must be called with cf.mu held.
func (cf *ControlFlow) ensureDraining_locked() {
	if cf.draining {
		return
	}
	cf.draining = true
	cf.opts.microtasks.ScheduleMicrotask(cf.drainTick)
}

// selectRunnable_locked scans queues in order for the first runnable task,
// depth-first within each queue. Must be called with cf.mu held.
func (cf *ControlFlow) selectRunnable_locked() (*Task, *Frame) {
	for _, q := range cf.queues {
		if q.state == QueueFinished {
			continue
		}
		if t, owner := q.root.selectRunnable(); t != nil {
			return t, owner
		}
	}
	return nil, nil
}

// drainTick runs at most one Task body per invocation, then reschedules
// itself (via ensureDraining_locked) if more work remains, or checks for
// idle if not. This is the heart of the deterministic tree-walk: exactly
// one task executes per microtask turn.
func (cf *ControlFlow) drainTick() {
	cf.mu.Lock()
	cf.draining = false
	t, owner := cf.selectRunnable_locked()
	if t == nil {
		cf.mu.Unlock()
		cf.maybeScheduleIdle()
		return
	}
	owner.pending = owner.pending[1:]

	q := owner.queue
	if q.state == QueueNew {
		q.state = QueueStarted
	}

	ownFrame := newFrame(owner, owner.queue, t)
	owner.active = ownFrame
	t.ownFrame = ownFrame
	cf.running = ownFrame
	cf.mu.Unlock()

	if !t.markStarted() {
		// Cancelled before it ran: the frame pops here if Task.Cancel has
		// already settled the promise, otherwise Task.Cancel pops it once it
		// does.
		cf.mu.Lock()
		cf.running = nil
		ownFrame.bodyDone = true
		cf.finalizeFrame_locked(ownFrame, q)
		cf.mu.Unlock()
		return
	}

	logTaskStart(cf.opts.logger, t)
	res, err := cf.invoke(t)

	cf.mu.Lock()
	cf.running = nil
	var discarded []*Task
	if err != nil {
		// Tasks t's own body scheduled into ownFrame before throwing are
		// discarded rather than run (spec §4.3 step 4).
		discarded = ownFrame.pending
		ownFrame.pending = nil
	}
	ownFrame.bodyDone = true
	cf.mu.Unlock()

	if err != nil {
		for _, pt := range discarded {
			logDiscarded(cf.opts.logger, pt, err)
			pt.promise.mu.Lock()
			pt.promise.handled = true // absorbed: never reported as unhandled
			pt.promise.mu.Unlock()
			pt.promise.settle(StateRejected, &DiscardedTaskError{Cause: err})
		}
		rejected := wrapRejection(t.Description(), unwrapThrow(err))
		logTaskSettled(cf.opts.logger, t, err)
		t.promise.settle(StateRejected, rejected)
		// The frame can only pop once t's own promise has settled (spec
		// §4.3 steps 5-6); it just did, above.
		cf.finalizeFrameAfterSettle(ownFrame, q)
		return
	}

	cf.settleTaskResult(t, ownFrame, res)
}

// invoke calls t.fn, recovering a panic into a *PanicError so it is
// reported the same way a synchronous throw is (spec §7 item 5).
func (cf *ControlFlow) invoke(t *Task) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &PanicError{Value: r}
		}
	}()
	return t.fn()
}

// tryDrainFrame_locked pops f from its parent's active slot once f is
// bodyDone, drained, AND its owning task's own promise has settled, then
// recurses upward: popping f may be exactly what makes its parent drained
// too. Root frames (owner == nil) are left for maybeFinishQueue_locked to
// observe instead. Must be called with cf.mu held.
//
// Per spec §4.3 steps 5-6 ("wait until F is fully drained... when T's
// promise settles, pop F"), a frame whose task returned a still-pending
// thenable stays open until that thenable actually settles, which keeps
// the task's later siblings blocked behind it (see Frame.selectRunnable).
// The open frame itself receives no new work: resolveTargetFrame_locked
// only targets the synchronously running frame. Popping as soon as the
// body merely returns (ignoring whether its result is still pending) would
// let the next sibling run before the task's result is known, which is
// backwards from the spec's worked examples (scenarios 4 and 5).
func (cf *ControlFlow) tryDrainFrame_locked(f *Frame) {
	if f.owner == nil || !f.bodyDone || !f.drained() || !f.owner.promise.isSettled() {
		return
	}
	parent := f.parent
	if parent.active == f {
		parent.active = nil
	}
	cf.deregisterFrame(f)
	cf.tryDrainFrame_locked(parent)
}

// finalizeFrame_locked attempts to pop f (see tryDrainFrame_locked),
// advances q's state once its root is fully drained, and ensures draining
// continues if anything remains. Must be called with cf.mu held.
func (cf *ControlFlow) finalizeFrame_locked(f *Frame, q *TaskQueue) {
	cf.tryDrainFrame_locked(f)
	cf.maybeFinishQueue_locked(q)
	cf.ensureDraining_locked()
}

// finalizeFrameAfterSettle re-acquires cf.mu to run finalizeFrame_locked.
// Callers use this right after settling a task's promise from outside the
// lock (settle's waiter callbacks must never run while cf.mu is held).
func (cf *ControlFlow) finalizeFrameAfterSettle(f *Frame, q *TaskQueue) {
	cf.mu.Lock()
	cf.finalizeFrame_locked(f, q)
	cf.mu.Unlock()
}

// settleTaskResult finalizes a task whose body returned normally,
// assimilating res if it is itself a (possibly still-pending) thenable.
// ownFrame only actually pops once the task's own promise settles, which
// for a pending thenable result may happen much later than this call, per
// spec §4.3 steps 5-6 — see tryDrainFrame_locked.
func (cf *ControlFlow) settleTaskResult(t *Task, ownFrame *Frame, res Result) {
	thenable := asThenable(res)
	if thenable == nil {
		cf.finishTask(t, ownFrame, StateFulfilled, res)
		return
	}
	thenable.subscribe(func(state PromiseState, value Result) {
		cf.finishTask(t, ownFrame, state, value)
	})
}

func (cf *ControlFlow) finishTask(t *Task, ownFrame *Frame, state PromiseState, value Result) {
	if state == StateRejected {
		value = wrapRejection(t.Description(), value)
	}
	logTaskSettled(cf.opts.logger, t, asErrorOrNil(state, value))
	t.promise.settle(state, value)
	cf.finalizeFrameAfterSettle(ownFrame, ownFrame.queue)
}

func asErrorOrNil(state PromiseState, value Result) error {
	if state != StateRejected {
		return nil
	}
	return asThrow(value)
}

// maybeFinishQueue_locked marks q finished once its root frame is fully
// drained. Must be called with cf.mu held.
func (cf *ControlFlow) maybeFinishQueue_locked(q *TaskQueue) {
	if q.state != QueueFinished && q.finished() {
		q.state = QueueFinished
	}
}

// maybeScheduleIdle implements the one-microtask-deferred idle check: per
// spec §9, idle must never fire synchronously with the turn that drained
// the last task, so a still-pending external resolve has a chance to add
// more work first.
func (cf *ControlFlow) maybeScheduleIdle() {
	cf.mu.Lock()
	if cf.idleWait {
		cf.mu.Unlock()
		return
	}
	cf.idleWait = true
	cf.mu.Unlock()

	cf.opts.microtasks.ScheduleMicrotask(func() {
		cf.mu.Lock()
		cf.idleWait = false
		t, _ := cf.selectRunnable_locked()
		stillIdle := t == nil
		for _, q := range cf.queues {
			if q.state != QueueFinished {
				// A queue blocked on a still-pending task result is not idle.
				stillIdle = false
			}
		}
		if t != nil {
			cf.ensureDraining_locked()
		}
		cf.mu.Unlock()
		if stillIdle {
			cf.events.emit(EventIdle)
		}
	})
}

// Reset cancels every pending and in-flight task, clears all queues, and
// emits EventReset synchronously followed by a freshly deferred EventIdle
// (the Open Question resolution recorded in DESIGN.md: reset always
// produces a reset-then-idle pair, even if the flow was already idle).
func (cf *ControlFlow) Reset() {
	cf.mu.Lock()
	queues := cf.queues
	cf.queues = nil
	cf.running = nil
	cf.frames = make(map[uint64]*Frame)
	cf.mu.Unlock()

	for _, q := range queues {
		cancelFrameTree(q.root)
	}

	logReset(cf.opts.logger)
	cf.events.emit(EventReset)
	cf.maybeScheduleIdle()
}

// cancelFrameTree rejects every task still pending anywhere in frame's
// subtree, and every in-flight task owning a frame in it, with a
// CancellationError, depth-first.
func cancelFrameTree(frame *Frame) {
	if frame == nil {
		return
	}
	cancelFrameTree(frame.active)
	for _, t := range frame.pending {
		t.promise.settle(StateRejected, newCancellationError("ControlFlow was reset", nil))
	}
	frame.pending = nil
	if frame.owner != nil {
		frame.owner.promise.settle(StateRejected, newCancellationError("ControlFlow was reset", nil))
	}
}

// activeFlowMu/activeFlowStack track the dynamic nesting of CreateFlow
// calls, mirroring the teacher's notion of "the currently running loop"
// so package-level factories (Fulfilled, Rejected, Defer, Delayed) can
// find an owning flow without one being threaded through explicitly.
var (
	activeFlowMu    sync.Mutex
	activeFlowStack []*ControlFlow
)

// ControlFlowActive returns the innermost ControlFlow currently running a
// CreateFlow callback, or nil if none.
func ControlFlowActive() *ControlFlow {
	activeFlowMu.Lock()
	defer activeFlowMu.Unlock()
	if len(activeFlowStack) == 0 {
		return nil
	}
	return activeFlowStack[len(activeFlowStack)-1]
}

func pushActiveFlow(cf *ControlFlow) {
	activeFlowMu.Lock()
	activeFlowStack = append(activeFlowStack, cf)
	activeFlowMu.Unlock()
}

func popActiveFlow() {
	activeFlowMu.Lock()
	if n := len(activeFlowStack); n > 0 {
		activeFlowStack = activeFlowStack[:n-1]
	}
	activeFlowMu.Unlock()
}

// CreateFlow constructs a new ControlFlow with opts, binds it as the
// active flow for the duration of fn, and returns a promise that settles
// once the flow next goes idle (fulfilled with nil), or rejects if an
// uncaughtException fires first.
func CreateFlow(fn func(cf *ControlFlow), opts ...Option) *Promise {
	cf := New(opts...)
	result := newPromise(nil)

	var once sync.Once
	cf.Once(EventIdle, func(args ...any) {
		once.Do(func() { result.resolve(nil) })
	})
	cf.On(EventUncaughtException, func(args ...any) {
		once.Do(func() {
			if len(args) > 0 {
				if err, ok := args[0].(error); ok {
					result.reject(err)
					return
				}
			}
			result.reject(cycleError{})
		})
	})

	pushActiveFlow(cf)
	func() {
		defer popActiveFlow()
		fn(cf)
	}()
	return result
}
