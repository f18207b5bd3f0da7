package promise

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

var taskIDs uint64

func nextTaskID() uint64 { return atomic.AddUint64(&taskIDs, 1) }

// taskFunc is the shape every Task body is normalized to: it returns the
// fulfillment/assimilation value r, or a non-nil err meaning the body threw
// synchronously (spec §4.3 step 4 — this triggers an immediate reject plus
// discard of the task's own frame).
type taskFunc func() (Result, error)

// Task owns a Promise, a user function, a human-readable description, and
// a back-pointer to the Frame it is (or was) queued in. Grounded on the
// teacher's ChainedPromise, split apart so the scheduling concern (Task)
// and the value/chaining concern (Promise) aren't the same type.
type Task struct {
	id          uint64
	description string
	fn          taskFunc
	flow        *ControlFlow
	promise     *Promise

	mu        sync.Mutex
	frame     *Frame // the frame this task is (or was) queued in
	ownFrame  *Frame // the frame pushed for this task's own body, once it runs
	started   bool
	cancelled bool

	creationStack []uintptr
}

func newTask(flow *ControlFlow, frame *Frame, description string, fn taskFunc) *Task {
	t := &Task{
		id:          nextTaskID(),
		description: description,
		fn:          fn,
		flow:        flow,
		frame:       frame,
	}
	if flow != nil && flow.opts.longStackTraces {
		t.creationStack = captureStack()
	}
	t.promise = newPromise(flow)
	t.promise.task = t
	return t
}

// Description returns the task's human-readable description, as supplied
// to execute/then/catch/finally, annotated with a long-stack-trace suffix
// when ControlFlow was constructed with WithLongStackTraces(true).
func (t *Task) Description() string {
	if len(t.creationStack) == 0 {
		return t.description
	}
	return t.description + "\n" + formatStack(t.creationStack)
}

// Promise returns the Task's result promise.
func (t *Task) Promise() *Promise { return t.promise }

// Cancel terminates a task that hasn't started running: it is removed from
// its frame, its body never executes, and its promise rejects with a
// CancellationError. Cancelling a task whose body has already started is a
// no-op, as is cancelling an already-settled or already-cancelled task
// (spec §5 "cancellation is idempotent").
func (t *Task) Cancel(reason any) {
	t.mu.Lock()
	if t.cancelled || t.started || t.promise.isSettled() {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	frame := t.frame
	t.mu.Unlock()

	if t.flow != nil {
		t.flow.withLock(func() {
			frame.removeTask(t)
			t.flow.tryDrainFrame_locked(frame)
			if frame.queue != nil {
				t.flow.maybeFinishQueue_locked(frame.queue)
			}
			t.flow.ensureDraining_locked()
		})
	} else {
		frame.removeTask(t)
	}

	logDiscarded(loggerOf(t.flow), t, nil)
	t.promise.settle(StateRejected, newCancellationError("task cancelled", reason))

	if t.flow != nil {
		// The drain loop may have dequeued t and pushed its frame before
		// seeing it cancelled; that frame can only pop now that t settled.
		t.flow.withLock(func() {
			if t.ownFrame != nil {
				t.flow.finalizeFrame_locked(t.ownFrame, t.ownFrame.queue)
			}
		})
	}
}

// markStarted flips the task into its running state, after which Cancel is
// a no-op. Called by the drain loop immediately before invoking fn.
func (t *Task) markStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.started = true
	return true
}

func captureStack() []uintptr {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

func formatStack(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	s := "stack trace:"
	for {
		fr, more := frames.Next()
		s += fmt.Sprintf("\n\tat %s (%s:%d)", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return s
}

func loggerOf(flow *ControlFlow) *Logger {
	if flow == nil {
		return nil
	}
	return flow.opts.logger
}
