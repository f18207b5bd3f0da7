package promise

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the value a Promise settles with: a fulfillment value or a
// rejection reason. Aliased to any, matching the dynamically-typed value
// the spec describes.
type Result = any

// PromiseState is a Promise's position in its state machine.
type PromiseState int32

const (
	// StatePending is the initial state.
	StatePending PromiseState = iota
	// StateBlocked is the transient state while assimilating another
	// thenable returned from a handler.
	StateBlocked
	// StateFulfilled is a terminal, successful state.
	StateFulfilled
	// StateRejected is a terminal, failed state.
	StateRejected
)

func (s PromiseState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBlocked:
		return "blocked"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

var promiseIDs uint64

func nextPromiseID() uint64 { return atomic.AddUint64(&promiseIDs, 1) }

// settleWaiter is invoked once, with the terminal state/value, either
// synchronously (if the promise is already settled when registered) or
// later from whatever context calls resolve/reject.
type settleWaiter func(state PromiseState, value Result)

// Promise is the core state machine: pending, transitioning at most once
// to fulfilled or rejected (with a transient "blocked" state while
// assimilating another thenable). Grounded on the teacher's
// ChainedPromise, re-split so a Promise's chaining/assimilation concern is
// distinct from Task's scheduling concern (spec's Promise/Task split).
type Promise struct {
	mu      sync.Mutex
	state   PromiseState
	value   Result
	handled bool
	waiters []settleWaiter

	flow *ControlFlow // owning flow; nil if none
	task *Task        // set iff this promise is a Task's own result

	id            uint64
	creationStack []uintptr
}

func newPromise(flow *ControlFlow) *Promise {
	p := &Promise{state: StatePending, flow: flow, id: nextPromiseID()}
	if flow != nil && flow.opts.longStackTraces {
		p.creationStack = captureStack()
	}
	return p
}

// asThenable returns v as a *Promise if it is one (directly, or via a
// *Task's own result), else nil. Go's static typing means "thenable" here
// is the closed set of types this package itself produces, rather than an
// arbitrary duck-typed interface.
func asThenable(v Result) *Promise {
	switch t := v.(type) {
	case *Promise:
		return t
	case *Task:
		return t.promise
	default:
		return nil
	}
}

// IsPending reports whether the promise has not yet settled (it may still
// be fulfilled, rejected, or blocked on assimilation).
func (p *Promise) IsPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StatePending || p.state == StateBlocked
}

func (p *Promise) isSettled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateFulfilled || p.state == StateRejected
}

// resolve fulfills the promise with value, assimilating it first if it is
// itself a thenable (including detecting a direct self-reference cycle).
func (p *Promise) resolve(value Result) {
	if thenable := asThenable(value); thenable != nil {
		p.mu.Lock()
		if p.state != StatePending {
			p.mu.Unlock()
			return
		}
		if thenable == p {
			p.mu.Unlock()
			p.settle(StateRejected, cycleError{})
			return
		}
		p.state = StateBlocked
		p.mu.Unlock()
		thenable.subscribe(func(state PromiseState, v Result) {
			if state == StateRejected {
				p.settle(StateRejected, v)
			} else {
				p.resolve(v)
			}
		})
		return
	}
	p.settle(StateFulfilled, value)
}

// reject settles the promise as rejected with reason, unless it has
// already settled.
func (p *Promise) reject(reason Result) {
	p.settle(StateRejected, reason)
}

// settle is the single place a Promise transitions to a terminal state.
// Idempotent: a second call is a silent no-op (spec "idempotent
// settlement").
func (p *Promise) settle(state PromiseState, value Result) {
	p.mu.Lock()
	if p.state == StateFulfilled || p.state == StateRejected {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.value = value
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	if state == StateRejected {
		globalTracker.track(p)
	}
	for _, w := range waiters {
		w(state, value)
	}
}

// subscribe registers cb to run once the promise settles (immediately, if
// it already has). Per spec §4.2, attaching a handler — and subscribe is
// the mechanism every handler-attaching operation funnels through, the
// same way assimilation itself attaches one — marks the promise handled,
// suppressing an unhandled-rejection report.
func (p *Promise) subscribe(cb settleWaiter) {
	p.mu.Lock()
	p.handled = true
	if p.state == StateFulfilled || p.state == StateRejected {
		state, value := p.state, p.value
		p.mu.Unlock()
		cb(state, value)
		return
	}
	p.waiters = append(p.waiters, cb)
	p.mu.Unlock()
}

// awaitAndTransform is the shared machinery behind Then/Catch/Finally: if
// the promise is already settled, transform runs immediately and its
// result is returned directly; otherwise a raw bridging promise (owned by
// no flow) is returned, which the caller's Task assimilates — so the
// caller's own frame correctly stays open until this promise eventually
// settles, per spec §4.3 step 5.
func (p *Promise) awaitAndTransform(transform func(state PromiseState, value Result) (Result, error)) (Result, error) {
	p.mu.Lock()
	if p.state == StatePending || p.state == StateBlocked {
		p.mu.Unlock()
		bridge := newPromise(nil)
		p.subscribe(func(state PromiseState, value Result) {
			r, err := transform(state, value)
			if err != nil {
				bridge.reject(unwrapThrow(err))
			} else {
				bridge.resolve(r)
			}
		})
		return bridge, nil
	}
	state, value := p.state, p.value
	p.mu.Unlock()
	return transform(state, value)
}

// HandlerFunc is a then/catch callback. A nil onFulfilled/onRejected acts
// as pass-through for that outcome. Panics are recovered and turned into a
// *PanicError rejection.
type HandlerFunc func(Result) Result

// Then attaches onFulfilled/onRejected, returning a new Promise that
// settles with the handler's outcome (assimilated if it returns a
// thenable). Per spec §4.1, when the receiver has an owning ControlFlow,
// the handler runs as a Task scheduled on that flow rather than a raw
// microtask; with no owning flow it runs directly, undecorated.
func (p *Promise) Then(onFulfilled, onRejected HandlerFunc) *Promise {
	if p.flow == nil {
		return p.thenNoFlow(onFulfilled, onRejected)
	}
	p.mu.Lock()
	p.handled = true
	p.mu.Unlock()
	flow := p.flow
	task := flow.scheduleHandlerTask(describeHandler(p, "then"), func() (Result, error) {
		return p.invokeThen(onFulfilled, onRejected)
	})
	return task.promise
}

// Catch is shorthand for Then(nil, onRejected).
func (p *Promise) Catch(onRejected HandlerFunc) *Promise {
	return p.Then(nil, onRejected)
}

// Finally attaches a cleanup callback that runs regardless of outcome and
// does not observe or change the settled value, except that a panic inside
// f is swallowed (the original settlement still propagates — a documented
// Go-specific deviation from JS, where a throwing finally would reject).
func (p *Promise) Finally(f func()) *Promise {
	if p.flow == nil {
		return p.finallyNoFlow(f)
	}
	p.mu.Lock()
	p.handled = true
	p.mu.Unlock()
	flow := p.flow
	task := flow.scheduleHandlerTask(describeHandler(p, "finally"), func() (Result, error) {
		return p.invokeFinally(f)
	})
	return task.promise
}

func (p *Promise) invokeThen(onFulfilled, onRejected HandlerFunc) (Result, error) {
	return p.awaitAndTransform(func(state PromiseState, value Result) (res Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				res, err = nil, &PanicError{Value: rec}
			}
		}()
		switch state {
		case StateFulfilled:
			if onFulfilled == nil {
				return value, nil
			}
			return onFulfilled(value), nil
		default: // StateRejected
			if onRejected == nil {
				return nil, asThrow(value)
			}
			return onRejected(value), nil
		}
	})
}

func (p *Promise) invokeFinally(f func()) (res Result, err error) {
	return p.awaitAndTransform(func(state PromiseState, value Result) (Result, error) {
		func() {
			defer func() { _ = recover() }()
			f()
		}()
		if state == StateRejected {
			return nil, asThrow(value)
		}
		return value, nil
	})
}

// thenNoFlow/finallyNoFlow implement the "no owning flow" branch of §4.1:
// handlers run directly (as a goroutine-scheduled microtask via the
// default host, with no flow to schedule a Task on), and rejection reasons
// are never wrapped or decorated.
func (p *Promise) thenNoFlow(onFulfilled, onRejected HandlerFunc) *Promise {
	child := newPromise(nil)
	p.subscribe(func(state PromiseState, value Result) {
		defaultHost.ScheduleMicrotask(func() {
			defer func() {
				if rec := recover(); rec != nil {
					child.reject(&PanicError{Value: rec})
				}
			}()
			switch state {
			case StateFulfilled:
				if onFulfilled == nil {
					child.resolve(value)
					return
				}
				child.resolve(onFulfilled(value))
			default:
				if onRejected == nil {
					child.reject(value)
					return
				}
				child.resolve(onRejected(value))
			}
		})
	})
	return child
}

func (p *Promise) finallyNoFlow(f func()) *Promise {
	child := newPromise(nil)
	p.subscribe(func(state PromiseState, value Result) {
		defaultHost.ScheduleMicrotask(func() {
			func() {
				defer func() { _ = recover() }()
				f()
			}()
			if state == StateRejected {
				child.reject(value)
			} else {
				child.resolve(value)
			}
		})
	})
	return child
}

// Cancel rejects a pending promise with a CancellationError wrapping
// reason. If the promise is a Task's own result, cancellation is delegated
// to Task.Cancel so the task's frame entry is removed and its body never
// runs. Cancelling an already-settled promise is a no-op.
func (p *Promise) Cancel(reason any) {
	if p.task != nil {
		p.task.Cancel(reason)
		return
	}
	p.mu.Lock()
	if p.state != StatePending && p.state != StateBlocked {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.settle(StateRejected, newCancellationError("promise cancelled", reason))
}

func asThrow(value Result) error {
	if err, ok := value.(error); ok {
		return err
	}
	return rejectedValue{value}
}

// rejectedValue carries a non-error rejection reason through the
// (Result, error) task-return convention without losing its identity: the
// task-settlement path unwraps it back to the original value before the
// promise actually settles.
type rejectedValue struct{ v Result }

func (r rejectedValue) Error() string { return fmt.Sprint(r.v) }

func unwrapThrow(err error) Result {
	if rv, ok := err.(rejectedValue); ok {
		return rv.v
	}
	return err
}

func describeHandler(p *Promise, kind string) string {
	return fmt.Sprintf("%s(promise#%d)", kind, p.id)
}

// Deferred is a (Promise, fulfill, reject) triple, constructed by Defer.
// fulfill/reject are one-shot: subsequent calls are silent no-ops.
type Deferred struct {
	Promise *Promise
	Fulfill func(Result)
	Reject  func(Result)
}

// Defer creates a Deferred owned by flow (nil for none).
func Defer(flow *ControlFlow) *Deferred {
	p := newPromise(flow)
	return &Deferred{
		Promise: p,
		Fulfill: p.resolve,
		Reject:  p.reject,
	}
}

// Fulfilled returns a promise already fulfilled with v, owned by the
// currently active ControlFlow (if any).
func Fulfilled(v Result) *Promise {
	p := newPromise(ControlFlowActive())
	p.resolve(v)
	return p
}

// Rejected returns a promise already rejected with r, owned by the
// currently active ControlFlow (if any).
func Rejected(r Result) *Promise {
	p := newPromise(ControlFlowActive())
	p.reject(r)
	return p
}

// WithResolvers mirrors the ES2024 Promise.withResolvers() static method:
// it returns a pending promise alongside standalone resolve/reject
// functions, owned by the currently active ControlFlow.
func WithResolvers() *Deferred {
	return Defer(ControlFlowActive())
}

// Delayed returns a promise owned by the currently active ControlFlow that
// fulfills with nil after d elapses, using that flow's TimerScheduler (or
// the package default if no flow is active).
func Delayed(d time.Duration) *Promise {
	flow := ControlFlowActive()
	p := newPromise(flow)
	var scheduler TimerScheduler = defaultHost
	if flow != nil {
		scheduler = flow.opts.timers
	}
	scheduler.ScheduleTimer(d, func() {
		p.resolve(nil)
	})
	return p
}
