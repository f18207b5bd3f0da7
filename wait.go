package promise

import "time"

// WaitCondition is polled repeatedly by ControlFlow.Wait until it reports
// true, returns an error, or the overall timeout elapses. Each poll runs
// as its own Task; the condition runs synchronously inside that Task's
// body, so the flow's other tasks run only between polls.
type WaitCondition func() (bool, error)

// Wait implements spec §4.3's "Wait" paragraph: cond may be a
// WaitCondition (or a plain func() (bool, error), polled on a zero-delay
// timer) or a *Promise (awaited once, no polling). timeout <= 0 means
// wait forever — including Wait(promise, 0, ...), the spec's resolved
// Open Question.
func (cf *ControlFlow) Wait(cond any, timeout time.Duration, description string) *Promise {
	switch c := cond.(type) {
	case *Promise:
		return cf.waitForPromise(c, timeout, description)
	case *Task:
		return cf.waitForPromise(c.promise, timeout, description)
	case WaitCondition:
		return cf.waitForCondition(c, timeout, description)
	case func() (bool, error):
		return cf.waitForCondition(c, timeout, description)
	default:
		p := newPromise(cf)
		p.reject(&TypeError{Message: "promise: Wait requires a *Promise or a func() (bool, error)"})
		return p
	}
}

func (cf *ControlFlow) waitForPromise(p *Promise, timeout time.Duration, description string) *Promise {
	result := newPromise(cf)
	var cancelTimeout func()
	if timeout > 0 {
		started := cf.opts.clock.Now()
		cancelTimeout = cf.opts.timers.ScheduleTimer(timeout, func() {
			if result.isSettled() {
				return
			}
			elapsed := cf.opts.clock.Now().Sub(started)
			logWaitTimeout(cf.opts.logger, description, elapsed.Milliseconds())
			result.reject(&WaitTimeoutError{Message: description, Timeout: timeout.Milliseconds()})
		})
	}
	p.subscribe(func(state PromiseState, value Result) {
		if result.isSettled() {
			return
		}
		if cancelTimeout != nil {
			cancelTimeout()
		}
		if state == StateRejected {
			result.reject(value)
		} else {
			result.resolve(value)
		}
	})
	return result
}

func (cf *ControlFlow) waitForCondition(cond WaitCondition, timeout time.Duration, description string) *Promise {
	result := newPromise(cf)
	var cancelTimeout func()
	var deadline time.Time
	hasDeadline := timeout > 0
	started := cf.opts.clock.Now()
	if hasDeadline {
		deadline = started.Add(timeout)
		cancelTimeout = cf.opts.timers.ScheduleTimer(timeout, func() {
			if result.isSettled() {
				return
			}
			elapsed := cf.opts.clock.Now().Sub(started)
			logWaitTimeout(cf.opts.logger, description, elapsed.Milliseconds())
			result.reject(&WaitTimeoutError{Message: description, Timeout: timeout.Milliseconds()})
		})
	}

	// timedOut consults cf.opts.clock directly, rather than relying
	// exclusively on the ScheduleTimer callback above: a WithClock host
	// whose clock has independently advanced past the deadline (between
	// polls, without necessarily having fired its own timer yet) is
	// caught here instead of waiting on a second, possibly coarser, timer
	// mechanism.
	timedOut := func() bool {
		return hasDeadline && !cf.opts.clock.Now().Before(deadline)
	}

	var poll func()
	poll = func() {
		if result.isSettled() {
			return
		}
		if timedOut() {
			if cancelTimeout != nil {
				cancelTimeout()
			}
			elapsed := cf.opts.clock.Now().Sub(started)
			logWaitTimeout(cf.opts.logger, description, elapsed.Milliseconds())
			result.reject(&WaitTimeoutError{Message: description, Timeout: timeout.Milliseconds()})
			return
		}
		t := cf.scheduleNewTask(description, func() (Result, error) {
			ok, err := cond()
			if err != nil {
				return nil, err
			}
			return ok, nil
		})
		t.promise.subscribe(func(state PromiseState, value Result) {
			if result.isSettled() {
				return
			}
			if state == StateRejected {
				if cancelTimeout != nil {
					cancelTimeout()
				}
				result.reject(value)
				return
			}
			if truthy(value) {
				if cancelTimeout != nil {
					cancelTimeout()
				}
				result.resolve(value)
				return
			}
			cf.opts.timers.ScheduleTimer(0, poll)
		})
	}
	poll()
	return result
}

// truthy mirrors JS truthiness closely enough for wait conditions: nil,
// false, zero numbers, and empty strings are falsy; everything else,
// including an empty slice/map, is truthy.
func truthy(v Result) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
