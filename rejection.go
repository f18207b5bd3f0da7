package promise

import "sync"

// unhandledRejectionTracker implements spec §4.2: when a promise rejects,
// it is tracked; one microtask turn later, any tracked promise that is
// still unhandled (no Then/Catch/Finally/subscribe ever attached) is
// reported as an uncaughtException on its owning flow. Several such
// promises of one flow discovered within the same turn are coalesced into a
// single MultipleUnhandledRejectionError. Unhandled rejections of promises
// with no owning flow are not reported anywhere: flush passes them to a nil
// logger, which logs nothing.
type unhandledRejectionTracker struct {
	mu      sync.Mutex
	pending []*Promise
	flushed bool
}

var globalTracker = &unhandledRejectionTracker{}

// track records p as a rejection candidate and, if it is the first one
// this turn, schedules the one-microtask-later flush. Scheduling uses
// p's own flow if it has one, else the package default host — either way
// the flush always happens exactly one turn after the rejections it
// reports, never synchronously.
func (u *unhandledRejectionTracker) track(p *Promise) {
	u.mu.Lock()
	u.pending = append(u.pending, p)
	first := !u.flushed
	if first {
		u.flushed = true
	}
	u.mu.Unlock()
	if !first {
		return
	}
	scheduler := MicrotaskScheduler(defaultHost)
	if p.flow != nil {
		scheduler = p.flow.opts.microtasks
	}
	scheduler.ScheduleMicrotask(u.flush)
}

func (u *unhandledRejectionTracker) flush() {
	u.mu.Lock()
	batch := u.pending
	u.pending = nil
	u.flushed = false
	u.mu.Unlock()

	byFlow := map[*ControlFlow][]error{}
	var orphans []error
	for _, p := range batch {
		p.mu.Lock()
		stillUnhandled := p.state == StateRejected && !p.handled
		value := p.value
		flow := p.flow
		p.mu.Unlock()
		if !stillUnhandled {
			continue
		}
		byFlow[flow] = append(byFlow[flow], asThrow(value))
	}
	for flow, errs := range byFlow {
		var reported error
		if len(errs) == 1 {
			reported = errs[0]
		} else {
			reported = &MultipleUnhandledRejectionError{Errors: errs}
		}
		if flow == nil {
			orphans = append(orphans, reported)
			continue
		}
		flow.reportUncaughtException(reported)
	}
	for _, err := range orphans {
		logUnhandledRejection(nil, err)
	}
}
