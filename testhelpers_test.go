package promise

import (
	"fmt"
	"testing"
	"time"
)

// await blocks until p settles (or the test times out), returning its
// fulfillment value or a non-nil error for a rejection. Grounded on the
// teacher's pattern of small test-local wait helpers around channels
// (e.g. waitForRunning in the eventloop test suite).
func await(t *testing.T, p *Promise) (Result, error) {
	t.Helper()
	type outcome struct {
		state PromiseState
		value Result
	}
	ch := make(chan outcome, 1)
	p.subscribe(func(state PromiseState, value Result) {
		ch <- outcome{state, value}
	})
	select {
	case o := <-ch:
		if o.state == StateRejected {
			if err, ok := o.value.(error); ok {
				return nil, err
			}
			return nil, fmt.Errorf("%v", o.value)
		}
		return o.value, nil
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for promise to settle")
		return nil, nil
	}
}

func waitIdle(t *testing.T, cf *ControlFlow) {
	t.Helper()
	done := make(chan struct{})
	cf.Once(EventIdle, func(args ...any) { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for control flow to go idle")
	}
}
