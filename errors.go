package promise

import (
	"errors"
	"fmt"
)

// CancellationError is the rejection reason for any promise terminated via
// Task.Cancel or ControlFlow.Reset. A second cancellation of an
// already-settled or already-cancelled target is a silent no-op, so this
// type is only ever observed once per task.
type CancellationError struct {
	// Message describes why cancellation happened (e.g. "ControlFlow was
	// reset").
	Message string
	// Cause is the reason passed to Cancel, if any.
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As against the wrapped cancellation
// reason.
func (e *CancellationError) Unwrap() error { return e.Cause }

// Is reports true for any *CancellationError, regardless of message/cause,
// matching how callers typically just want to know "was this cancelled".
func (e *CancellationError) Is(target error) bool {
	_, ok := target.(*CancellationError)
	return ok
}

// newCancellationError builds a CancellationError from an arbitrary
// cancellation reason, which may or may not already be an error.
func newCancellationError(message string, reason any) *CancellationError {
	switch r := reason.(type) {
	case nil:
		return &CancellationError{Message: message}
	case error:
		return &CancellationError{Message: message, Cause: r}
	default:
		return &CancellationError{Message: message, Cause: fmt.Errorf("%v", r)}
	}
}

// DiscardedTaskError is the rejection reason given to sibling tasks still
// pending in a Frame whose owning Task's body threw. It is absorbed by the
// scheduler: it is never reported as an uncaughtException unless a user
// handler was explicitly attached to the discarded task's own promise.
type DiscardedTaskError struct {
	// Cause is the error the parent task's body threw, which triggered the
	// discard.
	Cause error
}

func (e *DiscardedTaskError) Error() string {
	return fmt.Sprintf("task discarded: parent frame failed: %v", e.Cause)
}

func (e *DiscardedTaskError) Unwrap() error { return e.Cause }

// WaitTimeoutError is the rejection reason for ControlFlow.Wait when its
// deadline elapses before the condition becomes truthy.
type WaitTimeoutError struct {
	Message string
	Timeout int64 // milliseconds
}

func (e *WaitTimeoutError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: Wait timed out after %dms", e.Message, e.Timeout)
	}
	return fmt.Sprintf("Wait timed out after %dms", e.Timeout)
}

// MultipleUnhandledRejectionError coalesces two or more unhandled
// rejections detected in the same microtask turn into a single error whose
// Errors (and Unwrap) preserve insertion order.
type MultipleUnhandledRejectionError struct {
	Errors []error
}

func (e *MultipleUnhandledRejectionError) Error() string {
	return fmt.Sprintf("%d unhandled promise rejections", len(e.Errors))
}

// Unwrap allows errors.Is/errors.As to search every coalesced reason.
func (e *MultipleUnhandledRejectionError) Unwrap() []error { return e.Errors }

// Is reports true for any *MultipleUnhandledRejectionError.
func (e *MultipleUnhandledRejectionError) Is(target error) bool {
	var t *MultipleUnhandledRejectionError
	return errors.As(target, &t)
}

// PanicError wraps a value recovered from a panicking task or handler
// function, so the original panic value remains reachable via Unwrap when
// it is itself an error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// cycleError is the rejection reason used when assimilation detects a
// promise that ultimately depends on itself.
type cycleError struct{}

func (cycleError) Error() string { return "promise cycle detected: a promise cannot resolve with itself" }

// WrapError wraps an error with a message, preserving it as the %w cause so
// errors.Is(result, cause) holds.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// TypeError reports a value of the wrong shape was passed where a specific
// type was required (e.g. ControlFlow.Wait's condOrPromise argument).
type TypeError struct {
	Message string
}

func (e *TypeError) Error() string { return e.Message }

// AggregateError is the rejection reason for Any when every input promise
// rejects, collecting each rejection reason in input order.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("all %d promises were rejected", len(e.Errors))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

func (e *AggregateError) Is(target error) bool {
	var t *AggregateError
	return errors.As(target, &t)
}

// wrapRejection implements spec §4.1's rejection-reason-wrapping rule: a
// rejection bubbling out of a task is annotated with the task's
// description, except for CancellationError/DiscardedTaskError, which must
// stay exactly as produced (scenario 7 of the spec's worked examples
// depends on this).
func wrapRejection(description string, value Result) Result {
	err, ok := value.(error)
	if !ok {
		return value
	}
	var ce *CancellationError
	var de *DiscardedTaskError
	if errors.As(err, &ce) || errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("%s: %w", description, err)
}
