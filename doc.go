// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package promise implements a deterministic, cooperative task scheduler
// ("control flow") layered on top of a promise system.
//
// # Why
//
// Asynchronous commands (a click, a navigation, a script evaluation) are
// naturally expressed as a sequence: the caller wants to write them as if
// they were blocking, but each one genuinely only settles later. ControlFlow
// lets commands be enqueued eagerly while guaranteeing each runs strictly
// after the previous one fully settles, and lets a command's callbacks
// inject sub-commands that run before later siblings.
//
// # Architecture
//
//   - Promise is the state machine: pending/blocked/fulfilled/rejected, with
//     then/catch/finally chaining and thenable assimilation.
//   - Task wraps a user function and its Promise; it belongs to exactly one
//     Frame.
//   - Frame is a node in the scheduler's active tree: a FIFO of pending Tasks
//     plus at most one active child Frame.
//   - TaskQueue is a top-level Frame plus a new/started/finished state; a
//     ControlFlow may own several, running in parallel from the caller's
//     perspective (a later queue's tasks run whenever every earlier queue
//     is blocked or finished) though each is internally single-threaded.
//   - ControlFlow drives everything: it owns the TaskQueues, runs the
//     selection walk, and emits idle/uncaughtException/reset.
//
// # Execution model
//
// At most one Task function is ever on the call stack at a time. The next
// Task is chosen by a depth-first, left-to-right walk of the frame tree:
// work scheduled inside a running Task's body runs before that Task's
// siblings. See ControlFlow.Execute, ControlFlow.Wait and CreateFlow for
// the externally visible surface.
//
// # Host requirements
//
// The scheduler needs exactly three things from its host: a way to enqueue
// a microtask, a way to schedule a millisecond timer, and a wall clock. See
// Clock, MicrotaskScheduler and TimerScheduler. A default goroutine-and-timer
// backed implementation is wired in automatically by New.
//
// # Error handling
//
// Unconsumed rejections are detected one microtask turn after they occur
// and escalate to ControlFlow's uncaughtException event, coalesced into a
// MultipleUnhandledRejectionError if several became unhandled in the same
// turn. Task-body panics and explicit cancellation both surface as typed
// errors (see errors.go) that support errors.Is/errors.As through their
// Unwrap chain.
//
// # Thread safety
//
// A ControlFlow is not safe for concurrent use by multiple goroutines
// calling its scheduling API simultaneously; it is a single-threaded
// cooperative scheduler by design. It is, however, safe to resolve/reject a
// Deferred, or to cancel a Task, from any goroutine (e.g. a timer or an I/O
// callback): those operations run synchronously in the calling goroutine
// and synchronize through the promise's and the flow's own locks.
package promise
