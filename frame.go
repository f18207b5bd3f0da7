package promise

import "sync/atomic"

var frameHandles uint64

func nextFrameHandle() uint64 { return atomic.AddUint64(&frameHandles, 1) }

// Frame is a node in a ControlFlow's active tree: a FIFO of pending Tasks
// plus, at most, one currently-active child Frame.
//
// Per spec §9's re-architecture guidance ("store frames in an arena keyed
// by integer handle... free handles when the frame is popped"), every
// Frame carries a stable handle from a package-wide counter, is registered
// in ControlFlow.frames when created, and is deregistered when
// tryDrainFrame_locked pops it (root frames stay registered until Reset
// replaces the map). Unlike the source this spec characterizes, Go's
// garbage collector would reclaim an orphaned Frame with no arena at all;
// the handle/arena exists here purely to give Frame references the same
// "small integer, explicitly freed" shape the spec calls for, not because
// it is load-bearing for memory safety in this language — see DESIGN.md.
type Frame struct {
	handle uint64
	parent *Frame
	queue  *TaskQueue

	pending []*Task // FIFO of tasks not yet dequeued
	active  *Frame  // the most-recently-pushed child frame, if any

	// owner is the Task this frame was pushed for; nil for a TaskQueue's
	// root frame.
	owner *Task

	// bodyDone is set once owner's function has returned. A frame with
	// bodyDone set can never gain new pending tasks (placement only ever
	// targets the synchronously-running frame), so once it is also
	// drained it is safe to pop permanently.
	bodyDone bool
}

func newFrame(parent *Frame, queue *TaskQueue, owner *Task) *Frame {
	f := &Frame{
		handle: nextFrameHandle(),
		parent: parent,
		queue:  queue,
		owner:  owner,
	}
	if queue != nil && queue.flow != nil {
		queue.flow.registerFrame(f)
	}
	return f
}

// drained reports whether this frame currently has no pending tasks and no
// active child frame.
func (f *Frame) drained() bool {
	return len(f.pending) == 0 && f.active == nil
}

// removeTask removes t from this frame's pending FIFO, if it is still
// there (a no-op if t has already been dequeued/is running).
func (f *Frame) removeTask(t *Task) bool {
	for i, pt := range f.pending {
		if pt == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return true
		}
	}
	return false
}

// selectRunnable performs the spec §4.3 selection walk starting at f:
// descend into the most-recently-pushed child frame if one exists;
// otherwise take the head of f's own FIFO.
//
// Critically, f's own FIFO is only ever a fallback for when f has no
// active child at all — not for when the active child merely has nothing
// runnable right now. A child frame can be bodyDone and drained (its own
// task's body returned, no tasks left inside it) while its owning task's
// promise is still pending — e.g. the body returned an unsettled deferred
// or delayed promise. Per spec §4.3 step 6, that frame isn't popped, and
// isn't done blocking f's own FIFO, until the promise actually settles;
// falling through to f.pending in the meantime would let a later sibling
// run ahead of whatever the pending promise's eventual settlement goes on
// to schedule (spec §8 scenarios 4 and 5).
func (f *Frame) selectRunnable() (*Task, *Frame) {
	if f.active != nil {
		return f.active.selectRunnable()
	}
	if len(f.pending) > 0 {
		return f.pending[0], f
	}
	return nil, nil
}
