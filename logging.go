package promise

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// logEvent is the concrete logiface.Event implementation used throughout
// this package: stumpy's JSON-line encoder. The teacher module declared
// logiface as a direct dependency but only ever exercised it from its own
// tests via a hand-rolled package-global Logger interface; here it backs
// ControlFlow's logging directly, per instance, via WithLogger.
type logEvent = stumpy.Event

// Logger is the type accepted by WithLogger. The zero value (a *Logger
// returned by logiface.New with no writer configured) is safe to log
// through and simply discards everything, so ControlFlow never needs to
// nil-check its logger field.
type Logger = logiface.Logger[*logEvent]

// NewLogger builds a Logger writing newline-delimited JSON to the given
// stumpy options, e.g.:
//
//	promise.NewLogger(stumpy.L.WithWriter(os.Stderr))
//
// Most callers should instead reach for NewJSONLogger or construct a
// logiface.Logger[*stumpy.Event] directly via stumpy.L.
func NewLogger(options ...logiface.Option[*logEvent]) *Logger {
	return logiface.New(options...)
}

// NewJSONLogger is a convenience wrapper around stumpy.L.New/stumpy.L.WithStumpy,
// matching the canonical usage shown in the teacher's logiface-stumpy
// package.
func NewJSONLogger(options ...stumpy.Option) *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(options...))
}

func logTaskStart(log *Logger, t *Task) {
	if log == nil {
		return
	}
	log.Debug().Str(`task`, t.Description()).Log(`task started`)
}

func logTaskSettled(log *Logger, t *Task, err error) {
	if log == nil {
		return
	}
	if err != nil {
		log.Debug().Str(`task`, t.Description()).Err(err).Log(`task rejected`)
		return
	}
	log.Debug().Str(`task`, t.Description()).Log(`task fulfilled`)
}

func logDiscarded(log *Logger, t *Task, cause error) {
	if log == nil {
		return
	}
	log.Warning().Str(`task`, t.Description()).Err(cause).Log(`task discarded: parent frame failed`)
}

func logUnhandledRejection(log *Logger, err error) {
	if log == nil {
		return
	}
	log.Err().Err(err).Log(`unhandled promise rejection`)
}

func logReset(log *Logger) {
	if log == nil {
		return
	}
	log.Notice().Log(`control flow reset`)
}

func logWaitTimeout(log *Logger, description string, timeoutMs int64) {
	if log == nil {
		return
	}
	log.Warning().Str(`wait`, description).Int64(`timeoutMs`, timeoutMs).Log(`wait timed out`)
}
