package promise

// Option configures a ControlFlow at construction time. The pattern
// mirrors the teacher's LoopOption/loopOptionImpl: an interface wrapping a
// single apply function, so options stay opaque and composable.
type Option interface {
	apply(*controlFlowOptions)
}

type controlFlowOptions struct {
	longStackTraces bool
	logger          *Logger
	clock           Clock
	microtasks      MicrotaskScheduler
	timers          TimerScheduler
}

type optionFunc func(*controlFlowOptions)

func (f optionFunc) apply(o *controlFlowOptions) { f(o) }

// WithLongStackTraces enables capture of a stack snapshot at every
// task-creation site; when on, rejection reasons get a stack-trace suffix
// identifying the scheduling call chain (spec §6 "LONG_STACK_TRACES").
func WithLongStackTraces(enabled bool) Option {
	return optionFunc(func(o *controlFlowOptions) {
		o.longStackTraces = enabled
	})
}

// WithLogger attaches a structured logger used for task lifecycle,
// discarded-frame, unhandled-rejection, reset and wait-timeout events. A
// nil logger (or never calling WithLogger) is equivalent to logging
// nowhere.
func WithLogger(logger *Logger) Option {
	return optionFunc(func(o *controlFlowOptions) {
		o.logger = logger
	})
}

// WithClock overrides the wall-clock source ControlFlow.Wait uses to
// compute poll deadlines and to measure the elapsed time recorded in
// timeout log entries. Mainly
// useful for deterministic tests: a fake Clock lets a test fast-forward a
// wait's deadline without an actual sleep.
func WithClock(clock Clock) Option {
	return optionFunc(func(o *controlFlowOptions) {
		o.clock = clock
	})
}

// WithMicrotaskQueue overrides the microtask-enqueue primitive the
// ControlFlow uses to drive its drain loop. This is the seam a host (e.g. a
// WebDriver client embedding this scheduler inside a larger runtime loop)
// uses to supply its own microtask queue instead of the default
// goroutine-backed one.
func WithMicrotaskQueue(scheduler MicrotaskScheduler) Option {
	return optionFunc(func(o *controlFlowOptions) {
		o.microtasks = scheduler
	})
}

// WithTimerScheduler overrides the millisecond-timer primitive used by
// ControlFlow.Wait's polling loop and by delayed promises.
func WithTimerScheduler(scheduler TimerScheduler) Option {
	return optionFunc(func(o *controlFlowOptions) {
		o.timers = scheduler
	})
}

func resolveOptions(opts []Option) *controlFlowOptions {
	cfg := &controlFlowOptions{
		clock: systemClock{},
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.apply(cfg)
	}
	if cfg.microtasks == nil || cfg.timers == nil {
		host := newGoroutineHost()
		if cfg.microtasks == nil {
			cfg.microtasks = host
		}
		if cfg.timers == nil {
			cfg.timers = host
		}
	}
	return cfg
}
