package promise

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is an injectable Clock that only advances when told to,
// letting a test fast-forward past a wait's deadline deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// clockOnlyTimers services zero-delay reschedules (needed to keep
// waitForCondition's poll loop moving) but permanently disables any
// positive-duration timer — isolating a wait's timeout behavior to
// whatever its Clock reports, rather than the relative ScheduleTimer
// fallback.
type clockOnlyTimers struct{}

func (clockOnlyTimers) ScheduleTimer(d time.Duration, fn func()) (cancel func()) {
	if d > 0 {
		return func() {}
	}
	tm := time.AfterFunc(d, fn)
	return func() { tm.Stop() }
}

func TestWait_OnPromiseResolvesWithItsValue(t *testing.T) {
	cf := New()
	d := Defer(cf)
	result := cf.Wait(d.Promise, 0, "waiting on deferred")
	d.Fulfill("arrived")
	v, err := await(t, result)
	require.NoError(t, err)
	assert.Equal(t, "arrived", v)
}

func TestWait_OnPromiseRejectsWithItsReason(t *testing.T) {
	cf := New()
	d := Defer(cf)
	boom := errors.New("boom")
	result := cf.Wait(d.Promise, 0, "waiting on deferred")
	d.Reject(boom)
	_, err := await(t, result)
	require.ErrorIs(t, err, boom)
}

func TestWait_OnPromiseTimesOut(t *testing.T) {
	cf := New()
	d := Defer(cf)
	result := cf.Wait(d.Promise, 10*time.Millisecond, "never arrives")
	_, err := await(t, result)
	require.Error(t, err)
	var wte *WaitTimeoutError
	require.ErrorAs(t, err, &wte)
}

func TestWait_OnConditionPollsUntilTrue(t *testing.T) {
	cf := New()
	var calls int32
	cond := WaitCondition(func() (bool, error) {
		n := atomic.AddInt32(&calls, 1)
		return n >= 3, nil
	})
	result := cf.Wait(cond, 0, "polling condition")
	v, err := await(t, result)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestWait_OnConditionErrorRejectsImmediately(t *testing.T) {
	cf := New()
	boom := errors.New("condition exploded")
	cond := WaitCondition(func() (bool, error) {
		return false, boom
	})
	result := cf.Wait(cond, 0, "polling condition")
	_, err := await(t, result)
	require.ErrorIs(t, err, boom)
}

func TestWait_OnPlainFuncSignatureWorks(t *testing.T) {
	cf := New()
	result := cf.Wait(func() (bool, error) { return true, nil }, 0, "plain func condition")
	v, err := await(t, result)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

// TestWait_OnConditionTimesOutViaClockNotViaTimerFiring proves WithClock
// is load-bearing: the overall timeout's relative timer is disabled
// entirely (clockOnlyTimers), so the only way this wait can time out is
// via waitForCondition consulting cf.opts.clock directly.
func TestWait_OnConditionTimesOutViaClockNotViaTimerFiring(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	cf := New(WithClock(clock), WithTimerScheduler(clockOnlyTimers{}))

	cond := WaitCondition(func() (bool, error) {
		clock.Advance(20 * time.Millisecond)
		return false, nil
	})
	result := cf.Wait(cond, 10*time.Millisecond, "clock-driven timeout")
	_, err := await(t, result)
	require.Error(t, err)
	var wte *WaitTimeoutError
	require.ErrorAs(t, err, &wte)
}

func TestWait_UnsupportedTypeRejectsWithTypeError(t *testing.T) {
	cf := New()
	result := cf.Wait(42, 0, "bad condition")
	_, err := await(t, result)
	require.Error(t, err)
	var te *TypeError
	require.ErrorAs(t, err, &te)
}
