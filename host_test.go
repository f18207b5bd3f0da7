package promise

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineHost_MicrotasksRunInFIFOOrder(t *testing.T) {
	h := newGoroutineHost()
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		h.ScheduleMicrotask(func() {
			mu.Lock()
			order = append(order, i)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for microtasks to drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGoroutineHost_ScheduleMicrotaskFromWithinATask(t *testing.T) {
	h := newGoroutineHost()
	done := make(chan struct{})
	h.ScheduleMicrotask(func() {
		h.ScheduleMicrotask(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for nested microtask")
	}
}

func TestGoroutineHost_TimerFires(t *testing.T) {
	h := newGoroutineHost()
	done := make(chan struct{})
	h.ScheduleTimer(10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for timer")
	}
}

func TestGoroutineHost_CancelledTimerNeverFires(t *testing.T) {
	h := newGoroutineHost()
	fired := false
	cancel := h.ScheduleTimer(50*time.Millisecond, func() { fired = true })
	cancel()

	// Give the (cancelled) timer well past its deadline to prove it stays
	// silent, then confirm the host is still otherwise responsive.
	done := make(chan struct{})
	h.ScheduleTimer(100*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for confirmation timer")
	}
	assert.False(t, fired)
}

func TestSystemClock_NowAdvances(t *testing.T) {
	var clock Clock = systemClock{}
	first := clock.Now()
	time.Sleep(time.Millisecond)
	second := clock.Now()
	require.True(t, second.After(first))
}
