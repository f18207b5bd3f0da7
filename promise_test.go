package promise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred_FulfillSettlesPromise(t *testing.T) {
	d := Defer(nil)
	assert.True(t, d.Promise.IsPending())
	d.Fulfill("value")
	v, err := await(t, d.Promise)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.False(t, d.Promise.IsPending())
}

func TestDeferred_RejectSettlesPromise(t *testing.T) {
	d := Defer(nil)
	boom := errors.New("boom")
	d.Reject(boom)
	_, err := await(t, d.Promise)
	require.ErrorIs(t, err, boom)
}

func TestDeferred_SecondSettlementIsNoOp(t *testing.T) {
	d := Defer(nil)
	d.Fulfill("first")
	d.Fulfill("second")
	d.Reject(errors.New("ignored"))
	v, err := await(t, d.Promise)
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestThen_FulfilledChainsValue(t *testing.T) {
	d := Defer(nil)
	chained := d.Promise.Then(func(v Result) Result {
		return v.(int) + 1
	}, nil)
	d.Fulfill(41)
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestThen_NilOnFulfilledPassesThrough(t *testing.T) {
	d := Defer(nil)
	chained := d.Promise.Then(nil, nil)
	d.Fulfill("passthrough")
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, "passthrough", v)
}

func TestThen_RejectionSkipsOnFulfilled(t *testing.T) {
	d := Defer(nil)
	called := false
	chained := d.Promise.Then(func(v Result) Result {
		called = true
		return v
	}, func(reason Result) Result {
		return "recovered"
	})
	d.Reject(errors.New("boom"))
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.False(t, called)
}

func TestThen_NilOnRejectedPropagatesRejection(t *testing.T) {
	d := Defer(nil)
	boom := errors.New("boom")
	chained := d.Promise.Then(nil, nil)
	d.Reject(boom)
	_, err := await(t, chained)
	require.ErrorIs(t, err, boom)
}

func TestCatch_HandlesRejection(t *testing.T) {
	d := Defer(nil)
	chained := d.Promise.Catch(func(reason Result) Result {
		return "handled: " + reason.(error).Error()
	})
	d.Reject(errors.New("oops"))
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, "handled: oops", v)
}

func TestThen_HandlerPanicBecomesPanicError(t *testing.T) {
	d := Defer(nil)
	chained := d.Promise.Then(func(Result) Result {
		panic("kaboom")
	}, nil)
	d.Fulfill(nil)
	_, err := await(t, chained)
	require.Error(t, err)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestThen_ReturningThenableAssimilates(t *testing.T) {
	inner := Defer(nil)
	d := Defer(nil)
	chained := d.Promise.Then(func(Result) Result {
		return inner.Promise
	}, nil)
	d.Fulfill(nil)
	inner.Fulfill("inner value")
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, "inner value", v)
}

func TestFinally_RunsOnFulfillmentWithoutAlteringValue(t *testing.T) {
	d := Defer(nil)
	ran := false
	chained := d.Promise.Finally(func() { ran = true })
	d.Fulfill("original")
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, "original", v)
	assert.True(t, ran)
}

func TestFinally_RunsOnRejectionWithoutSwallowingIt(t *testing.T) {
	d := Defer(nil)
	ran := false
	boom := errors.New("boom")
	chained := d.Promise.Finally(func() { ran = true })
	d.Reject(boom)
	_, err := await(t, chained)
	require.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestFinally_PanicIsSwallowed(t *testing.T) {
	d := Defer(nil)
	chained := d.Promise.Finally(func() { panic("ignored") })
	d.Fulfill("value")
	v, err := await(t, chained)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestPromise_SelfResolutionRejectsWithCycleError(t *testing.T) {
	d := Defer(nil)
	d.Promise.resolve(d.Promise)
	_, err := await(t, d.Promise)
	require.Error(t, err)
	assert.IsType(t, cycleError{}, err)
}

func TestPromise_CancelRejectsPending(t *testing.T) {
	d := Defer(nil)
	d.Promise.Cancel("done with this")
	_, err := await(t, d.Promise)
	require.Error(t, err)
	var ce *CancellationError
	require.ErrorAs(t, err, &ce)
}

func TestPromise_CancelOnSettledIsNoOp(t *testing.T) {
	d := Defer(nil)
	d.Fulfill("already done")
	d.Promise.Cancel("too late")
	v, err := await(t, d.Promise)
	require.NoError(t, err)
	assert.Equal(t, "already done", v)
}

func TestFulfilled_ReturnsAlreadySettledPromise(t *testing.T) {
	p := Fulfilled("quick")
	assert.False(t, p.IsPending())
	v, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, "quick", v)
}

func TestRejected_ReturnsAlreadySettledPromise(t *testing.T) {
	boom := errors.New("fast failure")
	p := Rejected(boom)
	_, err := await(t, p)
	require.ErrorIs(t, err, boom)
}

func TestWithResolvers_ProducesIndependentResolveReject(t *testing.T) {
	d := WithResolvers()
	d.Fulfill("resolved externally")
	v, err := await(t, d.Promise)
	require.NoError(t, err)
	assert.Equal(t, "resolved externally", v)
}
