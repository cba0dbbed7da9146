package notification

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateRecorder struct {
	states []int
}

func (r *stateRecorder) UpdateCircuitBreakerState(_ string, state int) {
	r.states = append(r.states, state)
}

func failN(t *testing.T, cb *CircuitBreaker, n int, err error) {
	t.Helper()
	for range n {
		_ = cb.Call(t.Context(), func(context.Context) error { return err })
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	rec := &stateRecorder{}
	cb := NewCircuitBreaker("compose", CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Minute, HalfOpenMaxRequests: 1}, rec, quietLogger())
	testErr := errors.New("service down")

	failN(t, cb, 2, testErr)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Failures())

	failN(t, cb, 1, testErr)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(t.Context(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, []int{int(StateClosed), int(StateOpen)}, rec.states)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("compose", CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxRequests: 1}, nil, quietLogger())
	failN(t, cb, 1, errors.New("x"))
	require.NoError(t, cb.Call(t.Context(), func(context.Context) error { return nil }))
	failN(t, cb, 1, errors.New("x"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("compose", CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1}, nil, quietLogger())
	failN(t, cb, 3, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		cb := NewCircuitBreaker("compose", CircuitBreakerConfig{MaxFailures: 1, Timeout: 50 * time.Millisecond, HalfOpenMaxRequests: 1}, nil, quietLogger())
		failN(t, cb, 1, errors.New("x"))
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(60 * time.Millisecond)

		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- cb.Call(t.Context(), func(context.Context) error {
				<-release
				return nil
			})
		}()
		synctest.Wait()
		assert.Equal(t, StateHalfOpen, cb.State())

		err := cb.Call(t.Context(), func(context.Context) error { return nil })
		require.ErrorIs(t, err, ErrTooManyRequests)

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		cb := NewCircuitBreaker("compose", CircuitBreakerConfig{MaxFailures: 1, Timeout: 50 * time.Millisecond, HalfOpenMaxRequests: 1}, nil, quietLogger())
		failN(t, cb, 1, errors.New("x"))
		time.Sleep(60 * time.Millisecond)

		failN(t, cb, 1, errors.New("still down"))
		assert.Equal(t, StateOpen, cb.State())

		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultCircuitBreakerConfig().Validate())
	assert.Error(t, CircuitBreakerConfig{MaxFailures: 0, Timeout: time.Second, HalfOpenMaxRequests: 1}.Validate())
	assert.Error(t, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Millisecond, HalfOpenMaxRequests: 1}.Validate())
	assert.Error(t, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second}.Validate())
}
