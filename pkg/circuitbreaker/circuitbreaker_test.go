package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := New("test", WithFailureThreshold(2), WithOpenTimeout(time.Minute), WithClock(func() time.Time { return now }))

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenTrialCall(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var transitions []State
	cb := New("test",
		WithFailureThreshold(1),
		WithOpenTimeout(time.Minute),
		WithClock(func() time.Time { return now }),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := New("test", WithFailureThreshold(1), WithOpenTimeout(time.Minute), WithClock(func() time.Time { return now }))

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("still down") })

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CanceledContextIsNotAFailure(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := New("test", WithClock(func() time.Time { return now }))
	fail := func(context.Context) error { return errors.New("down") }

	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, cb.State(), "four failures stay under the default threshold")
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(29 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), ErrCircuitOpen)
	now = now.Add(time.Second)
	assert.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))

	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(7).String())
}
