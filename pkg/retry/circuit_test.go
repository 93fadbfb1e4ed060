package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	assert.True(t, cb.Allow(), "closed circuit should allow calls")
	assert.Equal(t, CircuitStateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SameErrorThreshold: 10})

	cb.RecordError(errors.New("a"))
	cb.RecordError(errors.New("b"))
	assert.Equal(t, CircuitStateClosed, cb.State())

	cb.RecordError(errors.New("c"))
	assert.Equal(t, CircuitStateOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.Equal(t, "consecutive failures", cb.Stats().OpenReason)
}

func TestCircuitBreaker_SameErrorTripsEarly(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 10, SameErrorThreshold: 2})

	cb.RecordError(errors.New("HTTP 503"))
	cb.RecordError(errors.New("HTTP 503"))

	assert.Equal(t, CircuitStateOpen, cb.State())
	assert.Equal(t, "repeated error", cb.Stats().OpenReason)
}

func TestCircuitBreaker_SuccessResetsConsecutive(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	cb.RecordError(errors.New("x"))
	cb.RecordSuccess()
	cb.RecordError(errors.New("y"))

	assert.Equal(t, CircuitStateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Consecutive)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		Now:              clock.Now,
	})

	cb.RecordError(errors.New("down"))
	require.False(t, cb.Allow())

	clock.Advance(time.Minute)
	assert.True(t, cb.Allow(), "probe should be allowed after recovery timeout")
	assert.Equal(t, CircuitStateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe while half-open")

	cb.RecordSuccess()
	assert.Equal(t, CircuitStateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Now:              clock.Now,
	})

	cb.RecordError(errors.New("down"))
	clock.Advance(time.Second)
	require.True(t, cb.Allow())

	cb.RecordError(errors.New("still down"))
	assert.Equal(t, CircuitStateOpen, cb.State())
	assert.Equal(t, "probe failed", cb.Stats().OpenReason)
}

func TestCircuitBreaker_AbortedHalfOpenCallAllowsAnother(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Now:              clock.Now,
	})

	cb.RecordError(errors.New("down"))
	clock.Advance(time.Second)
	require.True(t, cb.Allow())
	require.Equal(t, CircuitStateHalfOpen, cb.State())

	cb.Abort()
	assert.Equal(t, CircuitStateOpen, cb.State())
	assert.True(t, cb.Allow(), "another trial call may run after an aborted one")

	cb.RecordSuccess()
	assert.Equal(t, CircuitStateClosed, cb.State())
}

func TestCircuitBreaker_AbortWhileClosedIsNoop(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	cb.Abort()
	assert.Equal(t, CircuitStateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	cb.RecordError(errors.New("x"))
	require.Equal(t, CircuitStateOpen, cb.State())

	cb.Reset()

	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitStateClosed, cb.State())
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordError(errors.New("err"))
	cb.Allow()

	stats := cb.Stats()
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 1, stats.RejectCount)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitStateClosed.String())
	assert.Equal(t, "open", CircuitStateOpen.String())
	assert.Equal(t, "half-open", CircuitStateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
