package retry

import (
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitStateClosed means calls flow normally.
	CircuitStateClosed CircuitState = iota
	// CircuitStateOpen means calls are rejected without running.
	CircuitStateOpen
	// CircuitStateHalfOpen means one probe call is allowed through.
	CircuitStateHalfOpen
)

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is consecutive failed calls before tripping.
	FailureThreshold int

	// SameErrorThreshold trips early when the same message repeats.
	SameErrorThreshold int

	// RecoveryTimeout is time spent open before a probe is allowed.
	RecoveryTimeout time.Duration

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

// CircuitBreaker stops a service boundary from hammering a backend that
// keeps failing after retries are exhausted.
type CircuitBreaker struct {
	mu     sync.RWMutex
	config CircuitBreakerConfig

	state        CircuitState
	lastError    string
	sameErrors   int
	consecutive  int
	lastOpenTime time.Time
	openReason   string

	successCount int
	failureCount int
	rejectCount  int
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SameErrorThreshold == 0 {
		config.SameErrorThreshold = config.FailureThreshold
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  CircuitStateClosed,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Allow reports whether a call may proceed, moving open to half-open once
// the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitStateClosed:
		return true
	case CircuitStateOpen:
		if cb.config.Now().Sub(cb.lastOpenTime) >= cb.config.RecoveryTimeout {
			cb.state = CircuitStateHalfOpen
			return true
		}
		cb.rejectCount++
		return false
	default:
		// Half-open: the probe is already in flight.
		cb.rejectCount++
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.state = CircuitStateClosed
	cb.consecutive = 0
	cb.sameErrors = 0
	cb.lastError = ""
	cb.openReason = ""
}

// RecordError records a failed call.
func (cb *CircuitBreaker) RecordError(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	if cb.state == CircuitStateHalfOpen {
		cb.tripOpen("probe failed")
		return
	}

	cb.consecutive++

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg != "" && msg == cb.lastError {
		cb.sameErrors++
	} else {
		cb.sameErrors = 1
	}
	cb.lastError = msg

	switch {
	case cb.sameErrors >= cb.config.SameErrorThreshold:
		cb.tripOpen("repeated error")
	case cb.consecutive >= cb.config.FailureThreshold:
		cb.tripOpen("consecutive failures")
	}
}

// Abort releases a call that ended without telling anything about the
// backend, such as a cancelled one. A half-open breaker returns to open with
// its recovery timeout already elapsed, so the next call is let through.
func (cb *CircuitBreaker) Abort() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitStateHalfOpen {
		cb.state = CircuitStateOpen
	}
}

func (cb *CircuitBreaker) tripOpen(reason string) {
	cb.state = CircuitStateOpen
	cb.lastOpenTime = cb.config.Now()
	cb.openReason = reason
}

// Reset closes the circuit and clears failure tracking.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitStateClosed
	cb.consecutive = 0
	cb.sameErrors = 0
	cb.lastError = ""
	cb.openReason = ""
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:        cb.state,
		OpenReason:   cb.openReason,
		SuccessCount: cb.successCount,
		FailureCount: cb.failureCount,
		RejectCount:  cb.rejectCount,
		Consecutive:  cb.consecutive,
	}
}

// CircuitBreakerStats contains circuit breaker statistics.
type CircuitBreakerStats struct {
	State        CircuitState
	OpenReason   string
	SuccessCount int
	FailureCount int
	RejectCount  int
	Consecutive  int
}

// String returns a string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitStateClosed:
		return "closed"
	case CircuitStateOpen:
		return "open"
	case CircuitStateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
