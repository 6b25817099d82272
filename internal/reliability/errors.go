package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
	ErrNonRetryable         = errors.New("retry: error is not retryable")
)

// CircuitBreakerError reports a call rejected by an open breaker.
type CircuitBreakerError struct {
	State            State
	Failures         int
	FailureThreshold int
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateOpen {
		return fmt.Sprintf("circuit breaker open: blocked (failures=%d/%d, retry in %v)",
			e.Failures, e.FailureThreshold, time.Until(e.NextRetry).Round(time.Second))
	}
	return fmt.Sprintf("circuit breaker %s: call rejected", e.State)
}

// RetryError reports an operation that failed through all its attempts.
type RetryError struct {
	Op        string
	Attempts  int
	LastError error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d attempts: %v", e.Op, e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error { return e.LastError }
