package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled resolves handles abandoned by their caller.
	ErrCancelled = errors.New("ml request cancelled")

	// ErrTooManyPending rejects submits while the registry is at capacity.
	ErrTooManyPending = errors.New("too many pending ml requests")

	// ErrDuplicateCorrelationID rejects registration of an id that is
	// still pending. Correlation ids are never reused while in flight, so
	// hitting this is a programming error, not a retryable condition.
	ErrDuplicateCorrelationID = errors.New("correlation id already pending")
)

// SubmissionError reports a request that never made it to the broker. The
// registry entry is rolled back before the caller sees this, so no response
// will ever be expected for the id.
type SubmissionError struct {
	RequestID   string
	RequestType string
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit %s request %s: %v", e.RequestType, e.RequestID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TimeoutError resolves handles whose request outlived its budget without a
// response arriving.
type TimeoutError struct {
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ml request %s timed out after %v", e.RequestID, e.After.Round(time.Millisecond))
}
