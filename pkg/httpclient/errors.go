package httpclient

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// RetryableError is returned when the retry budget is exhausted on a
// transient failure. Callers can use it to distinguish transient from
// fatal outcomes.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return true
}

// IsTransient reports whether err looks like a transient network or
// server failure: connection resets, timeouts, or a RetryableError.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
