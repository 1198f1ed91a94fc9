package bus

import (
	"errors"
	"time"
)

// retryError asks a durable subscription to redeliver the event instead of
// acknowledging it.
type retryError struct {
	err   error
	delay time.Duration
}

func (e *retryError) Error() string {
	if e.delay > 0 {
		return "redeliver in " + e.delay.String() + ": " + e.err.Error()
	}
	return "redeliver: " + e.err.Error()
}

func (e *retryError) Unwrap() error {
	return e.err
}

// RetryAfter wraps a handler error so the event comes back after delay.
// Plain subscriptions log it like any other handler error.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("redelivery requested")
	}
	if delay < 0 {
		delay = 0
	}
	return &retryError{err: err, delay: delay}
}

// RetryDelay reports the redelivery delay carried by err, if any.
func RetryDelay(err error) (time.Duration, bool) {
	var re *retryError
	if errors.As(err, &re) {
		return re.delay, true
	}
	return 0, false
}
