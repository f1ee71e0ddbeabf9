package upload

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Reason says why Upload gave up.
type Reason string

const (
	ReasonTerminal  Reason = "terminal"
	ReasonExhausted Reason = "exhausted"
	ReasonCancelled Reason = "cancelled"
)

// Error is the single failure returned by Uploader.Upload. Err is the last
// underlying cause.
type Error struct {
	Sink   string
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload to %s %s: %v", e.Sink, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from a sink.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// terminalError marks a sink failure that retrying cannot fix.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func markTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Classify maps a sink error onto an attempt outcome. 4xx other than 429 and
// errors marked terminal by a sink are terminal; everything else, including
// timeouts, is retryable.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var term *terminalError
	if errors.As(err, &term) {
		return OutcomeTerminal
	}
	var status *StatusError
	if errors.As(err, &status) {
		if status.StatusCode >= 400 && status.StatusCode < 500 && status.StatusCode != http.StatusTooManyRequests {
			return OutcomeTerminal
		}
		return OutcomeRetryable
	}
	return OutcomeRetryable
}
