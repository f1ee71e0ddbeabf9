package weather

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoData means the station has no current observation. It is a soft miss.
	ErrNoData = errors.New("no METAR data available")
	// ErrInvalidRequest is returned for HTTP 400, usually a bad station code.
	ErrInvalidRequest = errors.New("invalid METAR request")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("weather circuit breaker open")
)

// RateLimitedError is returned for HTTP 429 and while its retry hint has not elapsed.
type RateLimitedError struct {
	RetryAfter time.Duration
	Until      time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by METAR API, retry after %s", e.RetryAfter)
}

// HTTPError is any other non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("METAR API error: HTTP %d", e.StatusCode)
}
