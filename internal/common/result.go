package common

// Status tags the outcome of one fallible pipeline step.
type Status int

const (
	StatusOK Status = iota
	StatusDegraded
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result carries a step's value together with how it was obtained.
// A degraded result still holds a usable fallback value; a fatal one does not.
type Result[T any] struct {
	Value  T
	Status Status
	Reason error
}

// Ok wraps a value produced without problems.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v, Status: StatusOK}
}

// Degraded wraps a fallback value and the reason the preferred one was not produced.
func Degraded[T any](fallback T, reason error) Result[T] {
	return Result[T]{Value: fallback, Status: StatusDegraded, Reason: reason}
}

// Fatal reports a failure that leaves no usable value.
func Fatal[T any](reason error) Result[T] {
	return Result[T]{Status: StatusFatal, Reason: reason}
}

func (r Result[T]) IsOK() bool       { return r.Status == StatusOK }
func (r Result[T]) IsDegraded() bool { return r.Status == StatusDegraded }
func (r Result[T]) IsFatal() bool    { return r.Status == StatusFatal }
