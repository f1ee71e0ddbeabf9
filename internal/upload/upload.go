// Package upload delivers captured images to the configured sink with bounded retries.
package upload

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Outcome of a single upload attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable_failure"
	OutcomeTerminal  Outcome = "terminal_failure"
)

// Payload is one image plus the metadata every sink sends along with it.
type Payload struct {
	Image      []byte
	Filename   string
	CapturedAt time.Time
	Location   string
	IsDay      bool
	// Meta feeds the cam.json sidecar of file-based sinks. It may be nil.
	Meta *Metadata
	// NoSidecar skips cam.json, for secondary copies of the same cycle.
	NoSidecar bool
}

// Receipt is what the sink reports back on success.
type Receipt struct {
	ID         string `json:"id"`
	ReceivedAt string `json:"received_at"`
	SizeBytes  int64  `json:"size_bytes"`
	// Path is the object or file the image was written to, for non-HTTP sinks.
	Path string `json:"path,omitempty"`
}

// Sink performs one delivery attempt.
type Sink interface {
	Name() string
	Put(ctx context.Context, p Payload) (Receipt, error)
}

// Attempt is one step of the retry trace.
type Attempt struct {
	Number            int
	Outcome           Outcome
	BackoffBeforeNext time.Duration
	Err               error
}

// Policy bounds the retries of one Upload call.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration
}

// DefaultPolicy is three attempts with 1s, 2s backoff and a 30s attempt timeout.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialBackoff: time.Second, AttemptTimeout: 30 * time.Second}
}

// Backoff is the wait after failed attempt n (1-based) before attempt n+1.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.InitialBackoff << (n - 1)
}

// Option customizes an Uploader.
type Option func(*Uploader)

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(sink string, a Attempt)) Option {
	return func(u *Uploader) { u.observe = fn }
}

// Uploader retries a Sink according to a Policy.
type Uploader struct {
	sink    Sink
	policy  Policy
	logger  *zap.Logger
	observe func(string, Attempt)
	sleep   func(ctx context.Context, d time.Duration) error
}

// New wraps sink with the retry policy.
func New(sink Sink, policy Policy, logger *zap.Logger, opts ...Option) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	u := &Uploader{
		sink:    sink,
		policy:  policy,
		logger:  logger.Named("upload"),
		observe: func(string, Attempt) {},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Sink returns the wrapped sink.
func (u *Uploader) Sink() Sink { return u.sink }

// Upload delivers p, retrying retryable failures with exponential backoff.
func (u *Uploader) Upload(ctx context.Context, p Payload) (Receipt, error) {
	name := u.sink.Name()
	var lastErr error

	for n := 1; n <= u.policy.MaxAttempts; n++ {
		receipt, err := u.attempt(ctx, p)
		a := Attempt{Number: n, Outcome: Classify(err), Err: err}

		if a.Outcome == OutcomeSuccess {
			u.observe(name, a)
			u.logger.Info("upload succeeded",
				zap.String("sink", name),
				zap.Int("attempt", n),
				zap.String("id", receipt.ID),
				zap.Int("bytes", len(p.Image)),
			)
			return receipt, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			u.observe(name, a)
			return Receipt{}, &Error{Sink: name, Reason: ReasonCancelled, Err: err}
		}
		if a.Outcome == OutcomeTerminal {
			u.observe(name, a)
			u.logger.Error("upload rejected", zap.String("sink", name), zap.Int("attempt", n), zap.Error(err))
			return Receipt{}, &Error{Sink: name, Reason: ReasonTerminal, Err: err}
		}
		if n == u.policy.MaxAttempts {
			u.observe(name, a)
			break
		}

		a.BackoffBeforeNext = u.policy.Backoff(n)
		u.observe(name, a)
		u.logger.Warn("upload attempt failed, retrying",
			zap.String("sink", name),
			zap.Int("attempt", n),
			zap.Int("max_attempts", u.policy.MaxAttempts),
			zap.Duration("backoff", a.BackoffBeforeNext),
			zap.Error(err),
		)
		if err := u.sleep(ctx, a.BackoffBeforeNext); err != nil {
			return Receipt{}, &Error{Sink: name, Reason: ReasonCancelled, Err: lastErr}
		}
	}

	u.logger.Error("upload failed after all attempts",
		zap.String("sink", name),
		zap.Int("attempts", u.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return Receipt{}, &Error{Sink: name, Reason: ReasonExhausted, Err: lastErr}
}

func (u *Uploader) attempt(ctx context.Context, p Payload) (Receipt, error) {
	if u.policy.AttemptTimeout <= 0 {
		return u.sink.Put(ctx, p)
	}
	ctx, cancel := context.WithTimeout(ctx, u.policy.AttemptTimeout)
	defer cancel()
	return u.sink.Put(ctx, p)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
