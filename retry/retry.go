// Package retry runs one unit of store I/O with bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vishallnvk/knowlio/errs"
)

// Class is the retry classification of a fault.
type Class int

const (
	// Unknown faults are not retried and surface as errs.StoreError.
	Unknown Class = iota

	// Transient faults (throttling, network) are retried.
	Transient

	// Permanent faults (validation, conflict, not found) are returned as is.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier maps a fault to its class.
type Classifier func(error) Class

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Jitter is the fraction (0..1) of each delay that is randomized.
	Jitter float64
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   50 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    2 * time.Second,
	Jitter:      0.2,
}

func (p *Policy) normalize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
}

// Backoff returns the delay before retry number attempt (1-based) without
// jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Recorder observes retry outcomes.
type Recorder interface {
	Attempt(op string, class Class)
	Exhausted(op string)
}

// Executor wraps a call with the retry policy.
type Executor struct {
	policy   Policy
	classify Classifier
	logger   *slog.Logger
	recorder Recorder
	sleep    func(context.Context, time.Duration) error
	rand     func() float64
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets a recorder for attempt metrics.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand replaces the jitter source. f must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(e *Executor) { e.rand = f }
}

// New creates an executor.
func New(policy Policy, classify Classifier, opts ...Option) *Executor {
	policy.normalize()
	if classify == nil {
		classify = func(error) Class { return Unknown }
	}
	e := &Executor{
		policy:   policy,
		classify: classify,
		logger:   slog.Default(),
		sleep:    Sleep,
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy { return e.policy }

// Do calls fn until it succeeds, fails with a non-transient fault or the
// attempts run out. It returns the number of attempts made.
//
// Permanent faults are returned unchanged. Unknown faults are wrapped in
// errs.StoreError. A transient fault on the last attempt becomes
// errs.RetryExhaustedError.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}

		class := e.classify(err)
		if e.recorder != nil {
			e.recorder.Attempt(op, class)
		}

		switch class {
		case Permanent:
			return attempt, err
		case Transient:
		default:
			e.logger.Error("store call failed with unclassified fault", "op", op, "attempt", attempt, "error", err)
			return attempt, &errs.StoreError{Op: op, Cause: err}
		}

		lastErr = err
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.delay(attempt)
		e.logger.Warn("retrying store call", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if err := e.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}

	if e.recorder != nil {
		e.recorder.Exhausted(op)
	}
	e.logger.Error("store call retries exhausted", "op", op, "attempts", e.policy.MaxAttempts, "error", lastErr)
	return e.policy.MaxAttempts, &errs.RetryExhaustedError{Op: op, Attempts: e.policy.MaxAttempts, Cause: lastErr}
}

// Run is Do for calls that return a value.
func Run[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, int, error) {
	var out T
	attempts, err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, attempts, err
}

// delay applies symmetric jitter around the backoff for attempt.
func (e *Executor) delay(attempt int) time.Duration {
	base := e.policy.Backoff(attempt)
	if e.policy.Jitter == 0 || base == 0 {
		return base
	}
	spread := float64(base) * e.policy.Jitter
	return time.Duration(float64(base) - spread + 2*spread*e.rand())
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
