package repository

import (
	"log/slog"
	"time"

	"github.com/vishallnvk/knowlio/internal/metrics"
	"github.com/vishallnvk/knowlio/retry"
)

const (
	// DefaultLimit is the page size when the caller requests none.
	DefaultLimit = 20

	// MaxLimit caps the page size; larger requests are clamped.
	MaxLimit = 100

	// DefaultPageBudget caps the store pages read by one list call.
	DefaultPageBudget = 50
)

// Option configures a Repository.
type Option func(*Repository)

// WithExecutor sets the retry executor wrapping every store call.
func WithExecutor(e *retry.Executor) Option {
	return func(r *Repository) {
		if e != nil {
			r.exec = e
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator replaces the id generator.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithLimits sets the default and maximum page sizes.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(r *Repository) {
		if maxLimit > 0 {
			r.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			r.defaultLimit = defaultLimit
		}
		if r.defaultLimit > r.maxLimit {
			r.defaultLimit = r.maxLimit
		}
	}
}

// WithPageBudget caps how many store pages one list call may read before
// it returns a partial page with a continuation token.
func WithPageBudget(pages int) Option {
	return func(r *Repository) {
		if pages > 0 {
			r.pageBudget = pages
		}
	}
}

// WithStrictUniqueness claims unique values on the constraint table in the
// same transaction as the create, in addition to the index lookup.
func WithStrictUniqueness(strict bool) Option {
	return func(r *Repository) { r.strictUnique = strict }
}
