package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher sends a registry to a Prometheus Pushgateway. Lambda containers
// are frozen between invocations, so nothing could scrape them.
type Pusher struct {
	pusher *push.Pusher
	logger *slog.Logger
}

// NewPusher returns a pusher for job on the gateway at url, grouped by
// instance when one is given. An empty url returns nil, which never
// pushes.
func NewPusher(url, job, instance string, g prometheus.Gatherer, logger *slog.Logger) *Pusher {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := push.New(url, job).Gatherer(g)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	return &Pusher{pusher: p, logger: logger}
}

// Push replaces the group's metrics on the gateway with the current
// values.
func (p *Pusher) Push(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.pusher.PushContext(ctx)
}

// Flush pushes and logs a failure instead of returning it.
func (p *Pusher) Flush(ctx context.Context) {
	if err := p.Push(ctx); err != nil {
		p.logger.WarnContext(ctx, "metrics push failed", "error", err)
	}
}

// Wrap returns fn with a push after every call. A failed push never fails
// the invocation.
func Wrap[E, R any](p *Pusher, fn func(context.Context, E) (R, error)) func(context.Context, E) (R, error) {
	if p == nil {
		return fn
	}
	return func(ctx context.Context, event E) (R, error) {
		out, err := fn(ctx, event)
		p.Flush(ctx)
		return out, err
	}
}
