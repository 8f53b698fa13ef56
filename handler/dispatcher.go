// Package handler dispatches service invocations to the entity
// repositories. An invocation names a processor (user, content, license,
// analytics) and one of its actions; the dispatcher checks the payload
// keys and the caller's capability before running the action.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/errs"
)

// Request is what an action receives.
type Request struct {
	Action  string
	Caller  Caller
	Payload document.Map
}

// Action is one operation of a processor.
type Action struct {
	// Allow must admit the caller. Nil admits everyone.
	Allow Capability

	// Keys are the payload keys the action reads. Listed keys are
	// required unless marked Optional; other keys are passed through.
	Keys []*validation.KeyRules

	Run func(ctx context.Context, req Request) (any, error)
}

// Processor maps action names to actions.
type Processor map[string]Action

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock replaces the time source used for stamps such as revoked_at.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher routes events to processors.
type Dispatcher struct {
	processors map[string]Processor
	repos      Repositories
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a dispatcher with the user, content, license and analytics
// processors wired to repos.
func New(repos Repositories, opts ...Option) (*Dispatcher, error) {
	if err := repos.validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		processors: make(map[string]Processor),
		repos:      repos,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.Register("user", d.userProcessor())
	d.Register("content", d.contentProcessor())
	d.Register("license", d.licenseProcessor())
	d.Register("analytics", d.analyticsProcessor())
	return d, nil
}

// Register adds or replaces a processor.
func (d *Dispatcher) Register(name string, p Processor) {
	d.processors[name] = p
}

// Handle runs one event. Failures are rendered into the response, so the
// returned error is always nil and the invocation itself succeeds.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (Response, error) {
	start := time.Now()
	result, err := d.dispatch(ctx, ev)
	attrs := []any{
		"processor", ev.ProcessorName,
		"action", ev.Action,
		"duration", time.Since(start),
	}
	if err != nil {
		kind := errs.KindOf(err)
		attrs = append(attrs, "kind", kind, "error", err)
		switch kind {
		case errs.KindStore, errs.KindRetryExhausted, errs.KindInternal:
			d.logger.ErrorContext(ctx, "action failed", attrs...)
		default:
			d.logger.WarnContext(ctx, "action rejected", attrs...)
		}
		return failure(err), nil
	}

	d.logger.InfoContext(ctx, "action completed", attrs...)
	return respond(http.StatusOK, result), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) (any, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	proc, ok := d.processors[ev.ProcessorName]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "processor", ID: ev.ProcessorName}
	}
	act, ok := proc[ev.Action]
	if !ok {
		return nil, errs.Invalid("action", "one of ["+strings.Join(proc.actions(), " ")+"]", "unsupported action "+ev.Action)
	}

	raw := ev.Payload
	if raw == nil {
		raw = map[string]any{}
	}
	if len(act.Keys) > 0 {
		rule := validation.Map(act.Keys...).AllowExtraKeys()
		if err := fromValidation(validation.Validate(raw, rule), nil); err != nil {
			return nil, err
		}
	}
	payload, err := document.MapFromAny(raw)
	if err != nil {
		return nil, errs.Invalid("payload", "JSON object", err.Error())
	}

	if act.Allow != nil {
		if err := act.Allow(ev.Action, ev.Caller, payload); err != nil {
			return nil, err
		}
	}
	if act.Run == nil {
		return nil, errors.New("handler: action " + ev.Action + " has no implementation")
	}
	return act.Run(ctx, Request{Action: ev.Action, Caller: ev.Caller, Payload: payload})
}

func (p Processor) actions() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
