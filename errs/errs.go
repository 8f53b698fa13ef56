// Package errs defines the caller-facing error taxonomy of the repository.
//
// Every error a repository operation returns is one of the types below (or
// a context error). [Public] renders any error as a {kind, message} pair
// that never carries store-native detail.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable, caller-visible error category.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInvalidToken   Kind = "invalid_token"
	KindRetryExhausted Kind = "retry_exhausted"
	KindStore          Kind = "store"
	KindForbidden      Kind = "forbidden"
	KindCanceled       Kind = "canceled"
	KindInternal       Kind = "internal"
)

// ValidationError reports an unknown or malformed field, a bad enum value
// or a disallowed status transition.
type ValidationError struct {
	Field    string
	Expected string
	Reason   string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid field %q", e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Expected != "" {
		msg += " (expected " + e.Expected + ")"
	}
	return msg
}

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, expected, reason string) *ValidationError {
	return &ValidationError{Field: field, Expected: expected, Reason: reason}
}

// NotFoundError reports that no entity exists for an id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError reports a unique-field collision on create.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q is already in use", e.Field, e.Value)
}

// InvalidTokenError reports a malformed or tampered pagination token.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return "invalid pagination token: " + e.Reason
}

// RetryExhaustedError reports a transient store fault that persisted past
// the maximum number of attempts.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// StoreError reports a backend failure that could not be classified.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store failure: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// ForbiddenError reports a failed capability check.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s is not permitted: %s", e.Action, e.Reason)
}

// KindOf classifies err into its caller-visible kind.
func KindOf(err error) Kind {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
		token      *InvalidTokenError
		exhausted  *RetryExhaustedError
		storeErr   *StoreError
		forbidden  *ForbiddenError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &token):
		return KindInvalidToken
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &exhausted):
		return KindRetryExhausted
	case errors.As(err, &storeErr):
		return KindStore
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Response is the caller-facing error shape.
type Response struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Public renders err for callers. Validation, not-found, conflict, token
// and forbidden errors surface verbatim; store-side failures are reduced
// to a generic message.
func Public(err error) Response {
	kind := KindOf(err)
	switch kind {
	case KindValidation, KindNotFound, KindConflict, KindInvalidToken, KindForbidden:
		return Response{Kind: kind, Message: err.Error()}
	case KindRetryExhausted:
		var exhausted *RetryExhaustedError
		errors.As(err, &exhausted)
		return Response{Kind: kind, Message: fmt.Sprintf("store temporarily unavailable after %d attempts", exhausted.Attempts)}
	case KindStore:
		return Response{Kind: kind, Message: "store request failed"}
	case KindCanceled:
		return Response{Kind: kind, Message: "request canceled"}
	default:
		return Response{Kind: KindInternal, Message: "internal error"}
	}
}
