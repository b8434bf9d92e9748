package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HanTheDev/multi-tenant-rag/internal/cache"
	"github.com/HanTheDev/multi-tenant-rag/internal/completion"
	"github.com/HanTheDev/multi-tenant-rag/internal/search"
	"github.com/HanTheDev/multi-tenant-rag/internal/tenant"
)

// Kind is the machine-readable reason a request ended without an answer.
type Kind string

const (
	KindRateLimited           Kind = "rate_limited"
	KindTenantNotFound        Kind = "tenant_not_found"
	KindTenantDisabled        Kind = "tenant_disabled"
	KindInvalidRequest        Kind = "invalid_request"
	KindSearchUnavailable     Kind = "search_unavailable"
	KindCompletionUnavailable Kind = "completion_unavailable"
	KindCompletionTimeout     Kind = "completion_timeout"
	KindCanceled              Kind = "canceled"
	KindInternal              Kind = "internal"

	// Never terminal. Reported in metadata and logs only.
	KindPartialSearchFailure Kind = "partial_search_failure"
	KindCacheUnavailable     Kind = "cache_unavailable"
)

// Error is the failure variant of every operation. Callers switch on Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal for errors that did not come
// from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// classify maps the sentinel errors of the lower packages to a Kind. It is the
// only place that knows about them.
func classify(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, tenant.ErrTenantNotFound):
		return newError(KindTenantNotFound, "unknown tenant", err)
	case errors.Is(err, tenant.ErrTenantDisabled):
		return newError(KindTenantDisabled, "tenant is disabled", err)
	case errors.Is(err, search.ErrSearchUnavailable):
		return newError(KindSearchUnavailable, "no namespace could be searched", err)
	case errors.Is(err, completion.ErrTimeout):
		return newError(KindCompletionTimeout, "the answer took too long to generate", err)
	case errors.Is(err, completion.ErrCanceled):
		return newError(KindCanceled, "the caller went away before the answer was ready", err)
	case errors.Is(err, completion.ErrUnavailable):
		return newError(KindCompletionUnavailable, "the answer could not be generated", err)
	case errors.Is(err, cache.ErrUnavailable):
		return newError(KindCacheUnavailable, "cache unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindCompletionTimeout, "request deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return newError(KindCanceled, "request canceled", err)
	default:
		return newError(KindInternal, "internal error", err)
	}
}
