package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the consumer surface. The set mirrors the
// failure modes of the upstream API plus local scheduling outcomes.
type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindUnauthorized       Kind = "unauthorized"
	KindUpstreamUnavail    Kind = "upstream_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindUpstreamQueryError Kind = "upstream_query_error"
	KindPaginationStalled  Kind = "pagination_stalled"
	KindReportNotFound     Kind = "report_not_found"
	KindCanceled           Kind = "canceled"
	KindTimeout            Kind = "timeout"
)

// Error is the single error type crossing component boundaries. Wrapped
// causes stay reachable through errors.Is/As.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Kind so callers can compare against sentinel values built
// with New.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// KindOf returns the Kind carried by err, or an empty Kind for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code the thin HTTP surface responds
// with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindReportNotFound:
		return 404
	case KindRateLimited:
		return 429
	case KindCanceled:
		return 499
	case KindTimeout:
		return 504
	case KindUpstreamUnavail, KindUpstreamQueryError, KindPaginationStalled:
		return 502
	default:
		return 500
	}
}
