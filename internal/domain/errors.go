package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies an error for retry and propagation decisions
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindServiceUnavailable
	KindTimeout
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindTimeout:
		return "timeout"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is a client-facing error carrying a stable code and an HTTP status
type Error struct {
	Kind       Kind
	Message    string
	Code       string
	Status     int
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithCause attaches an underlying error
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, Code: "BAD_REQUEST", Status: http.StatusBadRequest}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Code: "UNAUTHORIZED", Status: http.StatusUnauthorized}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg, Code: "FORBIDDEN", Status: http.StatusForbidden}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Code: "NOT_FOUND", Status: http.StatusNotFound}
}

// RateLimited builds a retryable error; retryAfter may be zero when the upstream gives no hint.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    msg,
		Code:       "RATE_LIMITED",
		Status:     http.StatusTooManyRequests,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

func ServiceUnavailable(msg string) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: msg, Code: "SERVICE_UNAVAILABLE", Status: http.StatusServiceUnavailable, Retryable: true}
}

func Timeout(msg string) *Error {
	return &Error{Kind: KindTimeout, Message: msg, Code: "TIMEOUT", Status: http.StatusGatewayTimeout, Retryable: true}
}

// Upstream wraps an unexpected non-2xx response from a remote API
func Upstream(msg string, status int, code string) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Code: code, Status: status, Retryable: true}
}

// Transport classifies a failed round trip: timeouts map to Timeout, anything
// else to ServiceUnavailable. Both are retryable.
func Transport(service string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return Timeout(service + " request timed out").WithCause(err)
	}
	return ServiceUnavailable(service + " unreachable").WithCause(err)
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Err: err}
}

// AsError extracts a *Error from the chain
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for untagged errors
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err was explicitly flagged retryable
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return KindOf(err) == KindNotFound
}
