// Package apperr defines the gateway's internal error taxonomy and maps it
// to HTTP status codes and JSON error bodies at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is the internal error classification used throughout the gateway.
// The HTTP frontend is the single place that serializes a Kind to a status
// code and JSON body.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindBadRequest        Kind = "bad_request"
	KindUpstreamAuth      Kind = "upstream_auth"
	KindUpstreamRateLimit Kind = "upstream_rate_limited"
	KindUpstreamFailure   Kind = "upstream_failure"
	KindUpstreamProtocol  Kind = "upstream_protocol"
	KindConfig            Kind = "config_error"
	KindNotFound          Kind = "not_found"
)

var statusByKind = map[Kind]int{
	KindUnauthorized:      http.StatusUnauthorized,
	KindBadRequest:        http.StatusBadRequest,
	KindUpstreamAuth:      http.StatusBadGateway,
	KindUpstreamRateLimit: http.StatusBadGateway,
	KindUpstreamFailure:   http.StatusBadGateway,
	KindUpstreamProtocol:  http.StatusBadGateway,
	KindConfig:            http.StatusInternalServerError,
	KindNotFound:          http.StatusNotFound,
}

// Reason enumerates the BadRequest sub-kinds spec.md §7 calls out by name.
type Reason string

const (
	ReasonMalformedJSON    Reason = "malformed_json"
	ReasonUnsupportedModel Reason = "unsupported_model"
	ReasonEmptyConversation Reason = "empty_conversation"
)

// Error is the gateway's standard error value. It carries a Kind (for
// status-code mapping), an optional Reason (for BadRequest sub-classes), a
// human-readable message, the upstream HTTP status code when applicable, and
// an optional Retry-After hint surfaced by upstream 429 responses.
type Error struct {
	Kind       Kind
	Reason     Reason
	Message    string
	Details    string
	Status     int // upstream status code, when this wraps an upstream response
	retryAfter *time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Category satisfies the categorizer interface used by retry/backoff code
// to decide whether an error is retryable without importing apperr's Kind
// constants directly.
func (e *Error) Category() Kind { return e.Kind }

// StatusCode returns the upstream HTTP status code this error wraps, or 0.
func (e *Error) StatusCode() int { return e.Status }

// RetryAfter returns the upstream Retry-After hint, if any.
func (e *Error) RetryAfter() *time.Duration { return e.retryAfter }

// HTTPStatus returns the HTTP status code the frontend should respond with.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func BadRequest(reason Reason, message string) *Error {
	return &Error{Kind: KindBadRequest, Reason: reason, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func ConfigErr(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// UpstreamStatus classifies a raw upstream HTTP status/body into the
// Upstream* taxonomy of spec.md §7. 401/403 -> UpstreamAuth, 429 ->
// UpstreamRateLimited, 5xx -> UpstreamFailure. Anything else is wrapped as
// UpstreamFailure with the original status preserved for logging.
func UpstreamStatus(status int, body string, retryAfter *time.Duration) *Error {
	kind := KindUpstreamFailure
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindUpstreamAuth
	case status == http.StatusTooManyRequests:
		kind = KindUpstreamRateLimit
	}
	return &Error{Kind: kind, Message: body, Status: status, retryAfter: retryAfter}
}

// UpstreamProtocol wraps a parse/translation failure of an upstream payload.
func UpstreamProtocol(message string, cause error) *Error {
	return &Error{Kind: KindUpstreamProtocol, Message: message, cause: cause}
}

// As is a thin convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// JSONBody is the wire shape of an error response: {"error":{"message","details?"}}.
type JSONBody struct {
	Error JSONError `json:"error"`
}

type JSONError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToJSON renders the error into the standard response body.
func (e *Error) ToJSON() JSONBody {
	return JSONBody{Error: JSONError{Message: e.Message, Details: e.Details}}
}
