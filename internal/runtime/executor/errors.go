package executor

import (
	"time"

	"github.com/nghyane/llm-mux/internal/apperr"
)

// NewNotImplementedError reports an executor capability the provider doesn't
// support (e.g. CountTokens on a format with no local estimator).
func NewNotImplementedError(message string) error {
	return apperr.New(apperr.KindUpstreamProtocol, message)
}

// NewTimeoutError wraps a context-deadline failure talking to upstream.
func NewTimeoutError(message string) error {
	return apperr.New(apperr.KindUpstreamFailure, message)
}

// NewStatusError classifies a non-2xx upstream response via the shared
// status taxonomy (401/403 -> auth, 429 -> rate limit, 5xx -> failure).
func NewStatusError(status int, body string, retryAfter *time.Duration) error {
	return apperr.UpstreamStatus(status, body, retryAfter)
}
