// Package executor provides common utilities for executor implementations.
package executor

import (
	"fmt"
	"io"
	"net/http"

	"github.com/nghyane/llm-mux/internal/apperr"
	log "github.com/nghyane/llm-mux/internal/logging"
)

// HTTPErrorResult contains the result of handling an HTTP error response.
// This standardizes error handling across all executors.
type HTTPErrorResult struct {
	Error      error
	StatusCode int
	Body       []byte
}

// HandleHTTPError reads an error response body and classifies it via apperr.
// It does NOT close resp.Body - the caller's own defer resp.Body.Close()
// handles that, avoiding a double-close.
func HandleHTTPError(resp *http.Response, executorName string) HTTPErrorResult {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return HTTPErrorResult{
			Error:      fmt.Errorf("%s: failed to read error response body: %w", executorName, readErr),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	log.Debugf("%s: error status: %d, body: %s", executorName, resp.StatusCode,
		SummarizeErrorBody(resp.Header.Get("Content-Type"), body))

	retryAfter, _ := ParseRetryDelay(body)
	return HTTPErrorResult{
		Error:      apperr.UpstreamStatus(resp.StatusCode, string(body), retryAfter),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}

// SummarizeErrorBody trims a logged error body to a sane length, leaving
// non-JSON bodies (HTML error pages, plain text) readable in the log line
// without flooding it.
func SummarizeErrorBody(contentType string, body []byte) string {
	const maxLen = 500
	s := string(body)
	if len(s) > maxLen {
		s = s[:maxLen] + "...(truncated)"
	}
	return s
}
