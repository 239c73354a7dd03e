// Package api provides the HTTP API server implementation for the gateway.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nghyane/llm-mux/internal/apperr"
	"github.com/nghyane/llm-mux/internal/logging"
)

// corsMiddleware returns a Gin middleware handler that adds CORS headers to
// every response and answers preflight OPTIONS with 204 (spec.md §4.1).
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// setupMiddleware configures the global middleware chain: logging, panic
// recovery, any caller-supplied middleware, then CORS.
func (s *Server) setupMiddleware(extraMiddleware []gin.HandlerFunc) {
	s.engine.Use(logging.GinLogrusLogger())
	s.engine.Use(logging.GinLogrusRecovery())
	for _, mw := range extraMiddleware {
		s.engine.Use(mw)
	}
	s.engine.Use(corsMiddleware())
}

// managementAvailabilityMiddleware 404s management routes when the
// management-enabled config flag is off.
func (s *Server) managementAvailabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.managementRoutesEnabled.Load() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Next()
	}
}

// extractCallerKey reads the shared secret from whichever of the four forms
// spec.md §4.1 names the caller used: Authorization: Bearer, x-goog-api-key,
// x-api-key, or a ?key= query parameter.
func extractCallerKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if k := c.GetHeader("x-goog-api-key"); k != "" {
		return k
	}
	if k := c.GetHeader("x-api-key"); k != "" {
		return k
	}
	return c.Query("key")
}

// authMiddleware rejects requests whose presented key doesn't match the
// configured shared secret, without ever revealing the expected value
// (spec.md §4.1 "Authentication of the caller"). A blank configured key
// disables authentication entirely - the gateway is then trusted to run
// behind its own access control.
func (s *Server) authMiddleware() gin.HandlerFunc {
	expected := []byte(s.cfg.APIKey)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		presented := []byte(extractCallerKey(c))
		if len(presented) != len(expected) || subtle.ConstantTimeCompare(presented, expected) != 1 {
			body := apperr.Unauthorized("invalid API key").ToJSON()
			c.AbortWithStatusJSON(http.StatusUnauthorized, body)
			return
		}
		c.Next()
	}
}

// modelProviderHeaderMiddleware reads and strips the model-provider override
// header, stashing it on the context for the handler to consult (spec.md
// §4.1: "stripped from the routed path" / "stripped before forwarding").
func modelProviderHeaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.GetHeader("model-provider"); v != "" {
			c.Set(ctxModelProviderHeader, v)
			c.Request.Header.Del("model-provider")
		}
		c.Next()
	}
}

const ctxModelProviderHeader = "model_provider_header"
