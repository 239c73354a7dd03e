// Package api provides the HTTP API server implementation for the gateway.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/systemprompt"
	"github.com/nghyane/llm-mux/internal/util"
)

// Registry is the set of configured provider executors plus the single
// credential each one dispatches with - one slot per family, per spec.md §8
// ("one credential per provider", not an account pool).
type Registry struct {
	Executors map[provider.Format]provider.Executor
	Auths     map[provider.Format]*provider.Auth
}

// Executor returns the configured executor/credential pair for a family, or
// (nil, nil, false) when that provider was never configured.
func (r *Registry) Executor(family provider.Format) (provider.Executor, *provider.Auth, bool) {
	exec, ok := r.Executors[family]
	if !ok {
		return nil, nil, false
	}
	auth := r.Auths[family]
	if auth == nil || auth.Disabled {
		return exec, auth, false
	}
	return exec, auth, true
}

// Server wires the gin engine, the resolved provider registry, and the
// system-prompt manager together (spec.md §2 "HTTP Frontend").
type Server struct {
	cfg       *config.Config
	engine    *gin.Engine
	registry  *Registry
	prompts   *systemprompt.Manager
	http      *http.Server
	promptLog io.Writer

	managementRoutesEnabled atomic.Bool
}

// NewServer builds the gin engine and registers all routes. extraMiddleware
// is appended between the always-on logging/recovery pair and CORS, mirroring
// the teacher's server-construction shape in internal/api/server.go.
func NewServer(cfg *config.Config, reg *Registry, prompts *systemprompt.Manager, extraMiddleware ...gin.HandlerFunc) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		engine:   gin.New(),
		registry: reg,
		prompts:  prompts,
	}
	if cfg.LogPrompts == config.LogPromptsFile {
		baseName := util.SanitizeFilePart(cfg.PromptLogBaseName)
		if baseName == "" || baseName == "default" {
			baseName = "prompts"
		}
		s.promptLog = log.NewPromptLogWriter(baseName)
	}
	s.managementRoutesEnabled.Store(cfg.ManagementEnabled)
	s.setupMiddleware(extraMiddleware)
	s.registerRoutes()
	return s
}

// logPrompt records one extracted prompt per spec.md §6's log-prompts modes:
// console mirrors it through the structured logger, file writes it to the
// dedicated rotating prompt log instead (never both, to avoid duplicating a
// potentially large prompt body across two destinations).
func (s *Server) logPrompt(family provider.Format, model, prompt string) {
	if s.promptLog != nil {
		_, _ = io.WriteString(s.promptLog, "["+string(family)+"/"+model+"] "+prompt+"\n")
		return
	}
	log.Debugf("prompt[%s/%s]: %s", family, model, prompt)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	authed := s.engine.Group("/", s.authMiddleware(), modelProviderHeaderMiddleware())
	s.registerFamilyRoutes(authed, "")

	// provider-prefixed aliases (spec.md §4.1 leading path segment form)
	for _, prefix := range []string{"openai", "gemini", "claude", "kiro"} {
		s.registerFamilyRoutes(authed.Group("/"+prefix), prefix)
	}

	mgmt := s.engine.Group("/v0/management", s.managementAvailabilityMiddleware(), s.authMiddleware())
	mgmt.GET("/auth", s.handleManagementAuthStatus)
	mgmt.GET("/auth/stream", s.handleManagementAuthStream)
}

// registerFamilyRoutes registers the five wire endpoints under grp, each
// bound to a fixed providerOverride ("" meaning "use header/default
// resolution") - the same leading-path-segment precedence spec.md §4.1
// describes, applied at route-registration time rather than per-request
// parsing since gin's router already does the path-segment matching.
func (s *Server) registerFamilyRoutes(grp *gin.RouterGroup, providerOverride string) {
	grp.POST("/v1/chat/completions", s.withProvider(providerOverride, s.handleOpenAIChat))
	grp.GET("/v1/models", s.withProvider(providerOverride, s.handleOpenAIModelList))
	grp.POST("/v1/messages", s.withProvider(providerOverride, s.handleClaudeMessage))
	grp.GET("/v1beta/models", s.withProvider(providerOverride, s.handleGeminiModelList))
	grp.POST("/v1beta/models/:modelAndAction", s.withProvider(providerOverride, s.handleGeminiContent))
}

func (s *Server) withProvider(providerOverride string, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxResolvedProvider, providerOverride)
		next(c)
	}
}

const ctxResolvedProvider = "resolved_provider_path_segment"

// Run starts the HTTP server and blocks until ctx is cancelled, at which
// point it shuts down gracefully with a 10s grace period.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("api: listening on %s", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.prompts != nil {
		s.prompts.Close()
	}
	return s.http.Shutdown(shutdownCtx)
}
