package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nghyane/llm-mux/internal/apperr"
	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/router"
	"github.com/nghyane/llm-mux/internal/translator"
)

// resolveFamily applies spec.md §4.1's provider-resolution priority: a
// leading path segment (baked into the route at registration time, see
// withProvider), then the model-provider header, then the configured
// default.
func (s *Server) resolveFamily(c *gin.Context) provider.Format {
	if v, ok := c.Get(ctxResolvedProvider); ok {
		if seg, _ := v.(string); seg != "" {
			return provider.FromString(seg)
		}
	}
	if v, ok := c.Get(ctxModelProviderHeader); ok {
		if h, _ := v.(string); h != "" {
			return provider.FromString(h)
		}
	}
	return provider.FromString(s.cfg.ModelProvider)
}

func (s *Server) writeAppErr(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		c.JSON(appErr.HTTPStatus(), appErr.ToJSON())
		return
	}
	log.Errorf("api: unhandled error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
}

// prepareRequest reads the body, parses it into IR as sourceFormat, applies
// the default-model policy and the system-prompt manager, then re-serializes
// back into sourceFormat - the inbound family's own wire shape, since every
// Executor.Execute parses req.Payload with opts.SourceFormat itself (spec.md
// §4.1 "applySystemPromptFromFile" / §4.2 format-converter rules).
func (s *Server) prepareRequest(c *gin.Context, sourceFormat provider.Format, pathModel string, pathStream bool) (*provider.Request, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, apperr.BadRequest(apperr.ReasonMalformedJSON, "failed to read request body")
	}

	irReq, err := translator.ParseRequest(string(sourceFormat), body)
	if err != nil {
		return nil, apperr.BadRequest(apperr.ReasonMalformedJSON, fmt.Sprintf("invalid %s request body: %v", sourceFormat, err))
	}

	if pathModel != "" {
		irReq.Model = pathModel
		irReq.Stream = irReq.Stream || pathStream
	}
	irReq.Model = router.ApplyDefaultModel(s.cfg.DefaultModelMode, s.cfg.DefaultModel, irReq.Model)

	irReq = s.prompts.ApplyFromFile(irReq)
	s.prompts.MirrorToFile(irReq)

	if s.cfg.LogPrompts != config.LogPromptsNone {
		strategy := router.StrategyFor(sourceFormat)
		if prompt := strategy.ExtractPromptText(body); prompt != "" {
			s.logPrompt(sourceFormat, irReq.Model, strings.TrimSpace(prompt))
		}
	}

	outPayload, err := translator.ConvertRequest(string(sourceFormat), irReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamProtocol, "failed to re-encode request", err)
	}

	return &provider.Request{Model: irReq.Model, Payload: outPayload, Stream: irReq.Stream}, nil
}

func (s *Server) dispatch(c *gin.Context, sourceFormat provider.Format, pathModel string, pathStream bool) {
	family := s.resolveFamily(c)
	exec, auth, ok := s.registry.Executor(family)
	if !ok {
		s.writeAppErr(c, apperr.ConfigErr("provider %q is not configured", family))
		return
	}

	req, err := s.prepareRequest(c, sourceFormat, pathModel, pathStream)
	if err != nil {
		s.writeAppErr(c, err)
		return
	}

	opts := provider.Options{SourceFormat: sourceFormat, Alt: c.Query("alt")}

	if !req.Stream {
		resp, err := exec.Execute(c.Request.Context(), auth, req, opts)
		if err != nil {
			s.writeAppErr(c, err)
			return
		}
		c.Data(resp.StatusCode, "application/json", resp.Payload)
		return
	}

	chunks, err := exec.ExecuteStream(c.Request.Context(), auth, req, opts)
	if err != nil {
		s.writeAppErr(c, err)
		return
	}
	s.streamSSE(c, sourceFormat, chunks)
}

// streamSSE writes an upstream chunk channel out as an SSE response,
// applying the per-family envelope the from_ir converters don't apply
// themselves: Claude's ToChunk already returns "event: ...\ndata: ...\n\n"
// frames and is written verbatim; OpenAI's and Gemini's return bare JSON and
// need "data: "+payload+"\n\n" wrapping, with OpenAI additionally emitting a
// closing "data: [DONE]\n\n" line (spec.md §4.2).
func (s *Server) streamSSE(c *gin.Context, family provider.Format, chunks <-chan provider.StreamChunk) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	for chunk := range chunks {
		if chunk.Err != nil {
			if appErr, ok := apperr.As(chunk.Err); ok {
				_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", mustJSON(appErr.ToJSON()))
			} else {
				log.Errorf("api: stream error: %v", chunk.Err)
			}
			break
		}
		if len(chunk.Payload) == 0 {
			if chunk.Done {
				break
			}
			continue
		}
		switch family {
		case provider.FormatClaude:
			_, _ = c.Writer.Write(chunk.Payload)
		default:
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", chunk.Payload)
		}
		if canFlush {
			flusher.Flush()
		}
		if chunk.Done {
			break
		}
	}

	if family == provider.FormatOpenAI {
		_, _ = c.Writer.Write([]byte("data: [DONE]\n\n"))
		if canFlush {
			flusher.Flush()
		}
	}
}

func mustJSON(v apperr.JSONBody) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":{"message":"internal error"}}`
	}
	return string(b)
}

func (s *Server) handleOpenAIChat(c *gin.Context) {
	s.dispatch(c, provider.FormatOpenAI, "", false)
}

func (s *Server) handleClaudeMessage(c *gin.Context) {
	s.dispatch(c, provider.FormatClaude, "", false)
}

func (s *Server) handleGeminiContent(c *gin.Context) {
	rest := c.Param("modelAndAction")
	model, action, ok := strings.Cut(strings.TrimPrefix(rest, "/"), ":")
	if !ok || model == "" {
		s.writeAppErr(c, apperr.NotFound("no route for gemini content path"))
		return
	}
	stream := action == "streamGenerateContent"
	s.dispatch(c, provider.FormatGemini, model, stream)
}

// handleOpenAIModelList and handleGeminiModelList report the single
// configured default model per family - there is no multi-account catalog
// to aggregate here (spec.md §4.4 "Model listing").
func (s *Server) handleOpenAIModelList(c *gin.Context) {
	model := s.cfg.DefaultModel
	if model == "" {
		model = "default"
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": model, "object": "model", "owned_by": "llm-mux"},
		},
	})
}

func (s *Server) handleGeminiModelList(c *gin.Context) {
	model := s.cfg.DefaultModel
	if model == "" {
		model = "default"
	}
	c.JSON(http.StatusOK, gin.H{
		"models": []gin.H{
			{"name": "models/" + model, "displayName": model},
		},
	})
}
