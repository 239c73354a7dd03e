// Package router classifies an inbound HTTP request into an endpoint-type,
// resolves which configured provider should serve it, and hands callers a
// per-family Strategy for extracting logging-only metadata from the request
// and response bodies (spec.md §4.1 "Endpoint Router and Strategy Selector").
//
// This is a direct generalization of the teacher's ProviderStrategy pattern
// (internal/provider/provider_strategy.go in the reference pack): a small
// interface, one implementation per family, selected by a map lookup. The
// teacher's strategies score multi-account quota pools; this package has no
// quota pool to score - its strategies instead pull a model name/stream flag
// and a prompt/response summary out of a family's wire shape.
package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nghyane/llm-mux/internal/apperr"
	"github.com/nghyane/llm-mux/internal/config"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/tidwall/gjson"
)

// EndpointType is the classification of an inbound URL (spec.md §3).
type EndpointType string

const (
	EndpointOpenAIChat      EndpointType = "openai_chat"
	EndpointOpenAIModelList EndpointType = "openai_model_list"
	EndpointGeminiContent   EndpointType = "gemini_content"
	EndpointGeminiModelList EndpointType = "gemini_model_list"
	EndpointClaudeMessage   EndpointType = "claude_message"
)

// Family returns the inbound protocol family an endpoint-type implies.
func (e EndpointType) Family() provider.Format {
	switch e {
	case EndpointOpenAIChat, EndpointOpenAIModelList:
		return provider.FormatOpenAI
	case EndpointGeminiContent, EndpointGeminiModelList:
		return provider.FormatGemini
	case EndpointClaudeMessage:
		return provider.FormatClaude
	default:
		return ""
	}
}

// Match is the result of classifying one inbound request.
type Match struct {
	Endpoint EndpointType
	// Model is populated for Gemini's path-embedded model name
	// (/v1beta/models/{m}:generateContent); empty for body-carried models.
	Model string
	// Stream is true when the path/method implies a streaming call
	// (Gemini's :streamGenerateContent suffix, or alt=sse on either).
	Stream bool
}

// Classify maps method+path to exactly one endpoint-type, or returns a
// BadRequest-classed apperr.Error for an unknown route (spec.md §4.1: "Given
// method + path, classify into exactly one endpoint-type or return 404").
func Classify(method, path string) (Match, error) {
	path = strings.TrimSuffix(path, "/")

	switch {
	case method == http.MethodPost && path == "/v1/chat/completions":
		return Match{Endpoint: EndpointOpenAIChat}, nil
	case method == http.MethodGet && path == "/v1/models":
		return Match{Endpoint: EndpointOpenAIModelList}, nil
	case method == http.MethodPost && path == "/v1/messages":
		return Match{Endpoint: EndpointClaudeMessage}, nil
	case method == http.MethodGet && path == "/v1beta/models":
		return Match{Endpoint: EndpointGeminiModelList}, nil
	}

	if method == http.MethodPost && strings.HasPrefix(path, "/v1beta/models/") {
		rest := strings.TrimPrefix(path, "/v1beta/models/")
		model, action, ok := strings.Cut(rest, ":")
		if ok && model != "" {
			switch action {
			case "generateContent":
				return Match{Endpoint: EndpointGeminiContent, Model: model}, nil
			case "streamGenerateContent":
				return Match{Endpoint: EndpointGeminiContent, Model: model, Stream: true}, nil
			}
		}
	}

	return Match{}, apperr.NotFound(fmt.Sprintf("no route for %s %s", method, path))
}

// ResolveProvider picks the configured provider for a request in the
// priority order spec.md §4.1 names: (1) a leading path segment matching a
// known provider name, stripped from the routed path; (2) the
// model-provider header, stripped before forwarding; (3) the configured
// default. Returns the resolved provider format and the path with any
// consumed provider segment removed.
func ResolveProvider(cfg *config.Config, path, headerOverride string) (provider.Format, string) {
	if seg, rest, ok := leadingProviderSegment(path); ok {
		return seg, rest
	}
	if headerOverride != "" {
		return provider.FromString(headerOverride), path
	}
	return provider.FromString(cfg.ModelProvider), path
}

func leadingProviderSegment(path string) (provider.Format, string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	first, rest, ok := strings.Cut(trimmed, "/")
	if !ok {
		first, rest = trimmed, ""
	}
	switch provider.FromString(first) {
	case provider.FormatOpenAI, provider.FormatGemini, provider.FormatClaude, provider.FormatKiro:
		return provider.FromString(first), "/" + rest
	}
	return "", path, false
}

// Strategy exposes the four pure, non-throwing operations spec.md §4.1 lists
// for a protocol family: pulling model/stream out of a raw request body (for
// families that carry it in the body rather than the path), and summarizing
// request/response bodies for prompt logging only.
type Strategy interface {
	ExtractModelAndStream(body []byte) (model string, stream bool)
	ExtractPromptText(body []byte) string
	ExtractResponseText(body []byte) string
}

type openAIStrategy struct{}

func (openAIStrategy) ExtractModelAndStream(body []byte) (string, bool) {
	r := gjson.ParseBytes(body)
	return r.Get("model").String(), r.Get("stream").Bool()
}

func (openAIStrategy) ExtractPromptText(body []byte) string {
	var b strings.Builder
	for _, msg := range gjson.ParseBytes(body).Get("messages").Array() {
		if c := msg.Get("content"); c.Type == gjson.String {
			b.WriteString(c.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (openAIStrategy) ExtractResponseText(body []byte) string {
	r := gjson.ParseBytes(body)
	if msg := r.Get("choices.0.message.content"); msg.Exists() {
		return msg.String()
	}
	return r.Get("choices.0.delta.content").String()
}

type geminiStrategy struct{}

func (geminiStrategy) ExtractModelAndStream(body []byte) (string, bool) {
	// Gemini carries model/stream in the path, not the body; the router
	// fills Match.Model/Stream directly from Classify for this family.
	return "", false
}

func (geminiStrategy) ExtractPromptText(body []byte) string {
	var b strings.Builder
	for _, content := range gjson.ParseBytes(body).Get("contents").Array() {
		for _, part := range content.Get("parts").Array() {
			if t := part.Get("text"); t.Exists() {
				b.WriteString(t.String())
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

func (geminiStrategy) ExtractResponseText(body []byte) string {
	var b strings.Builder
	for _, part := range gjson.ParseBytes(body).Get("candidates.0.content.parts").Array() {
		if t := part.Get("text"); t.Exists() {
			b.WriteString(t.String())
		}
	}
	return b.String()
}

type claudeStrategy struct{}

func (claudeStrategy) ExtractModelAndStream(body []byte) (string, bool) {
	r := gjson.ParseBytes(body)
	return r.Get("model").String(), r.Get("stream").Bool()
}

func (claudeStrategy) ExtractPromptText(body []byte) string {
	var b strings.Builder
	for _, msg := range gjson.ParseBytes(body).Get("messages").Array() {
		if c := msg.Get("content"); c.Type == gjson.String {
			b.WriteString(c.String())
			b.WriteByte('\n')
		} else if c.IsArray() {
			for _, part := range c.Array() {
				if t := part.Get("text"); t.Exists() {
					b.WriteString(t.String())
					b.WriteByte('\n')
				}
			}
		}
	}
	return b.String()
}

func (claudeStrategy) ExtractResponseText(body []byte) string {
	var b strings.Builder
	for _, block := range gjson.ParseBytes(body).Get("content").Array() {
		if t := block.Get("text"); t.Exists() {
			b.WriteString(t.String())
		}
	}
	return b.String()
}

var strategies = map[provider.Format]Strategy{
	provider.FormatOpenAI: openAIStrategy{},
	provider.FormatGemini: geminiStrategy{},
	provider.FormatClaude: claudeStrategy{},
}

// StrategyFor returns the Strategy registered for an inbound protocol
// family. Every family Classify can produce has one; a miss is a
// programming error, not a runtime condition callers need to branch on.
func StrategyFor(family provider.Format) Strategy {
	if s, ok := strategies[family]; ok {
		return s
	}
	return openAIStrategy{}
}

// ApplyDefaultModel implements spec.md §4.1's default-model policy: in
// "force" mode DEFAULT_MODEL always wins; in "fallback" mode it only fills
// an empty model field.
func ApplyDefaultModel(mode config.DefaultModelMode, defaultModel, requestModel string) string {
	if mode == config.DefaultModelModeForce && defaultModel != "" {
		return defaultModel
	}
	if requestModel == "" {
		return defaultModel
	}
	return requestModel
}
