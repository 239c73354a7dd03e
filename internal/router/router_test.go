package router

import (
	"net/http"
	"testing"

	"github.com/nghyane/llm-mux/internal/apperr"
	"github.com/nghyane/llm-mux/internal/config"
	"github.com/nghyane/llm-mux/internal/provider"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   EndpointType
		model  string
		stream bool
	}{
		{http.MethodPost, "/v1/chat/completions", EndpointOpenAIChat, "", false},
		{http.MethodGet, "/v1/models", EndpointOpenAIModelList, "", false},
		{http.MethodPost, "/v1/messages", EndpointClaudeMessage, "", false},
		{http.MethodGet, "/v1beta/models", EndpointGeminiModelList, "", false},
		{http.MethodPost, "/v1beta/models/gemini-2.5-pro:generateContent", EndpointGeminiContent, "gemini-2.5-pro", false},
		{http.MethodPost, "/v1beta/models/gemini-2.5-pro:streamGenerateContent", EndpointGeminiContent, "gemini-2.5-pro", true},
	}
	for _, tc := range cases {
		m, err := Classify(tc.method, tc.path)
		if err != nil {
			t.Fatalf("Classify(%s, %s) returned error: %v", tc.method, tc.path, err)
		}
		if m.Endpoint != tc.want {
			t.Errorf("Classify(%s, %s).Endpoint = %q, want %q", tc.method, tc.path, m.Endpoint, tc.want)
		}
		if m.Model != tc.model {
			t.Errorf("Classify(%s, %s).Model = %q, want %q", tc.method, tc.path, m.Model, tc.model)
		}
		if m.Stream != tc.stream {
			t.Errorf("Classify(%s, %s).Stream = %v, want %v", tc.method, tc.path, m.Stream, tc.stream)
		}
	}
}

func TestClassify_UnknownRoute(t *testing.T) {
	_, err := Classify(http.MethodPost, "/v2/unknown")
	if err == nil {
		t.Fatal("expected an error for an unknown route")
	}
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected an *apperr.Error, got %T", err)
	}
	if appErr.HTTPStatus() != http.StatusNotFound {
		t.Errorf("expected 404, got %d", appErr.HTTPStatus())
	}
}

func TestClassify_TrailingSlash(t *testing.T) {
	m, err := Classify(http.MethodPost, "/v1/chat/completions/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Endpoint != EndpointOpenAIChat {
		t.Errorf("got %q, want %q", m.Endpoint, EndpointOpenAIChat)
	}
}

func TestEndpointType_Family(t *testing.T) {
	cases := map[EndpointType]provider.Format{
		EndpointOpenAIChat:      provider.FormatOpenAI,
		EndpointOpenAIModelList: provider.FormatOpenAI,
		EndpointGeminiContent:   provider.FormatGemini,
		EndpointGeminiModelList: provider.FormatGemini,
		EndpointClaudeMessage:   provider.FormatClaude,
	}
	for endpoint, want := range cases {
		if got := endpoint.Family(); got != want {
			t.Errorf("%s.Family() = %q, want %q", endpoint, got, want)
		}
	}
}

func TestResolveProvider_PathSegmentWins(t *testing.T) {
	cfg := &config.Config{ModelProvider: "gemini"}
	family, rest := ResolveProvider(cfg, "/openai/v1/chat/completions", "claude")
	if family != provider.FormatOpenAI {
		t.Errorf("family = %q, want openai", family)
	}
	if rest != "/v1/chat/completions" {
		t.Errorf("rest = %q, want /v1/chat/completions", rest)
	}
}

func TestResolveProvider_HeaderWinsOverDefault(t *testing.T) {
	cfg := &config.Config{ModelProvider: "gemini"}
	family, rest := ResolveProvider(cfg, "/v1/chat/completions", "claude")
	if family != provider.FormatClaude {
		t.Errorf("family = %q, want claude", family)
	}
	if rest != "/v1/chat/completions" {
		t.Errorf("rest = %q, want unchanged path", rest)
	}
}

func TestResolveProvider_DefaultFallback(t *testing.T) {
	cfg := &config.Config{ModelProvider: "gemini"}
	family, rest := ResolveProvider(cfg, "/v1/chat/completions", "")
	if family != provider.FormatGemini {
		t.Errorf("family = %q, want gemini", family)
	}
	if rest != "/v1/chat/completions" {
		t.Errorf("rest = %q, want unchanged path", rest)
	}
}

func TestOpenAIStrategy_ExtractModelAndStream(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","stream":true}`)
	model, stream := StrategyFor(provider.FormatOpenAI).ExtractModelAndStream(body)
	if model != "gpt-4o" || !stream {
		t.Errorf("got (%q, %v), want (gpt-4o, true)", model, stream)
	}
}

func TestOpenAIStrategy_ExtractPromptText(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hello there"}]}`)
	got := StrategyFor(provider.FormatOpenAI).ExtractPromptText(body)
	if got != "hello there\n" {
		t.Errorf("got %q", got)
	}
}

func TestGeminiStrategy_ExtractPromptText(t *testing.T) {
	body := []byte(`{"contents":[{"parts":[{"text":"hi"}]}]}`)
	got := StrategyFor(provider.FormatGemini).ExtractPromptText(body)
	if got != "hi\n" {
		t.Errorf("got %q", got)
	}
}

func TestClaudeStrategy_ExtractPromptText_ArrayContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"part one"}]}]}`)
	got := StrategyFor(provider.FormatClaude).ExtractPromptText(body)
	if got != "part one\n" {
		t.Errorf("got %q", got)
	}
}

func TestClaudeStrategy_ExtractResponseText(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"answer"}]}`)
	got := StrategyFor(provider.FormatClaude).ExtractResponseText(body)
	if got != "answer" {
		t.Errorf("got %q", got)
	}
}

func TestStrategyFor_UnknownFamilyFallsBackToOpenAI(t *testing.T) {
	s := StrategyFor(provider.Format("unknown"))
	if _, ok := s.(openAIStrategy); !ok {
		t.Errorf("expected fallback to openAIStrategy, got %T", s)
	}
}

func TestApplyDefaultModel_ForceMode(t *testing.T) {
	got := ApplyDefaultModel(config.DefaultModelModeForce, "forced-model", "requested-model")
	if got != "forced-model" {
		t.Errorf("got %q, want forced-model", got)
	}
}

func TestApplyDefaultModel_FallbackModeFillsEmpty(t *testing.T) {
	got := ApplyDefaultModel(config.DefaultModelModeFallback, "default-model", "")
	if got != "default-model" {
		t.Errorf("got %q, want default-model", got)
	}
}

func TestApplyDefaultModel_FallbackModeKeepsRequested(t *testing.T) {
	got := ApplyDefaultModel(config.DefaultModelModeFallback, "default-model", "requested-model")
	if got != "requested-model" {
		t.Errorf("got %q, want requested-model", got)
	}
}
