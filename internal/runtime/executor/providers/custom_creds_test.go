package providers

import (
	"net/http"
	"testing"

	"github.com/nghyane/llm-mux/internal/config"
	"github.com/nghyane/llm-mux/internal/provider"
)

func TestOpenAICustomCreds_AuthMetadataWinsOverConfig(t *testing.T) {
	cfg := &config.Config{OpenAICustom: config.OpenAICustomConfig{APIKey: "cfg-key", BaseURL: "https://cfg.example.com"}}
	auth := &provider.Auth{Metadata: map[string]any{"api_key": "auth-key", "base_url": "https://auth.example.com"}}
	token, baseURL := openAICustomCreds(cfg, auth)
	if token != "auth-key" || baseURL != "https://auth.example.com" {
		t.Errorf("got token=%q baseURL=%q", token, baseURL)
	}
}

func TestOpenAICustomCreds_FallsBackToConfigThenDefault(t *testing.T) {
	cfg := &config.Config{OpenAICustom: config.OpenAICustomConfig{APIKey: "cfg-key"}}
	token, baseURL := openAICustomCreds(cfg, &provider.Auth{})
	if token != "cfg-key" {
		t.Errorf("token = %q, want cfg-key", token)
	}
	if baseURL != defaultOpenAICustomBaseURL {
		t.Errorf("baseURL = %q, want default", baseURL)
	}
}

func TestOpenAICustomCreds_NilAuthAndConfig(t *testing.T) {
	token, baseURL := openAICustomCreds(nil, nil)
	if token != "" || baseURL != defaultOpenAICustomBaseURL {
		t.Errorf("got token=%q baseURL=%q", token, baseURL)
	}
}

func TestApplyOpenAICustomExtraHeaders_SetsConfiguredHeaders(t *testing.T) {
	cfg := &config.Config{OpenAICustom: config.OpenAICustomConfig{HTTPReferer: "https://ref.example.com", XTitle: "my-app"}}
	req, _ := http.NewRequest(http.MethodPost, "https://example.com", nil)
	applyOpenAICustomExtraHeaders(cfg, req)
	if req.Header.Get("HTTP-Referer") != "https://ref.example.com" || req.Header.Get("X-Title") != "my-app" {
		t.Errorf("got headers %+v", req.Header)
	}
}

func TestApplyOpenAICustomExtraHeaders_NilConfigIsNoop(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://example.com", nil)
	applyOpenAICustomExtraHeaders(nil, req)
	if req.Header.Get("HTTP-Referer") != "" {
		t.Error("expected no header set for nil config")
	}
}

func TestClaudeCustomCreds_AuthMetadataWinsOverConfig(t *testing.T) {
	cfg := &config.Config{ClaudeCustom: config.ClaudeCustomConfig{APIKey: "cfg-key", BaseURL: "https://cfg.example.com"}}
	auth := &provider.Auth{Metadata: map[string]any{"api_key": "auth-key", "base_url": "https://auth.example.com"}}
	token, baseURL := claudeCustomCreds(cfg, auth)
	if token != "auth-key" || baseURL != "https://auth.example.com" {
		t.Errorf("got token=%q baseURL=%q", token, baseURL)
	}
}

func TestClaudeCustomCreds_FallsBackToDefault(t *testing.T) {
	token, baseURL := claudeCustomCreds(&config.Config{}, &provider.Auth{})
	if token != "" {
		t.Errorf("token = %q", token)
	}
	if baseURL != defaultClaudeCustomBaseURL {
		t.Errorf("baseURL = %q, want default", baseURL)
	}
}
