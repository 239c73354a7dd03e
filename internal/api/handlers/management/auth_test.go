package management

import (
	"testing"

	"github.com/nghyane/llm-mux/internal/provider"
)

func TestBuildAuthStatus_SortsAndReportsState(t *testing.T) {
	auths := map[provider.Format]*provider.Auth{
		provider.FormatGemini: {ID: "gemini-cli", Disabled: false},
		provider.FormatClaude: {ID: "claude-custom", Disabled: true},
		provider.FormatOpenAI: nil,
	}
	lastRefresh := func(auth *provider.Auth) string {
		if auth.ID == "gemini-cli" {
			return "2026-07-31T00:00:00Z"
		}
		return ""
	}

	resp := BuildAuthStatus(auths, lastRefresh)

	if len(resp.Providers) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Providers))
	}
	for i := 1; i < len(resp.Providers); i++ {
		if resp.Providers[i-1].Provider > resp.Providers[i].Provider {
			t.Fatalf("expected providers sorted by name, got %v", resp.Providers)
		}
	}

	var openai, claude, gemini AuthEntry
	for _, e := range resp.Providers {
		switch e.Provider {
		case string(provider.FormatOpenAI):
			openai = e
		case string(provider.FormatClaude):
			claude = e
		case string(provider.FormatGemini):
			gemini = e
		}
	}

	if openai.Configured {
		t.Error("expected openai entry to be unconfigured (nil auth)")
	}
	if !claude.Configured || !claude.Disabled {
		t.Errorf("expected claude configured+disabled, got %+v", claude)
	}
	if !gemini.Configured || gemini.Disabled {
		t.Errorf("expected gemini configured+enabled, got %+v", gemini)
	}
	if gemini.LastRefresh != "2026-07-31T00:00:00Z" {
		t.Errorf("LastRefresh = %q", gemini.LastRefresh)
	}
}

func TestBuildAuthStatus_NilLastRefreshFunc(t *testing.T) {
	auths := map[provider.Format]*provider.Auth{
		provider.FormatGemini: {ID: "gemini-cli"},
	}
	resp := BuildAuthStatus(auths, nil)
	if resp.Providers[0].LastRefresh != "" {
		t.Errorf("expected empty LastRefresh without a lookup func, got %q", resp.Providers[0].LastRefresh)
	}
}
