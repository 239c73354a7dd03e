package bootstrap

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/nghyane/llm-mux/internal/config"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got := expandHome("~/foo/bar")
	want := filepath.Join(home, "/foo/bar")
	if got != want {
		t.Errorf("expandHome = %q, want %q", got, want)
	}
	if got := expandHome("/already/absolute"); got != "/already/absolute" {
		t.Errorf("expandHome changed an already-absolute path: %q", got)
	}
}

func TestLoadOAuthBlob_PrefersBase64(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`{"access_token":"from-base64"}`))
	data, ok := loadOAuthBlob(blob, "/path/never/read", "/default/never/read")
	if !ok {
		t.Fatal("expected base64 blob to resolve")
	}
	if string(data) != `{"access_token":"from-base64"}` {
		t.Errorf("got %q", string(data))
	}
}

func TestLoadOAuthBlob_FallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"from-file"}`), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	data, ok := loadOAuthBlob("", path, "/default/never/read")
	if !ok {
		t.Fatal("expected file path to resolve")
	}
	if string(data) != `{"access_token":"from-file"}` {
		t.Errorf("got %q", string(data))
	}
}

func TestLoadOAuthBlob_MissingEverythingReturnsFalse(t *testing.T) {
	_, ok := loadOAuthBlob("", "", filepath.Join(t.TempDir(), "does-not-exist.json"))
	if ok {
		t.Error("expected no credential blob to resolve")
	}
}

func TestBuildGeminiCLIAuth_DisabledWithoutCredentials(t *testing.T) {
	auth := buildGeminiCLIAuth(config.GeminiCLIConfig{OAuthFile: filepath.Join(t.TempDir(), "missing.json")})
	if !auth.Disabled {
		t.Error("expected auth to be disabled without a credential file")
	}
}

func TestBuildGeminiCLIAuth_AppliesProjectIDOverride(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`{"access_token":"x"}`))
	auth := buildGeminiCLIAuth(config.GeminiCLIConfig{OAuthBase64: blob, ProjectID: "my-project"})
	if auth.Disabled {
		t.Fatal("expected auth to be enabled")
	}
	if auth.Metadata["project_id"] != "my-project" {
		t.Errorf("project_id = %v", auth.Metadata["project_id"])
	}
}

func TestBuildKiroAuth_RenamesCamelCaseFields(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`{
		"accessToken": "at-value",
		"refreshToken": "rt-value",
		"expiresAt": "2026-08-01T00:00:00Z",
		"clientId": "cid-value",
		"clientSecret": "secret-value",
		"region": "us-east-1",
		"unexpectedField": "should be dropped"
	}`))
	auth := buildKiroAuth(config.KiroConfig{OAuthBase64: blob})
	if auth.Disabled {
		t.Fatal("expected auth to be enabled")
	}
	want := map[string]string{
		"access_token":  "at-value",
		"refresh_token": "rt-value",
		"expiry":        "2026-08-01T00:00:00Z",
		"client_id":     "cid-value",
		"client_secret": "secret-value",
		"region":        "us-east-1",
	}
	for k, v := range want {
		if auth.Metadata[k] != v {
			t.Errorf("Metadata[%q] = %v, want %q", k, auth.Metadata[k], v)
		}
	}
	if _, present := auth.Metadata["unexpectedField"]; present {
		t.Error("expected unallowlisted field to be dropped")
	}
}

func TestBuildKiroAuth_ConfigOverridesClientCredentials(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`{"accessToken":"at","clientId":"from-file"}`))
	auth := buildKiroAuth(config.KiroConfig{OAuthBase64: blob, ClientID: "from-config", ClientSecret: "override-secret"})
	if auth.Metadata["client_id"] != "from-config" {
		t.Errorf("client_id = %v, want config override to win", auth.Metadata["client_id"])
	}
	if auth.Metadata["client_secret"] != "override-secret" {
		t.Errorf("client_secret = %v", auth.Metadata["client_secret"])
	}
}

func TestBuildKiroAuth_DisabledOnInvalidJSON(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte(`not json`))
	auth := buildKiroAuth(config.KiroConfig{OAuthBase64: blob})
	if !auth.Disabled {
		t.Error("expected invalid credential JSON to disable the provider")
	}
}

func TestBuildOpenAICustomAuth_NeverDisabled(t *testing.T) {
	auth := buildOpenAICustomAuth(config.OpenAICustomConfig{APIKey: "sk-test", BaseURL: "https://example.com"})
	if auth.Disabled {
		t.Error("expected static API-key auth to never be disabled")
	}
	if auth.Metadata["api_key"] != "sk-test" || auth.Metadata["base_url"] != "https://example.com" {
		t.Errorf("got %+v", auth.Metadata)
	}
}

func TestBuildClaudeCustomAuth_NeverDisabled(t *testing.T) {
	auth := buildClaudeCustomAuth(config.ClaudeCustomConfig{APIKey: "sk-ant", BaseURL: "https://anthropic.example.com"})
	if auth.Disabled {
		t.Error("expected static API-key auth to never be disabled")
	}
	if auth.Metadata["api_key"] != "sk-ant" {
		t.Errorf("got %+v", auth.Metadata)
	}
}
