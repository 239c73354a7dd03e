package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 8317 {
		t.Errorf("Port = %d, want 8317", cfg.Port)
	}
	if cfg.DefaultModelMode != DefaultModelModeFallback {
		t.Errorf("DefaultModelMode = %q, want fallback", cfg.DefaultModelMode)
	}
	if cfg.RequestMaxRetries != 3 {
		t.Errorf("RequestMaxRetries = %d, want 3", cfg.RequestMaxRetries)
	}
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8317 {
		t.Errorf("expected default port for a missing config file, got %d", cfg.Port)
	}
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected default host, got %q", cfg.Host)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
host: "0.0.0.0"
port: 9000
model-provider: "openai"
default-model: "gpt-4o"
default-model-mode: "force"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9000 {
		t.Errorf("got host=%q port=%d", cfg.Host, cfg.Port)
	}
	if cfg.ModelProvider != "openai" || cfg.DefaultModel != "gpt-4o" {
		t.Errorf("got provider=%q model=%q", cfg.ModelProvider, cfg.DefaultModel)
	}
	if cfg.DefaultModelMode != DefaultModelModeForce {
		t.Errorf("DefaultModelMode = %q, want force", cfg.DefaultModelMode)
	}
}

func TestMergeProviderJSON_TolerantOfComments(t *testing.T) {
	raw := []byte(`{
		// a comment
		"api_key": "sk-test",
		"base_url": "https://example.com",
	}`)
	out, err := MergeProviderJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["api_key"] != "sk-test" {
		t.Errorf("api_key = %v, want sk-test", out["api_key"])
	}
	if out["base_url"] != "https://example.com" {
		t.Errorf("base_url = %v", out["base_url"])
	}
}

func TestOverlay_AppliesProviderOverride(t *testing.T) {
	base := &Config{ModelProvider: "gemini", Port: 8317}
	snapshot := Overlay(base, "claude")
	if snapshot.ModelProvider != "claude" {
		t.Errorf("ModelProvider = %q, want claude", snapshot.ModelProvider)
	}
	if base.ModelProvider != "gemini" {
		t.Errorf("Overlay mutated the base config: %q", base.ModelProvider)
	}
}

func TestOverlay_EmptyOverrideKeepsBase(t *testing.T) {
	base := &Config{ModelProvider: "gemini"}
	snapshot := Overlay(base, "")
	if snapshot.ModelProvider != "gemini" {
		t.Errorf("ModelProvider = %q, want gemini unchanged", snapshot.ModelProvider)
	}
}

func TestOverlay_WhitespaceOnlyOverrideKeepsBase(t *testing.T) {
	base := &Config{ModelProvider: "gemini"}
	snapshot := Overlay(base, "   ")
	if snapshot.ModelProvider != "gemini" {
		t.Errorf("ModelProvider = %q, want gemini unchanged", snapshot.ModelProvider)
	}
}
