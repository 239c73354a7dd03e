package systemprompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nghyane/llm-mux/internal/config"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func writePromptFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "system-prompt.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestNew_NoSourceFileIsNoop(t *testing.T) {
	m := New(&config.Config{}, "")
	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "hi"}}}},
	}
	got := m.ApplyFromFile(req)
	if len(got.Messages) != 1 {
		t.Fatalf("expected no system message to be injected, got %d messages", len(got.Messages))
	}
}

func TestApplyFromFile_InsertsWhenNoSystemMessage(t *testing.T) {
	dir := t.TempDir()
	path := writePromptFile(t, dir, "You are a helpful assistant.")
	cfg := &config.Config{SystemPromptFile: path, SystemPromptMode: config.SystemPromptOverwrite}
	m := New(cfg, "")
	defer m.Close()

	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "hi"}}}},
	}
	got := m.ApplyFromFile(req)
	if len(got.Messages) != 2 {
		t.Fatalf("expected system message prepended, got %d messages", len(got.Messages))
	}
	if got.Messages[0].Role != ir.RoleSystem {
		t.Fatalf("expected first message to be system, got %s", got.Messages[0].Role)
	}
	if got.Messages[0].Content[0].Text != "You are a helpful assistant." {
		t.Errorf("got %q", got.Messages[0].Content[0].Text)
	}
}

func TestApplyFromFile_OverwriteReplacesExistingSystemMessage(t *testing.T) {
	dir := t.TempDir()
	path := writePromptFile(t, dir, "File prompt.")
	cfg := &config.Config{SystemPromptFile: path, SystemPromptMode: config.SystemPromptOverwrite}
	m := New(cfg, "")
	defer m.Close()

	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "Caller's own prompt."}}},
			{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "hi"}}},
		},
	}
	got := m.ApplyFromFile(req)
	if len(got.Messages[0].Content) != 1 {
		t.Fatalf("expected overwrite to leave exactly one content part, got %d", len(got.Messages[0].Content))
	}
	if got.Messages[0].Content[0].Text != "File prompt." {
		t.Errorf("got %q, want overwritten with file content", got.Messages[0].Content[0].Text)
	}
}

func TestApplyFromFile_AppendKeepsCallersPromptThenAdds(t *testing.T) {
	dir := t.TempDir()
	path := writePromptFile(t, dir, "Appended prompt.")
	cfg := &config.Config{SystemPromptFile: path, SystemPromptMode: config.SystemPromptAppend}
	m := New(cfg, "")
	defer m.Close()

	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "Caller's own prompt."}}},
		},
	}
	got := m.ApplyFromFile(req)
	if len(got.Messages[0].Content) != 2 {
		t.Fatalf("expected both parts to survive append, got %d", len(got.Messages[0].Content))
	}
	if got.Messages[0].Content[0].Text != "Caller's own prompt." {
		t.Errorf("first part changed: %q", got.Messages[0].Content[0].Text)
	}
	if got.Messages[0].Content[1].Text != "Appended prompt." {
		t.Errorf("second part = %q, want the file's prompt appended", got.Messages[0].Content[1].Text)
	}
}

func TestMirrorToFile_WritesEffectiveSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	mirrorPath := filepath.Join(dir, "mirror.txt")
	m := New(&config.Config{}, mirrorPath)
	defer m.Close()

	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "effective prompt"}}},
		},
	}
	m.MirrorToFile(req)

	data, err := os.ReadFile(mirrorPath)
	if err != nil {
		t.Fatalf("expected mirror file to be written: %v", err)
	}
	if string(data) != "effective prompt\n" {
		t.Errorf("got %q", string(data))
	}
}

func TestMirrorToFile_NoopWithoutSystemMessage(t *testing.T) {
	dir := t.TempDir()
	mirrorPath := filepath.Join(dir, "mirror.txt")
	m := New(&config.Config{}, mirrorPath)
	defer m.Close()

	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "hi"}}}},
	}
	m.MirrorToFile(req)

	if _, err := os.Stat(mirrorPath); err == nil {
		t.Error("expected no mirror file to be written when there is no system message")
	}
}

func TestApplyFromFile_NilRequestIsNoop(t *testing.T) {
	m := &Manager{}
	if got := m.ApplyFromFile(nil); got != nil {
		t.Errorf("expected nil passthrough, got %v", got)
	}
}
