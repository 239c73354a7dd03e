package translator_test

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/translator"
	_ "github.com/nghyane/llm-mux/internal/translator/from_ir"
	_ "github.com/nghyane/llm-mux/internal/translator/to_ir"
)

func TestRegistry_AllFamiliesRegistered(t *testing.T) {
	reg := translator.GetRegistry()
	for _, format := range []string{"openai", "gemini", "claude"} {
		if _, ok := reg.GetToIR(format); !ok {
			t.Errorf("expected a ToIR parser registered for %q", format)
		}
		if _, ok := reg.GetFromIR(format); !ok {
			t.Errorf("expected a FromIR converter registered for %q", format)
		}
	}
}

func TestParseRequest_UnsupportedFormat(t *testing.T) {
	if _, err := translator.ParseRequest("does-not-exist", []byte(`{}`)); err == nil {
		t.Error("expected an error for an unsupported source format")
	}
}

func TestConvertRequest_UnsupportedProvider(t *testing.T) {
	req, err := translator.ParseRequest("openai", []byte(`{"model":"gpt-4o","messages":[]}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := translator.ConvertRequest("does-not-exist", req); err == nil {
		t.Error("expected an error for an unsupported target provider")
	}
}

func TestOpenAIRoundTrip_PreservesModelAndMessage(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"stream": true,
		"messages": [{"role": "user", "content": "hello there"}]
	}`)
	req, err := translator.ParseRequest("openai", body)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Model != "gpt-4o" || !req.Stream {
		t.Fatalf("got model=%q stream=%v", req.Model, req.Stream)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(req.Messages))
	}

	out, err := translator.ConvertRequest("openai", req)
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "model").String(); got != "gpt-4o" {
		t.Errorf("re-encoded model = %q, want gpt-4o", got)
	}
}

func TestGeminiToOpenAI_CrossFamilyConversion(t *testing.T) {
	body := []byte(`{
		"contents": [{"role": "user", "parts": [{"text": "hi"}]}]
	}`)
	req, err := translator.ParseRequest("gemini", body)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	req.Model = "gemini-2.5-flash"

	out, err := translator.ConvertRequest("openai", req)
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}
	messages := gjson.GetBytes(out, "messages").Array()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message in the OpenAI-shaped payload, got %d", len(messages))
	}
}

func TestClaudeRoundTrip_PreservesSystemAndUser(t *testing.T) {
	body := []byte(`{
		"model": "claude-opus-4",
		"system": "Be concise.",
		"messages": [{"role": "user", "content": "hi"}]
	}`)
	req, err := translator.ParseRequest("claude", body)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Model != "claude-opus-4" {
		t.Errorf("model = %q", req.Model)
	}

	out, err := translator.ConvertRequest("claude", req)
	if err != nil {
		t.Fatalf("ConvertRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "model").String(); got != "claude-opus-4" {
		t.Errorf("re-encoded model = %q", got)
	}
}
