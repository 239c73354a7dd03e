package providers

import (
	"testing"

	"github.com/nghyane/llm-mux/internal/apperr"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func TestParseKiroBracketToolCalls_NoMarkersReturnsTextUnchanged(t *testing.T) {
	clean, calls := parseKiroBracketToolCalls("just some prose")
	if clean != "just some prose" || calls != nil {
		t.Errorf("got clean=%q calls=%v", clean, calls)
	}
}

func TestParseKiroBracketToolCalls_ExtractsSingleCall(t *testing.T) {
	text := `before [Called search with args: {"q":"weather"}] after`
	clean, calls := parseKiroBracketToolCalls(text)
	if clean != "before  after" {
		t.Errorf("clean = %q", clean)
	}
	if len(calls) != 1 || calls[0].Name != "search" || calls[0].Args != `{"q":"weather"}` {
		t.Errorf("got %+v", calls)
	}
}

func TestParseKiroBracketToolCalls_ToleratesNestedBraces(t *testing.T) {
	text := `[Called lookup with args: {"filter":{"nested":{"deep":true}},"q":"x"}]`
	_, calls := parseKiroBracketToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d: %+v", len(calls), calls)
	}
	if calls[0].Args != `{"filter":{"nested":{"deep":true}},"q":"x"}` {
		t.Errorf("got args %q", calls[0].Args)
	}
}

func TestParseKiroBracketToolCalls_TolerantOfBraceInString(t *testing.T) {
	text := `[Called echo with args: {"text":"a } b [ c"}]`
	_, calls := parseKiroBracketToolCalls(text)
	if len(calls) != 1 || calls[0].Args != `{"text":"a } b [ c"}` {
		t.Errorf("got %+v", calls)
	}
}

func TestParseKiroBracketToolCalls_RepairsTrailingCommaAndBareKeys(t *testing.T) {
	text := `[Called search with args: {q: "weather", limit: 5,}]`
	_, calls := parseKiroBracketToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected repair to recover 1 call, got %d", len(calls))
	}
	if calls[0].Args != `{"q": "weather", "limit": 5}` {
		t.Errorf("got repaired args %q", calls[0].Args)
	}
}

func TestParseKiroBracketToolCalls_DropsUnrepairableCall(t *testing.T) {
	text := `before [Called broken with args: {not valid at all}] after`
	clean, calls := parseKiroBracketToolCalls(text)
	if len(calls) != 0 {
		t.Errorf("expected the malformed call to be dropped, got %+v", calls)
	}
	if clean != "before  after" {
		t.Errorf("expected the bracket substring still stripped, got %q", clean)
	}
}

func TestParseKiroBracketToolCalls_DedupesIdenticalCalls(t *testing.T) {
	text := `[Called search with args: {"q":"x"}] and again [Called search with args: {"q":"x"}]`
	_, calls := parseKiroBracketToolCalls(text)
	if len(calls) != 1 {
		t.Errorf("expected duplicate (name, args) calls to be deduped, got %d: %+v", len(calls), calls)
	}
}

func TestParseKiroBracketToolCalls_MultipleDistinctCalls(t *testing.T) {
	text := `[Called a with args: {}] mid [Called b with args: {"x":1}]`
	clean, calls := parseKiroBracketToolCalls(text)
	if clean != " mid " {
		t.Errorf("clean = %q", clean)
	}
	if len(calls) != 2 || calls[0].Name != "a" || calls[1].Name != "b" {
		t.Errorf("got %+v", calls)
	}
}

func TestParseKiroBracketToolCalls_MalformedPrefixKeptVerbatim(t *testing.T) {
	text := `[Called with no middle marker]`
	clean, calls := parseKiroBracketToolCalls(text)
	if calls != nil {
		t.Errorf("expected no calls, got %+v", calls)
	}
	if clean != text {
		t.Errorf("got %q, want the literal text preserved", clean)
	}
}

func TestBuildKiroToolUseText_RoundTripsThroughParser(t *testing.T) {
	tc := ir.ToolCall{Name: "lookup", Args: `{"id":42}`}
	rendered := buildKiroToolUseText(tc)
	if rendered != `[Called lookup with args: {"id":42}]` {
		t.Errorf("got %q", rendered)
	}
	_, calls := parseKiroBracketToolCalls("prefix " + rendered + " suffix")
	if len(calls) != 1 || calls[0].Name != tc.Name || calls[0].Args != tc.Args {
		t.Errorf("round trip mismatch: got %+v", calls)
	}
}

func TestKiroModelID_MapsSupportedFamilies(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
		"claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
	}
	for model, want := range cases {
		got, err := kiroModelID(model)
		if err != nil {
			t.Fatalf("kiroModelID(%q) unexpected error: %v", model, err)
		}
		if got != want {
			t.Errorf("kiroModelID(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestKiroModelID_RejectsUnsupportedFamily(t *testing.T) {
	_, err := kiroModelID("gpt-4o")
	if err == nil {
		t.Fatal("expected an error for a non-claude model")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Reason != apperr.ReasonUnsupportedModel {
		t.Errorf("expected ReasonUnsupportedModel, got %+v", err)
	}
}

func TestFlattenKiroContent_JoinsTextAndReasoning(t *testing.T) {
	msg := ir.Message{Content: []ir.ContentPart{
		{Type: ir.ContentTypeText, Text: "hello"},
		{Type: ir.ContentTypeReasoning, Reasoning: "thinking"},
	}}
	got := flattenKiroContent(msg)
	if got != "hello\nthinking" {
		t.Errorf("got %q", got)
	}
}

func TestFlattenKiroContent_EmbedsToolResultMarkers(t *testing.T) {
	msg := ir.Message{Content: []ir.ContentPart{
		{Type: ir.ContentTypeToolResult, ToolResult: &ir.ToolResultPart{ToolCallID: "call-1", Result: "42"}},
	}}
	got := flattenKiroContent(msg)
	want := "[[tool_result:call-1]]42[[/tool_result]]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFlattenKiroContent_NilToolResultSkipped(t *testing.T) {
	msg := ir.Message{Content: []ir.ContentPart{
		{Type: ir.ContentTypeToolResult, ToolResult: nil},
		{Type: ir.ContentTypeText, Text: "ok"},
	}}
	got := flattenKiroContent(msg)
	if got != "ok" {
		t.Errorf("got %q", got)
	}
}

func TestKiroCreds_ExtractsTokensFromMetadata(t *testing.T) {
	auth := &provider.Auth{Metadata: map[string]any{"access_token": "at", "refresh_token": "rt"}}
	access, refresh := kiroCreds(auth)
	if access != "at" || refresh != "rt" {
		t.Errorf("got access=%q refresh=%q", access, refresh)
	}
}

func TestKiroCreds_NilAuthReturnsEmpty(t *testing.T) {
	access, refresh := kiroCreds(nil)
	if access != "" || refresh != "" {
		t.Errorf("expected empty creds for nil auth, got access=%q refresh=%q", access, refresh)
	}
}

func TestBuildKiroConversationState_LastUserMessageBecomesCurrent(t *testing.T) {
	req := &ir.UnifiedChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "be terse"}}},
			{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "first turn"}}},
			{Role: ir.RoleAssistant, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "first reply"}}},
			{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "latest question"}}},
		},
	}
	payload, err := buildKiroConversationState(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected a non-empty payload")
	}
	// The last user message must end up in currentMessage, carrying the
	// system prefix, not duplicated into history.
	if !contains(string(payload), "latest question") {
		t.Errorf("expected current message text in payload: %s", payload)
	}
	if !contains(string(payload), "first turn") {
		t.Errorf("expected earlier user turn preserved in history: %s", payload)
	}
}

func TestBuildKiroConversationState_RejectsUnsupportedModel(t *testing.T) {
	req := &ir.UnifiedChatRequest{
		Model: "gpt-4o",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "hi"}}},
		},
	}
	_, err := buildKiroConversationState(req)
	if err == nil {
		t.Fatal("expected an unsupported-model error")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Reason != apperr.ReasonUnsupportedModel {
		t.Errorf("expected ReasonUnsupportedModel, got %+v", err)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestParseKiroEventType_ExtractsEventTypeHeader(t *testing.T) {
	headers := buildKiroHeaderBlock(":event-type", "assistantResponseEvent")
	if got := parseKiroEventType(headers); got != "assistantResponseEvent" {
		t.Errorf("got %q", got)
	}
}

func TestParseKiroEventType_MissingHeaderReturnsEmpty(t *testing.T) {
	headers := buildKiroHeaderBlock(":content-type", "application/json")
	if got := parseKiroEventType(headers); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

// buildKiroHeaderBlock encodes a single AWS event-stream header
// (name-len(1) name type(7=string) value-len(2) value) for use as test
// fixture input to parseKiroEventType.
func buildKiroHeaderBlock(name, value string) []byte {
	buf := make([]byte, 0, 1+len(name)+1+2+len(value))
	buf = append(buf, byte(len(name)))
	buf = append(buf, []byte(name)...)
	buf = append(buf, 7) // string type
	valLen := len(value)
	buf = append(buf, byte(valLen>>8), byte(valLen))
	buf = append(buf, []byte(value)...)
	return buf
}
