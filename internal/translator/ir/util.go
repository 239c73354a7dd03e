package ir

import (
	"strings"

	"github.com/google/uuid"
)

// Claude wire-format role/block-type string constants, reused by both the
// to_ir parser and the from_ir converter so the two sides never drift.
const (
	ClaudeRoleUser      = "user"
	ClaudeRoleAssistant = "assistant"

	ClaudeBlockText       = "text"
	ClaudeBlockImage      = "image"
	ClaudeBlockToolUse    = "tool_use"
	ClaudeBlockToolResult = "tool_result"

	ClaudeDefaultMaxTokens = DefaultMaxTokens
)

// CombineTextParts concatenates every text part of a message with newlines,
// used when lifting a turn's content into a single system-instruction
// string (spec.md §4.2 "system is lifted out of the turn list").
func CombineTextParts(msg Message) string {
	var b strings.Builder
	for _, part := range msg.Content {
		if part.Type != ContentTypeText || part.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// CleanJsonSchemaForClaude and CleanJsonSchemaForGemini strip the
// "$schema" key a tool's input_schema may carry - spec.md §4.2: "Claude's
// input_schema.$schema is stripped before sending to Gemini."  Both target
// families tolerate but don't require the key, so the same helper serves
// either direction; it is named per-direction to keep call sites readable.
func CleanJsonSchemaForClaude(schema map[string]any) map[string]any {
	return stripSchemaKey(schema)
}

func CleanJsonSchemaForGemini(schema map[string]any) map[string]any {
	return stripSchemaKey(schema)
}

func stripSchemaKey(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	delete(schema, "$schema")
	return schema
}

// CopyMap returns a shallow copy, so callers can mutate without aliasing the
// caller's map (tool parameter schemas are shared across requests).
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// claudeModelPrefixes lists the family prefixes §4.3.3/§4.3.4 use to decide
// whether a model name belongs to Claude (and is therefore also the only
// family Kiro can serve).
var claudeModelPrefixes = []string{
	"claude-opus-4",
	"claude-sonnet-4",
	"claude-3-7",
	"claude-3-5",
	"claude-3-opus",
	"claude-3-haiku",
}

// IsClaudeModel reports whether model belongs to one of the known Claude
// model families, per the static list in spec.md §4.3.3.
func IsClaudeModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range claudeModelPrefixes {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// ToClaudeToolID normalizes a tool-call id to the form Claude expects
// (toolu_ prefixed); ids coming from OpenAI/Gemini are opaque strings that
// already satisfy Claude's [a-zA-Z0-9_-]{1,64} constraint in practice, so
// this is a passthrough. Gemini's functionCall and Kiro's bracket tool calls
// carry no id at all, so an empty id gets a fresh synthetic one rather than
// a shared placeholder - two tool calls in the same turn would otherwise
// collide under "toolu_unknown" and confuse a client matching results back
// to calls by id.
func ToClaudeToolID(id string) string {
	if id == "" {
		return "toolu_" + uuid.NewString()
	}
	return id
}

// OpenAI chat-completion wire-format string constants.
const (
	OpenAIRoleSystem    = "system"
	OpenAIRoleUser      = "user"
	OpenAIRoleAssistant = "assistant"
	OpenAIRoleTool      = "tool"

	OpenAIFinishStop          = "stop"
	OpenAIFinishLength        = "length"
	OpenAIFinishToolCalls     = "tool_calls"
	OpenAIFinishContentFilter = "content_filter"
)

// ToOpenAIToolID mirrors ToClaudeToolID for OpenAI's call_ prefix convention.
func ToOpenAIToolID(id string) string {
	if id == "" {
		return "call_" + uuid.NewString()
	}
	return id
}

// Gemini generateContent wire-format string constants.
const (
	GeminiRoleUser  = "user"
	GeminiRoleModel = "model"

	GeminiFinishStop          = "STOP"
	GeminiFinishMaxTokens     = "MAX_TOKENS"
	GeminiFinishSafety        = "SAFETY"
	GeminiFinishRecitation    = "RECITATION"
	GeminiFinishOther         = "OTHER"
)
