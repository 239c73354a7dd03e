package ir

import (
	"bytes"
	"encoding/json"
)

// Claude SSE event-type strings (spec.md §4.2 Streaming, Claude family).
const (
	ClaudeSSEMessageStart      = "message_start"
	ClaudeSSEContentBlockStart = "content_block_start"
	ClaudeSSEContentBlockDelta = "content_block_delta"
	ClaudeSSEContentBlockStop  = "content_block_stop"
	ClaudeSSEMessageDelta      = "message_delta"
	ClaudeSSEMessageStop       = "message_stop"
	ClaudeSSEError             = "error"
	ClaudeSSEPing              = "ping"
)

// Claude stop_reason strings.
const (
	ClaudeStopEndTurn = "end_turn"
	ClaudeStopToolUse = "tool_use"
	ClaudeStopMaxTok  = "max_tokens"
)

const ClaudeBlockThinking = "thinking"

// ExtractSSEData strips a "data: " line prefix from a single SSE frame,
// returning nil for blank lines and the literal "[DONE]" sentinel so callers
// can treat both as "nothing to parse".
func ExtractSSEData(line []byte) []byte {
	line = bytes.TrimSpace(line)
	line = bytes.TrimPrefix(line, []byte("data:"))
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.Equal(line, []byte("[DONE]")) {
		return nil
	}
	return line
}

// ValidateJSON reports whether data is syntactically valid JSON, used to
// skip malformed upstream chunks instead of failing the whole stream.
func ValidateJSON(data []byte) error {
	if !json.Valid(data) {
		return errInvalidJSON
	}
	return nil
}

type jsonError string

func (e jsonError) Error() string { return string(e) }

const errInvalidJSON = jsonError("invalid JSON payload")

// ParseToolCallArgs decodes a tool call's accumulated argument string into a
// generic map; an empty or malformed string yields an empty object rather
// than an error, since streaming callers may see partial JSON mid-flight.
func ParseToolCallArgs(args string) map[string]any {
	if args == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(args), &out); err != nil {
		return map[string]any{}
	}
	return out
}
