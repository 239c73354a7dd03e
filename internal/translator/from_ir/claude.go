// Package from_ir converts the canonical ir.UnifiedChatRequest/Message shape
// into each outbound family's wire format, and parses each family's
// responses back into ir types for re-serialization into a different family.
package from_ir

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/json"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func init() {
	translator.RegisterFromIR("claude", &ClaudeProvider{})
}

// ClaudeProvider converts the canonical request/event shape to and from
// Anthropic's Messages API wire format.
type ClaudeProvider struct{}

// ClaudeStreamState accumulates the block bookkeeping a Claude SSE stream
// needs across chunks: message_start is sent once, text/tool_use blocks
// each open with content_block_start and close with content_block_stop.
type ClaudeStreamState struct {
	MessageID        string
	Model            string
	MessageStartSent bool
	TextBlockStarted bool
	TextBlockStopped bool
	TextBlockIndex   int
	ToolBlockCount   int
	HasToolCalls     bool
	FinishSent       bool
}

func NewClaudeStreamState() *ClaudeStreamState {
	return &ClaudeStreamState{}
}

// ConvertRequest renders a UnifiedChatRequest as a Claude Messages API body.
func (p *ClaudeProvider) ConvertRequest(req *ir.UnifiedChatRequest) ([]byte, error) {
	root := map[string]any{
		"model":      req.Model,
		"max_tokens": ir.ClaudeDefaultMaxTokens,
		"messages":   []any{},
	}

	if req.MaxTokens != nil {
		root["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		root["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		root["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		root["top_k"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		root["stop_sequences"] = req.StopSequences
	}
	if req.Stream {
		root["stream"] = true
	}

	var messages []any
	for _, msg := range req.Messages {
		switch msg.Role {
		case ir.RoleSystem:
			if text := ir.CombineTextParts(msg); text != "" {
				root["system"] = text
			}
		case ir.RoleUser:
			if parts := buildClaudeContentParts(msg, false); len(parts) > 0 {
				messages = append(messages, map[string]any{"role": ir.ClaudeRoleUser, "content": parts})
			}
		case ir.RoleAssistant:
			if parts := buildClaudeContentParts(msg, true); len(parts) > 0 {
				messages = append(messages, map[string]any{"role": ir.ClaudeRoleAssistant, "content": parts})
			}
		case ir.RoleTool:
			for _, part := range msg.Content {
				if part.Type == ir.ContentTypeToolResult && part.ToolResult != nil {
					messages = append(messages, map[string]any{
						"role": ir.ClaudeRoleUser,
						"content": []any{map[string]any{
							"type": ir.ClaudeBlockToolResult, "tool_use_id": part.ToolResult.ToolCallID, "content": part.ToolResult.Result,
						}},
					})
				}
			}
		}
	}
	root["messages"] = messages

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "required":
			root["tool_choice"] = map[string]any{"type": "any"}
		case "none":
			// Claude has no explicit "none"; omitting tools achieves it and the
			// caller is expected to have already dropped req.Tools in that case.
		default:
			if req.ToolChoice.Function != "" {
				root["tool_choice"] = map[string]any{"type": "tool", "name": req.ToolChoice.Function}
			} else {
				root["tool_choice"] = map[string]any{"type": "auto"}
			}
		}
	}

	if len(req.Tools) > 0 {
		var tools []any
		for _, t := range req.Tools {
			tool := map[string]any{"name": t.Name, "description": t.Description}
			if len(t.Parameters) > 0 {
				tool["input_schema"] = ir.CleanJsonSchemaForClaude(ir.CopyMap(t.Parameters))
			} else {
				tool["input_schema"] = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, tool)
		}
		root["tools"] = tools
	}

	return json.Marshal(root)
}

// ParseResponse parses a non-streaming Claude response into the canonical
// message shape.
func (p *ClaudeProvider) ParseResponse(body []byte) ([]ir.Message, *ir.Usage, error) {
	if err := ir.ValidateJSON(body); err != nil {
		return nil, nil, err
	}
	parsed := gjson.ParseBytes(body)
	usage := parseClaudeUsage(parsed.Get("usage"))

	content := parsed.Get("content")
	if !content.IsArray() {
		return nil, usage, nil
	}

	msg := ir.Message{Role: ir.RoleAssistant}
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case ir.ClaudeBlockText:
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: block.Get("text").String()})
		case ir.ClaudeBlockToolUse:
			args, _ := json.Marshal(block.Get("input").Value())
			msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
				ID:   block.Get("id").String(),
				Name: block.Get("name").String(),
				Args: string(args),
			})
		}
	}

	if len(msg.Content) == 0 && len(msg.ToolCalls) == 0 {
		return nil, usage, nil
	}
	return []ir.Message{msg}, usage, nil
}

// ParseStreamChunk parses one Claude SSE data frame into zero or more
// canonical events, threading block bookkeeping through state so that
// content_block_delta frames can be attributed to the right tool call.
func (p *ClaudeProvider) ParseStreamChunk(frame []byte, state *ClaudeStreamState) ([]ir.UnifiedEvent, error) {
	data := ir.ExtractSSEData(frame)
	if len(data) == 0 {
		return nil, nil
	}
	if ir.ValidateJSON(data) != nil {
		return nil, nil
	}
	parsed := gjson.ParseBytes(data)

	switch parsed.Get("type").String() {
	case ir.ClaudeSSEContentBlockStart:
		block := parsed.Get("content_block")
		if block.Get("type").String() == ir.ClaudeBlockToolUse {
			return []ir.UnifiedEvent{{
				Type: ir.EventTypeToolCallStart,
				ToolCall: &ir.ToolCall{
					ID:   block.Get("id").String(),
					Name: block.Get("name").String(),
				},
				ToolCallIndex: int(parsed.Get("index").Int()),
			}}, nil
		}
		return nil, nil
	case ir.ClaudeSSEContentBlockDelta:
		delta := parsed.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return []ir.UnifiedEvent{{Type: ir.EventTypeToken, Content: delta.Get("text").String()}}, nil
		case "thinking_delta":
			return []ir.UnifiedEvent{{Type: ir.EventTypeReasoning, Reasoning: delta.Get("thinking").String()}}, nil
		case "input_json_delta":
			return []ir.UnifiedEvent{{
				Type:          ir.EventTypeToolCallDelta,
				ToolCall:      &ir.ToolCall{PartialArgs: delta.Get("partial_json").String()},
				ToolCallIndex: int(parsed.Get("index").Int()),
			}}, nil
		}
		return nil, nil
	case ir.ClaudeSSEContentBlockStop:
		return []ir.UnifiedEvent{{Type: ir.EventTypeToolCallEnd, ToolCallIndex: int(parsed.Get("index").Int())}}, nil
	case ir.ClaudeSSEMessageDelta:
		usage := parseClaudeUsage(parsed.Get("usage"))
		reason := mapClaudeStopReason(parsed.Get("delta.stop_reason").String())
		var events []ir.UnifiedEvent
		if usage != nil {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeUsage, Usage: usage})
		}
		if reason != "" {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeFinish, FinishReason: reason})
		}
		return events, nil
	case ir.ClaudeSSEMessageStop:
		if state != nil && state.FinishSent {
			return nil, nil
		}
		if state != nil {
			state.FinishSent = true
		}
		return nil, nil
	case ir.ClaudeSSEError:
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = "unknown Claude API error"
		}
		return []ir.UnifiedEvent{{Type: ir.EventTypeFinish, FinishReason: ir.FinishReasonError, Error: fmt.Errorf("%s", msg)}}, nil
	}
	return nil, nil
}

func mapClaudeStopReason(reason string) ir.FinishReason {
	switch reason {
	case "":
		return ""
	case ir.ClaudeStopEndTurn:
		return ir.FinishReasonStop
	case ir.ClaudeStopToolUse:
		return ir.FinishReasonToolCalls
	case ir.ClaudeStopMaxTok:
		return ir.FinishReasonLength
	default:
		return ir.FinishReasonUnknown
	}
}

func parseClaudeUsage(v gjson.Result) *ir.Usage {
	if !v.Exists() {
		return nil
	}
	in, out := v.Get("input_tokens").Int(), v.Get("output_tokens").Int()
	if in == 0 && out == 0 {
		return nil
	}
	return &ir.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

// ToClaudeSSE re-serializes a canonical event into Claude's SSE chunk shape,
// tracking block open/close state across calls.
func ToClaudeSSE(event ir.UnifiedEvent, model, messageID string, state *ClaudeStreamState) ([]byte, error) {
	var out strings.Builder

	if !state.MessageStartSent {
		state.MessageStartSent = true
		state.Model, state.MessageID = model, messageID
		out.WriteString(formatSSE(ir.ClaudeSSEMessageStart, map[string]any{
			"type": ir.ClaudeSSEMessageStart,
			"message": map[string]any{
				"id": messageID, "type": "message", "role": ir.ClaudeRoleAssistant,
				"content": []any{}, "model": model, "stop_reason": nil,
				"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	switch event.Type {
	case ir.EventTypeToken:
		out.WriteString(emitTextDelta(event.Content, state))
	case ir.EventTypeReasoning:
		out.WriteString(emitThinkingDelta(event.Reasoning, state))
	case ir.EventTypeToolCallStart:
		if event.ToolCall != nil {
			out.WriteString(emitToolCallStart(event.ToolCall, state))
		}
	case ir.EventTypeToolCallDelta:
		if event.ToolCall != nil {
			out.WriteString(emitToolCallDelta(event.ToolCall, state))
		}
	case ir.EventTypeToolCallEnd:
		out.WriteString(emitToolCallEnd(state))
	case ir.EventTypeFinish:
		if state.FinishSent {
			return nil, nil
		}
		state.FinishSent = true
		if event.FinishReason == ir.FinishReasonError {
			out.WriteString(formatSSE(ir.ClaudeSSEError, map[string]any{
				"type": ir.ClaudeSSEError, "error": map[string]any{"type": "api_error", "message": errMsg(event.Error)},
			}))
			break
		}
		out.WriteString(emitFinish(event.Usage, state))
	}

	if out.Len() == 0 {
		return nil, nil
	}
	return []byte(out.String()), nil
}

// ToClaudeResponse renders a parsed message list as a complete, non-streaming
// Claude response body.
func ToClaudeResponse(messages []ir.Message, usage *ir.Usage, model, messageID string) ([]byte, error) {
	var parts []any
	hasToolCalls := false
	for _, msg := range messages {
		parts = append(parts, buildClaudeContentParts(msg, true)...)
		hasToolCalls = hasToolCalls || len(msg.ToolCalls) > 0
	}
	stopReason := ir.ClaudeStopEndTurn
	if hasToolCalls {
		stopReason = ir.ClaudeStopToolUse
	}
	response := map[string]any{
		"id": messageID, "type": "message", "role": ir.ClaudeRoleAssistant,
		"content": parts, "model": model, "stop_reason": stopReason,
	}
	if usage != nil {
		response["usage"] = map[string]any{"input_tokens": usage.PromptTokens, "output_tokens": usage.CompletionTokens}
	}
	return json.Marshal(response)
}

func buildClaudeContentParts(msg ir.Message, includeToolCalls bool) []any {
	parts := make([]any, 0, len(msg.Content)+len(msg.ToolCalls))
	for _, p := range msg.Content {
		switch p.Type {
		case ir.ContentTypeText:
			if p.Text != "" {
				parts = append(parts, map[string]any{"type": ir.ClaudeBlockText, "text": p.Text})
			}
		case ir.ContentTypeImage:
			if p.Image != nil {
				parts = append(parts, map[string]any{
					"type":   ir.ClaudeBlockImage,
					"source": map[string]any{"type": "base64", "media_type": p.Image.MimeType, "data": p.Image.Data},
				})
			}
		case ir.ContentTypeToolResult:
			if p.ToolResult != nil {
				parts = append(parts, map[string]any{
					"type": ir.ClaudeBlockToolResult, "tool_use_id": p.ToolResult.ToolCallID, "content": p.ToolResult.Result,
				})
			}
		}
	}
	if includeToolCalls {
		for _, tc := range msg.ToolCalls {
			parts = append(parts, map[string]any{
				"type": ir.ClaudeBlockToolUse, "id": ir.ToClaudeToolID(tc.ID), "name": tc.Name,
				"input": ir.ParseToolCallArgs(tc.Args),
			})
		}
	}
	return parts
}

// sseBufferPool reuses byte slices across SSE frame formatting; a gateway
// under heavy streaming load would otherwise allocate one buffer per chunk
// per connection.
var sseBufferPool = sync.Pool{New: func() any { return make([]byte, 0, 512) }}

func formatSSE(eventType string, data any) string {
	payload, _ := json.Marshal(data)
	buf := sseBufferPool.Get().([]byte)[:0]
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, payload...)
	buf = append(buf, "\n\n"...)
	out := string(buf)
	sseBufferPool.Put(buf[:0]) //nolint:staticcheck // buf escapes via string(); fine to return
	return out
}

func emitTextDelta(text string, state *ClaudeStreamState) string {
	var out strings.Builder
	if !state.TextBlockStarted {
		state.TextBlockStarted = true
		out.WriteString(formatSSE(ir.ClaudeSSEContentBlockStart, map[string]any{
			"type": ir.ClaudeSSEContentBlockStart, "index": state.TextBlockIndex,
			"content_block": map[string]any{"type": ir.ClaudeBlockText, "text": ""},
		}))
	}
	out.WriteString(formatSSE(ir.ClaudeSSEContentBlockDelta, map[string]any{
		"type": ir.ClaudeSSEContentBlockDelta, "index": state.TextBlockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	}))
	return out.String()
}

func emitThinkingDelta(thinking string, state *ClaudeStreamState) string {
	var out strings.Builder
	if !state.TextBlockStarted {
		state.TextBlockStarted = true
		out.WriteString(formatSSE(ir.ClaudeSSEContentBlockStart, map[string]any{
			"type": ir.ClaudeSSEContentBlockStart, "index": state.TextBlockIndex,
			"content_block": map[string]any{"type": ir.ClaudeBlockThinking, "thinking": ""},
		}))
	}
	out.WriteString(formatSSE(ir.ClaudeSSEContentBlockDelta, map[string]any{
		"type": ir.ClaudeSSEContentBlockDelta, "index": state.TextBlockIndex,
		"delta": map[string]any{"type": "thinking_delta", "thinking": thinking},
	}))
	return out.String()
}

func emitToolCallStart(tc *ir.ToolCall, state *ClaudeStreamState) string {
	var out strings.Builder
	if state.TextBlockStarted && !state.TextBlockStopped {
		state.TextBlockStopped = true
		out.WriteString(formatSSE(ir.ClaudeSSEContentBlockStop, map[string]any{"type": ir.ClaudeSSEContentBlockStop, "index": state.TextBlockIndex}))
	}
	state.HasToolCalls = true
	state.ToolBlockCount++
	idx := state.ToolBlockCount
	out.WriteString(formatSSE(ir.ClaudeSSEContentBlockStart, map[string]any{
		"type": ir.ClaudeSSEContentBlockStart, "index": idx,
		"content_block": map[string]any{"type": ir.ClaudeBlockToolUse, "id": ir.ToClaudeToolID(tc.ID), "name": tc.Name, "input": map[string]any{}},
	}))
	return out.String()
}

func emitToolCallDelta(tc *ir.ToolCall, state *ClaudeStreamState) string {
	idx := state.ToolBlockCount
	args := tc.PartialArgs
	if args == "" {
		args = "{}"
	}
	return formatSSE(ir.ClaudeSSEContentBlockDelta, map[string]any{
		"type": ir.ClaudeSSEContentBlockDelta, "index": idx,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
	})
}

func emitToolCallEnd(state *ClaudeStreamState) string {
	idx := state.ToolBlockCount
	return formatSSE(ir.ClaudeSSEContentBlockStop, map[string]any{"type": ir.ClaudeSSEContentBlockStop, "index": idx})
}

func emitFinish(usage *ir.Usage, state *ClaudeStreamState) string {
	var out strings.Builder
	stopReason := ir.ClaudeStopEndTurn
	if state.HasToolCalls {
		stopReason = ir.ClaudeStopToolUse
	}
	delta := map[string]any{"type": ir.ClaudeSSEMessageDelta, "delta": map[string]any{"stop_reason": stopReason}}
	if usage != nil {
		delta["usage"] = map[string]any{"input_tokens": usage.PromptTokens, "output_tokens": usage.CompletionTokens}
	}
	out.WriteString(formatSSE(ir.ClaudeSSEMessageDelta, delta))
	out.WriteString(formatSSE(ir.ClaudeSSEMessageStop, map[string]any{"type": ir.ClaudeSSEMessageStop}))
	return out.String()
}

// Provider satisfies translator.FromIRConverter.
func (p *ClaudeProvider) Provider() string { return "claude" }

// NewChunkState satisfies translator.FromIRConverter: each stream gets its
// own block-bookkeeping state, never shared across concurrent requests.
func (p *ClaudeProvider) NewChunkState() any { return NewClaudeStreamState() }

// ToChunk satisfies translator.FromIRConverter, threading the per-stream
// ClaudeStreamState obtained from NewChunkState.
func (p *ClaudeProvider) ToChunk(state any, event ir.UnifiedEvent, model string) ([]byte, error) {
	st, ok := state.(*ClaudeStreamState)
	if !ok || st == nil {
		st = NewClaudeStreamState()
	}
	if st.Model == "" {
		st.Model = model
	}
	if st.MessageID == "" {
		st.MessageID = newClaudeMessageID()
	}
	return ToClaudeSSE(event, model, st.MessageID, st)
}

// ToResponse satisfies translator.FromIRConverter for the non-streaming path.
func (p *ClaudeProvider) ToResponse(messages []ir.Message, usage *ir.Usage, model string) ([]byte, error) {
	return ToClaudeResponse(messages, usage, model, newClaudeMessageID())
}

// newClaudeMessageID mints a message id; Claude's wire format only requires
// the id be stable within one response, not globally unique, but a random
// id (the same way the teacher's account/session ids are minted) is cheaper
// than threading a counter through every caller.
func newClaudeMessageID() string {
	return "msg_" + uuid.NewString()
}

func errMsg(err error) string {
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}
