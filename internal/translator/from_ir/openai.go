package from_ir

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/json"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func init() {
	translator.RegisterFromIR("openai", &OpenAIProvider{})
}

// OpenAIProvider converts the canonical request/event shape to and from the
// OpenAI chat completions wire format.
type OpenAIProvider struct{}

// OpenAIStreamState accumulates the tool-call argument deltas a chat
// completions stream sends split across many chunks, keyed by the index
// OpenAI assigns each parallel tool call.
type OpenAIStreamState struct {
	ID          string
	Created     int64
	Role        string
	ToolCallIDs map[int]string
	SentRole    bool
}

func NewOpenAIStreamState() *OpenAIStreamState {
	return &OpenAIStreamState{ToolCallIDs: make(map[int]string)}
}

// ConvertRequest renders a UnifiedChatRequest as an OpenAI chat completions body.
func (p *OpenAIProvider) ConvertRequest(req *ir.UnifiedChatRequest) ([]byte, error) {
	root := map[string]any{"model": req.Model}

	var messages []any
	for _, msg := range req.Messages {
		switch msg.Role {
		case ir.RoleSystem:
			if text := ir.CombineTextParts(msg); text != "" {
				messages = append(messages, map[string]any{"role": ir.OpenAIRoleSystem, "content": text})
			}
		case ir.RoleTool:
			for _, part := range msg.Content {
				if part.Type == ir.ContentTypeToolResult && part.ToolResult != nil {
					messages = append(messages, map[string]any{
						"role":         ir.OpenAIRoleTool,
						"tool_call_id": part.ToolResult.ToolCallID,
						"content":      part.ToolResult.Result,
					})
				}
			}
		default:
			messages = append(messages, buildOpenAIMessage(msg))
		}
	}
	root["messages"] = messages

	if req.Temperature != nil {
		root["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		root["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		root["max_tokens"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		root["stop"] = req.StopSequences
	}
	if req.Stream {
		root["stream"] = true
		root["stream_options"] = map[string]any{"include_usage": true}
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "required":
			root["tool_choice"] = "required"
		case "none":
			root["tool_choice"] = "none"
		default:
			if req.ToolChoice.Function != "" {
				root["tool_choice"] = map[string]any{"type": "function", "function": map[string]any{"name": req.ToolChoice.Function}}
			} else {
				root["tool_choice"] = "auto"
			}
		}
	}

	if len(req.Tools) > 0 {
		var tools []any
		for _, t := range req.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
		root["tools"] = tools
	}

	return json.Marshal(root)
}

func buildOpenAIMessage(msg ir.Message) map[string]any {
	role := ir.OpenAIRoleUser
	if msg.Role == ir.RoleAssistant {
		role = ir.OpenAIRoleAssistant
	}
	out := map[string]any{"role": role}

	var parts []any
	for _, p := range msg.Content {
		switch p.Type {
		case ir.ContentTypeText:
			if p.Text != "" {
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			}
		case ir.ContentTypeImage:
			if p.Image != nil {
				url := p.Image.URL
				if url == "" && p.Image.Data != "" {
					url = fmt.Sprintf("data:%s;base64,%s", p.Image.MimeType, p.Image.Data)
				}
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
			}
		}
	}
	switch len(parts) {
	case 0:
		out["content"] = ""
	case 1:
		if parts[0].(map[string]any)["type"] == "text" {
			out["content"] = parts[0].(map[string]any)["text"]
		} else {
			out["content"] = parts
		}
	default:
		out["content"] = parts
	}

	if len(msg.ToolCalls) > 0 {
		var calls []any
		for _, tc := range msg.ToolCalls {
			calls = append(calls, map[string]any{
				"id":   ir.ToOpenAIToolID(tc.ID),
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Args,
				},
			})
		}
		out["tool_calls"] = calls
	}
	return out
}

// ParseResponse parses a non-streaming OpenAI chat completion response.
func (p *OpenAIProvider) ParseResponse(body []byte) ([]ir.Message, *ir.Usage, error) {
	if err := ir.ValidateJSON(body); err != nil {
		return nil, nil, err
	}
	parsed := gjson.ParseBytes(body)
	usage := parseOpenAIUsage(parsed.Get("usage"))

	choice := parsed.Get("choices.0")
	if !choice.Exists() {
		return nil, usage, nil
	}
	message := choice.Get("message")

	msg := ir.Message{Role: ir.RoleAssistant}
	if text := message.Get("content").String(); text != "" {
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: text})
	}
	for _, tc := range message.Get("tool_calls").Array() {
		msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
			ID:   tc.Get("id").String(),
			Name: tc.Get("function.name").String(),
			Args: tc.Get("function.arguments").String(),
		})
	}

	if len(msg.Content) == 0 && len(msg.ToolCalls) == 0 {
		return nil, usage, nil
	}
	return []ir.Message{msg}, usage, nil
}

// ParseStreamChunk parses one OpenAI chat completions SSE data frame.
func (p *OpenAIProvider) ParseStreamChunk(frame []byte, state *OpenAIStreamState) ([]ir.UnifiedEvent, error) {
	data := ir.ExtractSSEData(frame)
	if len(data) == 0 {
		return nil, nil
	}
	if ir.ValidateJSON(data) != nil {
		return nil, nil
	}
	parsed := gjson.ParseBytes(data)

	var events []ir.UnifiedEvent
	choice := parsed.Get("choices.0")
	if choice.Exists() {
		delta := choice.Get("delta")
		if text := delta.Get("content").String(); text != "" {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeToken, Content: text})
		}
		if reasoning := delta.Get("reasoning_content").String(); reasoning != "" {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeReasoning, Reasoning: reasoning})
		}
		for _, tc := range delta.Get("tool_calls").Array() {
			idx := int(tc.Get("index").Int())
			if id := tc.Get("id").String(); id != "" && state != nil && state.ToolCallIDs[idx] == "" {
				state.ToolCallIDs[idx] = id
				events = append(events, ir.UnifiedEvent{
					Type:          ir.EventTypeToolCallStart,
					ToolCall:      &ir.ToolCall{ID: id, Name: tc.Get("function.name").String()},
					ToolCallIndex: idx,
				})
			}
			if args := tc.Get("function.arguments").String(); args != "" {
				events = append(events, ir.UnifiedEvent{
					Type:          ir.EventTypeToolCallDelta,
					ToolCall:      &ir.ToolCall{PartialArgs: args},
					ToolCallIndex: idx,
				})
			}
		}
		if reason := mapOpenAIFinishReason(choice.Get("finish_reason").String()); reason != "" {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeFinish, FinishReason: reason})
		}
	}
	if usage := parseOpenAIUsage(parsed.Get("usage")); usage != nil {
		events = append(events, ir.UnifiedEvent{Type: ir.EventTypeUsage, Usage: usage})
	}
	return events, nil
}

func mapOpenAIFinishReason(reason string) ir.FinishReason {
	switch reason {
	case "":
		return ""
	case ir.OpenAIFinishStop:
		return ir.FinishReasonStop
	case ir.OpenAIFinishLength:
		return ir.FinishReasonLength
	case ir.OpenAIFinishToolCalls:
		return ir.FinishReasonToolCalls
	case ir.OpenAIFinishContentFilter:
		return ir.FinishReasonContentFilter
	default:
		return ir.FinishReasonUnknown
	}
}

func parseOpenAIUsage(v gjson.Result) *ir.Usage {
	if !v.Exists() {
		return nil
	}
	in, out, total := v.Get("prompt_tokens").Int(), v.Get("completion_tokens").Int(), v.Get("total_tokens").Int()
	if in == 0 && out == 0 {
		return nil
	}
	u := &ir.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: total}
	if r := v.Get("completion_tokens_details.reasoning_tokens"); r.Exists() {
		u.CompletionTokensDetails = &ir.CompletionTokensDetails{ReasoningTokens: r.Int()}
	}
	if c := v.Get("prompt_tokens_details.cached_tokens"); c.Exists() {
		u.CachedTokens = c.Int()
	}
	return u
}

// ToOpenAISSE re-serializes a canonical event into an OpenAI chat
// completions streaming chunk.
func ToOpenAISSE(event ir.UnifiedEvent, model string, state *OpenAIStreamState) ([]byte, error) {
	delta := map[string]any{}
	if !state.SentRole {
		state.SentRole = true
		delta["role"] = ir.OpenAIRoleAssistant
	}

	choice := map[string]any{"index": 0, "delta": delta}
	root := map[string]any{
		"id": state.ID, "object": "chat.completion.chunk", "created": state.Created,
		"model": model, "choices": []any{choice},
	}

	switch event.Type {
	case ir.EventTypeToken:
		delta["content"] = event.Content
	case ir.EventTypeReasoning:
		delta["reasoning_content"] = event.Reasoning
	case ir.EventTypeToolCallStart:
		if event.ToolCall != nil {
			delta["tool_calls"] = []any{map[string]any{
				"index": event.ToolCallIndex, "id": ir.ToOpenAIToolID(event.ToolCall.ID),
				"type": "function", "function": map[string]any{"name": event.ToolCall.Name, "arguments": ""},
			}}
		}
	case ir.EventTypeToolCallDelta:
		if event.ToolCall != nil {
			delta["tool_calls"] = []any{map[string]any{
				"index": event.ToolCallIndex, "function": map[string]any{"arguments": event.ToolCall.PartialArgs},
			}}
		}
	case ir.EventTypeToolCallEnd:
		return nil, nil
	case ir.EventTypeUsage:
		if event.Usage != nil {
			root["usage"] = map[string]any{
				"prompt_tokens": event.Usage.PromptTokens, "completion_tokens": event.Usage.CompletionTokens,
				"total_tokens": event.Usage.TotalTokens,
			}
		}
		return json.Marshal(root)
	case ir.EventTypeFinish:
		choice["finish_reason"] = mapFinishReasonToOpenAI(event.FinishReason)
		delta = map[string]any{}
		choice["delta"] = delta
	}

	return json.Marshal(root)
}

func mapFinishReasonToOpenAI(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonStop:
		return ir.OpenAIFinishStop
	case ir.FinishReasonLength:
		return ir.OpenAIFinishLength
	case ir.FinishReasonToolCalls:
		return ir.OpenAIFinishToolCalls
	case ir.FinishReasonContentFilter:
		return ir.OpenAIFinishContentFilter
	default:
		return ir.OpenAIFinishStop
	}
}

// ToOpenAIResponse renders a parsed message list as a complete, non-streaming
// OpenAI chat completion response body.
func ToOpenAIResponse(messages []ir.Message, usage *ir.Usage, model, id string) ([]byte, error) {
	message := map[string]any{"role": ir.OpenAIRoleAssistant}
	finishReason := ir.OpenAIFinishStop
	for _, msg := range messages {
		if text := ir.CombineTextParts(msg); text != "" {
			message["content"] = text
		}
		if len(msg.ToolCalls) > 0 {
			var calls []any
			for _, tc := range msg.ToolCalls {
				calls = append(calls, map[string]any{
					"id": ir.ToOpenAIToolID(tc.ID), "type": "function",
					"function": map[string]any{"name": tc.Name, "arguments": tc.Args},
				})
			}
			message["tool_calls"] = calls
			finishReason = ir.OpenAIFinishToolCalls
		}
	}
	if _, ok := message["content"]; !ok {
		message["content"] = nil
	}

	response := map[string]any{
		"id": id, "object": "chat.completion", "model": model,
		"choices": []any{map[string]any{"index": 0, "message": message, "finish_reason": finishReason}},
	}
	if usage != nil {
		response["usage"] = map[string]any{
			"prompt_tokens": usage.PromptTokens, "completion_tokens": usage.CompletionTokens,
			"total_tokens": usage.TotalTokens,
		}
	}
	return json.Marshal(response)
}

// Provider satisfies translator.FromIRConverter.
func (p *OpenAIProvider) Provider() string { return "openai" }

// NewChunkState satisfies translator.FromIRConverter.
func (p *OpenAIProvider) NewChunkState() any { return NewOpenAIStreamState() }

// ToChunk satisfies translator.FromIRConverter.
func (p *OpenAIProvider) ToChunk(state any, event ir.UnifiedEvent, model string) ([]byte, error) {
	st, ok := state.(*OpenAIStreamState)
	if !ok || st == nil {
		st = NewOpenAIStreamState()
	}
	if st.ID == "" {
		st.ID = newOpenAICompletionID()
		st.Created = time.Now().Unix()
	}
	return ToOpenAISSE(event, model, st)
}

// ToResponse satisfies translator.FromIRConverter.
func (p *OpenAIProvider) ToResponse(messages []ir.Message, usage *ir.Usage, model string) ([]byte, error) {
	return ToOpenAIResponse(messages, usage, model, newOpenAICompletionID())
}

var openaiCompletionCounter uint64

// newOpenAICompletionID mints a process-unique chat completion id.
func newOpenAICompletionID() string {
	n := atomic.AddUint64(&openaiCompletionCounter, 1)
	return fmt.Sprintf("chatcmpl-%d-%d", time.Now().UnixNano(), n)
}
