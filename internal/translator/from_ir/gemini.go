package from_ir

import (
	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/json"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func init() {
	translator.RegisterFromIR("gemini", &GeminiProvider{})
}

// GeminiProvider converts the canonical request/event shape to and from
// Gemini's generateContent wire format.
type GeminiProvider struct{}

// GeminiStreamState tracks whether a tool call's name has already been sent,
// since Gemini has no separate "tool call start" frame - each functionCall
// part arrives whole, so start+delta collapse into one chunk here.
type GeminiStreamState struct {
	ToolCallsSeen map[int]bool
}

func NewGeminiStreamState() *GeminiStreamState {
	return &GeminiStreamState{ToolCallsSeen: make(map[int]bool)}
}

// ConvertRequest renders a UnifiedChatRequest as a Gemini generateContent body.
func (p *GeminiProvider) ConvertRequest(req *ir.UnifiedChatRequest) ([]byte, error) {
	root := map[string]any{}

	var contents []any
	for _, msg := range req.Messages {
		switch msg.Role {
		case ir.RoleSystem:
			if text := ir.CombineTextParts(msg); text != "" {
				root["systemInstruction"] = map[string]any{"parts": []any{map[string]any{"text": text}}}
			}
		case ir.RoleTool:
			var parts []any
			for _, part := range msg.Content {
				if part.Type == ir.ContentTypeToolResult && part.ToolResult != nil {
					parts = append(parts, map[string]any{
						"functionResponse": map[string]any{
							"name":     part.ToolResult.ToolCallID,
							"response": map[string]any{"result": part.ToolResult.Result},
						},
					})
				}
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": ir.GeminiRoleUser, "parts": parts})
			}
		default:
			if parts := buildGeminiParts(msg); len(parts) > 0 {
				role := ir.GeminiRoleUser
				if msg.Role == ir.RoleAssistant {
					role = ir.GeminiRoleModel
				}
				contents = append(contents, map[string]any{"role": role, "parts": parts})
			}
		}
	}
	root["contents"] = contents

	genConfig := map[string]any{}
	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}
	if req.TopK != nil {
		genConfig["topK"] = *req.TopK
	}
	if req.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *req.MaxTokens
	} else {
		genConfig["maxOutputTokens"] = ir.DefaultMaxOutputTokensGemini
	}
	if len(req.StopSequences) > 0 {
		genConfig["stopSequences"] = req.StopSequences
	}
	root["generationConfig"] = genConfig

	if len(req.Tools) > 0 {
		var decls []any
		for _, t := range req.Tools {
			params := t.Parameters
			if params != nil {
				params = ir.CleanJsonSchemaForGemini(ir.CopyMap(params))
			}
			decls = append(decls, map[string]any{"name": t.Name, "description": t.Description, "parameters": params})
		}
		root["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}

	if req.ToolChoice != nil {
		mode := "AUTO"
		cfg := map[string]any{}
		switch req.ToolChoice.Mode {
		case "required":
			mode = "ANY"
		case "none":
			mode = "NONE"
		case "tool":
			mode = "ANY"
			cfg["allowedFunctionNames"] = []string{req.ToolChoice.Function}
		}
		cfg["mode"] = mode
		root["toolConfig"] = map[string]any{"functionCallingConfig": cfg}
	}

	return json.Marshal(root)
}

func buildGeminiParts(msg ir.Message) []any {
	var parts []any
	for _, p := range msg.Content {
		switch p.Type {
		case ir.ContentTypeText:
			if p.Text != "" {
				parts = append(parts, map[string]any{"text": p.Text})
			}
		case ir.ContentTypeImage:
			if p.Image != nil {
				parts = append(parts, map[string]any{"inlineData": map[string]any{"mimeType": p.Image.MimeType, "data": p.Image.Data}})
			}
		case ir.ContentTypeAudio:
			if p.Audio != nil {
				parts = append(parts, map[string]any{"inlineData": map[string]any{"mimeType": "audio/" + p.Audio.Format, "data": p.Audio.Data}})
			}
		case ir.ContentTypeVideo:
			if p.Video != nil {
				parts = append(parts, map[string]any{"fileData": map[string]any{"mimeType": p.Video.MimeType, "fileUri": p.Video.FileURI}})
			}
		}
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, map[string]any{"functionCall": map[string]any{"name": tc.Name, "args": ir.ParseToolCallArgs(tc.Args)}})
	}
	return parts
}

// ParseResponse parses a non-streaming Gemini generateContent response.
func (p *GeminiProvider) ParseResponse(body []byte) ([]ir.Message, *ir.Usage, error) {
	if err := ir.ValidateJSON(body); err != nil {
		return nil, nil, err
	}
	parsed := gjson.ParseBytes(body)
	usage := parseGeminiUsage(parsed.Get("usageMetadata"))

	candidate := parsed.Get("candidates.0")
	if !candidate.Exists() {
		return nil, usage, nil
	}

	msg := ir.Message{Role: ir.RoleAssistant}
	for _, part := range candidate.Get("content.parts").Array() {
		switch {
		case part.Get("text").Exists():
			if part.Get("thought").Bool() {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: part.Get("text").String()})
			} else {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
			}
		case part.Get("functionCall").Exists():
			args, _ := json.Marshal(part.Get("functionCall.args").Value())
			msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{Name: part.Get("functionCall.name").String(), Args: string(args)})
		}
	}

	if len(msg.Content) == 0 && len(msg.ToolCalls) == 0 {
		return nil, usage, nil
	}
	return []ir.Message{msg}, usage, nil
}

// ParseStreamChunk parses one Gemini streamGenerateContent SSE data frame.
func (p *GeminiProvider) ParseStreamChunk(frame []byte, state *GeminiStreamState) ([]ir.UnifiedEvent, error) {
	data := ir.ExtractSSEData(frame)
	if len(data) == 0 {
		return nil, nil
	}
	if ir.ValidateJSON(data) != nil {
		return nil, nil
	}
	parsed := gjson.ParseBytes(data)

	var events []ir.UnifiedEvent
	candidate := parsed.Get("candidates.0")
	if candidate.Exists() {
		idx := 0
		for _, part := range candidate.Get("content.parts").Array() {
			switch {
			case part.Get("text").Exists():
				if part.Get("thought").Bool() {
					events = append(events, ir.UnifiedEvent{Type: ir.EventTypeReasoning, Reasoning: part.Get("text").String()})
				} else {
					events = append(events, ir.UnifiedEvent{Type: ir.EventTypeToken, Content: part.Get("text").String()})
				}
			case part.Get("functionCall").Exists():
				args, _ := json.Marshal(part.Get("functionCall.args").Value())
				if state != nil && !state.ToolCallsSeen[idx] {
					state.ToolCallsSeen[idx] = true
					events = append(events, ir.UnifiedEvent{
						Type: ir.EventTypeToolCallStart, ToolCallIndex: idx,
						ToolCall: &ir.ToolCall{Name: part.Get("functionCall.name").String()},
					})
				}
				events = append(events, ir.UnifiedEvent{
					Type: ir.EventTypeToolCallDelta, ToolCallIndex: idx,
					ToolCall: &ir.ToolCall{PartialArgs: string(args)},
				})
				events = append(events, ir.UnifiedEvent{Type: ir.EventTypeToolCallEnd, ToolCallIndex: idx})
				idx++
			}
		}
		if reason := mapGeminiFinishReason(candidate.Get("finishReason").String()); reason != "" {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeFinish, FinishReason: reason})
		}
	}
	if usage := parseGeminiUsage(parsed.Get("usageMetadata")); usage != nil {
		events = append(events, ir.UnifiedEvent{Type: ir.EventTypeUsage, Usage: usage})
	}
	return events, nil
}

func mapGeminiFinishReason(reason string) ir.FinishReason {
	switch reason {
	case "":
		return ""
	case ir.GeminiFinishStop:
		return ir.FinishReasonStop
	case ir.GeminiFinishMaxTokens:
		return ir.FinishReasonLength
	case ir.GeminiFinishSafety, ir.GeminiFinishRecitation:
		return ir.FinishReasonContentFilter
	default:
		return ir.FinishReasonUnknown
	}
}

func parseGeminiUsage(v gjson.Result) *ir.Usage {
	if !v.Exists() {
		return nil
	}
	in, out, total := v.Get("promptTokenCount").Int(), v.Get("candidatesTokenCount").Int(), v.Get("totalTokenCount").Int()
	if in == 0 && out == 0 {
		return nil
	}
	return &ir.Usage{
		PromptTokens: in, CompletionTokens: out, TotalTokens: total,
		ThoughtsTokenCount: v.Get("thoughtsTokenCount").Int(),
		CachedTokens:       v.Get("cachedContentTokenCount").Int(),
	}
}

// ToGeminiSSE re-serializes a canonical event into a Gemini streamGenerateContent chunk.
func ToGeminiSSE(event ir.UnifiedEvent, model string, state *GeminiStreamState) ([]byte, error) {
	var part map[string]any
	switch event.Type {
	case ir.EventTypeToken:
		part = map[string]any{"text": event.Content}
	case ir.EventTypeReasoning:
		part = map[string]any{"text": event.Reasoning, "thought": true}
	case ir.EventTypeToolCallDelta:
		if event.ToolCall == nil {
			return nil, nil
		}
		part = map[string]any{"functionCall": map[string]any{"name": event.ToolCall.Name, "args": ir.ParseToolCallArgs(event.ToolCall.PartialArgs)}}
	case ir.EventTypeToolCallStart, ir.EventTypeToolCallEnd:
		return nil, nil
	case ir.EventTypeUsage:
		if event.Usage == nil {
			return nil, nil
		}
		return json.Marshal(map[string]any{"usageMetadata": geminiUsageMetadata(event.Usage)})
	case ir.EventTypeFinish:
		candidate := map[string]any{"content": map[string]any{"role": ir.GeminiRoleModel, "parts": []any{}}, "finishReason": mapFinishReasonToGemini(event.FinishReason)}
		return json.Marshal(map[string]any{"candidates": []any{candidate}})
	default:
		return nil, nil
	}

	candidate := map[string]any{"content": map[string]any{"role": ir.GeminiRoleModel, "parts": []any{part}}}
	return json.Marshal(map[string]any{"candidates": []any{candidate}})
}

func mapFinishReasonToGemini(reason ir.FinishReason) string {
	switch reason {
	case ir.FinishReasonLength:
		return ir.GeminiFinishMaxTokens
	case ir.FinishReasonContentFilter:
		return ir.GeminiFinishSafety
	case ir.FinishReasonStop, ir.FinishReasonToolCalls:
		return ir.GeminiFinishStop
	default:
		return ir.GeminiFinishOther
	}
}

func geminiUsageMetadata(u *ir.Usage) map[string]any {
	return map[string]any{
		"promptTokenCount": u.PromptTokens, "candidatesTokenCount": u.CompletionTokens,
		"totalTokenCount": u.TotalTokens, "thoughtsTokenCount": u.ThoughtsTokenCount,
		"cachedContentTokenCount": u.CachedTokens,
	}
}

// ToGeminiResponse renders a parsed message list as a complete, non-streaming
// Gemini generateContent response body.
func ToGeminiResponse(messages []ir.Message, usage *ir.Usage, model string) ([]byte, error) {
	var parts []any
	for _, msg := range messages {
		for _, p := range msg.Content {
			switch p.Type {
			case ir.ContentTypeText:
				if p.Text != "" {
					parts = append(parts, map[string]any{"text": p.Text})
				}
			case ir.ContentTypeReasoning:
				parts = append(parts, map[string]any{"text": p.Reasoning, "thought": true})
			}
		}
		for _, tc := range msg.ToolCalls {
			parts = append(parts, map[string]any{"functionCall": map[string]any{"name": tc.Name, "args": ir.ParseToolCallArgs(tc.Args)}})
		}
	}

	candidate := map[string]any{
		"content":      map[string]any{"role": ir.GeminiRoleModel, "parts": parts},
		"finishReason": ir.GeminiFinishStop,
	}
	response := map[string]any{"candidates": []any{candidate}, "modelVersion": model}
	if usage != nil {
		response["usageMetadata"] = geminiUsageMetadata(usage)
	}
	return json.Marshal(response)
}

// Provider satisfies translator.FromIRConverter.
func (p *GeminiProvider) Provider() string { return "gemini" }

// NewChunkState satisfies translator.FromIRConverter.
func (p *GeminiProvider) NewChunkState() any { return NewGeminiStreamState() }

// ToChunk satisfies translator.FromIRConverter.
func (p *GeminiProvider) ToChunk(state any, event ir.UnifiedEvent, model string) ([]byte, error) {
	st, ok := state.(*GeminiStreamState)
	if !ok || st == nil {
		st = NewGeminiStreamState()
	}
	return ToGeminiSSE(event, model, st)
}

// ToResponse satisfies translator.FromIRConverter.
func (p *GeminiProvider) ToResponse(messages []ir.Message, usage *ir.Usage, model string) ([]byte, error) {
	return ToGeminiResponse(messages, usage, model)
}
