package to_ir

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/from_ir"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func init() {
	translator.RegisterToIR("openai", &OpenAIParser{})
}

// OpenAIParser parses OpenAI chat completions requests/responses into the
// canonical shape.
type OpenAIParser struct{}

// Format satisfies translator.ToIRParser.
func (p *OpenAIParser) Format() string { return "openai" }

// Parse converts a raw OpenAI chat completions request body into the
// canonical request shape.
func (p *OpenAIParser) Parse(payload []byte) (*ir.UnifiedChatRequest, error) {
	if err := ir.ValidateJSON(payload); err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(payload)

	req := &ir.UnifiedChatRequest{
		Model:  parsed.Get("model").String(),
		Stream: parsed.Get("stream").Bool(),
	}
	if v := parsed.Get("max_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	} else if v := parsed.Get("max_completion_tokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	if v := parsed.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := parsed.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if stop := parsed.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			for _, s := range stop.Array() {
				req.StopSequences = append(req.StopSequences, s.String())
			}
		} else if s := stop.String(); s != "" {
			req.StopSequences = []string{s}
		}
	}

	for _, m := range parsed.Get("messages").Array() {
		req.Messages = append(req.Messages, parseOpenAIMessage(m))
	}

	if tools := parsed.Get("tools"); tools.IsArray() {
		for _, t := range tools.Array() {
			fn := t.Get("function")
			var params map[string]any
			if schema := fn.Get("parameters"); schema.Exists() {
				_ = json.Unmarshal([]byte(schema.Raw), &params)
			}
			req.Tools = append(req.Tools, ir.ToolDefinition{
				Name:        fn.Get("name").String(),
				Description: fn.Get("description").String(),
				Parameters:  params,
			})
		}
	}

	if tc := parsed.Get("tool_choice"); tc.Exists() {
		if tc.Type == gjson.String {
			switch tc.String() {
			case "required":
				req.ToolChoice = &ir.ToolChoice{Mode: "required"}
			case "none":
				req.ToolChoice = &ir.ToolChoice{Mode: "none"}
			default:
				req.ToolChoice = &ir.ToolChoice{Mode: "auto"}
			}
		} else if name := tc.Get("function.name").String(); name != "" {
			req.ToolChoice = &ir.ToolChoice{Mode: "tool", Function: name}
		}
	}

	return req, nil
}

func parseOpenAIMessage(m gjson.Result) ir.Message {
	role := m.Get("role").String()
	msg := ir.Message{Role: openAIToIRRole(role)}

	if role == ir.OpenAIRoleTool {
		msg.Content = []ir.ContentPart{{
			Type: ir.ContentTypeToolResult,
			ToolResult: &ir.ToolResultPart{
				ToolCallID: m.Get("tool_call_id").String(),
				Result:     m.Get("content").String(),
			},
		}}
		return msg
	}

	content := m.Get("content")
	if content.IsArray() {
		for _, part := range content.Array() {
			switch part.Get("type").String() {
			case "text":
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
			case "image_url":
				url := part.Get("image_url.url").String()
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: &ir.ImagePart{URL: url}})
			}
		}
	} else if text := content.String(); text != "" {
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: text})
	}

	for _, tc := range m.Get("tool_calls").Array() {
		msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
			ID:   tc.Get("id").String(),
			Name: tc.Get("function.name").String(),
			Args: tc.Get("function.arguments").String(),
		})
	}
	return msg
}

func openAIToIRRole(role string) ir.Role {
	switch role {
	case ir.OpenAIRoleSystem:
		return ir.RoleSystem
	case ir.OpenAIRoleAssistant:
		return ir.RoleAssistant
	case ir.OpenAIRoleTool:
		return ir.RoleTool
	default:
		return ir.RoleUser
	}
}

// openaiResponseParser lets OpenAIParser reuse from_ir.OpenAIProvider's
// already-implemented response/chunk parsing without duplicating it.
var openaiResponseParser = &from_ir.OpenAIProvider{}

// ParseResponse satisfies translator.ToIRParser.
func (p *OpenAIParser) ParseResponse(payload []byte) ([]ir.Message, *ir.Usage, error) {
	return openaiResponseParser.ParseResponse(payload)
}

// NewChunkState satisfies translator.ToIRParser.
func (p *OpenAIParser) NewChunkState() any { return from_ir.NewOpenAIStreamState() }

// ParseChunk satisfies translator.ToIRParser.
func (p *OpenAIParser) ParseChunk(state any, payload []byte) ([]ir.UnifiedEvent, error) {
	st, ok := state.(*from_ir.OpenAIStreamState)
	if !ok || st == nil {
		st = from_ir.NewOpenAIStreamState()
	}
	return openaiResponseParser.ParseStreamChunk(payload, st)
}
