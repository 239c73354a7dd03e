package to_ir

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/from_ir"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func init() {
	translator.RegisterToIR("gemini", &GeminiParser{})
}

// GeminiParser parses Gemini generateContent requests/responses into the
// canonical shape.
type GeminiParser struct{}

// Format satisfies translator.ToIRParser.
func (p *GeminiParser) Format() string { return "gemini" }

// Parse converts a raw Gemini generateContent request body into the
// canonical request shape.
func (p *GeminiParser) Parse(payload []byte) (*ir.UnifiedChatRequest, error) {
	if err := ir.ValidateJSON(payload); err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(payload)

	req := &ir.UnifiedChatRequest{
		Model: parsed.Get("model").String(),
	}

	if sys := parsed.Get("systemInstruction"); sys.Exists() {
		var text string
		for _, part := range sys.Get("parts").Array() {
			if text != "" {
				text += "\n"
			}
			text += part.Get("text").String()
		}
		if text != "" {
			req.Messages = append(req.Messages, ir.Message{
				Role:    ir.RoleSystem,
				Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: text}},
			})
		}
	}

	for _, c := range parsed.Get("contents").Array() {
		req.Messages = append(req.Messages, parseGeminiContent(c))
	}

	gen := parsed.Get("generationConfig")
	if v := gen.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := gen.Get("topP"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := gen.Get("topK"); v.Exists() {
		k := int(v.Int())
		req.TopK = &k
	}
	if v := gen.Get("maxOutputTokens"); v.Exists() {
		n := int(v.Int())
		req.MaxTokens = &n
	}
	for _, s := range gen.Get("stopSequences").Array() {
		req.StopSequences = append(req.StopSequences, s.String())
	}

	for _, toolGroup := range parsed.Get("tools").Array() {
		for _, fn := range toolGroup.Get("functionDeclarations").Array() {
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

	if cfg := parsed.Get("toolConfig.functionCallingConfig"); cfg.Exists() {
		switch cfg.Get("mode").String() {
		case "ANY":
			if names := cfg.Get("allowedFunctionNames"); names.IsArray() && len(names.Array()) > 0 {
				req.ToolChoice = &ir.ToolChoice{Mode: "tool", Function: names.Array()[0].String()}
			} else {
				req.ToolChoice = &ir.ToolChoice{Mode: "required"}
			}
		case "NONE":
			req.ToolChoice = &ir.ToolChoice{Mode: "none"}
		default:
			req.ToolChoice = &ir.ToolChoice{Mode: "auto"}
		}
	}

	return req, nil
}

func parseGeminiContent(c gjson.Result) ir.Message {
	role := c.Get("role").String()
	var irRole ir.Role
	switch role {
	case ir.GeminiRoleModel:
		irRole = ir.RoleAssistant
	default:
		irRole = ir.RoleUser
	}

	msg := ir.Message{Role: irRole}
	var toolResults []ir.ContentPart
	for _, part := range c.Get("parts").Array() {
		switch {
		case part.Get("text").Exists():
			if part.Get("thought").Bool() {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: part.Get("text").String()})
			} else {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: part.Get("text").String()})
			}
		case part.Get("inlineData").Exists():
			mt := part.Get("inlineData.mimeType").String()
			data := part.Get("inlineData.data").String()
			if len(mt) >= 5 && mt[:5] == "audio" {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeAudio, Audio: &ir.AudioPart{Data: data, Format: mt}})
			} else {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: &ir.ImagePart{MimeType: mt, Data: data}})
			}
		case part.Get("fileData").Exists():
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeVideo, Video: &ir.VideoPart{
				FileURI: part.Get("fileData.fileUri").String(), MimeType: part.Get("fileData.mimeType").String(),
			}})
		case part.Get("functionCall").Exists():
			args, _ := json.Marshal(part.Get("functionCall.args").Value())
			msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{Name: part.Get("functionCall.name").String(), Args: string(args)})
		case part.Get("functionResponse").Exists():
			resp, _ := json.Marshal(part.Get("functionResponse.response").Value())
			toolResults = append(toolResults, ir.ContentPart{
				Type: ir.ContentTypeToolResult,
				ToolResult: &ir.ToolResultPart{
					ToolCallID: part.Get("functionResponse.name").String(),
					Result:     string(resp),
				},
			})
		}
	}

	if len(toolResults) > 0 {
		msg.Role = ir.RoleTool
		msg.Content = toolResults
	}
	return msg
}

// geminiResponseParser lets GeminiParser reuse from_ir.GeminiProvider's
// already-implemented response/chunk parsing without duplicating it.
var geminiResponseParser = &from_ir.GeminiProvider{}

// ParseResponse satisfies translator.ToIRParser.
func (p *GeminiParser) ParseResponse(payload []byte) ([]ir.Message, *ir.Usage, error) {
	return geminiResponseParser.ParseResponse(payload)
}

// NewChunkState satisfies translator.ToIRParser.
func (p *GeminiParser) NewChunkState() any { return from_ir.NewGeminiStreamState() }

// ParseChunk satisfies translator.ToIRParser.
func (p *GeminiParser) ParseChunk(state any, payload []byte) ([]ir.UnifiedEvent, error) {
	st, ok := state.(*from_ir.GeminiStreamState)
	if !ok || st == nil {
		st = from_ir.NewGeminiStreamState()
	}
	return geminiResponseParser.ParseStreamChunk(payload, st)
}
