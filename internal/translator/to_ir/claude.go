// Package to_ir parses each inbound family's wire format into the canonical
// ir.UnifiedChatRequest/Message shape, the mirror image of from_ir.
package to_ir

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/from_ir"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

func init() {
	translator.RegisterToIR("claude", &ClaudeParser{})
}

// ClaudeParser parses Anthropic Messages API requests/responses into the
// canonical shape. The response/chunk directions delegate to from_ir's
// ClaudeProvider, which already implements them for the reverse direction
// (upstream Claude response -> IR), since both directions parse the same
// wire format.
type ClaudeParser struct{}

// Format satisfies translator.ToIRParser.
func (p *ClaudeParser) Format() string { return "claude" }

// Parse converts a raw Claude Messages API request body into the canonical
// request shape.
func (p *ClaudeParser) Parse(payload []byte) (*ir.UnifiedChatRequest, error) {
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
	}
	if v := parsed.Get("temperature"); v.Exists() {
		f := v.Float()
		req.Temperature = &f
	}
	if v := parsed.Get("top_p"); v.Exists() {
		f := v.Float()
		req.TopP = &f
	}
	if v := parsed.Get("top_k"); v.Exists() {
		k := int(v.Int())
		req.TopK = &k
	}
	if v := parsed.Get("stop_sequences"); v.IsArray() {
		for _, s := range v.Array() {
			req.StopSequences = append(req.StopSequences, s.String())
		}
	}

	if sys := parsed.Get("system"); sys.Exists() {
		if sys.IsArray() {
			var text string
			for _, block := range sys.Array() {
				if block.Get("type").String() == ir.ClaudeBlockText || !block.Get("type").Exists() {
					if text != "" {
						text += "\n"
					}
					text += block.Get("text").String()
				}
			}
			if text != "" {
				req.Messages = append(req.Messages, ir.Message{
					Role:    ir.RoleSystem,
					Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: text}},
				})
			}
		} else if text := sys.String(); text != "" {
			req.Messages = append(req.Messages, ir.Message{
				Role:    ir.RoleSystem,
				Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: text}},
			})
		}
	}

	for _, m := range parsed.Get("messages").Array() {
		req.Messages = append(req.Messages, parseClaudeMessage(m)...)
	}

	if tools := parsed.Get("tools"); tools.IsArray() {
		for _, t := range tools.Array() {
			var params map[string]any
			if schema := t.Get("input_schema"); schema.Exists() {
				_ = json.Unmarshal([]byte(schema.Raw), &params)
			}
			req.Tools = append(req.Tools, ir.ToolDefinition{
				Name:        t.Get("name").String(),
				Description: t.Get("description").String(),
				Parameters:  params,
			})
		}
	}

	if tc := parsed.Get("tool_choice"); tc.Exists() {
		switch tc.Get("type").String() {
		case "any":
			req.ToolChoice = &ir.ToolChoice{Mode: "required"}
		case "none":
			req.ToolChoice = &ir.ToolChoice{Mode: "none"}
		case "tool":
			req.ToolChoice = &ir.ToolChoice{Mode: "tool", Function: tc.Get("name").String()}
		default:
			req.ToolChoice = &ir.ToolChoice{Mode: "auto"}
		}
	}

	return req, nil
}

// parseClaudeMessage converts one Claude messages[] entry into zero or more
// canonical messages - a "user" turn carrying only tool_result blocks
// becomes a RoleTool message, matching how ConvertRequest builds it back.
func parseClaudeMessage(m gjson.Result) []ir.Message {
	role := m.Get("role").String()
	content := m.Get("content")

	if !content.IsArray() {
		text := content.String()
		if text == "" {
			return nil
		}
		return []ir.Message{{
			Role:    claudeToIRRole(role),
			Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: text}},
		}}
	}

	var toolResults []ir.ContentPart
	msg := ir.Message{Role: claudeToIRRole(role)}

	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case ir.ClaudeBlockText:
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: block.Get("text").String()})
		case ir.ClaudeBlockThinking:
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeReasoning, Reasoning: block.Get("thinking").String()})
		case ir.ClaudeBlockImage:
			src := block.Get("source")
			msg.Content = append(msg.Content, ir.ContentPart{
				Type: ir.ContentTypeImage,
				Image: &ir.ImagePart{
					MimeType: src.Get("media_type").String(),
					Data:     src.Get("data").String(),
					URL:      src.Get("url").String(),
				},
			})
		case ir.ClaudeBlockToolUse:
			args, _ := json.Marshal(block.Get("input").Value())
			msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
				ID:   block.Get("id").String(),
				Name: block.Get("name").String(),
				Args: string(args),
			})
		case ir.ClaudeBlockToolResult:
			toolResults = append(toolResults, ir.ContentPart{
				Type: ir.ContentTypeToolResult,
				ToolResult: &ir.ToolResultPart{
					ToolCallID: block.Get("tool_use_id").String(),
					Result:     claudeToolResultText(block.Get("content")),
				},
			})
		}
	}

	var out []ir.Message
	if len(msg.Content) > 0 || len(msg.ToolCalls) > 0 {
		out = append(out, msg)
	}
	if len(toolResults) > 0 {
		out = append(out, ir.Message{Role: ir.RoleTool, Content: toolResults})
	}
	return out
}

// claudeToolResultText normalizes a tool_result block's content, which Claude
// accepts as either a plain string or an array of text blocks.
func claudeToolResultText(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var text string
	for _, block := range v.Array() {
		if text != "" {
			text += "\n"
		}
		text += block.Get("text").String()
	}
	return text
}

func claudeToIRRole(role string) ir.Role {
	if role == ir.ClaudeRoleAssistant {
		return ir.RoleAssistant
	}
	return ir.RoleUser
}

// claudeResponseParser lets ClaudeParser reuse from_ir.ClaudeProvider's
// already-implemented response/chunk parsing without duplicating it.
var claudeResponseParser = &from_ir.ClaudeProvider{}

// ParseResponse satisfies translator.ToIRParser, delegating to the
// from_ir converter that already implements this direction.
func (p *ClaudeParser) ParseResponse(payload []byte) ([]ir.Message, *ir.Usage, error) {
	return claudeResponseParser.ParseResponse(payload)
}

// NewChunkState satisfies translator.ToIRParser.
func (p *ClaudeParser) NewChunkState() any { return from_ir.NewClaudeStreamState() }

// ParseChunk satisfies translator.ToIRParser, threading the per-stream
// ClaudeStreamState obtained from NewChunkState.
func (p *ClaudeParser) ParseChunk(state any, payload []byte) ([]ir.UnifiedEvent, error) {
	st, ok := state.(*from_ir.ClaudeStreamState)
	if !ok || st == nil {
		st = from_ir.NewClaudeStreamState()
	}
	return claudeResponseParser.ParseStreamChunk(payload, st)
}
