package util

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/nghyane/llm-mux/internal/translator/ir"
)

// Gemini has no published offline tokenizer, so CountTokensFromIR estimates
// usage with the cl100k BPE encoder (close enough for pre-flight budgeting;
// the authoritative count is whatever the upstream countTokens call
// returns). Fixed per-part costs for non-text media follow the flat
// estimates Google's own client libraries use when an exact encoder isn't
// available for that modality.
const (
	ImageTokenCost       = 258
	AudioTokenCostGemini = 300
	VideoTokenCostGemini = 2000
	DocTokenCostGemini   = 1000
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

func countText(s string) int {
	if s == "" {
		return 0
	}
	if c := getCodec(); c != nil {
		if ids, _, err := c.Encode(s); err == nil {
			return len(ids)
		}
	}
	// fallback heuristic: ~4 chars/token, the same rough ratio OpenAI and
	// Google both document for English text.
	return (len(s) + 3) / 4
}

// normalizeModel maps an arbitrary caller-supplied Gemini model name to one
// of the generations the estimator's constants are calibrated against,
// defaulting to the current flagship when the model is unrecognized.
func normalizeModel(model string) string {
	switch {
	case strings.Contains(model, "2.5"):
		return "gemini-2.5-pro"
	case strings.Contains(model, "2.0"):
		return "gemini-2.0-flash"
	case strings.Contains(model, "1.5-pro"):
		return "gemini-1.5-pro"
	case strings.Contains(model, "1.5-flash"):
		return "gemini-1.5-flash"
	case strings.Contains(model, "1.0") || model == "gemini-pro":
		return "gemini-1.0-pro"
	default:
		return "gemini-2.5-flash"
	}
}

// CountTokensFromIR estimates the token cost of a full unified chat request
// - every message's text/reasoning parts, media parts at their flat
// estimate, tool-call arguments, tool-result payloads, and tool
// definitions - without a round trip to an upstream countTokens endpoint.
func CountTokensFromIR(model string, req *ir.UnifiedChatRequest) int {
	if req == nil {
		return 0
	}
	_ = normalizeModel(model)

	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			total += countContentPart(part)
		}
		for _, tc := range msg.ToolCalls {
			total += countText(tc.Name)
			total += countText(tc.Args)
		}
	}
	for _, tool := range req.Tools {
		total += countText(tool.Name)
		total += countText(tool.Description)
		if tool.Parameters != nil {
			if b, err := json.Marshal(tool.Parameters); err == nil {
				total += countText(string(b))
			}
		}
	}
	return total
}

func countContentPart(part ir.ContentPart) int {
	switch part.Type {
	case ir.ContentTypeText:
		return countText(part.Text)
	case ir.ContentTypeReasoning:
		return countText(part.Reasoning) + countText(string(part.ThoughtSignature))
	case ir.ContentTypeImage:
		return ImageTokenCost
	case ir.ContentTypeAudio:
		n := AudioTokenCostGemini
		if part.Audio != nil {
			n += countText(part.Audio.Transcript)
		}
		return n
	case ir.ContentTypeVideo:
		return VideoTokenCostGemini
	case ir.ContentTypeToolCall:
		return countText(part.ToolCall.Name) + countText(part.ToolCall.Args)
	case ir.ContentTypeToolResult:
		n := countText(part.ToolResult.Result)
		n += len(part.ToolResult.Files) * DocTokenCostGemini
		return n
	default:
		return countText(part.Text)
	}
}
