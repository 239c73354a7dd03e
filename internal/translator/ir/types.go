// Package ir defines the canonical message shape every wire format is
// translated through: a sequence of role-tagged turns made of typed parts,
// and a sum-type stream event used to re-serialize streaming responses.
package ir

const (
	MetaGoogleSearch      = "google_search"
	MetaCodeExecution     = "code_execution"
	MetaGroundingMetadata = "grounding_metadata"

	MetaOpenAILogitBias = "openai:logit_bias"
	MetaOpenAISeed      = "openai:seed"
	MetaOpenAIUser      = "openai:user"

	MetaGeminiLabels = "gemini:labels"

	MetaClaudeMetadata = "claude:metadata"
)

// EventType tags a UnifiedEvent - spec.md §3's "Stream event" sum type.
type EventType string

const (
	EventTypeToken         EventType = "token"
	EventTypeReasoning     EventType = "reasoning"
	EventTypeToolCallStart EventType = "tool_call_start"
	EventTypeToolCallDelta EventType = "tool_call_delta"
	EventTypeToolCallEnd   EventType = "tool_call_end"
	EventTypeUsage         EventType = "usage"
	EventTypeFinish        EventType = "finish"
)

// FinishReason is the normalized stop reason - spec.md §4.2 "Finish/stop
// reasons map".
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnknown       FinishReason = "unknown"
)

// UnifiedEvent is the intermediate stream event the converter emits from
// upstream bytes and re-serializes into the outbound family's native chunk
// shape (spec.md §3, §4.2 Streaming).
type UnifiedEvent struct {
	Type          EventType
	Content       string // TextDelta payload
	Reasoning     string
	ToolCall      *ToolCall
	ToolCallIndex int
	Error         error
	Usage         *Usage
	FinishReason  FinishReason
}

// Usage is the normalized token accounting - spec.md §4.2 "Usage fields map".
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64

	ThoughtsTokenCount       int64
	CachedTokens             int64
	AudioTokens              int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	ToolUsePromptTokens      int64

	CompletionTokensDetails *CompletionTokensDetails
}

// CompletionTokensDetails breaks down CompletionTokens by kind, mirroring
// the OpenAI-style usage.completion_tokens_details object.
type CompletionTokensDetails struct {
	ReasoningTokens int64
}

// ToolCall represents a request from the model to execute a tool.
type ToolCall struct {
	ID          string
	Name        string
	Args        string
	PartialArgs string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentType defines the type of content part - spec.md §3 "parts".
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeImage      ContentType = "image"
	ContentTypeAudio      ContentType = "audio"
	ContentTypeVideo      ContentType = "video"
	ContentTypeReasoning  ContentType = "reasoning"
	ContentTypeToolCall   ContentType = "tool_call"
	ContentTypeToolResult ContentType = "tool_result"
)

// ContentPart represents a discrete part of a message.
type ContentPart struct {
	Type ContentType
	Text string

	// Reasoning/ThoughtSignature carry a model's chain-of-thought content
	// and Gemini's opaque thought-signature token for ContentTypeReasoning
	// parts (spec.md §4.2 "Reasoning content").
	Reasoning        string
	ThoughtSignature []byte

	Image      *ImagePart
	Audio      *AudioPart
	Video      *VideoPart
	ToolCall   *ToolCall
	ToolResult *ToolResultPart
}

// ImagePart is an inline-base64 or remote-URI image attachment.
type ImagePart struct {
	MimeType string
	Data     string // base64, when inline
	URL      string // remote URI, when not inline
}

// AudioPart is an inline audio attachment, optionally carrying a
// provider-supplied transcript alongside the raw audio.
type AudioPart struct {
	Data       string // base64
	Format     string // e.g. "wav", "mp3"
	Transcript string
}

// VideoPart references a video by URI - Gemini accepts Files API/GCS URIs
// rather than inlining video bytes.
type VideoPart struct {
	FileURI  string
	MimeType string
}

// FilePart is a non-media file a tool result attaches (e.g. a file read or
// listing result), referenced either by a provider-side file ID or a URL.
type FilePart struct {
	FileID   string
	Filename string
	FileURL  string
}

type ToolResultPart struct {
	ToolCallID string
	Result     string
	Files      []*FilePart
}

type Message struct {
	Role      Role
	Content   []ContentPart
	ToolCalls []ToolCall
}

// ToolDefinition represents a tool capability exposed to the model -
// spec.md §4.2 "Tools".
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolChoice mirrors spec.md §4.2 "Tool choice": either a mode string
// (auto|none|required) or a specific function name.
type ToolChoice struct {
	Mode     string // "auto", "none", "required"
	Function string // set when a specific function is forced
}

// UnifiedChatRequest is the canonical request shape every inbound family is
// parsed into before being re-serialized for the chosen provider.
type UnifiedChatRequest struct {
	Model         string
	Messages      []Message
	Tools         []ToolDefinition
	ToolChoice    *ToolChoice
	Temperature   *float64
	TopP          *float64
	TopK          *int
	MaxTokens     *int
	StopSequences []string
	Stream        bool
	Metadata      map[string]any
}

// Defaults applied when a sampling parameter is absent or zero, per
// spec.md §4.2 "Sampling parameters default".
const (
	DefaultTemperature       = 1.0
	DefaultTopP              = 0.9
	DefaultMaxTokens         = 8192
	DefaultMaxOutputTokensGemini = 65536
)
