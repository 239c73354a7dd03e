// Package provider defines the executor-facing shapes a concrete upstream
// integration (Gemini CLI, an OpenAI-compatible endpoint, Claude, Kiro)
// implements: a single stored credential, a translated request/response pair,
// and the Executor contract the router dispatches through (spec.md §4,
// §8 "Credential").
package provider

import (
	"context"
	"strings"
)

// Format identifies a wire family on either side of the translator registry
// (spec.md §3 "Format").
type Format string

const (
	FormatOpenAI Format = "openai"
	FormatGemini Format = "gemini"
	FormatClaude Format = "claude"
	FormatKiro   Format = "kiro"
)

// FromString normalizes a case-insensitive format name, used when resolving
// the model-provider header/path segment (spec.md §4.1).
func FromString(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "openai-custom", "openaicustom":
		return FormatOpenAI
	case "gemini", "gemini-cli", "geminicli":
		return FormatGemini
	case "claude", "claude-custom", "claudecustom", "anthropic":
		return FormatClaude
	case "kiro":
		return FormatKiro
	default:
		return Format(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Auth is the single stored credential for one configured provider slot -
// spec.md §8's "one credential per provider", not a pool entry. Metadata
// holds provider-specific token/project state (access_token, refresh_token,
// expiry, project_id, ...), mutated in place by a provider's Refresh.
type Auth struct {
	ID       string
	Provider Format
	Metadata map[string]any
	Disabled bool
}

// Clone returns a deep-enough copy for a background refresh goroutine to
// mutate without racing the caller's view of Metadata.
func (a *Auth) Clone() *Auth {
	if a == nil {
		return nil
	}
	out := &Auth{ID: a.ID, Provider: a.Provider, Disabled: a.Disabled}
	if a.Metadata != nil {
		out.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Request is a translated, provider-ready outbound payload.
type Request struct {
	Model    string
	Payload  []byte
	Metadata map[string]any
	Stream   bool
}

// Response is a non-streaming upstream reply, already decoded/decompressed.
type Response struct {
	Payload    []byte
	StatusCode int
}

// StreamChunk is one frame of an upstream SSE stream, or a terminal error.
type StreamChunk struct {
	Payload []byte
	Err     error
	Done    bool
}

// Options carries per-request dispatch hints that aren't part of the
// translated payload itself: which wire format the caller used (so the
// executor knows which from_ir converter to invoke) and the Gemini "alt"
// query parameter (sse vs plain).
type Options struct {
	SourceFormat Format
	Alt          string
}

// Executor is the contract every concrete provider integration implements.
// Identifier names the executor for logs and the management API; Refresh is
// invoked by the token manager / cron refresh job (spec.md §8).
type Executor interface {
	Identifier() string
	Execute(ctx context.Context, auth *Auth, req *Request, opts Options) (*Response, error)
	ExecuteStream(ctx context.Context, auth *Auth, req *Request, opts Options) (<-chan StreamChunk, error)
	CountTokens(ctx context.Context, auth *Auth, req *Request, opts Options) (*Response, error)
	Refresh(ctx context.Context, auth *Auth) error
}
