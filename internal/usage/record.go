package usage

import (
	"context"
	"time"

	"github.com/nghyane/llm-mux/internal/translator/ir"
)

// Record is what an executor hands to the usage plugin registry right after
// a request completes (or fails) - the raw shape, before token-breakdown
// normalization (spec.md §6 "Usage accounting").
type Record struct {
	APIKey      string
	Model       string
	Provider    string
	AuthID      string
	AuthIndex   uint64
	Source      string
	RequestedAt time.Time
	Failed      bool
	Usage       *ir.Usage
}

// UsageRecord is the flat, already-normalized shape a Backend persists.
type UsageRecord struct {
	APIKey      string
	Model       string
	Provider    string
	AuthID      string
	AuthIndex   uint64
	Source      string
	RequestedAt time.Time
	Failed      bool

	InputTokens              int64
	OutputTokens             int64
	ReasoningTokens          int64
	CachedTokens             int64
	TotalTokens              int64
	AudioTokens              int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	ToolUsePromptTokens      int64
}

// Plugin receives a Record after every request. The gateway carries exactly
// one plugin implementation (LoggerPlugin), but the interface keeps
// HandleUsage decoupled from the concrete usage backend for callers that
// only need to observe, not persist.
type Plugin interface {
	HandleUsage(ctx context.Context, record Record)
}

var plugins []Plugin

// RegisterPlugin adds a plugin to the set notified by Publish. Called once
// at startup by Initialize; safe to call again in tests.
func RegisterPlugin(p Plugin) {
	if p == nil {
		return
	}
	plugins = append(plugins, p)
}

// Publish fans a completed request out to every registered plugin. Executors
// call this directly rather than depending on LoggerPlugin.
func Publish(ctx context.Context, record Record) {
	for _, p := range plugins {
		p.HandleUsage(ctx, record)
	}
}
