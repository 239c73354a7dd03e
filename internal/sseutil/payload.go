package sseutil

import "github.com/nghyane/llm-mux/internal/config"

// ApplyPayloadConfig is the executor's hook for per-model payload tweaks
// (e.g. forcing a generation-config field some upstream requires for a
// specific model family). The gateway carries no per-model override table
// today, so this is an identity pass-through kept as a named seam for
// executors to call uniformly rather than special-casing callers.
func ApplyPayloadConfig(_ *config.Config, _ string, payload []byte) []byte {
	return payload
}
