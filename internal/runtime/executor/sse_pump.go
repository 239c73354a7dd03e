package executor

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

// Preprocessor rewrites or drops a raw upstream line before SSE parsing -
// used to unwrap an envelope a provider wraps its Gemini-shaped frames in.
// Returning skip=true drops the line entirely.
type Preprocessor func(line []byte) (payload []byte, skip bool)

// PumpConfig configures DriveSSEStream.
type PumpConfig struct {
	// UpstreamFormat is the wire format the response body is already in
	// (e.g. "gemini" for every Gemini CLI response, regardless of what the
	// client originally asked for).
	UpstreamFormat string
	// TargetFormat is the wire format the caller's client expects back
	// (opts.SourceFormat from the inbound request).
	TargetFormat string
	Model        string
	IdleTimeout  time.Duration
	ExecutorName string
	Preprocessor Preprocessor
	Reporter     *usageReporter
}

// DriveSSEStream reads upstream SSE frames off body, converts each one
// (upstream wire format -> IR -> target wire format) via the translator
// registry, and emits the re-serialized chunks on the returned channel. The
// channel is closed when the stream ends, whether cleanly, by context
// cancellation, or by an upstream error (the last StreamChunk carries Err).
func DriveSSEStream(ctx context.Context, body io.ReadCloser, cfg PumpConfig) (<-chan provider.StreamChunk, error) {
	toIR, ok := translator.GetRegistry().GetToIR(cfg.UpstreamFormat)
	if !ok {
		_ = body.Close()
		return nil, NewNotImplementedError("no parser registered for upstream format " + cfg.UpstreamFormat)
	}
	fromIR, ok := translator.GetRegistry().GetFromIR(cfg.TargetFormat)
	if !ok {
		_ = body.Close()
		return nil, NewNotImplementedError("no converter registered for target format " + cfg.TargetFormat)
	}

	out := make(chan provider.StreamChunk, 8)

	go func() {
		defer close(out)
		reader := NewStreamReader(ctx, body, cfg.IdleTimeout, cfg.ExecutorName)
		defer func() { _ = reader.Close() }()

		parseState := toIR.NewChunkState()
		convertState := fromIR.NewChunkState()
		var finalUsage *ir.Usage
		failed := false

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if cfg.Preprocessor != nil {
				payload, skip := cfg.Preprocessor(line)
				if skip {
					continue
				}
				line = payload
			}

			events, err := toIR.ParseChunk(parseState, line)
			if err != nil {
				continue
			}
			for _, event := range events {
				if event.Type == ir.EventTypeUsage {
					finalUsage = event.Usage
				}
				if event.Type == ir.EventTypeFinish && event.FinishReason == ir.FinishReasonError {
					failed = true
				}
				chunk, err := fromIR.ToChunk(convertState, event, cfg.Model)
				if err != nil || chunk == nil {
					continue
				}
				select {
				case out <- provider.StreamChunk{Payload: chunk}:
				case <-ctx.Done():
					cfg.Reporter.Report(finalUsage, true)
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			failed = true
			select {
			case out <- provider.StreamChunk{Err: err, Done: true}:
			default:
			}
		}
		cfg.Reporter.Report(finalUsage, failed)
	}()

	return out, nil
}
