package executor

import (
	"context"
	"time"

	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/translator/ir"
	"github.com/nghyane/llm-mux/internal/usage"
)

// usageReporter accumulates an executor's view of one request's usage and
// publishes it to the registered usage.Plugin set exactly once, whether the
// request completed as a single response or as a stream of chunks.
type usageReporter struct {
	ctx         context.Context
	provider    string
	model       string
	authID      string
	requestedAt time.Time
	reported    bool
}

// NewUsageReporter starts tracking one request for the given provider/model,
// to be finalized by Report once the response (or stream) is known.
func NewUsageReporter(ctx context.Context, prov, model string, auth *provider.Auth) *usageReporter {
	authID := ""
	if auth != nil {
		authID = auth.ID
	}
	return &usageReporter{
		ctx:         ctx,
		provider:    prov,
		model:       model,
		authID:      authID,
		requestedAt: time.Now(),
	}
}

// Report publishes the final usage record. Safe to call at most once
// meaningfully; subsequent calls are no-ops to guard against a stream's
// terminal chunk and its error path both trying to report.
func (r *usageReporter) Report(u *ir.Usage, failed bool) {
	if r == nil || r.reported {
		return
	}
	r.reported = true
	usage.Publish(r.ctx, usage.Record{
		Provider:    r.provider,
		Model:       r.model,
		AuthID:      r.authID,
		RequestedAt: r.requestedAt,
		Failed:      failed,
		Usage:       u,
	})
}
