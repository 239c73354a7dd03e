package providers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/runtime/executor"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

const (
	defaultClaudeCustomBaseURL = "https://api.anthropic.com"
	claudeAnthropicVersion     = "2023-06-01"
)

// ClaudeCustomExecutor talks to Anthropic's Messages API (or a compatible
// endpoint) using a static API key, mirroring openai_custom.go's shape but
// through the Claude wire format (§4.3.3).
type ClaudeCustomExecutor struct {
	executor.BaseExecutor
}

func NewClaudeCustomExecutor(cfg *config.Config) *ClaudeCustomExecutor {
	return &ClaudeCustomExecutor{BaseExecutor: executor.BaseExecutor{Cfg: cfg}}
}

func (e *ClaudeCustomExecutor) Identifier() string { return "claude-custom" }

func claudeCustomCreds(cfg *config.Config, auth *provider.Auth) (token, baseURL string) {
	if auth != nil && auth.Metadata != nil {
		token = stringValue(auth.Metadata, "api_key")
		baseURL = stringValue(auth.Metadata, "base_url")
	}
	if cfg != nil {
		if token == "" {
			token = cfg.ClaudeCustom.APIKey
		}
		if baseURL == "" {
			baseURL = cfg.ClaudeCustom.BaseURL
		}
	}
	if baseURL == "" {
		baseURL = defaultClaudeCustomBaseURL
	}
	return token, baseURL
}

func (e *ClaudeCustomExecutor) buildRequest(ctx context.Context, req *provider.Request, opts provider.Options, stream bool, token, baseURL string) (*http.Request, error) {
	irReq, err := translator.ParseRequest(string(opts.SourceFormat), req.Payload)
	if err != nil {
		return nil, err
	}
	irReq.Model = req.Model
	irReq.Stream = stream

	body, err := translator.ConvertRequest(string(provider.FormatClaude), irReq)
	if err != nil {
		return nil, err
	}
	body = e.ApplyPayloadConfig(req.Model, body)

	url := strings.TrimSuffix(baseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	executor.SetCommonHeaders(httpReq, "application/json")
	httpReq.Header.Set("x-api-key", token)
	httpReq.Header.Set("anthropic-version", claudeAnthropicVersion)
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

func (e *ClaudeCustomExecutor) Execute(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (*provider.Response, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)
	token, baseURL := claudeCustomCreds(e.Cfg, auth)

	httpReq, err := e.buildRequest(ctx, req, opts, false, token, baseURL)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	httpClient := e.NewHTTPClient(ctx, auth, 0)
	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		reporter.Report(nil, true)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, executor.NewTimeoutError("request timed out")
		}
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("claude-custom executor: close response body error: %v", errClose)
		}
	}()

	decoded, err := executor.DecodeResponseBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}
	data, err := io.ReadAll(decoded)
	_ = decoded.Close()
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Debugf("claude-custom executor: status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	claudeParser, ok := translator.GetRegistry().GetToIR(string(provider.FormatClaude))
	if !ok {
		reporter.Report(nil, true)
		return nil, executor.NewNotImplementedError("no claude parser registered")
	}
	messages, usage, err := claudeParser.ParseResponse(data)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}
	reporter.Report(usage, false)

	targetConverter, ok := translator.GetRegistry().GetFromIR(string(opts.SourceFormat))
	if !ok {
		return nil, executor.NewNotImplementedError("no converter registered for target format " + string(opts.SourceFormat))
	}
	respPayload, err := targetConverter.ToResponse(messages, usage, req.Model)
	if err != nil {
		return nil, err
	}
	return &provider.Response{Payload: respPayload, StatusCode: httpResp.StatusCode}, nil
}

func (e *ClaudeCustomExecutor) ExecuteStream(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (<-chan provider.StreamChunk, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)
	token, baseURL := claudeCustomCreds(e.Cfg, auth)

	httpReq, err := e.buildRequest(ctx, req, opts, true, token, baseURL)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpClient := e.NewHTTPClient(ctx, auth, 0)
	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		reporter.Report(nil, true)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, executor.NewTimeoutError("request timed out")
		}
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		log.Debugf("claude-custom executor: stream status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	preprocessor := func(line []byte) ([]byte, bool) {
		data := ir.ExtractSSEData(line)
		if data == nil {
			return nil, true
		}
		return data, false
	}

	return executor.DriveSSEStream(ctx, httpResp.Body, executor.PumpConfig{
		UpstreamFormat: string(provider.FormatClaude),
		TargetFormat:   string(opts.SourceFormat),
		Model:          req.Model,
		IdleTimeout:    3 * time.Minute,
		ExecutorName:   e.Identifier(),
		Preprocessor:   preprocessor,
		Reporter:       reporter,
	})
}

func (e *ClaudeCustomExecutor) CountTokens(_ context.Context, _ *provider.Auth, _ *provider.Request, _ provider.Options) (*provider.Response, error) {
	resp, err := e.CountTokensNotSupported(e.Identifier())
	return &resp, err
}

func (e *ClaudeCustomExecutor) Refresh(_ context.Context, _ *provider.Auth) error {
	return nil
}
