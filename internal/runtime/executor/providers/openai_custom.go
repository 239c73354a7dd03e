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

const defaultOpenAICustomBaseURL = "https://api.openai.com/v1"

// OpenAICustomExecutor talks to any OpenAI-compatible chat completions
// endpoint using a static API key - the same generic shape qwen.go/cline.go
// use for their OpenAI-compatible upstreams, generalized to an arbitrary
// configured base URL instead of one hardcoded per vendor (§4.3.2).
type OpenAICustomExecutor struct {
	executor.BaseExecutor
}

func NewOpenAICustomExecutor(cfg *config.Config) *OpenAICustomExecutor {
	return &OpenAICustomExecutor{BaseExecutor: executor.BaseExecutor{Cfg: cfg}}
}

func (e *OpenAICustomExecutor) Identifier() string { return "openai-custom" }

func openAICustomCreds(cfg *config.Config, auth *provider.Auth) (token, baseURL string) {
	if auth != nil && auth.Metadata != nil {
		token = stringValue(auth.Metadata, "api_key")
		baseURL = stringValue(auth.Metadata, "base_url")
	}
	if cfg != nil {
		if token == "" {
			token = cfg.OpenAICustom.APIKey
		}
		if baseURL == "" {
			baseURL = cfg.OpenAICustom.BaseURL
		}
	}
	if baseURL == "" {
		baseURL = defaultOpenAICustomBaseURL
	}
	return token, baseURL
}

func applyOpenAICustomExtraHeaders(cfg *config.Config, r *http.Request) {
	if cfg == nil {
		return
	}
	if cfg.OpenAICustom.HTTPReferer != "" {
		r.Header.Set("HTTP-Referer", cfg.OpenAICustom.HTTPReferer)
	}
	if cfg.OpenAICustom.XTitle != "" {
		r.Header.Set("X-Title", cfg.OpenAICustom.XTitle)
	}
}

func (e *OpenAICustomExecutor) buildRequest(ctx context.Context, req *provider.Request, opts provider.Options, stream bool, token, baseURL string) (*http.Request, []byte, error) {
	irReq, err := translator.ParseRequest(string(opts.SourceFormat), req.Payload)
	if err != nil {
		return nil, nil, err
	}
	irReq.Model = req.Model
	irReq.Stream = stream

	body, err := translator.ConvertRequest(string(provider.FormatOpenAI), irReq)
	if err != nil {
		return nil, nil, err
	}
	body = e.ApplyPayloadConfig(req.Model, body)

	url := strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	executor.SetCommonHeaders(httpReq, "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set("Accept", "application/json")
	applyOpenAICustomExtraHeaders(e.Cfg, httpReq)
	return httpReq, body, nil
}

func (e *OpenAICustomExecutor) Execute(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (*provider.Response, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)
	token, baseURL := openAICustomCreds(e.Cfg, auth)

	httpReq, _, err := e.buildRequest(ctx, req, opts, false, token, baseURL)
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
			log.Errorf("openai-custom executor: close response body error: %v", errClose)
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
		log.Debugf("openai-custom executor: status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	openaiParser, ok := translator.GetRegistry().GetToIR(string(provider.FormatOpenAI))
	if !ok {
		reporter.Report(nil, true)
		return nil, executor.NewNotImplementedError("no openai parser registered")
	}
	messages, usage, err := openaiParser.ParseResponse(data)
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

func (e *OpenAICustomExecutor) ExecuteStream(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (<-chan provider.StreamChunk, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)
	token, baseURL := openAICustomCreds(e.Cfg, auth)

	httpReq, _, err := e.buildRequest(ctx, req, opts, true, token, baseURL)
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
		log.Debugf("openai-custom executor: stream status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
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
		UpstreamFormat: string(provider.FormatOpenAI),
		TargetFormat:   string(opts.SourceFormat),
		Model:          req.Model,
		IdleTimeout:    3 * time.Minute,
		ExecutorName:   e.Identifier(),
		Preprocessor:   preprocessor,
		Reporter:       reporter,
	})
}

func (e *OpenAICustomExecutor) CountTokens(_ context.Context, _ *provider.Auth, _ *provider.Request, _ provider.Options) (*provider.Response, error) {
	resp, err := e.CountTokensNotSupported(e.Identifier())
	return &resp, err
}

func (e *OpenAICustomExecutor) Refresh(_ context.Context, _ *provider.Auth) error {
	return nil
}
