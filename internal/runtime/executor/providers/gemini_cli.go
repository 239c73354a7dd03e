package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/oauth"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/runtime/executor"
	"github.com/nghyane/llm-mux/internal/sseutil"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

const (
	codeAssistEndpoint = "https://cloudcode-pa.googleapis.com"
	codeAssistVersion  = "v1internal"
)

var geminiOauthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GeminiCLIExecutor talks to Google's Code Assist API the way the Gemini CLI
// desktop tool does: OAuth2 user credentials (not a service account) wrapped
// around the plain Gemini generateContent wire format in a {"request": ...}
// envelope (§4.3.1).
type GeminiCLIExecutor struct {
	executor.BaseExecutor
}

func NewGeminiCLIExecutor(cfg *config.Config) *GeminiCLIExecutor {
	return &GeminiCLIExecutor{BaseExecutor: executor.BaseExecutor{Cfg: cfg}}
}

func (e *GeminiCLIExecutor) Identifier() string { return "gemini-cli" }

// buildGeminiPayload parses the inbound request (in whatever format the
// client used) into IR and renders it as a Gemini generateContent body,
// envelope-wrapped and stamped with project/model, ready to POST.
func (e *GeminiCLIExecutor) buildGeminiPayload(req *provider.Request, opts provider.Options, projectID string) ([]byte, error) {
	irReq, err := translator.ParseRequest(string(opts.SourceFormat), req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	irReq.Model = req.Model

	geminiPayload, err := translator.ConvertRequest(string(provider.FormatGemini), irReq)
	if err != nil {
		return nil, fmt.Errorf("failed to translate request: %w", err)
	}

	payload := sseutil.WrapEnvelope(geminiPayload)
	payload = setJSONField(payload, "project", projectID)
	payload = setJSONField(payload, "model", req.Model)
	return payload, nil
}

func (e *GeminiCLIExecutor) Execute(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (*provider.Response, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)

	tokenSource, baseTokenData, err := prepareGeminiCLITokenSource(ctx, e.Cfg, auth)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	projectID := resolveGeminiProjectID(auth)
	action := "generateContent"
	if req.Metadata != nil {
		if a, _ := req.Metadata["action"].(string); a == "countTokens" {
			action = "countTokens"
		}
	}

	payload, err := e.buildGeminiPayload(req, opts, projectID)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}
	if action == "countTokens" {
		payload = deleteJSONField(payload, "project")
		payload = deleteJSONField(payload, "model")
	}

	tok, err := tokenSource.Token()
	if err != nil {
		reporter.Report(nil, true)
		return nil, wrapTokenError(err)
	}
	updateGeminiCLITokenMetadata(auth, baseTokenData, tok)

	url := codeAssistEndpoint + "/" + codeAssistVersion + ":" + action
	if opts.Alt != "" && action != "countTokens" {
		url += "?$alt=" + opts.Alt
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}
	executor.SetCommonHeaders(httpReq, "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	applyGeminiCLIHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/json")

	httpClient := e.NewHTTPClient(ctx, auth, 0)
	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		reporter.Report(nil, true)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, executor.NewTimeoutError("request timed out")
		}
		return nil, err
	}

	decoded, err := executor.DecodeResponseBody(httpResp.Body, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = httpResp.Body.Close()
		reporter.Report(nil, true)
		return nil, err
	}
	data, err := io.ReadAll(decoded)
	_ = decoded.Close()
	_ = httpResp.Body.Close()
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Debugf("gemini-cli: request error, status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	if action == "countTokens" {
		reporter.Report(nil, false)
		return &provider.Response{Payload: data, StatusCode: httpResp.StatusCode}, nil
	}

	clean := sseutil.UnwrapEnvelope(data)
	geminiParser, ok := translator.GetRegistry().GetToIR(string(provider.FormatGemini))
	if !ok {
		reporter.Report(nil, true)
		return nil, executor.NewNotImplementedError("no gemini parser registered")
	}
	messages, usage, err := geminiParser.ParseResponse(clean)
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

func (e *GeminiCLIExecutor) ExecuteStream(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (<-chan provider.StreamChunk, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)

	tokenSource, baseTokenData, err := prepareGeminiCLITokenSource(ctx, e.Cfg, auth)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	projectID := resolveGeminiProjectID(auth)
	payload, err := e.buildGeminiPayload(req, opts, projectID)
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	tok, err := tokenSource.Token()
	if err != nil {
		reporter.Report(nil, true)
		return nil, wrapTokenError(err)
	}
	updateGeminiCLITokenMetadata(auth, baseTokenData, tok)

	url := codeAssistEndpoint + "/" + codeAssistVersion + ":streamGenerateContent?alt=sse"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}
	executor.SetCommonHeaders(httpReq, "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	applyGeminiCLIHeaders(httpReq)
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
		log.Debugf("gemini-cli: stream request error, status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	preprocessor := func(line []byte) ([]byte, bool) {
		data := ir.ExtractSSEData(line)
		if len(data) == 0 {
			return nil, true
		}
		return sseutil.UnwrapEnvelope(data), false
	}

	return executor.DriveSSEStream(ctx, httpResp.Body, executor.PumpConfig{
		UpstreamFormat: string(provider.FormatGemini),
		TargetFormat:   string(opts.SourceFormat),
		Model:          req.Model,
		IdleTimeout:    3 * time.Minute,
		ExecutorName:   e.Identifier(),
		Preprocessor:   preprocessor,
		Reporter:       reporter,
	})
}

func (e *GeminiCLIExecutor) CountTokens(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (*provider.Response, error) {
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	req.Metadata["action"] = "countTokens"
	return e.Execute(ctx, auth, req, opts)
}

func (e *GeminiCLIExecutor) Refresh(ctx context.Context, auth *provider.Auth) error {
	_, _, err := prepareGeminiCLITokenSource(ctx, e.Cfg, auth)
	return err
}

func prepareGeminiCLITokenSource(ctx context.Context, cfg *config.Config, auth *provider.Auth) (oauth2.TokenSource, map[string]any, error) {
	if auth == nil || auth.Metadata == nil {
		return nil, nil, fmt.Errorf("gemini-cli auth metadata missing")
	}
	metadata := auth.Metadata

	base := map[string]any{}
	if tokenRaw, ok := metadata["token"].(map[string]any); ok && tokenRaw != nil {
		for k, v := range tokenRaw {
			base[k] = v
		}
	}

	token := oauth2.Token{
		AccessToken:  stringValue(metadata, "access_token"),
		RefreshToken: stringValue(metadata, "refresh_token"),
		TokenType:    stringValue(metadata, "token_type"),
	}
	if expiry := stringValue(metadata, "expiry"); expiry != "" {
		if ts, err := time.Parse(time.RFC3339, expiry); err == nil {
			token.Expiry = ts
		}
	}

	conf := &oauth2.Config{
		ClientID:     oauth.GeminiClientID,
		ClientSecret: oauth.GeminiClientSecret,
		Scopes:       geminiOauthScopes,
		Endpoint:     google.Endpoint,
	}

	ctxToken := ctx
	if httpClient := executor.NewProxyAwareHTTPClient(ctx, cfg, auth, 0); httpClient != nil {
		ctxToken = context.WithValue(ctxToken, oauth2.HTTPClient, httpClient)
	}

	src := conf.TokenSource(ctxToken, &token)
	currentToken, err := src.Token()
	if err != nil {
		return nil, nil, wrapTokenError(err)
	}
	updateGeminiCLITokenMetadata(auth, base, currentToken)
	return oauth2.ReuseTokenSource(currentToken, src), base, nil
}

func updateGeminiCLITokenMetadata(auth *provider.Auth, base map[string]any, tok *oauth2.Token) {
	if auth == nil || tok == nil {
		return
	}
	if auth.Metadata == nil {
		auth.Metadata = make(map[string]any)
	}
	if tok.AccessToken != "" {
		auth.Metadata["access_token"] = tok.AccessToken
	}
	if tok.TokenType != "" {
		auth.Metadata["token_type"] = tok.TokenType
	}
	if tok.RefreshToken != "" {
		auth.Metadata["refresh_token"] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		auth.Metadata["expiry"] = tok.Expiry.Format(time.RFC3339)
	}
	if len(base) > 0 {
		merged := make(map[string]any, len(base))
		for k, v := range base {
			merged[k] = v
		}
		auth.Metadata["token"] = merged
	}
}

func resolveGeminiProjectID(auth *provider.Auth) string {
	if auth == nil {
		return ""
	}
	return stringValue(auth.Metadata, "project_id")
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func applyGeminiCLIHeaders(r *http.Request) {
	r.Header.Set("User-Agent", "google-api-nodejs-client/9.15.1")
	r.Header.Set("X-Goog-Api-Client", "gl-node/22.17.0")
	r.Header.Set("Client-Metadata", "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI")
}

func setJSONField(body []byte, key, value string) []byte {
	if key == "" || value == "" {
		return body
	}
	updated, err := sjson.SetBytes(body, key, value)
	if err != nil {
		return body
	}
	return updated
}

func deleteJSONField(body []byte, key string) []byte {
	if key == "" || len(body) == 0 {
		return body
	}
	updated, err := sjson.DeleteBytes(body, key)
	if err != nil {
		return body
	}
	return updated
}

func newGeminiStatusErr(statusCode int, body []byte) error {
	var retryAfter *time.Duration
	if statusCode == http.StatusTooManyRequests {
		if parsed, err := executor.ParseRetryDelay(body); err == nil && parsed != nil {
			retryAfter = parsed
		}
	}
	return executor.NewStatusError(statusCode, string(body), retryAfter)
}

func wrapTokenError(err error) error {
	if err == nil {
		return nil
	}
	return executor.NewStatusError(http.StatusUnauthorized, err.Error(), nil)
}
