package providers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nghyane/llm-mux/internal/apperr"
	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/runtime/executor"
	"github.com/nghyane/llm-mux/internal/translator"
	"github.com/nghyane/llm-mux/internal/translator/ir"
)

const (
	kiroDefaultEndpoint = "https://codewhisperer.us-east-1.amazonaws.com"
	kiroGenerateAction  = "/generateAssistantResponse"
	kiroTokenEndpoint   = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"
)

// KiroExecutor talks to Amazon Q Developer / CodeWhisperer's
// generateAssistantResponse API - AWS's own chat-completions analog, reached
// over a bearer token refreshed against Kiro's OIDC-style refresh endpoint
// (§4.3.4). No original_source/ reference exists for this family in this
// pack, so the conversationState request shape, the AWS event-stream frame
// scanner, and the bracket tool-call notation below are built fresh against
// documented CodeWhisperer behavior, in the teacher's string-processing
// idiom from provider_helpers.go/error_helper.go rather than transliterated
// from any other language's client.
type KiroExecutor struct {
	executor.BaseExecutor
}

func NewKiroExecutor(cfg *config.Config) *KiroExecutor {
	return &KiroExecutor{BaseExecutor: executor.BaseExecutor{Cfg: cfg}}
}

func (e *KiroExecutor) Identifier() string { return "kiro" }

var kiroConversationCounter uint64

func nextKiroConversationID() string {
	n := atomic.AddUint64(&kiroConversationCounter, 1)
	return fmt.Sprintf("llm-mux-%d-%d", time.Now().UnixNano(), n)
}

// Kiro/CodeWhisperer embeds tool calls inline in assistant text using the
// "bracket" convention "[Called <name> with args: {...}]" rather than a
// structured field. The JSON args can itself contain nested braces and
// strings, so matching the closing "]" requires tracking brace/string depth
// instead of a non-greedy regex.
const (
	kiroBracketPrefix = "[Called "
	kiroBracketMiddle = " with args: "
)

var (
	kiroTrailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)
	kiroBareKeyPattern       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// parseKiroBracketToolCalls scans raw assistant text for bracket tool calls,
// bracket-balanced matching the args JSON so nested braces/strings don't
// truncate the match early, repairs minor JSON issues (trailing commas,
// unquoted keys), and dedupes by (name, argsJson). Matched substrings are
// stripped from the returned text; a repair failure drops that one call
// rather than failing the whole response.
func parseKiroBracketToolCalls(text string) (string, []ir.ToolCall) {
	var calls []ir.ToolCall
	seen := make(map[string]bool)
	var clean strings.Builder

	i := 0
	for i < len(text) {
		rel := strings.Index(text[i:], kiroBracketPrefix)
		if rel == -1 {
			clean.WriteString(text[i:])
			break
		}
		start := i + rel
		clean.WriteString(text[i:start])

		name, argsJSON, end, ok := scanKiroBracketCall(text, start)
		if !ok {
			clean.WriteString(kiroBracketPrefix)
			i = start + len(kiroBracketPrefix)
			continue
		}

		repaired, err := repairKiroArgsJSON(argsJSON)
		if err != nil {
			log.Warnf("kiro executor: dropping unparseable bracket tool call %q: %v", name, err)
			i = end
			continue
		}

		key := name + "\x00" + repaired
		if !seen[key] {
			seen[key] = true
			calls = append(calls, ir.ToolCall{Name: name, Args: repaired})
		}
		i = end
	}

	return clean.String(), calls
}

// scanKiroBracketCall matches one bracket tool call starting at the literal
// "[Called " index in text, returning the tool name, the raw (unrepaired)
// args JSON, and the index just past the closing "]". ok is false when text
// at start isn't a well-formed bracket call (name/args/closing bracket
// missing), in which case the caller treats "[Called " as ordinary text.
func scanKiroBracketCall(text string, start int) (name, argsJSON string, end int, ok bool) {
	i := start + len(kiroBracketPrefix)
	rel := strings.Index(text[i:], kiroBracketMiddle)
	if rel == -1 {
		return "", "", 0, false
	}
	name = text[i : i+rel]
	i += rel + len(kiroBracketMiddle)

	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	if i >= len(text) || text[i] != '{' {
		return "", "", 0, false
	}

	jsonStart := i
	depth := 0
	inString := false
	escaped := false
	closed := false
	for ; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				i++
				closed = true
			}
		}
		if closed {
			break
		}
	}
	if !closed {
		return "", "", 0, false
	}

	argsJSON = text[jsonStart:i]
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	if i >= len(text) || text[i] != ']' {
		return "", "", 0, false
	}
	i++
	return name, argsJSON, i, true
}

// repairKiroArgsJSON applies the bounded rewrite spec'd for bracket tool
// calls: trim trailing commas before a closing brace/bracket and quote bare
// (unquoted) object keys. If the result still isn't valid JSON, the repair
// is considered to have failed and the caller drops that call.
func repairKiroArgsJSON(raw string) (string, error) {
	repaired := kiroTrailingCommaPattern.ReplaceAllString(raw, "$1")
	repaired = kiroBareKeyPattern.ReplaceAllString(repaired, `$1"$2"$3`)
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("invalid JSON after repair: %s", repaired)
	}
	return repaired, nil
}

// buildKiroToolUseText renders a tool call back into Kiro's bracket
// notation when converting an assistant turn's tool calls into the plain
// text CodeWhisperer's history format expects (it has no native tool_calls
// field - everything is plain conversation content).
func buildKiroToolUseText(tc ir.ToolCall) string {
	return fmt.Sprintf("%s%s%s%s]", kiroBracketPrefix, tc.Name, kiroBracketMiddle, tc.Args)
}

// kiroModelIDByPrefix maps the model-name families CodeWhisperer's
// generateAssistantResponse API accepts onto its internal modelId enum.
// Only claude-family models are supported; anything else fails fast with
// UnsupportedModel rather than being forwarded upstream with a modelId
// CodeWhisperer would reject.
var kiroModelIDByPrefix = []struct {
	prefix string
	id     string
}{
	{"claude-sonnet-4", "CLAUDE_SONNET_4_20250514_V1_0"},
	{"claude-3-7-sonnet", "CLAUDE_3_7_SONNET_20250219_V1_0"},
}

func kiroModelID(model string) (string, error) {
	for _, m := range kiroModelIDByPrefix {
		if strings.HasPrefix(model, m.prefix) {
			return m.id, nil
		}
	}
	return "", apperr.BadRequest(apperr.ReasonUnsupportedModel,
		fmt.Sprintf("kiro: unsupported model %q, only claude-sonnet-4-* and claude-3-7-sonnet-* are supported", model))
}

// kiroUserInputMessage / kiroConversationState mirror CodeWhisperer's
// generateAssistantResponse request body; fields not exercised by this
// gateway (image blocks, IDE diagnostics context) are omitted.
type kiroUserInputMessage struct {
	Content  string `json:"content"`
	ModelID  string `json:"modelId,omitempty"`
	Origin   string `json:"origin"`
}

type kiroHistoryTurn struct {
	UserInputMessage      *kiroUserInputMessage `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *struct {
		Content string `json:"content"`
	} `json:"assistantResponseMessage,omitempty"`
}

func buildKiroConversationState(req *ir.UnifiedChatRequest) ([]byte, error) {
	modelID, err := kiroModelID(req.Model)
	if err != nil {
		return nil, err
	}

	var history []kiroHistoryTurn
	var systemPrefix string

	for i, msg := range req.Messages {
		text := flattenKiroContent(msg)
		switch msg.Role {
		case ir.RoleSystem:
			if systemPrefix != "" {
				systemPrefix += "\n"
			}
			systemPrefix += text
		case ir.RoleUser, ir.RoleTool:
			if i == len(req.Messages)-1 {
				continue // last user turn becomes currentMessage below
			}
			history = append(history, kiroHistoryTurn{UserInputMessage: &kiroUserInputMessage{Content: text, Origin: "AI_EDITOR"}})
		case ir.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				text += buildKiroToolUseText(tc)
			}
			history = append(history, kiroHistoryTurn{AssistantResponseMessage: &struct {
				Content string `json:"content"`
			}{Content: text}})
		}
	}

	currentText := ""
	if n := len(req.Messages); n > 0 {
		currentText = flattenKiroContent(req.Messages[n-1])
	}
	if systemPrefix != "" {
		currentText = systemPrefix + "\n\n" + currentText
	}

	state := map[string]any{
		"chatTriggerType": "MANUAL",
		"conversationId":  nextKiroConversationID(),
		"currentMessage": map[string]any{
			"userInputMessage": kiroUserInputMessage{
				Content: currentText,
				ModelID: modelID,
				Origin:  "AI_EDITOR",
			},
		},
	}
	if len(history) > 0 {
		state["history"] = history
	}

	return json.Marshal(map[string]any{"conversationState": state})
}

func flattenKiroContent(msg ir.Message) string {
	var b strings.Builder
	for _, part := range msg.Content {
		switch part.Type {
		case ir.ContentTypeText, ir.ContentTypeReasoning:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			if part.Text != "" {
				b.WriteString(part.Text)
			} else {
				b.WriteString(part.Reasoning)
			}
		case ir.ContentTypeToolResult:
			if part.ToolResult == nil {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[[tool_result:" + part.ToolResult.ToolCallID + "]]" + part.ToolResult.Result + "[[/tool_result]]")
		}
	}
	return b.String()
}

// --- AWS event-stream framing ---
//
// Each frame is: total-length(4) | headers-length(4) | prelude-crc(4) |
// headers(headers-length) | payload | message-crc(4). We trust TLS for
// transport integrity and don't independently verify the CRC32 checksums.
type kiroEventFrame struct {
	EventType string
	Payload   []byte
}

func scanKiroEventStream(r io.Reader, onFrame func(kiroEventFrame) error) error {
	const preludeLen = 8 // total-length + headers-length
	preludeBuf := make([]byte, preludeLen+4)

	for {
		if _, err := io.ReadFull(r, preludeBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		totalLen := binary.BigEndian.Uint32(preludeBuf[0:4])
		headersLen := binary.BigEndian.Uint32(preludeBuf[4:8])
		if totalLen < uint32(preludeLen+4+4) {
			return fmt.Errorf("kiro event-stream: invalid frame length %d", totalLen)
		}

		rest := make([]byte, totalLen-preludeLen-4)
		if _, err := io.ReadFull(r, rest); err != nil {
			return err
		}
		if uint32(len(rest)) < headersLen+4 {
			return fmt.Errorf("kiro event-stream: truncated frame")
		}
		headerBytes := rest[:headersLen]
		payload := rest[headersLen : len(rest)-4]

		frame := kiroEventFrame{Payload: payload, EventType: parseKiroEventType(headerBytes)}
		if err := onFrame(frame); err != nil {
			return err
		}
	}
}

// parseKiroEventType extracts the ":event-type" header value out of the raw
// AWS event-stream header block (name-len(1) name type(1) value...).
func parseKiroEventType(headers []byte) string {
	i := 0
	for i < len(headers) {
		if i+1 > len(headers) {
			break
		}
		nameLen := int(headers[i])
		i++
		if i+nameLen > len(headers) {
			break
		}
		name := string(headers[i : i+nameLen])
		i += nameLen
		if i >= len(headers) {
			break
		}
		valType := headers[i]
		i++
		var value string
		switch valType {
		case 7: // string
			if i+2 > len(headers) {
				return ""
			}
			valLen := int(binary.BigEndian.Uint16(headers[i : i+2]))
			i += 2
			if i+valLen > len(headers) {
				return ""
			}
			value = string(headers[i : i+valLen])
			i += valLen
		default:
			return ""
		}
		if name == ":event-type" {
			return value
		}
	}
	return ""
}

func kiroCreds(auth *provider.Auth) (accessToken, refreshToken string) {
	if auth == nil || auth.Metadata == nil {
		return "", ""
	}
	return stringValue(auth.Metadata, "access_token"), stringValue(auth.Metadata, "refresh_token")
}

func (e *KiroExecutor) buildHTTPRequest(ctx context.Context, req *provider.Request, opts provider.Options, accessToken string) (*http.Request, error) {
	irReq, err := translator.ParseRequest(string(opts.SourceFormat), req.Payload)
	if err != nil {
		return nil, err
	}
	irReq.Model = req.Model

	body, err := buildKiroConversationState(irReq)
	if err != nil {
		return nil, err
	}
	body = e.ApplyPayloadConfig(req.Model, body)

	url := kiroDefaultEndpoint + kiroGenerateAction
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	executor.SetCommonHeaders(httpReq, "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/vnd.amazon.eventstream")
	return httpReq, nil
}

func (e *KiroExecutor) Execute(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (*provider.Response, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)
	accessToken, _ := kiroCreds(auth)

	httpReq, err := e.buildHTTPRequest(ctx, req, opts, accessToken)
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
			log.Errorf("kiro executor: close response body error: %v", errClose)
		}
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(httpResp.Body)
		log.Debugf("kiro executor: status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	var textBuilder strings.Builder
	err = scanKiroEventStream(httpResp.Body, func(frame kiroEventFrame) error {
		if frame.EventType != "assistantResponseEvent" {
			return nil
		}
		var ev struct {
			Content string `json:"content"`
		}
		if jsonErr := json.Unmarshal(frame.Payload, &ev); jsonErr != nil {
			return nil
		}
		textBuilder.WriteString(ev.Content)
		return nil
	})
	if err != nil {
		reporter.Report(nil, true)
		return nil, err
	}

	clean, toolCalls := parseKiroBracketToolCalls(textBuilder.String())
	message := ir.Message{Role: ir.RoleAssistant, ToolCalls: toolCalls}
	if clean != "" {
		message.Content = []ir.ContentPart{{Type: ir.ContentTypeText, Text: clean}}
	}
	reporter.Report(nil, false)

	targetConverter, ok := translator.GetRegistry().GetFromIR(string(opts.SourceFormat))
	if !ok {
		return nil, executor.NewNotImplementedError("no converter registered for target format " + string(opts.SourceFormat))
	}
	respPayload, err := targetConverter.ToResponse([]ir.Message{message}, nil, req.Model)
	if err != nil {
		return nil, err
	}
	return &provider.Response{Payload: respPayload, StatusCode: httpResp.StatusCode}, nil
}

func (e *KiroExecutor) ExecuteStream(ctx context.Context, auth *provider.Auth, req *provider.Request, opts provider.Options) (<-chan provider.StreamChunk, error) {
	reporter := e.NewUsageReporter(ctx, e.Identifier(), req.Model, auth)
	accessToken, _ := kiroCreds(auth)

	httpReq, err := e.buildHTTPRequest(ctx, req, opts, accessToken)
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

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		data, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		log.Debugf("kiro executor: stream status=%d body=%s", httpResp.StatusCode, executor.SummarizeErrorBody(httpResp.Header.Get("Content-Type"), data))
		reporter.Report(nil, true)
		return nil, newGeminiStatusErr(httpResp.StatusCode, data)
	}

	fromIR, ok := translator.GetRegistry().GetFromIR(string(opts.SourceFormat))
	if !ok {
		_ = httpResp.Body.Close()
		reporter.Report(nil, true)
		return nil, executor.NewNotImplementedError("no converter registered for target format " + string(opts.SourceFormat))
	}

	out := make(chan provider.StreamChunk, 8)
	go func() {
		defer close(out)
		defer func() { _ = httpResp.Body.Close() }()

		convertState := fromIR.NewChunkState()
		failed := false
		pendingText := ""

		emit := func(text string) {
			clean, calls := parseKiroBracketToolCalls(pendingText + text)
			pendingText = ""
			if clean == "" && len(calls) == 0 {
				return
			}
			if clean != "" {
				chunk, err := fromIR.ToChunk(convertState, ir.UnifiedEvent{Type: ir.EventTypeToken, Content: clean}, req.Model)
				if err == nil && chunk != nil {
					select {
					case out <- provider.StreamChunk{Payload: chunk}:
					case <-ctx.Done():
					}
				}
			}
			for i, tc := range calls {
				tcCopy := tc
				start, err := fromIR.ToChunk(convertState, ir.UnifiedEvent{Type: ir.EventTypeToolCallStart, ToolCall: &tcCopy, ToolCallIndex: i}, req.Model)
				if err == nil && start != nil {
					out <- provider.StreamChunk{Payload: start}
				}
				delta, err := fromIR.ToChunk(convertState, ir.UnifiedEvent{Type: ir.EventTypeToolCallDelta, ToolCall: &tcCopy, ToolCallIndex: i}, req.Model)
				if err == nil && delta != nil {
					out <- provider.StreamChunk{Payload: delta}
				}
				end, err := fromIR.ToChunk(convertState, ir.UnifiedEvent{Type: ir.EventTypeToolCallEnd, ToolCallIndex: i}, req.Model)
				if err == nil && end != nil {
					out <- provider.StreamChunk{Payload: end}
				}
			}
		}

		err := scanKiroEventStream(httpResp.Body, func(frame kiroEventFrame) error {
			if frame.EventType != "assistantResponseEvent" {
				return nil
			}
			var ev struct {
				Content string `json:"content"`
			}
			if jsonErr := json.Unmarshal(frame.Payload, &ev); jsonErr != nil {
				return nil
			}
			emit(ev.Content)
			return nil
		})
		if err != nil {
			failed = true
		}

		finish, ferr := fromIR.ToChunk(convertState, ir.UnifiedEvent{Type: ir.EventTypeFinish, FinishReason: ir.FinishReasonStop}, req.Model)
		if ferr == nil && finish != nil {
			select {
			case out <- provider.StreamChunk{Payload: finish}:
			case <-ctx.Done():
			}
		}
		reporter.Report(nil, failed)
	}()

	return out, nil
}

func (e *KiroExecutor) CountTokens(_ context.Context, _ *provider.Auth, _ *provider.Request, _ provider.Options) (*provider.Response, error) {
	resp, err := e.CountTokensNotSupported(e.Identifier())
	return &resp, err
}

func (e *KiroExecutor) Refresh(ctx context.Context, auth *provider.Auth) error {
	if auth == nil || auth.Metadata == nil {
		return fmt.Errorf("kiro executor: auth metadata missing")
	}
	refreshToken := stringValue(auth.Metadata, "refresh_token")
	if refreshToken == "" {
		return nil
	}

	body, _ := json.Marshal(map[string]string{"refreshToken": refreshToken})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, kiroTokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	executor.SetCommonHeaders(httpReq, "application/json")

	httpClient := e.NewHTTPClient(ctx, auth, 0)
	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return newGeminiStatusErr(httpResp.StatusCode, data)
	}

	var tok struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    string `json:"expiresAt"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return err
	}
	if tok.AccessToken != "" {
		auth.Metadata["access_token"] = tok.AccessToken
	}
	if tok.RefreshToken != "" {
		auth.Metadata["refresh_token"] = tok.RefreshToken
	}
	if tok.ExpiresAt != "" {
		auth.Metadata["expiry"] = tok.ExpiresAt
	} else {
		auth.Metadata["expiry"] = time.Now().Add(time.Hour).Format(time.RFC3339)
	}
	return nil
}
