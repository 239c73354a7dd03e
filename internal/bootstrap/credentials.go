package bootstrap

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/util"
)

// expandHome resolves a leading "~" to the process's home directory, the
// same stdlib os.UserHomeDir idiom the teacher uses for its own on-disk
// credential paths (e.g. internal/cli/service/install.go).
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// loadOAuthBlob resolves one provider's credential JSON in the priority
// order spec.md §3/§8 name: base64 blob, then explicit file path, then a
// provider-specific default path. Returns (nil, false) when none are
// configured and the default path doesn't exist - not an error, since a
// provider the operator never configured should simply be unavailable.
func loadOAuthBlob(base64Blob, filePath, defaultPath string) ([]byte, bool) {
	if strings.TrimSpace(base64Blob) != "" {
		data, err := base64.StdEncoding.DecodeString(base64Blob)
		if err != nil {
			log.Warnf("bootstrap: failed to decode base64 oauth credential: %v", err)
			return nil, false
		}
		return data, true
	}

	path := filePath
	if path == "" {
		path = defaultPath
	}
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("bootstrap: failed to read oauth credential file %s: %v", path, err)
		}
		return nil, false
	}
	return data, true
}

const (
	defaultGeminiOAuthPath = "~/.gemini/oauth_creds.json"
	defaultKiroOAuthPath   = "~/.aws/sso/cache/kiro-auth-token.json"
)

// buildGeminiCLIAuth loads the Code Assist OAuth2 credential blob into an
// Auth record (spec.md §4.3.1 "OAuth2 lifecycle").
func buildGeminiCLIAuth(cfg config.GeminiCLIConfig) *provider.Auth {
	data, ok := loadOAuthBlob(cfg.OAuthBase64, cfg.OAuthFile, defaultGeminiOAuthPath)
	if !ok {
		return &provider.Auth{ID: "gemini-cli", Provider: provider.FormatGemini, Disabled: true}
	}
	meta := map[string]any{}
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Warnf("bootstrap: invalid gemini-cli oauth credential: %v", err)
		return &provider.Auth{ID: "gemini-cli", Provider: provider.FormatGemini, Disabled: true}
	}
	if cfg.ProjectID != "" {
		meta["project_id"] = cfg.ProjectID
	}
	return &provider.Auth{ID: "gemini-cli", Provider: provider.FormatGemini, Metadata: meta}
}

// kiroFieldRenames maps the AWS SSO cache file's camelCase keys onto the
// snake_case convention every other executor's auth.Metadata uses.
var kiroFieldRenames = [][2]string{
	{"accessToken", "access_token"},
	{"refreshToken", "refresh_token"},
	{"expiresAt", "expiry"},
	{"clientId", "client_id"},
	{"clientSecret", "client_secret"},
}

// buildKiroAuth loads the merged AWS SSO/CodeWhisperer credential blob
// (spec.md §6's "~/.aws/sso/cache/kiro-auth-token.json"). The rename is done
// as JSON-string surgery via util.RenameKey rather than field-by-field map
// copying, the same targeted-mutation style the rest of this codebase uses
// gjson/sjson for instead of a full unmarshal-mutate-remarshal round trip.
func buildKiroAuth(cfg config.KiroConfig) *provider.Auth {
	data, ok := loadOAuthBlob(cfg.OAuthBase64, cfg.OAuthFile, defaultKiroOAuthPath)
	if !ok {
		return &provider.Auth{ID: "kiro", Provider: provider.FormatKiro, Disabled: true}
	}
	jsonStr := string(data)
	for _, rename := range kiroFieldRenames {
		if renamed, err := util.RenameKey(jsonStr, rename[0], rename[1]); err == nil {
			jsonStr = renamed
		}
	}
	normalized := map[string]any{}
	if err := json.Unmarshal([]byte(jsonStr), &normalized); err != nil {
		log.Warnf("bootstrap: invalid kiro credential blob: %v", err)
		return &provider.Auth{ID: "kiro", Provider: provider.FormatKiro, Disabled: true}
	}
	for key := range normalized {
		switch key {
		case "access_token", "refresh_token", "expiry", "client_id", "client_secret",
			"region", "authMethod", "profileArn":
		default:
			delete(normalized, key)
		}
	}
	if cfg.ClientID != "" {
		normalized["client_id"] = cfg.ClientID
	}
	if cfg.ClientSecret != "" {
		normalized["client_secret"] = cfg.ClientSecret
	}
	return &provider.Auth{ID: "kiro", Provider: provider.FormatKiro, Metadata: normalized}
}

// buildOpenAICustomAuth and buildClaudeCustomAuth wrap the static API-key
// providers in an Auth record so the router/executor path is uniform across
// all four providers even though these two need no OAuth lifecycle.
func buildOpenAICustomAuth(cfg config.OpenAICustomConfig) *provider.Auth {
	return &provider.Auth{
		ID:       "openai-custom",
		Provider: provider.FormatOpenAI,
		Metadata: map[string]any{"api_key": cfg.APIKey, "base_url": cfg.BaseURL},
		Disabled: false,
	}
}

func buildClaudeCustomAuth(cfg config.ClaudeCustomConfig) *provider.Auth {
	return &provider.Auth{
		ID:       "claude-custom",
		Provider: provider.FormatClaude,
		Metadata: map[string]any{"api_key": cfg.APIKey, "base_url": cfg.BaseURL},
		Disabled: false,
	}
}
