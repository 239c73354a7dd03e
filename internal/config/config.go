// Package config defines the gateway's startup configuration and the
// immutable per-request overlay described in spec.md §3 ("Configuration
// snapshot").
package config

import (
	"os"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// DefaultModelMode controls how DEFAULT_MODEL is applied to an inbound
// request per spec.md §4.1.
type DefaultModelMode string

const (
	DefaultModelModeFallback DefaultModelMode = "fallback"
	DefaultModelModeForce    DefaultModelMode = "force"
)

// SystemPromptMode controls how the system-prompt file is merged into a
// request per spec.md §4.5.
type SystemPromptMode string

const (
	SystemPromptOverwrite SystemPromptMode = "overwrite"
	SystemPromptAppend    SystemPromptMode = "append"
)

// LogPromptsMode controls prompt logging per spec.md §6.
type LogPromptsMode string

const (
	LogPromptsNone    LogPromptsMode = "none"
	LogPromptsConsole LogPromptsMode = "console"
	LogPromptsFile    LogPromptsMode = "file"
)

// GeminiCLIConfig holds Google Code Assist OAuth2 settings.
type GeminiCLIConfig struct {
	ProjectID    string `yaml:"project-id,omitempty"`
	OAuthBase64  string `yaml:"oauth-creds-base64,omitempty"`
	OAuthFile    string `yaml:"oauth-creds-file,omitempty"`
	DefaultTier  string `yaml:"default-tier,omitempty"`
}

// OpenAICustomConfig holds the generic OpenAI-compatible endpoint settings.
type OpenAICustomConfig struct {
	APIKey      string `yaml:"api-key,omitempty"`
	BaseURL     string `yaml:"base-url,omitempty"`
	OpenRouter  bool   `yaml:"openrouter,omitempty"`
	HTTPReferer string `yaml:"http-referer,omitempty"`
	XTitle      string `yaml:"x-title,omitempty"`
}

// ClaudeCustomConfig holds Anthropic Claude endpoint settings.
type ClaudeCustomConfig struct {
	APIKey  string `yaml:"api-key,omitempty"`
	BaseURL string `yaml:"base-url,omitempty"`
}

// KiroConfig holds AWS CodeWhisperer/Kiro credential settings.
type KiroConfig struct {
	OAuthBase64 string `yaml:"oauth-creds-base64,omitempty"`
	OAuthFile   string `yaml:"oauth-creds-file,omitempty"`
	ClientID    string `yaml:"client-id,omitempty"`
	ClientSecret string `yaml:"client-secret,omitempty"`
}

// UsageConfig configures the optional, off-by-default usage-counter sink
// (spec.md §6 "Usage accounting"). An empty DSN disables the backend
// entirely and only the in-memory Counters are kept.
type UsageConfig struct {
	DSN           string `yaml:"dsn,omitempty"`
	BatchSize     int    `yaml:"batch-size,omitempty"`
	FlushInterval int    `yaml:"flush-interval-seconds,omitempty"`
	RetentionDays int    `yaml:"retention-days,omitempty"`
}

// Config is the top-level startup configuration, loaded from a YAML/JSONC
// file and overridden by CLI flags (flag parsing itself is an external
// collaborator per spec.md §1; this struct is what the core consumes).
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	APIKey string `yaml:"api-key"`

	ModelProvider   string           `yaml:"model-provider"`
	DefaultModel    string           `yaml:"default-model"`
	DefaultModelMode DefaultModelMode `yaml:"default-model-mode"`

	GeminiCLI    GeminiCLIConfig    `yaml:"gemini-cli"`
	OpenAICustom OpenAICustomConfig `yaml:"openai-custom"`
	ClaudeCustom ClaudeCustomConfig `yaml:"claude-custom"`
	Kiro         KiroConfig         `yaml:"kiro"`

	SystemPromptFile string           `yaml:"system-prompt-file"`
	SystemPromptMode SystemPromptMode `yaml:"system-prompt-mode"`

	LogPrompts        LogPromptsMode `yaml:"log-prompts"`
	PromptLogBaseName string         `yaml:"prompt-log-base-name"`
	LoggingToFile     bool           `yaml:"logging-to-file"`

	RequestMaxRetries int `yaml:"request-max-retries"`
	RequestBaseDelayMS int `yaml:"request-base-delay"`

	CronNearMinutes  int  `yaml:"cron-near-minutes"`
	CronRefreshToken bool `yaml:"cron-refresh-token"`

	ProxyURL string `yaml:"proxy-url,omitempty"`

	Usage UsageConfig `yaml:"usage"`

	ManagementEnabled bool `yaml:"management-enabled"`

	Debug bool `yaml:"debug"`
}

// Default returns a Config populated with the defaults spec.md names
// explicitly (REQUEST_MAX_RETRIES=3, base delay 1000ms, etc.).
func Default() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              8317,
		DefaultModelMode:  DefaultModelModeFallback,
		SystemPromptMode:  SystemPromptOverwrite,
		LogPrompts:        LogPromptsNone,
		RequestMaxRetries: 3,
		RequestBaseDelayMS: 1000,
		CronNearMinutes:   30,
	}
}

// Load reads a YAML config file, tolerating JSONC-style comments in any
// embedded JSON fragments (none by default, but --provider-json overrides
// are passed through hujson.Standardize before being merged - see
// MergeProviderJSON). Missing files are not an error: Default() is used and
// the caller combines it with flags.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeProviderJSON decodes a JSONC fragment (as supplied via a
// --provider-json CLI flag) into a generic map, tolerating comments and
// trailing commas via hujson before handing it to the standard JSON
// decoder. This is the JSONC-tolerant parsing supplemented in SPEC_FULL.md
// §6.
func MergeProviderJSON(raw []byte) (map[string]any, error) {
	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(standardized, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Overlay produces an immutable per-request configuration snapshot by
// applying a provider override (from the model-provider header or a leading
// URL path segment) on top of the startup config. No field of base is
// mutated; Overlay always returns a new value. This satisfies spec.md §3's
// "Configuration snapshot" invariant without the deep-copy-then-mutate
// workaround spec.md §9 calls out as a source artifact.
func Overlay(base *Config, providerOverride string) Config {
	snapshot := *base
	if strings.TrimSpace(providerOverride) != "" {
		snapshot.ModelProvider = providerOverride
	}
	return snapshot
}
