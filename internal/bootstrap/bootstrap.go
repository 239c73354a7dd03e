// Package bootstrap wires a loaded Config into a running gateway: it builds
// the per-provider credential/executor registry, starts the token manager
// and system-prompt watcher, and constructs the HTTP server (spec.md §2
// "Startup sequence").
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/nghyane/llm-mux/internal/api"
	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/runtime/executor"
	"github.com/nghyane/llm-mux/internal/runtime/executor/providers"
	"github.com/nghyane/llm-mux/internal/systemprompt"
)

// Result is everything a CLI command needs after a successful bootstrap.
type Result struct {
	Config       *config.Config
	ConfigPath   string
	Server       *api.Server
	TokenManager *executor.TokenManager
	Prompts      *systemprompt.Manager
}

// defaultConfigPath mirrors the teacher's XDG-style default, without the
// env-driven object/git-store indirection this gateway doesn't carry.
func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "llm-mux", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "llm-mux", "config.yaml")
}

// Bootstrap loads configuration from configPath (falling back to the
// default path when empty) and builds the provider registry, token
// manager, and HTTP server. It does not start listening - callers run the
// returned Server explicitly so tests can construct one without binding a
// port.
func Bootstrap(configPath string) (*Result, error) {
	wd, err := os.Getwd()
	if err == nil {
		if loadErr := godotenv.Load(filepath.Join(wd, ".env")); loadErr != nil && !os.IsNotExist(loadErr) {
			log.Warnf("bootstrap: failed to load .env: %v", loadErr)
		}
	}

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := log.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Warnf("bootstrap: failed to configure log output: %v", err)
	}

	reg, tm := buildRegistry(cfg)
	prompts := systemprompt.New(cfg, promptMirrorPath(cfg))

	srv := api.NewServer(cfg, reg, prompts)

	return &Result{
		Config:       cfg,
		ConfigPath:   configPath,
		Server:       srv,
		TokenManager: tm,
		Prompts:      prompts,
	}, nil
}

func promptMirrorPath(cfg *config.Config) string {
	if cfg.SystemPromptFile == "" {
		return ""
	}
	dir := filepath.Dir(cfg.SystemPromptFile)
	return filepath.Join(dir, "system-prompt.effective.txt")
}

// buildRegistry constructs one Executor + Auth pair per provider family,
// and wires the two OAuth-style providers' Refresh methods into a shared
// TokenManager for proactive renewal (spec.md §8 "Token lifecycle").
func buildRegistry(cfg *config.Config) (*api.Registry, *executor.TokenManager) {
	reg := &api.Registry{
		Executors: map[provider.Format]provider.Executor{},
		Auths:     map[provider.Format]*provider.Auth{},
	}

	geminiAuth := buildGeminiCLIAuth(cfg.GeminiCLI)
	kiroAuth := buildKiroAuth(cfg.Kiro)
	openaiAuth := buildOpenAICustomAuth(cfg.OpenAICustom)
	claudeAuth := buildClaudeCustomAuth(cfg.ClaudeCustom)

	geminiExec := providers.NewGeminiCLIExecutor(cfg)
	kiroExec := providers.NewKiroExecutor(cfg)
	openaiExec := providers.NewOpenAICustomExecutor(cfg)
	claudeExec := providers.NewClaudeCustomExecutor(cfg)

	reg.Executors[provider.FormatGemini] = geminiExec
	reg.Auths[provider.FormatGemini] = geminiAuth
	reg.Executors[provider.FormatKiro] = kiroExec
	reg.Auths[provider.FormatKiro] = kiroAuth
	reg.Executors[provider.FormatOpenAI] = openaiExec
	reg.Auths[provider.FormatOpenAI] = openaiAuth
	reg.Executors[provider.FormatClaude] = claudeExec
	reg.Auths[provider.FormatClaude] = claudeAuth

	tmCfg := executor.DefaultTokenManagerConfig()
	if cfg.CronNearMinutes > 0 {
		tmCfg.ProactiveCheck = time.Duration(cfg.CronNearMinutes) * time.Minute
	}
	tm := executor.NewTokenManager(tmCfg, refreshFuncFor(geminiExec, kiroExec))

	if cfg.CronRefreshToken {
		if !geminiAuth.Disabled {
			tm.PreWarm(geminiAuth)
		}
		if !kiroAuth.Disabled {
			tm.PreWarm(kiroAuth)
		}
	}

	return reg, tm
}

// refreshFuncFor dispatches a TokenManager refresh to the matching
// executor's Refresh method by the auth's Provider field, then reads the
// resulting access token/expiry back out of its metadata.
func refreshFuncFor(geminiExec, kiroExec provider.Executor) executor.RefreshFunc {
	return func(ctx context.Context, auth *provider.Auth) (string, time.Duration, error) {
		var exec provider.Executor
		switch auth.Provider {
		case provider.FormatGemini:
			exec = geminiExec
		case provider.FormatKiro:
			exec = kiroExec
		default:
			return "", 0, fmt.Errorf("no refreshable executor for provider %q", auth.Provider)
		}
		if err := exec.Refresh(ctx, auth); err != nil {
			return "", 0, err
		}
		token := executor.MetaStringValue(auth.Metadata, "access_token")
		expiry := executor.TokenExpiry(auth.Metadata)
		if expiry.IsZero() {
			return token, 0, nil
		}
		return token, time.Until(expiry), nil
	}
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("LLM_MUX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("LLM_MUX_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LLM_MUX_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("LLM_MUX_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
}
