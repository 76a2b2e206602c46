// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Loop     LoopConfig
	Context  ContextConfig
	Approval ApprovalConfig
	Tools    ToolsConfig
	Session  SessionConfig
}

// LLMConfig holds inference provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
	MaxRetries  int
}

// LoopConfig holds control-loop configuration.
type LoopConfig struct {
	MaxIterations     int
	Workers           int
	DetectorWindow    int
	DetectorThreshold int
	MaxSubAgents      int
	Stream            bool
}

// ContextConfig holds context-store budget configuration.
type ContextConfig struct {
	TokenBudget  int
	RecencyFloor int
}

// ApprovalConfig holds approval gate configuration.
type ApprovalConfig struct {
	// AutoApprove approves every call without asking; for sandboxed runs.
	AutoApprove    bool
	ConfirmTimeout time.Duration
}

// ToolsConfig holds tool execution configuration.
type ToolsConfig struct {
	TimeoutSecs uint64
	MaxRetries  uint32
	RetryBaseMs uint64
	RetryMaxMs  uint64
	Workdir     string
}

// SessionConfig holds checkpoint persistence configuration.
type SessionConfig struct {
	// DBPath is the SQLite database file; empty keeps sessions in memory.
	DBPath string
}

// providerInfo holds configuration for a specific inference provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-5.2", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-opus-4-5-20251101", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-3-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from
// environment variables. Returns an error if the provider is unknown or an
// environment variable contains an invalid value.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}
	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}
	llmRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return Settings{}, err
	}

	maxIterations, err := getEnvInt("AGENT_MAX_ITERATIONS", 50)
	if err != nil {
		return Settings{}, err
	}
	workers, err := getEnvInt("AGENT_WORKERS", 4)
	if err != nil {
		return Settings{}, err
	}
	detectorWindow, err := getEnvInt("AGENT_DETECTOR_WINDOW", 6)
	if err != nil {
		return Settings{}, err
	}
	detectorThreshold, err := getEnvInt("AGENT_DETECTOR_THRESHOLD", 3)
	if err != nil {
		return Settings{}, err
	}
	maxSubAgents, err := getEnvInt("AGENT_MAX_SUB_AGENTS", 2)
	if err != nil {
		return Settings{}, err
	}
	stream, err := getEnvBool("AGENT_STREAM", true)
	if err != nil {
		return Settings{}, err
	}

	tokenBudget, err := getEnvInt("CONTEXT_TOKEN_BUDGET", 64_000)
	if err != nil {
		return Settings{}, err
	}
	recencyFloor, err := getEnvInt("CONTEXT_RECENCY_FLOOR", 8)
	if err != nil {
		return Settings{}, err
	}

	autoApprove, err := getEnvBool("APPROVAL_AUTO", false)
	if err != nil {
		return Settings{}, err
	}
	confirmTimeoutSecs, err := getEnvInt("APPROVAL_CONFIRM_TIMEOUT_SECS", 120)
	if err != nil {
		return Settings{}, err
	}

	toolTimeout, err := getEnvUint64("TOOL_TIMEOUT_SECS", 30)
	if err != nil {
		return Settings{}, err
	}
	toolRetries, err := getEnvUint32("TOOL_MAX_RETRIES", 3)
	if err != nil {
		return Settings{}, err
	}
	toolRetryBase, err := getEnvUint64("TOOL_RETRY_BASE_MS", 100)
	if err != nil {
		return Settings{}, err
	}
	toolRetryMax, err := getEnvUint64("TOOL_RETRY_MAX_MS", 5000)
	if err != nil {
		return Settings{}, err
	}

	workdir := os.Getenv("STEWARD_WORKDIR")
	if workdir == "" {
		workdir, _ = os.Getwd()
	}

	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			MaxRetries:  llmRetries,
		},
		Loop: LoopConfig{
			MaxIterations:     maxIterations,
			Workers:           workers,
			DetectorWindow:    detectorWindow,
			DetectorThreshold: detectorThreshold,
			MaxSubAgents:      maxSubAgents,
			Stream:            stream,
		},
		Context: ContextConfig{
			TokenBudget:  tokenBudget,
			RecencyFloor: recencyFloor,
		},
		Approval: ApprovalConfig{
			AutoApprove:    autoApprove,
			ConfirmTimeout: time.Duration(confirmTimeoutSecs) * time.Second,
		},
		Tools: ToolsConfig{
			TimeoutSecs: toolTimeout,
			MaxRetries:  toolRetries,
			RetryBaseMs: toolRetryBase,
			RetryMaxMs:  toolRetryMax,
			Workdir:     workdir,
		},
		Session: SessionConfig{
			DBPath: os.Getenv("STEWARD_DB"),
		},
	}, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvUint64(key string, defaultVal uint64) (uint64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}
