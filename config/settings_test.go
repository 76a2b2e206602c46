package config

import (
	"os"
	"testing"
	"time"
)

func TestNewValidProvider(t *testing.T) {
	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", settings.LLM.Provider)
	}
}

func TestNewWithAlias(t *testing.T) {
	settings, err := New("claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic' (normalized from 'claude'), got %q", settings.LLM.Provider)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("unknown_provider")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewDefaults(t *testing.T) {
	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Loop.MaxIterations != 50 {
		t.Errorf("expected default max iterations 50, got %d", settings.Loop.MaxIterations)
	}
	if settings.Context.TokenBudget != 64_000 {
		t.Errorf("expected default token budget 64000, got %d", settings.Context.TokenBudget)
	}
	if settings.Approval.ConfirmTimeout != 2*time.Minute {
		t.Errorf("expected default confirm timeout 2m, got %v", settings.Approval.ConfirmTimeout)
	}
	if settings.Approval.AutoApprove {
		t.Error("auto-approve must default to off")
	}
	if !settings.Loop.Stream {
		t.Error("streaming must default to on")
	}
	if settings.Tools.RetryBaseMs != 100 || settings.Tools.RetryMaxMs != 5000 {
		t.Errorf("unexpected default tool backoff: base %dms, cap %dms",
			settings.Tools.RetryBaseMs, settings.Tools.RetryMaxMs)
	}
}

func TestNewEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_MAX_ITERATIONS", "7")
	t.Setenv("CONTEXT_TOKEN_BUDGET", "1000")
	t.Setenv("APPROVAL_AUTO", "true")
	t.Setenv("TOOL_RETRY_BASE_MS", "250")
	t.Setenv("TOOL_RETRY_MAX_MS", "2000")

	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Loop.MaxIterations != 7 {
		t.Errorf("expected max iterations 7, got %d", settings.Loop.MaxIterations)
	}
	if settings.Context.TokenBudget != 1000 {
		t.Errorf("expected token budget 1000, got %d", settings.Context.TokenBudget)
	}
	if !settings.Approval.AutoApprove {
		t.Error("expected auto-approve on")
	}
	if settings.Tools.RetryBaseMs != 250 || settings.Tools.RetryMaxMs != 2000 {
		t.Errorf("unexpected tool backoff override: base %dms, cap %dms",
			settings.Tools.RetryBaseMs, settings.Tools.RetryMaxMs)
	}
}

func TestNewWithInvalidEnvVar(t *testing.T) {
	t.Setenv("AGENT_MAX_ITERATIONS", "not-a-number")

	_, err := New("openai")
	if err == nil {
		t.Error("expected error for invalid AGENT_MAX_ITERATIONS")
	}
}

func TestAPIKeyForValidProvider(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	os.Setenv("OPENAI_API_KEY", "test-key")
	defer os.Setenv("OPENAI_API_KEY", original)

	key, err := APIKeyFor("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-key" {
		t.Errorf("expected 'test-key', got %q", key)
	}
}

func TestAPIKeyForMissing(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", original)

	_, err := APIKeyFor("openai")
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestModelFor(t *testing.T) {
	model, err := ModelFor("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model == "" {
		t.Error("expected non-empty model")
	}
}
