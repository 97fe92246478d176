package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.RateLimitFailMode != FailOpen {
		t.Errorf("Expected default fail mode %q, got %q", FailOpen, cfg.RateLimitFailMode)
	}
	if cfg.ActorHistoryLimit != 15 {
		t.Errorf("Expected history limit 15, got %d", cfg.ActorHistoryLimit)
	}
	if cfg.PipelineMaxMessages != 25 {
		t.Errorf("Expected pipeline max messages 25, got %d", cfg.PipelineMaxMessages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_CHAT_MAX", "7")
	t.Setenv("RATE_LIMIT_CHAT_WINDOW", "1500")
	t.Setenv("PIPELINE_STALE_AFTER", "3m")
	t.Setenv("RATE_LIMIT_FAIL_MODE", "CLOSED")

	cfg := Load()

	if cfg.RateLimitChatMax != 7 {
		t.Errorf("Expected 7, got %d", cfg.RateLimitChatMax)
	}
	if cfg.RateLimitChatWindow != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s window, got %v", cfg.RateLimitChatWindow)
	}
	if cfg.PipelineStaleAfter != 3*time.Minute {
		t.Errorf("Expected 3m, got %v", cfg.PipelineStaleAfter)
	}
	if cfg.FailOpen() {
		t.Error("Expected fail-closed policy")
	}
}

func TestValidate_RejectsUnknownFailMode(t *testing.T) {
	t.Setenv("RATE_LIMIT_FAIL_MODE", "sometimes")

	if err := Load().Validate(); err == nil {
		t.Fatal("Expected validation error for unknown fail mode")
	}
}

func TestValidate_ProductionNeedsInferenceKey(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("INFERENCE_API_KEY", "")

	if err := Load().Validate(); err == nil {
		t.Fatal("Expected validation error without INFERENCE_API_KEY in production")
	}
}
