package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Server.Port != 4400 {
		t.Errorf("Server.Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("LLM.Timeout = %v, want 60s", cfg.LLM.Timeout)
	}
	if cfg.Scholarly.CacheTTL != 5*time.Minute {
		t.Errorf("Scholarly.CacheTTL = %v, want 5m", cfg.Scholarly.CacheTTL)
	}
	if cfg.Scholarly.RetryBackoff != 400*time.Millisecond {
		t.Errorf("Scholarly.RetryBackoff = %v, want 400ms", cfg.Scholarly.RetryBackoff)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PLANFORGE_PORT", "9999")
	t.Setenv("PLANFORGE_LLM_MODEL", "openai/gpt-4o")
	t.Setenv("PLANFORGE_EVIDENCE_TTL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.LLM.Model != "openai/gpt-4o" {
		t.Errorf("LLM.Model = %q, want openai/gpt-4o", cfg.LLM.Model)
	}
	if cfg.Scholarly.CacheTTL != 30*time.Second {
		t.Errorf("Scholarly.CacheTTL = %v, want 30s", cfg.Scholarly.CacheTTL)
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("PLANFORGE_PORT", "not-a-number")
	t.Setenv("PLANFORGE_LLM_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("Server.Port = %d, want default 4400", cfg.Server.Port)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("LLM.Timeout = %v, want default 60s", cfg.LLM.Timeout)
	}
}
