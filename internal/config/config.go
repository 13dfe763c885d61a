// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Scholarly ScholarlyConfig
	Insights  InsightsConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// EmbedModel is used by the reference library for chunk embeddings.
	EmbedModel string
	// Timeout bounds a single generation call end to end.
	Timeout   time.Duration
	MaxTokens int
}

type ScholarlyConfig struct {
	// SemanticScholarKey is optional; the public endpoint works keyless.
	SemanticScholarKey string
	// CacheTTL is how long evidence lookups (including empty ones) are reused.
	CacheTTL time.Duration
	// RetryBackoff is the pause before the single primary-source retry.
	RetryBackoff time.Duration
}

type InsightsConfig struct {
	APIKey string
	Model  string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		LLM: LLMConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "openai/gpt-4o-mini",
			EmbedModel: "openai/text-embedding-3-small",
			Timeout:    60 * time.Second,
			MaxTokens:  900,
		},
		Scholarly: ScholarlyConfig{
			CacheTTL:     5 * time.Minute,
			RetryBackoff: 400 * time.Millisecond,
		},
		Insights: InsightsConfig{
			Model: "sonar-small-online",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the environment, loading a .env file first
// when one is present. Every value has a default except the LLM API key,
// which callers check at the point of use (the theme workflow still runs on
// its fallback path without one).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	cfg.Server.Port = envInt("PLANFORGE_PORT", cfg.Server.Port)
	cfg.Server.APIToken = envStr("PLANFORGE_API_TOKEN", cfg.Server.APIToken)

	cfg.LLM.BaseURL = envStr("PLANFORGE_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = envStr("PLANFORGE_LLM_API_KEY", os.Getenv("OPENROUTER_API_KEY"))
	cfg.LLM.Model = envStr("PLANFORGE_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.EmbedModel = envStr("PLANFORGE_EMBED_MODEL", cfg.LLM.EmbedModel)
	cfg.LLM.Timeout = envDuration("PLANFORGE_LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.MaxTokens = envInt("PLANFORGE_LLM_MAX_TOKENS", cfg.LLM.MaxTokens)

	cfg.Scholarly.SemanticScholarKey = envStr("SEMANTIC_SCHOLAR_API_KEY", "")
	cfg.Scholarly.CacheTTL = envDuration("PLANFORGE_EVIDENCE_TTL", cfg.Scholarly.CacheTTL)
	cfg.Scholarly.RetryBackoff = envDuration("PLANFORGE_EVIDENCE_BACKOFF", cfg.Scholarly.RetryBackoff)

	cfg.Insights.APIKey = envStr("PERPLEXITY_API_KEY", "")
	cfg.Insights.Model = envStr("PLANFORGE_INSIGHTS_MODEL", cfg.Insights.Model)

	cfg.Storage.DataDir = envStr("PLANFORGE_DATA_DIR", cfg.Storage.DataDir)

	cfg.Log.Level = envStr("PLANFORGE_LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/planforge"
	}
	return "./planforge-data"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
