// Package config provides application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Addr   string
	DBPath string // empty = in-memory store

	Provider  ProviderConfig
	Context   ContextConfig
	Guardrail GuardrailConfig
}

// ProviderConfig configures the OpenAI-compatible generation backend.
type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	TimeoutMS int
}

// ContextConfig is the context budget: token allowance B, compression
// trigger fraction f, and the verbatim recent-message window.
type ContextConfig struct {
	TokenBudget     int
	TriggerFraction float64
	RecentMessages  int
}

// GuardrailConfig controls the pre-classification filter.
type GuardrailConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:   getEnv("ADDR", ":8080"),
		DBPath: getEnvAllowEmpty("DB_PATH", "./data/planit.db"),
		Provider: ProviderConfig{
			BaseURL:   getEnv("OPENAI_BASE_URL", ""),
			APIKey:    getEnv("OPENAI_API_KEY", ""),
			Model:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			TimeoutMS: getEnvInt("OPENAI_TIMEOUT_MS", 60000),
		},
		Context: ContextConfig{
			TokenBudget:     getEnvInt("CONTEXT_TOKEN_BUDGET", 8000),
			TriggerFraction: getEnvFloat("CONTEXT_TRIGGER_FRACTION", 0.75),
			RecentMessages:  getEnvInt("CONTEXT_RECENT_MESSAGES", 4),
		},
		Guardrail: GuardrailConfig{
			Enabled: getEnvBool("GUARDRAIL_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR cannot be empty")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("CONTEXT_TOKEN_BUDGET must be > 0")
	}
	if c.Context.TriggerFraction <= 0 || c.Context.TriggerFraction >= 1 {
		return fmt.Errorf("CONTEXT_TRIGGER_FRACTION must be in (0, 1)")
	}
	if c.Context.RecentMessages <= 0 {
		return fmt.Errorf("CONTEXT_RECENT_MESSAGES must be > 0")
	}
	return nil
}

// getEnvAllowEmpty distinguishes unset from set-but-empty: an
// explicitly empty value is returned as "" instead of the fallback.
// DB_PATH uses this so DB_PATH="" selects the in-memory store.
func getEnvAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
