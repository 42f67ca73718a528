package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.Provider.Model != "gpt-4o-mini" || cfg.Provider.TimeoutMS != 60000 {
		t.Fatalf("Provider = %+v", cfg.Provider)
	}
	if cfg.Context.TokenBudget != 8000 || cfg.Context.TriggerFraction != 0.75 || cfg.Context.RecentMessages != 4 {
		t.Fatalf("Context = %+v", cfg.Context)
	}
	if !cfg.Guardrail.Enabled {
		t.Fatal("guardrail should default to enabled")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("DB_PATH", "")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("CONTEXT_TOKEN_BUDGET", "16000")
	t.Setenv("CONTEXT_TRIGGER_FRACTION", "0.5")
	t.Setenv("GUARDRAIL_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Provider.Model != "gpt-4o" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Context.TokenBudget != 16000 || cfg.Context.TriggerFraction != 0.5 {
		t.Fatalf("Context = %+v", cfg.Context)
	}
	if cfg.Guardrail.Enabled {
		t.Fatal("guardrail should be disabled")
	}
}

func TestLoad_EmptyDBPathSelectsMemoryStore(t *testing.T) {
	t.Setenv("DB_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "" {
		t.Fatalf("DBPath = %q, explicitly empty DB_PATH must stay empty", cfg.DBPath)
	}
}

func TestLoad_UnsetDBPathUsesDefault(t *testing.T) {
	t.Setenv("DB_PATH", "placeholder") // registers restore
	os.Unsetenv("DB_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "./data/planit.db" {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CONTEXT_TOKEN_BUDGET", "lots")
	t.Setenv("CONTEXT_TRIGGER_FRACTION", "most of it")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Context.TokenBudget != 8000 || cfg.Context.TriggerFraction != 0.75 {
		t.Fatalf("Context = %+v", cfg.Context)
	}
}

func TestLoad_RejectsBadTriggerFraction(t *testing.T) {
	t.Setenv("CONTEXT_TRIGGER_FRACTION", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("trigger fraction outside (0,1) must be rejected")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Addr:     ":8080",
			Provider: ProviderConfig{Model: "gpt-4o-mini"},
			Context:  ContextConfig{TokenBudget: 8000, TriggerFraction: 0.75, RecentMessages: 4},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	broken := []func(*Config){
		func(c *Config) { c.Addr = "" },
		func(c *Config) { c.Provider.Model = "" },
		func(c *Config) { c.Context.TokenBudget = 0 },
		func(c *Config) { c.Context.TriggerFraction = 0 },
		func(c *Config) { c.Context.RecentMessages = 0 },
	}
	for i, mutate := range broken {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: broken config accepted", i)
		}
	}
}
