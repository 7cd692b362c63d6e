// Package config loads and manages veloria configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, OPENROUTER_API_KEY, etc.)
// 2. Config file path specified via --config flag
// 3. ~/.config/veloria/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPersona is the persona instruction block sent as the system prompt.
// The operator is expected to replace this with the performer's real persona.
const DefaultPersona = `You are Jo, a flirty, charming, and charismatic conversation partner.
Your personality is confident but not arrogant, playful, and a great listener.
You make witty jokes and give genuine compliments.
You are here to have engaging, fun, and lighthearted conversations.

RULES:
- NEVER mention you are an AI, a language model, or a bot. You are Jo.
- NEVER be explicit, vulgar, or overly sexual. Keep it charming and suggestive, not graphic.
- NEVER break character.
- If the user gets aggressive or asks for inappropriate things, playfully deflect and change the subject.
- Your goal is to make the user feel special and entertained.`

// KnownProviderBaseURLs maps well-known provider names to their base URLs.
var KnownProviderBaseURLs = map[string]string{
	"openai":     "", // SDK default
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com",
	"kimi":       "https://api.moonshot.cn/v1",
	"qwen":       "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"groq":       "https://api.groq.com/openai/v1",
}

// KnownProviderModels maps well-known provider names to their default models.
var KnownProviderModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"openrouter": "google/gemini-flash-1.5",
	"deepseek":   "deepseek-chat",
	"anthropic":  "claude-sonnet-4-20250514",
}

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver: "sqlite" (default) | "redis" | "memory"
	Driver string `yaml:"driver"`

	// Path is the SQLite database path. Empty = ~/.local/share/veloria/veloria.db.
	Path string `yaml:"path"`

	// Redis connection settings, used when Driver is "redis".
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// ChatConfig holds the static conversation surface: persona text, summary
// template, end signal, and window sizes. None of it is runtime-mutable.
type ChatConfig struct {
	// Persona is the persona instruction text. Empty = DefaultPersona.
	Persona string `yaml:"persona"`

	// DisplayName labels the persona's replies in the terminal.
	DisplayName string `yaml:"display_name"`

	// SummaryPrompt overrides the summary instruction template. Must contain
	// a single %s verb for the transcript. Empty = built-in template.
	SummaryPrompt string `yaml:"summary_prompt"`

	// EndSignal is the input that ends a session. Empty = "quit".
	EndSignal string `yaml:"end_signal"`

	// GenerationWindow is how many recent turns accompany each reply request.
	GenerationWindow int `yaml:"generation_window"`

	// SummaryTrigger is the turn count at which summarization fires.
	SummaryTrigger int `yaml:"summary_trigger"`

	// SummaryWindow is how many recent turns feed the summarizer.
	SummaryWindow int `yaml:"summary_window"`
}

// Config is the complete configuration structure for veloria.
type Config struct {
	// Provider is the active provider name (e.g. "openrouter", "anthropic").
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// Store selects the persistence driver.
	Store StoreConfig `yaml:"store"`

	// Chat holds the persona and window configuration.
	Chat ChatConfig `yaml:"chat"`

	// HTTPAddr is the listen address for the serve command.
	HTTPAddr string `yaml:"http_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  "openrouter",
		Providers: make(map[string]*ProviderConfig),
		Store:     StoreConfig{Driver: "sqlite"},
		Chat: ChatConfig{
			DisplayName:      "Jo",
			EndSignal:        "quit",
			GenerationWindow: 12,
			SummaryTrigger:   10,
			SummaryWindow:    20,
		},
		HTTPAddr: ":8087",
	}
}

// Load reads the config file, merges environment variable overrides, and
// validates the result.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "veloria", "config.yaml")
		}
	}

	// Read config file (use defaults if not found).
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would only fail later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown store driver %q (want sqlite, redis, or memory)", c.Store.Driver)
	}
	if c.Chat.GenerationWindow <= 0 || c.Chat.SummaryTrigger <= 0 || c.Chat.SummaryWindow <= 0 {
		return fmt.Errorf("chat window sizes must be positive: %+v", c.Chat)
	}
	return nil
}

// GetProviderConfig returns the config for the named provider, or an empty
// config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

// Persona returns the configured persona text or the default.
func (c *Config) Persona() string {
	if c.Chat.Persona != "" {
		return c.Chat.Persona
	}
	return DefaultPersona
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	setProviderKey := func(name, key string) {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]*ProviderConfig)
		}
		if cfg.Providers[name] == nil {
			cfg.Providers[name] = &ProviderConfig{}
		}
		cfg.Providers[name].APIKey = key
	}

	// Generic overrides apply to the active provider.
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		setProviderKey(cfg.Provider, v)
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		if cfg.Providers[cfg.Provider] == nil {
			setProviderKey(cfg.Provider, "")
		}
		cfg.Providers[cfg.Provider].BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	// Provider-specific keys.
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		setProviderKey("openrouter", v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		setProviderKey("anthropic", v)
	}

	// Provider selection.
	if v := os.Getenv("VELORIA_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("VELORIA_MODEL"); v != "" {
		cfg.Model = v
	}

	// Store overrides.
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
}
