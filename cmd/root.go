package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/veloria-ai/veloria/internal/config"
	"github.com/veloria-ai/veloria/internal/provider"
	"github.com/veloria-ai/veloria/internal/session"
)

var (
	cfgFile      string
	userFlag     string
	modelFlag    string
	providerFlag string
	storeFlag    string

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	rootCmd := &cobra.Command{
		Use:   "veloria",
		Short: "Persona-driven chat companion",
		Long:  "veloria runs persona-driven chat sessions with per-user quotas and rolling conversation memory.",
		// Running veloria with no subcommand starts chat mode.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/veloria/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user id to chat as")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "override store driver (sqlite, redis, memory)")

	// Subcommands
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newUsersCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads .env, then configuration, applying CLI flag overrides.
func initConfig() *config.Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if storeFlag != "" {
		cfg.Store.Driver = storeFlag
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	return cfg
}

// buildProvider creates a Provider instance based on configuration.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	pc := cfg.GetProviderConfig(name)

	apiKey := pc.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY (or OPENROUTER_API_KEY / ANTHROPIC_API_KEY)",
			name, name,
		)
	}

	// Determine model: CLI flag / config > provider config > known defaults.
	model := cfg.Model
	if model == "" {
		model = pc.Model
	}
	if model == "" {
		model = config.KnownProviderModels[name]
	}

	switch name {
	case "anthropic":
		return provider.NewAnthropicProvider(apiKey, model), nil
	default:
		// All other providers use an OpenAI-compatible API.
		baseURL := pc.BaseURL
		if baseURL == "" {
			if u, ok := config.KnownProviderBaseURLs[name]; ok {
				baseURL = u
			} else {
				return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
			}
		}
		return provider.NewOpenAIProvider(apiKey, baseURL, model), nil
	}
}

// buildStore opens the configured persistence driver.
func buildStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Store.Driver {
	case "redis":
		addr := cfg.Store.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		return session.NewRedisStore(client), nil
	case "memory":
		return session.NewMemoryStore(), nil
	default:
		path := cfg.Store.Path
		if path == "" {
			var err error
			path, err = session.DefaultDBPath()
			if err != nil {
				return nil, fmt.Errorf("resolve db path: %w", err)
			}
		}
		return session.NewSQLiteStore(path)
	}
}

// buildSession wires a controller for the given user id on shared components.
func buildSession(cfg *config.Config, p provider.Provider, store session.Store, logger *slog.Logger) *session.Controller {
	responder := &session.LLMResponder{
		Provider: p,
		Persona:  cfg.Persona(),
		Model:    cfg.Model,
		Logger:   logger,
	}
	summarizer := &session.LLMSummarizer{
		Provider: p,
		Model:    cfg.Model,
		Prompt:   cfg.Chat.SummaryPrompt,
		Logger:   logger,
	}
	windows := session.Windows{
		Generation:     cfg.Chat.GenerationWindow,
		SummaryTrigger: cfg.Chat.SummaryTrigger,
		SummaryInput:   cfg.Chat.SummaryWindow,
	}
	return session.NewController(store, responder, summarizer, windows, cfg.Chat.EndSignal, logger)
}
