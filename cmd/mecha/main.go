package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mecha/internal/config"
	"mecha/internal/llm"
	"mecha/internal/llm/clients"
	"mecha/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	modelFlag string
	provider  string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mecha",
	Short: "mecha - agentic code-editing sidecar",
	Long: `mecha is a code-editing sidecar: it anchors agents on code symbols,
streams completions from a configurable set of LLM providers, applies
validated edits through a tool broker, and journals every exchange so a
session can be replayed or resumed.

Provider credentials come from .mecha/config.yaml; the environment
variables api_key and api_base override the default provider's block.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose operator output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace root")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "model id (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "provider name (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-request timeout (overrides config)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(fimCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}

// runtime bundles everything a command needs after configuration is loaded.
type runtime struct {
	cfg      config.Config
	broker   *llm.Broker
	store    *llm.CredentialStore
	model    llm.LLMType
	provider llm.Provider
}

// setup loads configuration and builds the broker. Flag overrides beat the
// config file, which beats built-in defaults.
func setup(extra ...llm.BrokerOption) (*runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if modelFlag != "" {
		cfg.LLM.Model = modelFlag
	}
	if provider != "" {
		cfg.LLM.Provider = provider
	}
	if timeout > 0 {
		cfg.LLM.RequestTimeoutSeconds = int(timeout.Seconds())
	}

	creds, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}
	store := llm.NewCredentialStore()
	store.ReplaceAll(creds)

	opts := []llm.BrokerOption{
		llm.WithRequestTimeout(time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second),
	}
	if cfg.LLM.FailoverProvider != "" && cfg.LLM.FailoverModel != "" {
		opts = append(opts, llm.WithFailover(llm.FailoverTarget{
			Model:    llm.LLMType(cfg.LLM.FailoverModel),
			Provider: llm.Provider(cfg.LLM.FailoverProvider),
		}))
	}
	opts = append(opts, extra...)

	broker := llm.NewBroker(store, opts...)
	for _, c := range clients.All() {
		broker.Register(c)
	}

	return &runtime{
		cfg:      cfg,
		broker:   broker,
		store:    store,
		model:    llm.LLMType(cfg.LLM.Model),
		provider: llm.Provider(cfg.LLM.Provider),
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mecha: %v\n", err)
		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, llm.ErrMissingCredential) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
