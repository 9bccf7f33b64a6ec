// Package config loads the workspace configuration from .mecha/config.yaml,
// applies environment overrides, and maps provider blocks to credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps any parse or validation failure so callers can map
// configuration problems to their own exit code.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full .mecha/config.yaml document.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	Session SessionConfig `yaml:"session"`
	Symbol  SymbolConfig  `yaml:"symbol"`
	RepoMap RepoMapConfig `yaml:"repomap"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects the default provider/model pair and an optional failover
// target, plus per-provider credential blocks.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	APIBase  string `yaml:"api_base"`

	FailoverProvider string `yaml:"failover_provider"`
	FailoverModel    string `yaml:"failover_model"`

	// RequestTimeoutSeconds bounds one streaming request end to end.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// Providers holds additional credential blocks beyond the default
	// provider, keyed by provider name.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one provider's credential block.
type ProviderConfig struct {
	APIKey   string `yaml:"api_key"`
	APIBase  string `yaml:"api_base"`
	SiteURL  string `yaml:"site_url"`
	SiteName string `yaml:"site_name"`
}

// ToolsConfig tunes the tool broker.
type ToolsConfig struct {
	Concurrency            int    `yaml:"concurrency"`
	LSPBridgeURL           string `yaml:"lsp_bridge_url"`
	TerminalTimeoutSeconds int    `yaml:"terminal_timeout_seconds"`
}

// SessionConfig locates the session store.
type SessionConfig struct {
	Dir string `yaml:"dir"`
}

// SymbolConfig tunes the symbol locker.
type SymbolConfig struct {
	MailboxCapacity int `yaml:"mailbox_capacity"`
}

// RepoMapConfig tunes repository map rendering.
type RepoMapConfig struct {
	TokenBudget int `yaml:"token_budget"`
	// ParseOffloadBytes is the file size past which tree-sitter parsing moves
	// off the scan loop onto a background worker.
	ParseOffloadBytes int `yaml:"parse_offload_bytes"`
}

// LoggingConfig mirrors the block the logging package reads on its own; it is
// surfaced here so `mecha config` can print the whole document.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the built-in configuration.
func Default(workspace string) Config {
	return Config{
		LLM: LLMConfig{
			Provider:              "anthropic",
			Model:                 "ClaudeSonnet",
			RequestTimeoutSeconds: 120,
		},
		Tools: ToolsConfig{
			Concurrency:            8,
			LSPBridgeURL:           "http://localhost:42427",
			TerminalTimeoutSeconds: 30,
		},
		Session: SessionConfig{Dir: filepath.Join(workspace, ".mecha", "sessions")},
		Symbol:  SymbolConfig{MailboxCapacity: 64},
		RepoMap: RepoMapConfig{TokenBudget: 1024, ParseOffloadBytes: 1 << 20},
	}
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".mecha", "config.yaml")
}

// Load reads the workspace config, falling back to defaults when the file is
// absent, then applies environment overrides. Environment wins over file:
// `api_key` and `api_base` override the default provider's credentials.
func Load(workspace string) (Config, error) {
	cfg := Default(workspace)

	data, err := os.ReadFile(Path(workspace))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("api_key"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("api_base"); v != "" {
		cfg.LLM.APIBase = v
	}
}

func (c Config) validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("%w: llm.provider is empty", ErrInvalidConfig)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: llm.model is empty", ErrInvalidConfig)
	}
	if c.Tools.Concurrency < 0 {
		return fmt.Errorf("%w: tools.concurrency is negative", ErrInvalidConfig)
	}
	return nil
}

// Save writes the config document, creating .mecha/ if needed.
func Save(workspace string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
