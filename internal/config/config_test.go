package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mecha/internal/llm"
)

func writeConfig(t *testing.T, workspace, body string) {
	t.Helper()
	dir := filepath.Join(workspace, ".mecha")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 8, cfg.Tools.Concurrency)
	assert.Equal(t, 64, cfg.Symbol.MailboxCapacity)
	assert.Equal(t, 120, cfg.LLM.RequestTimeoutSeconds)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `
llm:
  provider: openai
  model: Gpt4
  api_key: sk-test
tools:
  concurrency: 2
`)
	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 2, cfg.Tools.Concurrency)
	// Untouched sections keep their defaults.
	assert.Equal(t, "http://localhost:42427", cfg.Tools.LSPBridgeURL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, "llm:\n  provider: openai\n  model: Gpt4\n  api_key: from-file\n")
	t.Setenv("api_key", "from-env")
	t.Setenv("api_base", "http://proxy.internal")

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "http://proxy.internal", cfg.LLM.APIBase)
}

func TestMalformedConfigRejected(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, "llm: [not a mapping")
	_, err := Load(ws)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCredentialsMapping(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-default"
	cfg.LLM.Providers = map[string]ProviderConfig{
		"togetherai": {APIKey: "tk"},
		"ollama":     {APIBase: "http://localhost:11434"},
	}

	creds, err := cfg.Credentials()
	require.NoError(t, err)

	byProvider := make(map[llm.Provider]llm.Credentials)
	for _, c := range creds {
		byProvider[c.Provider()] = c
	}
	oa, ok := byProvider[llm.ProviderOpenAI].(llm.OpenAICredentials)
	require.True(t, ok, "openai creds: %+v", byProvider[llm.ProviderOpenAI])
	assert.Equal(t, "sk-default", oa.APIKey)

	ol, ok := byProvider[llm.ProviderOllama].(llm.OllamaCredentials)
	require.True(t, ok, "ollama creds: %+v", byProvider[llm.ProviderOllama])
	assert.Equal(t, "http://localhost:11434", ol.BaseURL)

	assert.Contains(t, byProvider, llm.ProviderTogetherAI)
}

func TestUnknownProviderRejected(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.LLM.Provider = "skynet"
	_, err := cfg.Credentials()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := Default(ws)
	cfg.LLM.Model = "ClaudeOpus"
	require.NoError(t, Save(ws, cfg))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "ClaudeOpus", loaded.LLM.Model)
}
