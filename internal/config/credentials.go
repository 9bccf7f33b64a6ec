package config

import (
	"fmt"

	"mecha/internal/llm"
)

// Credentials maps the config's provider blocks to the broker's credential
// set. The default provider's top-level api_key/api_base take precedence over
// a providers block with the same name.
func (c Config) Credentials() ([]llm.Credentials, error) {
	blocks := make(map[string]ProviderConfig, len(c.LLM.Providers)+1)
	for name, pc := range c.LLM.Providers {
		blocks[name] = pc
	}
	if c.LLM.Provider != "" {
		blocks[c.LLM.Provider] = ProviderConfig{
			APIKey:  c.LLM.APIKey,
			APIBase: c.LLM.APIBase,
		}
	}

	var out []llm.Credentials
	for name, pc := range blocks {
		cred, err := credentialFor(llm.Provider(name), pc)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

func credentialFor(p llm.Provider, pc ProviderConfig) (llm.Credentials, error) {
	switch p {
	case llm.ProviderAnthropic:
		return llm.AnthropicCredentials{APIKey: pc.APIKey, BaseURL: pc.APIBase}, nil
	case llm.ProviderOpenAI:
		return llm.OpenAICredentials{APIKey: pc.APIKey, BaseURL: pc.APIBase}, nil
	case llm.ProviderOllama:
		return llm.OllamaCredentials{BaseURL: pc.APIBase}, nil
	case llm.ProviderTogetherAI:
		return llm.TogetherAICredentials{APIKey: pc.APIKey}, nil
	case llm.ProviderFireworks:
		return llm.FireworksCredentials{APIKey: pc.APIKey, BaseURL: pc.APIBase}, nil
	case llm.ProviderOpenRouter:
		return llm.OpenRouterCredentials{APIKey: pc.APIKey, SiteURL: pc.SiteURL, SiteName: pc.SiteName}, nil
	case llm.ProviderCodeStory:
		return llm.CodeStoryCredentials{APIKey: pc.APIKey, BaseURL: pc.APIBase}, nil
	case llm.ProviderGoogle:
		return llm.GoogleCredentials{APIKey: pc.APIKey, BaseURL: pc.APIBase}, nil
	}
	return nil, fmt.Errorf("%w: provider %q", ErrInvalidConfig, p)
}

// ReloadCredentials re-reads the workspace config and returns the fresh
// credential set. It is shaped for CredentialStore.Watch.
func ReloadCredentials(workspace string) func(path string) ([]llm.Credentials, error) {
	return func(string) ([]llm.Credentials, error) {
		cfg, err := Load(workspace)
		if err != nil {
			return nil, err
		}
		return cfg.Credentials()
	}
}
