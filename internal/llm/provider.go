package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"mecha/internal/logging"
)

// Provider identifies an upstream completion API.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderOllama     Provider = "ollama"
	ProviderTogetherAI Provider = "togetherai"
	ProviderFireworks  Provider = "fireworks"
	ProviderOpenRouter Provider = "openrouter"
	ProviderCodeStory  Provider = "codestory"
	ProviderGoogle     Provider = "google"
)

// Credentials is the tagged credential variant. Each provider's struct carries
// only what that provider needs. String() on every variant redacts secrets so
// credentials cannot leak through logging.
type Credentials interface {
	Provider() Provider
}

// AnthropicCredentials authenticate via the x-api-key header.
type AnthropicCredentials struct {
	APIKey  string
	BaseURL string // optional override, defaults to the public endpoint
}

func (AnthropicCredentials) Provider() Provider { return ProviderAnthropic }
func (AnthropicCredentials) String() string     { return "anthropic:<redacted>" }

// OpenAICredentials authenticate via Authorization: Bearer.
type OpenAICredentials struct {
	APIKey       string
	BaseURL      string
	Organization string
}

func (OpenAICredentials) Provider() Provider { return ProviderOpenAI }
func (OpenAICredentials) String() string     { return "openai:<redacted>" }

// OllamaCredentials carry only the local endpoint; Ollama has no API key.
type OllamaCredentials struct {
	BaseURL string
}

func (OllamaCredentials) Provider() Provider { return ProviderOllama }
func (OllamaCredentials) String() string     { return "ollama" }

// TogetherAICredentials authenticate via Authorization: Bearer.
type TogetherAICredentials struct {
	APIKey string
}

func (TogetherAICredentials) Provider() Provider { return ProviderTogetherAI }
func (TogetherAICredentials) String() string     { return "togetherai:<redacted>" }

// FireworksCredentials authenticate via Authorization: Bearer.
type FireworksCredentials struct {
	APIKey  string
	BaseURL string
}

func (FireworksCredentials) Provider() Provider { return ProviderFireworks }
func (FireworksCredentials) String() string     { return "fireworks:<redacted>" }

// OpenRouterCredentials authenticate via Authorization: Bearer; the optional
// site fields populate the attribution headers OpenRouter asks for.
type OpenRouterCredentials struct {
	APIKey   string
	SiteURL  string
	SiteName string
}

func (OpenRouterCredentials) Provider() Provider { return ProviderOpenRouter }
func (OpenRouterCredentials) String() string     { return "openrouter:<redacted>" }

// CodeStoryCredentials authenticate via Authorization: Bearer against the
// CodeStory completion proxy.
type CodeStoryCredentials struct {
	APIKey  string
	BaseURL string
}

func (CodeStoryCredentials) Provider() Provider { return ProviderCodeStory }
func (CodeStoryCredentials) String() string     { return "codestory:<redacted>" }

// GoogleCredentials authenticate via the key URL parameter.
type GoogleCredentials struct {
	APIKey  string
	BaseURL string
}

func (GoogleCredentials) Provider() Provider { return ProviderGoogle }
func (GoogleCredentials) String() string     { return "google:<redacted>" }

// CredentialStore holds per-provider credentials. Reads dominate; writes
// (initial load and hot-reload) are serialized behind the write lock.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[Provider]Credentials
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[Provider]Credentials)}
}

// Set stores credentials for their provider.
func (s *CredentialStore) Set(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.Provider()] = c
}

// Get returns the credentials for a provider.
func (s *CredentialStore) Get(p Provider) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingCredential, p)
	}
	return c, nil
}

// Has reports whether credentials exist for a provider.
func (s *CredentialStore) Has(p Provider) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[p]
	return ok
}

// ReplaceAll swaps the full credential set atomically. Used by hot-reload.
func (s *CredentialStore) ReplaceAll(creds []Credentials) {
	next := make(map[Provider]Credentials, len(creds))
	for _, c := range creds {
		next[c.Provider()] = c
	}
	s.mu.Lock()
	s.creds = next
	s.mu.Unlock()
	logging.Broker("credential store reloaded: %d providers", len(next))
}

// Watch hot-reloads credentials whenever path changes, until ctx is done.
// The reload callback parses the file and returns the new credential set;
// parse failures keep the previous set.
func (s *CredentialStore) Watch(ctx context.Context, path string, reload func(path string) ([]Credentials, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				creds, err := reload(path)
				if err != nil {
					logging.BrokerWarn("credential reload failed, keeping previous set: %v", err)
					continue
				}
				s.ReplaceAll(creds)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.BrokerWarn("credential watcher error: %v", err)
			}
		}
	}()
	return nil
}
