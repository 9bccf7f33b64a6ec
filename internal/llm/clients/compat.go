package clients

import (
	"fmt"
	"net/http"

	"mecha/internal/llm"
)

// TogetherAI hosts open models behind the OpenAI protocol, including a raw
// completions endpoint used for fill-in-the-middle.
type TogetherAI struct {
	openAICore
}

func NewTogetherAI() *TogetherAI {
	c := &TogetherAI{}
	c.openAICore = openAICore{
		provider: llm.ProviderTogetherAI,
		chatPath: "/v1/chat/completions",
		rawPath:  "/v1/completions",
		models: map[llm.LLMType]string{
			llm.Mixtral:              "mistralai/Mixtral-8x7B-Instruct-v0.1",
			llm.MistralInstruct:      "mistralai/Mistral-7B-Instruct-v0.2",
			llm.CodeLlama70BInstruct: "codellama/CodeLlama-70b-Instruct-hf",
			llm.CodeLlama13BInstruct: "codellama/CodeLlama-13b-Instruct-hf",
			llm.CodeLlama7BInstruct:  "codellama/CodeLlama-7b-Instruct-hf",
			llm.Llama3_8bInstruct:    "meta-llama/Llama-3-8b-chat-hf",
			llm.DeepSeekCoder33B:     "deepseek-ai/deepseek-coder-33b-instruct",
		},
		auth: func(creds llm.Credentials) (string, http.Header, error) {
			tc, ok := creds.(llm.TogetherAICredentials)
			if !ok {
				return "", nil, fmt.Errorf("%w: togetherai client received %T", llm.ErrMissingCredential, creds)
			}
			return "https://api.together.xyz", bearer(tc.APIKey), nil
		},
	}
	return c
}

// Fireworks hosts open models behind the OpenAI protocol.
type Fireworks struct {
	openAICore
}

func NewFireworks() *Fireworks {
	c := &Fireworks{}
	c.openAICore = openAICore{
		provider: llm.ProviderFireworks,
		chatPath: "/inference/v1/chat/completions",
		rawPath:  "/inference/v1/completions",
		models: map[llm.LLMType]string{
			llm.Mixtral:           "accounts/fireworks/models/mixtral-8x7b-instruct",
			llm.MistralInstruct:   "accounts/fireworks/models/mistral-7b-instruct-4k",
			llm.Llama3_8bInstruct: "accounts/fireworks/models/llama-v3-8b-instruct",
			llm.DeepSeekCoder1_3B: "accounts/fireworks/models/deepseek-coder-1b-base",
			llm.DeepSeekCoder6B:   "accounts/fireworks/models/deepseek-coder-7b-base",
		},
		auth: func(creds llm.Credentials) (string, http.Header, error) {
			fc, ok := creds.(llm.FireworksCredentials)
			if !ok {
				return "", nil, fmt.Errorf("%w: fireworks client received %T", llm.ErrMissingCredential, creds)
			}
			base := fc.BaseURL
			if base == "" {
				base = "https://api.fireworks.ai"
			}
			return base, bearer(fc.APIKey), nil
		},
	}
	return c
}

// OpenRouter fronts many upstream providers; attribution headers are optional
// but appreciated by the service.
type OpenRouter struct {
	openAICore
}

func NewOpenRouter() *OpenRouter {
	c := &OpenRouter{}
	c.openAICore = openAICore{
		provider: llm.ProviderOpenRouter,
		chatPath: "/api/v1/chat/completions",
		models: map[llm.LLMType]string{
			llm.Gpt4:         "openai/gpt-4",
			llm.Gpt4Turbo:    "openai/gpt-4-turbo",
			llm.ClaudeOpus:   "anthropic/claude-3-opus",
			llm.ClaudeSonnet: "anthropic/claude-3.5-sonnet",
			llm.ClaudeHaiku:  "anthropic/claude-3-haiku",
			llm.Mixtral:      "mistralai/mixtral-8x7b-instruct",
			llm.GeminiPro:    "google/gemini-pro-1.5",
		},
		auth: func(creds llm.Credentials) (string, http.Header, error) {
			oc, ok := creds.(llm.OpenRouterCredentials)
			if !ok {
				return "", nil, fmt.Errorf("%w: openrouter client received %T", llm.ErrMissingCredential, creds)
			}
			h := bearer(oc.APIKey)
			if oc.SiteURL != "" {
				h.Set("HTTP-Referer", oc.SiteURL)
			}
			if oc.SiteName != "" {
				h.Set("X-Title", oc.SiteName)
			}
			return "https://openrouter.ai", h, nil
		},
	}
	return c
}

// CodeStory is the hosted completion proxy; it accepts the model ids verbatim
// and fans out server-side.
type CodeStory struct {
	openAICore
}

func NewCodeStory() *CodeStory {
	models := make(map[llm.LLMType]string, len(llm.KnownModels()))
	for _, m := range llm.KnownModels() {
		models[m] = string(m)
	}
	c := &CodeStory{}
	c.openAICore = openAICore{
		provider: llm.ProviderCodeStory,
		chatPath: "/v1/chat/completions",
		rawPath:  "/v1/completions",
		models:   models,
		auth: func(creds llm.Credentials) (string, http.Header, error) {
			cc, ok := creds.(llm.CodeStoryCredentials)
			if !ok {
				return "", nil, fmt.Errorf("%w: codestory client received %T", llm.ErrMissingCredential, creds)
			}
			if cc.BaseURL == "" {
				return "", nil, fmt.Errorf("%w: codestory requires a base URL", llm.ErrMissingCredential)
			}
			return cc.BaseURL, bearer(cc.APIKey), nil
		},
	}
	return c
}
