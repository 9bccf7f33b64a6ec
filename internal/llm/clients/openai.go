package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"mecha/internal/llm"
	"mecha/internal/llm/format"
	"mecha/internal/llm/tokenizer"
	"mecha/internal/logging"
)

// openAICore is the shared implementation for every provider speaking the
// OpenAI chat-completions wire protocol (OpenAI, TogetherAI, Fireworks,
// OpenRouter, CodeStory). Provider-specific auth and model tables plug in.
type openAICore struct {
	provider llm.Provider
	chatPath string
	rawPath  string // empty when the provider has no completions endpoint
	models   map[llm.LLMType]string
	// auth extracts the base URL and headers from the provider's credential
	// variant; it fails on a mismatched credential type.
	auth func(creds llm.Credentials) (baseURL string, headers http.Header, err error)
}

func (c *openAICore) Provider() llm.Provider { return c.provider }

func (c *openAICore) SupportsModel(model llm.LLMType) bool {
	_, ok := c.models[model]
	return ok
}

func (c *openAICore) CountTokens(model llm.LLMType, text string) (int, error) {
	return tokenizer.Count(llm.Info(model).Tokenizer, text), nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatBody struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Temperature      float64         `json:"temperature,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty,omitempty"`
	Stream           bool            `json:"stream"`
}

type openAIRawBody struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func parseOpenAIChunk(payload []byte) (string, llm.FinishReason, bool, error) {
	var chunk openAIChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", llm.FinishNone, false, err
	}
	if len(chunk.Choices) == 0 {
		return "", llm.FinishNone, false, nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta.Content
	if delta == "" {
		delta = choice.Text
	}
	finish := llm.FinishNone
	if choice.FinishReason != nil {
		finish = openAIFinishReason(*choice.FinishReason)
	}
	return delta, finish, false, nil
}

func openAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "length":
		return llm.FinishLength
	case "content_filter":
		return llm.FinishContentFilter
	case "tool_calls", "function_call":
		return llm.FinishToolCall
	case "":
		return llm.FinishNone
	default: // stop and provider-specific synonyms
		return llm.FinishStop
	}
}

func (c *openAICore) StreamCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionRequest, sink llm.StreamSink) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	wireModel, ok := c.models[req.Model]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s", llm.ErrProviderModelMismatch, c.provider, req.Model)
	}
	baseURL, headers, err := c.auth(creds)
	if err != nil {
		return "", err
	}

	payload, err := format.Chat(req.Model, req.Messages)
	if err != nil {
		return "", err
	}
	messages := make([]openAIMessage, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		messages = append(messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	var maxTokens *int
	if req.HasMaxTokens {
		maxTokens = &req.MaxTokens
	}
	body, err := json.Marshal(openAIChatBody{
		Model:            wireModel,
		Messages:         messages,
		Temperature:      req.Temperature,
		MaxTokens:        maxTokens,
		Stop:             req.Stop,
		FrequencyPenalty: req.FrequencyPenalty,
		Stream:           true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrInvalidRequest, err)
	}

	logging.Provider("%s: streaming %s", c.provider, wireModel)
	return runStream(ctx, streamRequest{
		URL:      baseURL + c.chatPath,
		Headers:  headers,
		Body:     body,
		Protocol: protoSSE,
		Parse:    parseOpenAIChunk,
		Model:    wireModel,
		Provider: c.provider,
	}, sink)
}

func (c *openAICore) StreamPromptCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionStringRequest, sink llm.StreamSink) (string, error) {
	if c.rawPath == "" {
		return "", fmt.Errorf("%w: %s", llm.ErrRawCompletionUnsupported, c.provider)
	}
	wireModel, ok := c.models[req.Model]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s", llm.ErrProviderModelMismatch, c.provider, req.Model)
	}
	baseURL, headers, err := c.auth(creds)
	if err != nil {
		return "", err
	}

	var maxTokens *int
	if req.HasMaxTokens {
		maxTokens = &req.MaxTokens
	}
	body, err := json.Marshal(openAIRawBody{
		Model:       wireModel,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Stop:        req.Stop,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrInvalidRequest, err)
	}

	logging.Provider("%s: streaming raw prompt on %s", c.provider, wireModel)
	return runStream(ctx, streamRequest{
		URL:      baseURL + c.rawPath,
		Headers:  headers,
		Body:     body,
		Protocol: protoSSE,
		Parse:    parseOpenAIChunk,
		Model:    wireModel,
		Provider: c.provider,
	}, sink)
}

func bearer(key string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	return h
}

// OpenAI is the first-party OpenAI client.
type OpenAI struct {
	openAICore
}

func NewOpenAI() *OpenAI {
	c := &OpenAI{}
	c.openAICore = openAICore{
		provider: llm.ProviderOpenAI,
		chatPath: "/v1/chat/completions",
		models: map[llm.LLMType]string{
			llm.Gpt4:       "gpt-4",
			llm.Gpt4_32k:   "gpt-4-32k",
			llm.Gpt4Turbo:  "gpt-4-turbo",
			llm.Gpt3_5_16k: "gpt-3.5-turbo-16k",
		},
		auth: func(creds llm.Credentials) (string, http.Header, error) {
			oc, ok := creds.(llm.OpenAICredentials)
			if !ok {
				return "", nil, fmt.Errorf("%w: openai client received %T", llm.ErrMissingCredential, creds)
			}
			base := oc.BaseURL
			if base == "" {
				base = "https://api.openai.com"
			}
			h := bearer(oc.APIKey)
			if oc.Organization != "" {
				h.Set("OpenAI-Organization", oc.Organization)
			}
			return base, h, nil
		},
	}
	return c
}
