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

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	// Anthropic requires max_tokens on every request.
	anthropicDefaultMaxTokens = 4096
)

// anthropicModels is the static support table mapping model ids to the wire
// names the API expects.
var anthropicModels = map[llm.LLMType]string{
	llm.ClaudeOpus:   "claude-3-opus-20240229",
	llm.ClaudeSonnet: "claude-3-5-sonnet-20241022",
	llm.ClaudeHaiku:  "claude-3-haiku-20240307",
}

// Anthropic streams completions from the Messages API.
type Anthropic struct{}

func NewAnthropic() *Anthropic { return &Anthropic{} }

func (*Anthropic) Provider() llm.Provider { return llm.ProviderAnthropic }

func (*Anthropic) SupportsModel(model llm.LLMType) bool {
	_, ok := anthropicModels[model]
	return ok
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicBody struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

func (c *Anthropic) StreamCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionRequest, sink llm.StreamSink) (string, error) {
	ac, ok := creds.(llm.AnthropicCredentials)
	if !ok {
		return "", fmt.Errorf("%w: anthropic client received %T", llm.ErrMissingCredential, creds)
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	wireModel, ok := anthropicModels[req.Model]
	if !ok {
		return "", fmt.Errorf("%w: anthropic has no %s", llm.ErrProviderModelMismatch, req.Model)
	}

	payload, err := format.Chat(req.Model, req.Messages)
	if err != nil {
		return "", err
	}
	messages := make([]anthropicMessage, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.HasMaxTokens {
		maxTokens = req.MaxTokens
	}
	body, err := json.Marshal(anthropicBody{
		Model:         wireModel,
		System:        payload.System,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
		Stream:        true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrInvalidRequest, err)
	}

	baseURL := ac.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	headers := http.Header{}
	headers.Set("x-api-key", ac.APIKey)
	headers.Set("anthropic-version", anthropicVersion)

	logging.Provider("anthropic: streaming %s", wireModel)
	return runStream(ctx, streamRequest{
		URL:      baseURL + "/v1/messages",
		Headers:  headers,
		Body:     body,
		Protocol: protoSSE,
		Parse:    parseAnthropicEvent,
		Model:    wireModel,
		Provider: llm.ProviderAnthropic,
	}, sink)
}

func parseAnthropicEvent(payload []byte) (string, llm.FinishReason, bool, error) {
	var ev anthropicEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", llm.FinishNone, false, err
	}
	switch ev.Type {
	case "content_block_delta":
		return ev.Delta.Text, llm.FinishNone, false, nil
	case "message_delta":
		return "", anthropicStopReason(ev.Delta.StopReason), false, nil
	case "message_stop":
		return "", llm.FinishNone, true, nil
	case "error":
		return "", llm.FinishNone, false, fmt.Errorf("provider error event: %s", payload)
	default:
		// ping, message_start, content_block_start/stop carry no tokens.
		return "", llm.FinishNone, false, nil
	}
}

func anthropicStopReason(reason string) llm.FinishReason {
	switch reason {
	case "":
		return llm.FinishNone
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCall
	default: // end_turn, stop_sequence
		return llm.FinishStop
	}
}

// StreamPromptCompletion wraps the raw prompt in a single user turn; the
// Messages API has no text-completion endpoint.
func (c *Anthropic) StreamPromptCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionStringRequest, sink llm.StreamSink) (string, error) {
	return c.StreamCompletion(ctx, creds, llm.CompletionRequest{
		Model:        req.Model,
		Messages:     []llm.Message{llm.UserMessage(req.Prompt)},
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		HasMaxTokens: req.HasMaxTokens,
		Stop:         req.Stop,
	}, sink)
}

func (*Anthropic) CountTokens(model llm.LLMType, text string) (int, error) {
	return tokenizer.Count(llm.Info(model).Tokenizer, text), nil
}
