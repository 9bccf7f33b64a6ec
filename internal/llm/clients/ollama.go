package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"mecha/internal/llm"
	"mecha/internal/llm/format"
	"mecha/internal/llm/tokenizer"
	"mecha/internal/logging"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// ollamaModels maps model ids to local tags. Ollama serves whatever is pulled
// locally; this table covers the models the catalog knows how to prompt.
var ollamaModels = map[llm.LLMType]string{
	llm.Mixtral:              "mixtral",
	llm.MistralInstruct:      "mistral",
	llm.CodeLlama70BInstruct: "codellama:70b-instruct",
	llm.CodeLlama13BInstruct: "codellama:13b-instruct",
	llm.CodeLlama7BInstruct:  "codellama:7b-instruct",
	llm.Llama3_8bInstruct:    "llama3:8b",
	llm.DeepSeekCoder1_3B:    "deepseek-coder:1.3b-instruct",
	llm.DeepSeekCoder6B:      "deepseek-coder:6.7b-instruct",
	llm.DeepSeekCoder33B:     "deepseek-coder:33b-instruct",
}

// Ollama streams from a local Ollama daemon. The wire protocol is
// newline-delimited JSON rather than SSE.
type Ollama struct{}

func NewOllama() *Ollama { return &Ollama{} }

func (*Ollama) Provider() llm.Provider { return llm.ProviderOllama }

func (*Ollama) SupportsModel(model llm.LLMType) bool {
	_, ok := ollamaModels[model]
	return ok
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatBody struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
	Stream   bool            `json:"stream"`
}

type ollamaGenerateBody struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Options ollamaOptions `json:"options"`
	Stream  bool          `json:"stream"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

func parseOllamaChunk(payload []byte) (string, llm.FinishReason, bool, error) {
	var chunk ollamaChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", llm.FinishNone, false, err
	}
	if chunk.Error != "" {
		return "", llm.FinishNone, false, fmt.Errorf("ollama error: %s", chunk.Error)
	}
	delta := chunk.Message.Content
	if delta == "" {
		delta = chunk.Response
	}
	if chunk.Done {
		finish := llm.FinishStop
		if chunk.DoneReason == "length" {
			finish = llm.FinishLength
		}
		return delta, finish, true, nil
	}
	return delta, llm.FinishNone, false, nil
}

func ollamaCreds(creds llm.Credentials) (string, error) {
	oc, ok := creds.(llm.OllamaCredentials)
	if !ok {
		return "", fmt.Errorf("%w: ollama client received %T", llm.ErrMissingCredential, creds)
	}
	if oc.BaseURL == "" {
		return ollamaDefaultBaseURL, nil
	}
	return oc.BaseURL, nil
}

func (c *Ollama) StreamCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionRequest, sink llm.StreamSink) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	tag, ok := ollamaModels[req.Model]
	if !ok {
		return "", fmt.Errorf("%w: ollama has no %s", llm.ErrProviderModelMismatch, req.Model)
	}
	baseURL, err := ollamaCreds(creds)
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

	var numPredict *int
	if req.HasMaxTokens {
		numPredict = &req.MaxTokens
	}
	body, err := json.Marshal(ollamaChatBody{
		Model:    tag,
		Messages: messages,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  numPredict,
			Stop:        req.Stop,
		},
		Stream: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrInvalidRequest, err)
	}

	logging.Provider("ollama: streaming %s", tag)
	return runStream(ctx, streamRequest{
		URL:      baseURL + "/api/chat",
		Body:     body,
		Protocol: protoNDJSON,
		Parse:    parseOllamaChunk,
		Model:    tag,
		Provider: llm.ProviderOllama,
	}, sink)
}

// StreamPromptCompletion uses /api/generate in raw mode so the caller's FIM
// sentinels pass through without template expansion.
func (c *Ollama) StreamPromptCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionStringRequest, sink llm.StreamSink) (string, error) {
	tag, ok := ollamaModels[req.Model]
	if !ok {
		return "", fmt.Errorf("%w: ollama has no %s", llm.ErrProviderModelMismatch, req.Model)
	}
	baseURL, err := ollamaCreds(creds)
	if err != nil {
		return "", err
	}

	var numPredict *int
	if req.HasMaxTokens {
		numPredict = &req.MaxTokens
	}
	body, err := json.Marshal(ollamaGenerateBody{
		Model:  tag,
		Prompt: req.Prompt,
		Raw:    true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  numPredict,
			Stop:        req.Stop,
		},
		Stream: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrInvalidRequest, err)
	}

	logging.Provider("ollama: streaming raw prompt on %s", tag)
	return runStream(ctx, streamRequest{
		URL:      baseURL + "/api/generate",
		Body:     body,
		Protocol: protoNDJSON,
		Parse:    parseOllamaChunk,
		Model:    tag,
		Provider: llm.ProviderOllama,
	}, sink)
}

func (*Ollama) CountTokens(model llm.LLMType, text string) (int, error) {
	return tokenizer.Count(llm.Info(model).Tokenizer, text), nil
}
