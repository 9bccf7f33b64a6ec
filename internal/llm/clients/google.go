package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"mecha/internal/llm"
	"mecha/internal/llm/format"
	"mecha/internal/llm/tokenizer"
	"mecha/internal/logging"
)

const googleDefaultBaseURL = "https://generativelanguage.googleapis.com"

var googleModels = map[llm.LLMType]string{
	llm.GeminiPro: "gemini-1.5-pro",
}

// Google streams from the Generative Language API. Auth rides on a URL
// parameter rather than a header, and the stream is SSE.
type Google struct{}

func NewGoogle() *Google { return &Google{} }

func (*Google) Provider() llm.Provider { return llm.ProviderGoogle }

func (*Google) SupportsModel(model llm.LLMType) bool {
	_, ok := googleModels[model]
	return ok
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type googleBody struct {
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	Contents          []googleContent        `json:"contents"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig"`
}

type googleChunk struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func parseGoogleChunk(payload []byte) (string, llm.FinishReason, bool, error) {
	var chunk googleChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", llm.FinishNone, false, err
	}
	if len(chunk.Candidates) == 0 {
		return "", llm.FinishNone, false, nil
	}
	cand := chunk.Candidates[0]
	var delta string
	for _, p := range cand.Content.Parts {
		delta += p.Text
	}
	switch cand.FinishReason {
	case "", "FINISH_REASON_UNSPECIFIED":
		return delta, llm.FinishNone, false, nil
	case "MAX_TOKENS":
		return delta, llm.FinishLength, true, nil
	case "SAFETY", "RECITATION":
		return delta, llm.FinishContentFilter, true, nil
	default: // STOP
		return delta, llm.FinishStop, true, nil
	}
}

func (c *Google) StreamCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionRequest, sink llm.StreamSink) (string, error) {
	gc, ok := creds.(llm.GoogleCredentials)
	if !ok {
		return "", fmt.Errorf("%w: google client received %T", llm.ErrMissingCredential, creds)
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	wireModel, ok2 := googleModels[req.Model]
	if !ok2 {
		return "", fmt.Errorf("%w: google has no %s", llm.ErrProviderModelMismatch, req.Model)
	}

	payload, err := format.Chat(req.Model, req.Messages)
	if err != nil {
		return "", err
	}
	var system *googleContent
	contents := make([]googleContent, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = &googleContent{Parts: []googlePart{{Text: m.Content}}}
		case llm.RoleAssistant:
			contents = append(contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}

	var maxTokens *int
	if req.HasMaxTokens {
		maxTokens = &req.MaxTokens
	}
	body, err := json.Marshal(googleBody{
		SystemInstruction: system,
		Contents:          contents,
		GenerationConfig: googleGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
			StopSequences:   req.Stop,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrInvalidRequest, err)
	}

	baseURL := gc.BaseURL
	if baseURL == "" {
		baseURL = googleDefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		baseURL, wireModel, url.QueryEscape(gc.APIKey))

	logging.Provider("google: streaming %s", wireModel)
	return runStream(ctx, streamRequest{
		URL:      endpoint,
		Body:     body,
		Protocol: protoSSE,
		Parse:    parseGoogleChunk,
		Model:    wireModel,
		Provider: llm.ProviderGoogle,
	}, sink)
}

// StreamPromptCompletion wraps the raw prompt in a single user turn; the API
// has no text-completion endpoint.
func (c *Google) StreamPromptCompletion(ctx context.Context, creds llm.Credentials, req llm.CompletionStringRequest, sink llm.StreamSink) (string, error) {
	return c.StreamCompletion(ctx, creds, llm.CompletionRequest{
		Model:        req.Model,
		Messages:     []llm.Message{llm.UserMessage(req.Prompt)},
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		HasMaxTokens: req.HasMaxTokens,
		Stop:         req.Stop,
	}, sink)
}

func (*Google) CountTokens(model llm.LLMType, text string) (int, error) {
	return tokenizer.Count(llm.Info(model).Tokenizer, text), nil
}
