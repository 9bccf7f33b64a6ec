// Package llm defines the provider-agnostic completion types and the broker
// that routes streaming requests to provider clients.
package llm

import (
	"context"
	"strings"
)

// LLMType identifies a model. The known constants below carry default
// tokenizer and prompt-dialect metadata in the catalog; any other value is
// treated as a custom model and falls back to the plain chat dialect.
type LLMType string

const (
	Mixtral                 LLMType = "Mixtral"
	MistralInstruct         LLMType = "MistralInstruct"
	Gpt4                    LLMType = "Gpt4"
	Gpt4_32k                LLMType = "Gpt4_32k"
	Gpt4Turbo               LLMType = "Gpt4Turbo"
	Gpt3_5_16k              LLMType = "GPT3_5_16k"
	DeepSeekCoder1_3B       LLMType = "DeepSeekCoder1.3BInstruct"
	DeepSeekCoder6B         LLMType = "DeepSeekCoder6BInstruct"
	DeepSeekCoder33B        LLMType = "DeepSeekCoder33BInstruct"
	CodeLlama70BInstruct    LLMType = "CodeLLama70BInstruct"
	CodeLlama13BInstruct    LLMType = "CodeLlama13BInstruct"
	CodeLlama7BInstruct     LLMType = "CodeLlama7BInstruct"
	Llama3_8bInstruct       LLMType = "Llama3_8bInstruct"
	ClaudeOpus              LLMType = "ClaudeOpus"
	ClaudeSonnet            LLMType = "ClaudeSonnet"
	ClaudeHaiku             LLMType = "ClaudeHaiku"
	GeminiPro               LLMType = "GeminiPro1.5"
)

// IsCustom reports whether the model is outside the known catalog.
func (t LLMType) IsCustom() bool {
	_, ok := catalog[t]
	return !ok
}

// IsAnthropic reports whether the model belongs to the Claude family.
func (t LLMType) IsAnthropic() bool {
	switch t {
	case ClaudeOpus, ClaudeSonnet, ClaudeHaiku:
		return true
	}
	return false
}

// IsOpenAI reports whether the model belongs to the GPT family.
func (t LLMType) IsOpenAI() bool {
	switch t {
	case Gpt4, Gpt4_32k, Gpt4Turbo, Gpt3_5_16k:
		return true
	}
	return false
}

// Role is a chat message author role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// FunctionCall is an assistant-initiated function invocation. Arguments are
// kept as the raw JSON string the model produced; validation happens upstream.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn of a completion request.
type Message struct {
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// CompletionRequest is an immutable chat completion request. Treat a
// dispatched request as frozen; the broker and clients never mutate it.
type CompletionRequest struct {
	Model            LLMType
	Messages         []Message
	Temperature      float64
	MaxTokens        int // 0 means provider default; set HasMaxTokens for an explicit 0
	HasMaxTokens     bool
	Stop             []string
	FrequencyPenalty float64
}

// Validate enforces the message-shape invariants: at least one message, and
// the first non-system message authored by the user.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrInvalidRequest
	}
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			continue
		}
		if m.Role != RoleUser {
			return ErrInvalidRequest
		}
		break
	}
	return nil
}

// CompletionStringRequest is the raw-prompt variant used for fill-in-the-middle
// and plain completion endpoints.
type CompletionStringRequest struct {
	Model        LLMType
	Prompt       string
	Temperature  float64
	MaxTokens    int
	HasMaxTokens bool
	Stop         []string
}

// FinishReason explains why a stream terminated.
type FinishReason string

const (
	FinishNone          FinishReason = ""
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCall      FinishReason = "tool_call"
)

// StreamChunk is one token delta of a streaming response. Cumulative is the
// concatenation of every prior delta for the same request; FinishReason is
// non-empty on exactly the terminal chunk.
type StreamChunk struct {
	Delta        string
	Cumulative   string
	FinishReason FinishReason
	Model        string
}

// StreamSink receives chunks in source order. The provider client calls it
// inline between reads, so implementations must not block for long. After a
// client returns an error the sink receives no further chunks.
type StreamSink func(StreamChunk)

// Discard is a sink that drops chunks, for callers that only want the final text.
func Discard(StreamChunk) {}

// ChannelSink adapts a channel to a StreamSink. The caller owns the channel
// and must drain it; sends respect ctx so a stalled reader cannot wedge the
// provider goroutine.
func ChannelSink(ctx context.Context, ch chan<- StreamChunk) StreamSink {
	return func(chunk StreamChunk) {
		select {
		case ch <- chunk:
		case <-ctx.Done():
		}
	}
}

// accumulator tracks cumulative text so clients can fill StreamChunk.Cumulative.
type accumulator struct {
	sb strings.Builder
}

func (a *accumulator) push(delta string) string {
	a.sb.WriteString(delta)
	return a.sb.String()
}

func (a *accumulator) text() string {
	return a.sb.String()
}

// Client is a single-provider streaming client. Implementations parse the
// provider's wire protocol and forward token deltas to the sink in source
// order; on abnormal termination the sink receives nothing further after the
// error is returned.
type Client interface {
	// Provider returns the provider this client speaks to.
	Provider() Provider

	// SupportsModel consults the client's static model-support table.
	SupportsModel(model LLMType) bool

	// StreamCompletion runs a chat completion, pushing chunks into sink, and
	// returns the final concatenated text.
	StreamCompletion(ctx context.Context, creds Credentials, req CompletionRequest, sink StreamSink) (string, error)

	// StreamPromptCompletion runs a raw-prompt completion (FIM dialects).
	StreamPromptCompletion(ctx context.Context, creds Credentials, req CompletionStringRequest, sink StreamSink) (string, error)

	// CountTokens delegates to the tokenizer selected for the model.
	CountTokens(model LLMType, text string) (int, error)
}
