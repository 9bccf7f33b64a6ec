package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mecha/internal/logging"
)

// FailoverMarker is the synthetic delta emitted into the caller's sink before
// any failover text, so a partial primary prefix is never silently
// concatenated with the secondary stream.
const FailoverMarker = "<fail_over_to_new_llm>"

const defaultRequestTimeout = 120 * time.Second

// FailoverTarget is the optional secondary (model, provider) pair tried at
// most once when the primary fails with a retriable error.
type FailoverTarget struct {
	Model    LLMType
	Provider Provider
}

// FailoverRecorder journals failover events. The broker records exactly one
// entry per failover attempt.
type FailoverRecorder interface {
	RecordFailover(from Provider, fromModel LLMType, to Provider, toModel LLMType, cause error)
}

// Broker routes completion requests to provider clients. The client registry
// and credential store are populated at startup; afterwards only credential
// hot-reload mutates broker state.
type Broker struct {
	mu       sync.RWMutex
	clients  map[Provider]Client
	creds    *CredentialStore
	failover *FailoverTarget
	recorder FailoverRecorder
	timeout  time.Duration
}

// BrokerOption configures a Broker at construction.
type BrokerOption func(*Broker)

// WithFailover configures the single failover pair.
func WithFailover(target FailoverTarget) BrokerOption {
	return func(b *Broker) { b.failover = &target }
}

// WithFailoverRecorder journals failover events through r.
func WithFailoverRecorder(r FailoverRecorder) BrokerOption {
	return func(b *Broker) { b.recorder = r }
}

// WithRequestTimeout overrides the end-to-end per-request timeout.
func WithRequestTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) { b.timeout = d }
}

// NewBroker creates a broker over the given credential store.
func NewBroker(creds *CredentialStore, opts ...BrokerOption) *Broker {
	b := &Broker{
		clients: make(map[Provider]Client),
		creds:   creds,
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register installs a client for its provider. Call during startup only.
func (b *Broker) Register(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.Provider()] = c
}

// clientFor resolves the client and verifies the model against its static
// support table. Custom model ids bypass the table since the provider decides
// whether it can serve them.
func (b *Broker) clientFor(provider Provider, model LLMType) (Client, error) {
	b.mu.RLock()
	c, ok := b.clients[provider]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if !model.IsCustom() && !c.SupportsModel(model) {
		return nil, fmt.Errorf("%w: %s does not serve %s", ErrProviderModelMismatch, provider, model)
	}
	return c, nil
}

// Stream runs a chat completion against (req.Model, provider), pushing chunks
// into sink and returning the final text. On a retriable primary failure the
// configured failover pair is tried at most once; the sink then first receives
// the FailoverMarker chunk and the cumulative text restarts after it.
func (b *Broker) Stream(ctx context.Context, provider Provider, req CompletionRequest, sink StreamSink) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	// An explicit zero-token budget completes immediately with empty text,
	// but only after routing and credentials check out: a request the broker
	// could never serve must not look successful.
	if req.HasMaxTokens && req.MaxTokens == 0 {
		if _, err := b.clientFor(provider, req.Model); err != nil {
			return "", err
		}
		if _, err := b.creds.Get(provider); err != nil {
			return "", err
		}
		sink(StreamChunk{FinishReason: FinishLength, Model: string(req.Model)})
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	text, err := b.streamOn(ctx, provider, req, sink)
	if err == nil || !IsRetriable(err) || b.failover == nil {
		return text, err
	}

	target := *b.failover
	logging.BrokerWarn("primary %s/%s failed (%v), failing over to %s/%s",
		provider, req.Model, err, target.Provider, target.Model)
	if b.recorder != nil {
		b.recorder.RecordFailover(provider, req.Model, target.Provider, target.Model, err)
	}

	sink(StreamChunk{Delta: FailoverMarker, Cumulative: FailoverMarker, Model: string(target.Model)})
	failReq := req
	failReq.Model = target.Model
	return b.streamOn(ctx, target.Provider, failReq, sink)
}

func (b *Broker) streamOn(ctx context.Context, provider Provider, req CompletionRequest, sink StreamSink) (string, error) {
	c, err := b.clientFor(provider, req.Model)
	if err != nil {
		return "", err
	}
	creds, err := b.creds.Get(provider)
	if err != nil {
		return "", err
	}
	return c.StreamCompletion(ctx, creds, req, sink)
}

// StreamPrompt runs a raw-prompt completion (FIM dialects). Failover does not
// apply: sentinel families are model-specific, so a secondary model would
// receive a prompt framed for the primary.
func (b *Broker) StreamPrompt(ctx context.Context, provider Provider, req CompletionStringRequest, sink StreamSink) (string, error) {
	c, err := b.clientFor(provider, req.Model)
	if err != nil {
		return "", err
	}
	creds, err := b.creds.Get(provider)
	if err != nil {
		return "", err
	}

	if req.HasMaxTokens && req.MaxTokens == 0 {
		sink(StreamChunk{FinishReason: FinishLength, Model: string(req.Model)})
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return c.StreamPromptCompletion(ctx, creds, req, sink)
}

// CountTokens delegates to the provider client's tokenizer selection.
func (b *Broker) CountTokens(provider Provider, model LLMType, text string) (int, error) {
	c, err := b.clientFor(provider, model)
	if err != nil {
		return 0, err
	}
	return c.CountTokens(model, text)
}
