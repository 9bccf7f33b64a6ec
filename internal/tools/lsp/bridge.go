// Package lsp talks to the editor's language-server bridge: a localhost HTTP
// endpoint accepting {kind, payload} envelopes and answering {ok, data|error}.
// The bridge is opaque to the tool broker; only the base URL is configuration.
package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mecha/internal/logging"
	"mecha/internal/tools"
)

// DefaultBaseURL is where the editor extension listens.
const DefaultBaseURL = "http://localhost:42427"

const requestTimeout = 15 * time.Second

// Bridge is an HTTP client for the editor bridge endpoint.
type Bridge struct {
	baseURL string
	client  *http.Client
}

// NewBridge creates a bridge client; an empty baseURL selects DefaultBaseURL.
func NewBridge(baseURL string) *Bridge {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

type envelope struct {
	Kind    tools.ToolType `json:"kind"`
	Payload any            `json:"payload"`
}

type response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Call posts one envelope and returns the data payload.
func (b *Bridge) Call(ctx context.Context, kind tools.ToolType, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	logging.LSP("-> %s", kind)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("bridge read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge status %d", resp.StatusCode)
	}
	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bridge envelope: %w", err)
	}
	if !env.OK {
		return nil, fmt.Errorf("%w: %s", tools.ErrBridgeRejected, env.Error)
	}
	return env.Data, nil
}

// handler forwards an input to the bridge verbatim.
func (b *Bridge) handler(kind tools.ToolType) tools.Handler {
	return func(ctx context.Context, input tools.ToolInput) (tools.ToolOutput, error) {
		data, err := b.Call(ctx, kind, input)
		if err != nil {
			return tools.ToolOutput{}, err
		}
		return tools.ToolOutput{Text: string(data), Data: data}, nil
	}
}

// RegisterAll installs bridge-backed handlers for every LSP-shaped tool kind.
func (b *Bridge) RegisterAll(broker *tools.Broker) {
	for _, kind := range []tools.ToolType{
		tools.ToolGoToDefinitions,
		tools.ToolGoToReferences,
		tools.ToolLSPDiagnostics,
		tools.ToolQuickFix,
		tools.ToolInlayHints,
		tools.ToolOpenFile,
	} {
		broker.MustRegisterHandler(kind, b.handler(kind))
	}
}
