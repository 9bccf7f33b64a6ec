package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"mecha/internal/logging"
)

// DefaultConcurrency bounds in-flight tool invocations per broker.
const DefaultConcurrency = 8

// Handler executes one tool invocation. The input is guaranteed to be the
// variant matching the registered kind.
type Handler func(ctx context.Context, input ToolInput) (ToolOutput, error)

// Broker dispatches typed tool inputs to registered handlers under a
// session-wide concurrency bound. Registration happens at startup; Execute
// is safe for concurrent use.
type Broker struct {
	mu       sync.RWMutex
	handlers map[ToolType]Handler
	sem      *semaphore.Weighted
}

// NewBroker creates a broker bounded to limit concurrent invocations;
// limit <= 0 selects DefaultConcurrency.
func NewBroker(limit int64) *Broker {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Broker{
		handlers: make(map[ToolType]Handler),
		sem:      semaphore.NewWeighted(limit),
	}
}

// RegisterHandler installs the handler for a tool kind, replacing any
// previous one.
func (b *Broker) RegisterHandler(kind ToolType, h Handler) error {
	if !Known(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownTool, kind)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = h
	logging.ToolsDebug("registered handler for %s", kind)
	return nil
}

// MustRegisterHandler registers and panics on error, for startup wiring.
func (b *Broker) MustRegisterHandler(kind ToolType, h Handler) {
	if err := b.RegisterHandler(kind, h); err != nil {
		panic(fmt.Sprintf("tool broker: %v", err))
	}
}

// Handles reports whether a handler is registered for kind.
func (b *Broker) Handles(kind ToolType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[kind]
	return ok
}

// Execute dispatches one invocation. Unknown kinds fail with ErrUnknownTool,
// unregistered kinds with ErrToolUnavailable, and handler failures are
// wrapped in ToolError with the inner error preserved. Acquiring a slot under
// the concurrency bound respects ctx.
func (b *Broker) Execute(ctx context.Context, input ToolInput) (ToolOutput, error) {
	if input == nil || !Known(input.Kind()) {
		return ToolOutput{}, ErrUnknownTool
	}
	kind := input.Kind()

	b.mu.RLock()
	h, ok := b.handlers[kind]
	b.mu.RUnlock()
	if !ok {
		return ToolOutput{}, fmt.Errorf("%w: %s", ErrToolUnavailable, kind)
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return ToolOutput{}, err
	}
	defer b.sem.Release(1)

	timer := logging.StartTimer(logging.CategoryTools, string(kind))
	out, err := h(ctx, input)
	timer.Stop()
	if err != nil {
		logging.ToolsDebug("%s failed: %v", kind, err)
		return ToolOutput{}, &ToolError{Kind: kind, Inner: err}
	}
	out.Kind = kind
	return out, nil
}
