package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Configuration errors.
var (
	// ErrMissingCredential is returned when no credentials are stored for a provider.
	ErrMissingCredential = errors.New("missing credential for provider")

	// ErrUnknownProvider is returned when no client is registered for a provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderModelMismatch is returned when a client does not support the model.
	ErrProviderModelMismatch = errors.New("provider does not support model")

	// ErrInvalidRequest is returned for requests violating message-shape invariants.
	ErrInvalidRequest = errors.New("invalid completion request")
)

// Transport errors.
var (
	// ErrConnectFailed is returned when the streaming connection cannot be opened.
	ErrConnectFailed = errors.New("failed to connect to provider")

	// ErrProviderUnavailable is returned on 5xx responses before any token arrived.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Protocol errors.
var (
	// ErrMalformedChunk is returned when a streaming payload cannot be parsed.
	ErrMalformedChunk = errors.New("malformed stream chunk")

	// ErrUnsupportedDialect is returned when a FIM request targets a non-FIM model.
	ErrUnsupportedDialect = errors.New("unsupported prompt dialect for model")

	// ErrRawCompletionUnsupported is returned by clients whose provider has no
	// raw-prompt completion endpoint.
	ErrRawCompletionUnsupported = errors.New("provider does not support raw prompt completion")
)

// RateLimitedError surfaces a provider 429. The broker may fail over but the
// client itself never retries.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// StreamInterruptedError is returned when the transport fails after at least
// one token was emitted. Partial holds everything delivered so far.
type StreamInterruptedError struct {
	Partial string
	Err     error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", len(e.Partial), e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }

// CancelReason distinguishes timeouts from explicit cancellation. Downstream
// treats both identically.
type CancelReason string

const (
	CancelTimeout  CancelReason = "timeout"
	CancelExplicit CancelReason = "explicit"
)

// CancelledError is returned when a stream is cut short by its context.
type CancelledError struct {
	Reason CancelReason
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled (%s)", e.Reason)
}

// CancelledFromContext maps a context error to the matching CancelledError.
func CancelledFromContext(err error) *CancelledError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CancelledError{Reason: CancelTimeout}
	}
	return &CancelledError{Reason: CancelExplicit}
}

// IsRetriable reports whether the broker's single failover attempt applies.
func IsRetriable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	return errors.Is(err, ErrProviderUnavailable)
}
