package tools

import (
	"errors"
	"fmt"
)

// Tool broker errors.
var (
	// ErrUnknownTool is returned when the input kind is not a known ToolType.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolUnavailable is returned when no handler is registered for the kind.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrStaleAnchor is returned when an edit's anchored range no longer
	// matches the current file content.
	ErrStaleAnchor = errors.New("stale anchor")

	// ErrBridgeRejected is returned when the editor bridge answers ok=false.
	ErrBridgeRejected = errors.New("bridge rejected request")
)

// ToolError wraps a handler failure, preserving the inner error unflattened.
type ToolError struct {
	Kind  ToolType
	Inner error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Kind, e.Inner)
}

func (e *ToolError) Unwrap() error { return e.Inner }
