package symbol

import "errors"

var (
	// ErrSymbolOverloaded is returned when a symbol's mailbox is full.
	ErrSymbolOverloaded = errors.New("symbol mailbox overloaded")

	// ErrMalformedAgentOutput is returned when the model's output has no
	// recognizable top-level tag, after one reformat escalation.
	ErrMalformedAgentOutput = errors.New("malformed agent output")

	// ErrLockerClosed is returned by send after the locker shut down.
	ErrLockerClosed = errors.New("symbol locker closed")
)
