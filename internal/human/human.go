// Package human translates messages from the person driving the session into
// symbol events, and carries answers back when an agent asks a question.
package human

import (
	"encoding/json"
	"errors"

	"mecha/internal/logging"
	"mecha/internal/session"
	"mecha/internal/symbol"
)

// ErrNoAnchoredSymbols rejects an anchor request that selects nothing.
var ErrNoAnchoredSymbols = errors.New("anchor request carries no symbols")

// ErrNoActiveSymbols rejects a followup when no anchor request preceded it.
var ErrNoActiveSymbols = errors.New("followup without a prior anchor request")

// AnchorRequest is the human selecting one or more code regions and asking
// for work on them. Context is optional prose around the selection.
type AnchorRequest struct {
	Query   string
	Symbols []symbol.AnchoredSymbol
	Context string
}

// Message is a tagged human-originated message.
type Message interface {
	messageName() string
}

// Followup is free-form feedback on the symbols of the last anchor request.
type Followup struct {
	Text string
}

func (Followup) messageName() string { return "followup" }

// Anchor starts agentic work on a selection.
type Anchor struct {
	Request AnchorRequest
}

func (Anchor) messageName() string { return "anchor" }

// Dispatcher is the slice of the symbol engine the interface needs.
type Dispatcher interface {
	Send(id symbol.SymbolIdentifier, ev symbol.SymbolEvent) error
}

// Interface routes human messages into the symbol machinery. It remembers the
// symbols of the last anchor request so followups reach the right actors.
type Interface struct {
	dispatcher Dispatcher
	journal    *session.Journal // optional
	active     []symbol.SymbolIdentifier
}

// NewInterface wires the human interface to a dispatcher; journal may be nil.
func NewInterface(d Dispatcher, journal *session.Journal) *Interface {
	return &Interface{dispatcher: d, journal: journal}
}

// Active returns the symbols addressed by the last anchor request.
func (h *Interface) Active() []symbol.SymbolIdentifier {
	out := make([]symbol.SymbolIdentifier, len(h.active))
	copy(out, h.active)
	return out
}

// Handle processes one human message. An anchor request becomes one
// InitialRequest per anchored symbol; a followup becomes UserFeedback for
// every symbol of the last anchor request. Per-symbol dispatch failures
// (an overloaded mailbox, say) are joined, not short-circuited, so the
// remaining symbols still get their event.
func (h *Interface) Handle(msg Message) error {
	switch m := msg.(type) {
	case Anchor:
		return h.handleAnchor(m.Request)
	case Followup:
		return h.handleFollowup(m.Text)
	default:
		return errors.New("unhandled human message")
	}
}

func (h *Interface) handleAnchor(req AnchorRequest) error {
	if len(req.Symbols) == 0 {
		return ErrNoAnchoredSymbols
	}
	logging.Human("anchor request over %d symbols: %s", len(req.Symbols), req.Query)
	h.journalEntry(map[string]string{
		"event": "anchor_request", "query": req.Query, "context": req.Context,
	})

	query := req.Query
	if req.Context != "" {
		query += "\n\nAdditional context from the user:\n" + req.Context
	}

	h.active = h.active[:0]
	var errs []error
	for _, anchored := range req.Symbols {
		err := h.dispatcher.Send(anchored.Identifier, symbol.InitialRequest{
			Query:  query,
			Anchor: anchored,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		h.active = append(h.active, anchored.Identifier)
	}
	return errors.Join(errs...)
}

func (h *Interface) handleFollowup(text string) error {
	if len(h.active) == 0 {
		return ErrNoActiveSymbols
	}
	logging.Human("followup to %d symbols", len(h.active))
	h.journalEntry(map[string]string{"event": "followup", "text": text})

	var errs []error
	for _, id := range h.active {
		if err := h.dispatcher.Send(id, symbol.UserFeedback{Feedback: text}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Interface) journalEntry(payload any) {
	if h.journal == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.HumanError("journal payload: %v", err)
		return
	}
	if _, err := h.journal.Append(session.AuthorHuman, session.KindMessage, raw); err != nil {
		logging.HumanError("journal append: %v", err)
	}
}
