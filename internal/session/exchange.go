// Package session owns the append-only exchange journal and the local session
// registry. A session is an ordered list of exchanges between the human and
// the agent; the journal is the durable record the rest of the system trusts
// for replay and compensating actions.
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Author distinguishes who produced an exchange.
type Author string

const (
	AuthorHuman Author = "human"
	AuthorAgent Author = "agent"
)

// Kind classifies an exchange payload.
type Kind string

const (
	KindMessage    Kind = "message"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindEdit       Kind = "edit"
)

// Exchange is one append-only journal record. Seq is assigned by the journal,
// strictly increasing and contiguous from 1 within a session.
type Exchange struct {
	Seq       uint64          `json:"seq"`
	ID        string          `json:"id"`
	Author    Author          `json:"author"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

// Storage errors.
var (
	// ErrTruncatedJournal marks a replay that stopped at a corrupt record.
	// The journal remains usable; everything before the corruption was kept.
	ErrTruncatedJournal = errors.New("journal truncated at corrupt record")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

func newExchangeID() string { return uuid.NewString() }
