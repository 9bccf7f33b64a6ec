// Package symbol implements the per-symbol agent machinery: an identifier
// keyed locker that serializes events for the same symbol, and an actor that
// consumes those events, talks to the LLM broker and tool broker, and applies
// edits.
package symbol

import (
	"fmt"
	"regexp"
)

// SymbolIdentifier addresses one named code region. Equality is structural;
// the zero FSFilePath means the symbol is not pinned to a file.
type SymbolIdentifier struct {
	SymbolName string
	FSFilePath string
}

func (s SymbolIdentifier) String() string {
	if s.FSFilePath == "" {
		return s.SymbolName
	}
	return fmt.Sprintf("%s (%s)", s.SymbolName, s.FSFilePath)
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// AnchoredSymbol is an immutable snapshot of a user-selected region.
// SubSymbolNames lists the identifiers found in the content, ordered by first
// occurrence; when a name repeats, the first occurrence wins.
type AnchoredSymbol struct {
	Identifier     SymbolIdentifier
	Content        string
	StartLine      int
	EndLine        int
	SubSymbolNames []string
}

// NewAnchoredSymbol snapshots a region and extracts its sub-symbol names.
func NewAnchoredSymbol(id SymbolIdentifier, content string, startLine, endLine int) AnchoredSymbol {
	seen := make(map[string]bool)
	var names []string
	for _, name := range identRe.FindAllString(content, -1) {
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return AnchoredSymbol{
		Identifier:     id,
		Content:        content,
		StartLine:      startLine,
		EndLine:        endLine,
		SubSymbolNames: names,
	}
}

// EditRequest asks the actor to replace a line range within the symbol's file.
type EditRequest struct {
	StartLine   int
	EndLine     int
	ReplaceWith string
}

// SymbolEvent is the tagged event variant consumed by the actor.
type SymbolEvent interface {
	eventName() string
}

// InitialRequest starts work on a symbol: gather context, prompt the model,
// and turn its output into edits and child events.
type InitialRequest struct {
	Query  string
	Anchor AnchoredSymbol
}

func (InitialRequest) eventName() string { return "initial_request" }

// AskQuestion consults the symbol's memory, escalating to the human when the
// memory cannot answer.
type AskQuestion struct {
	Question string
}

func (AskQuestion) eventName() string { return "ask_question" }

// UserFeedback appends to memory and may re-enter planning.
type UserFeedback struct {
	Feedback string
}

func (UserFeedback) eventName() string { return "user_feedback" }

// Edit applies a validated edit to the symbol's file.
type Edit struct {
	Request EditRequest
}

func (Edit) eventName() string { return "edit" }

// Outline produces a read-only structural summary.
type Outline struct{}

func (Outline) eventName() string { return "outline" }

// Delete removes the symbol's region and finishes the actor.
type Delete struct{}

func (Delete) eventName() string { return "delete" }

// ActionState tracks a symbol's lifecycle. Finished is absorbing: it is
// reached at most once and never left.
type ActionState int

const (
	StateOnGoing ActionState = iota
	StateWaiting
	StateFinished
)

func (s ActionState) String() string {
	switch s {
	case StateOnGoing:
		return "ongoing"
	case StateWaiting:
		return "waiting"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("ActionState(%d)", int(s))
	}
}

// Reward scores a terminal state for the planner. Value is clamped to
// [-100, 100].
type Reward struct {
	Explanation string
	Feedback    string
	Value       int
}

// NewReward builds a reward with the value clamped into range.
func NewReward(explanation, feedback string, value int) Reward {
	if value > 100 {
		value = 100
	}
	if value < -100 {
		value = -100
	}
	return Reward{Explanation: explanation, Feedback: feedback, Value: value}
}
