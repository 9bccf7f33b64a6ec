package symbol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"mecha/internal/llm"
	"mecha/internal/logging"
	"mecha/internal/session"
	"mecha/internal/tools"
)

// Completer is the slice of the LLM broker the actor depends on.
type Completer interface {
	Stream(ctx context.Context, provider llm.Provider, req llm.CompletionRequest, sink llm.StreamSink) (string, error)
}

// ActorConfig carries the collaborators shared by every actor an engine
// creates.
type ActorConfig struct {
	Model    llm.LLMType
	Provider llm.Provider
	Broker   Completer
	Tools    *tools.Broker
	Journal  *session.Journal // optional
	// Send dispatches child events through the locker; set by the engine.
	Send func(id SymbolIdentifier, ev SymbolEvent) error
}

// Actor runs the event loop for one symbol. It is driven exclusively by the
// locker, so its fields need no locking.
type Actor struct {
	cfg       ActorConfig
	id        SymbolIdentifier
	anchor    AnchoredSymbol
	memory    []string
	lastQuery string
	state     ActionState
	reward    *Reward
	lastErr   error
}

// NewActor creates an actor for one symbol.
func NewActor(id SymbolIdentifier, cfg ActorConfig) *Actor {
	return &Actor{cfg: cfg, id: id, state: StateOnGoing}
}

// State returns the actor's current lifecycle state.
func (a *Actor) State() ActionState { return a.state }

// TerminalReward returns the reward attached at a terminal state, if any.
func (a *Actor) TerminalReward() (Reward, bool) {
	if a.reward == nil {
		return Reward{}, false
	}
	return *a.reward, true
}

// LastError returns the most recent handling error, journaled but not
// propagated through the locker.
func (a *Actor) LastError() error { return a.lastErr }

// Handle processes one event and returns the resulting state. Finished is
// absorbing: events arriving afterwards are journaled and dropped.
func (a *Actor) Handle(ctx context.Context, ev SymbolEvent) ActionState {
	if a.state == StateFinished {
		a.journal(session.KindMessage, map[string]string{
			"event":  ev.eventName(),
			"note":   "dropped: symbol already finished",
			"symbol": a.id.String(),
		})
		return StateFinished
	}

	a.lastErr = nil
	logging.Symbol("%s: handling %s", a.id, ev.eventName())

	switch e := ev.(type) {
	case InitialRequest:
		a.state = a.handleInitial(ctx, e)
	case AskQuestion:
		a.state = a.handleAskQuestion(ctx, e)
	case UserFeedback:
		a.state = a.handleUserFeedback(ctx, e)
	case Edit:
		a.state = a.handleEdit(ctx, e.Request)
	case Outline:
		a.state = a.handleOutline(ctx)
	case Delete:
		a.state = a.handleDelete(ctx)
	default:
		a.fail(fmt.Errorf("unhandled event %T", ev))
	}
	return a.state
}

const systemPrompt = `You are a code-editing agent working on one symbol at a time.
Answer inside a single <response> element. Within it you may use:
<thinking>free-form reasoning</thinking>
<answer>prose answer for the user</answer>
<edit file="PATH" start_line="N" end_line="M">replacement text</edit>
<question>a question you need answered before proceeding</question>
<spawn symbol="NAME" file="PATH"/>
Only emit edits for code you have seen. Line numbers are 1-based and inclusive.`

func (a *Actor) handleInitial(ctx context.Context, ev InitialRequest) ActionState {
	a.anchor = ev.Anchor
	a.lastQuery = ev.Query
	a.journal(session.KindMessage, map[string]string{"event": "initial_request", "query": ev.Query})

	contextText := a.gatherContext(ctx)
	userPrompt := a.buildPrompt(ev.Query, contextText)

	output, err := a.complete(ctx, userPrompt)
	if err != nil {
		a.fail(err)
		return StateOnGoing
	}

	for _, edit := range output.Edits {
		a.applyEdit(ctx, tools.CodeEditing{
			FSFilePath:  edit.FSFilePath,
			StartLine:   edit.StartLine,
			EndLine:     edit.EndLine,
			ReplaceWith: edit.ReplaceWith,
		})
	}
	for _, child := range output.Spawns {
		if a.cfg.Send == nil {
			continue
		}
		childAnchor := NewAnchoredSymbol(child, "", 0, 0)
		if err := a.cfg.Send(child, InitialRequest{Query: ev.Query, Anchor: childAnchor}); err != nil {
			a.journalError(fmt.Errorf("spawn %s: %w", child, err))
		}
	}
	for _, q := range output.Questions {
		a.askHuman(ctx, q)
	}
	if output.Answer != "" {
		a.journal(session.KindMessage, map[string]string{"event": "answer", "text": output.Answer})
	}

	if len(output.Questions) > 0 {
		return StateWaiting
	}
	return StateOnGoing
}

// complete streams one completion and parses it, escalating once with a
// reformat request before surfacing ErrMalformedAgentOutput.
func (a *Actor) complete(ctx context.Context, userPrompt string) (AgentOutput, error) {
	messages := []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(userPrompt),
	}
	text, err := a.cfg.Broker.Stream(ctx, a.cfg.Provider, llm.CompletionRequest{
		Model:    a.cfg.Model,
		Messages: messages,
	}, llm.Discard)
	if err != nil {
		return AgentOutput{}, err
	}

	output, perr := ParseAgentOutput(text)
	if perr == nil {
		return output, nil
	}

	// One reformat escalation, never more.
	logging.SymbolWarn("%s: unparseable output, asking for reformat", a.id)
	messages = append(messages,
		llm.AssistantMessage(text),
		llm.UserMessage("Your previous reply had no <response> element. Re-send the full reply inside a single <response> element."),
	)
	text, err = a.cfg.Broker.Stream(ctx, a.cfg.Provider, llm.CompletionRequest{
		Model:    a.cfg.Model,
		Messages: messages,
	}, llm.Discard)
	if err != nil {
		return AgentOutput{}, err
	}
	if output, perr = ParseAgentOutput(text); perr != nil {
		return AgentOutput{}, perr
	}
	return output, nil
}

func (a *Actor) gatherContext(ctx context.Context) string {
	if a.cfg.Tools == nil {
		return ""
	}
	var sb strings.Builder

	if a.id.FSFilePath != "" {
		out, err := a.cfg.Tools.Execute(ctx, tools.FolderOutline{Root: filepath.Dir(a.id.FSFilePath), Depth: 2})
		if err == nil {
			sb.WriteString("Folder outline:\n")
			sb.WriteString(out.Text)
			sb.WriteString("\n")
		}
	}

	// Referenced names from the anchor, resolved through workspace grep. The
	// first name is the symbol itself; skip it.
	names := a.anchor.SubSymbolNames
	for i, name := range names {
		if i == 0 || i > 3 {
			continue
		}
		out, err := a.cfg.Tools.Execute(ctx, tools.GrepSymbol{
			SymbolName: name,
			Root:       filepath.Dir(a.id.FSFilePath),
		})
		if err == nil && out.Text != "" {
			fmt.Fprintf(&sb, "References to %s:\n%s\n", name, out.Text)
		}
	}
	return sb.String()
}

func (a *Actor) buildPrompt(query, contextText string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\n\n", a.id)
	if a.anchor.Content != "" {
		fmt.Fprintf(&sb, "Current content (lines %d-%d):\n%s\n\n", a.anchor.StartLine, a.anchor.EndLine, a.anchor.Content)
	}
	if contextText != "" {
		fmt.Fprintf(&sb, "Workspace context:\n%s\n", contextText)
	}
	if len(a.memory) > 0 {
		fmt.Fprintf(&sb, "Notes from earlier in this session:\n%s\n\n", strings.Join(a.memory, "\n"))
	}
	fmt.Fprintf(&sb, "Task: %s\n", query)
	return sb.String()
}

func (a *Actor) handleAskQuestion(ctx context.Context, ev AskQuestion) ActionState {
	if answer, ok := a.recallFromMemory(ev.Question); ok {
		a.journal(session.KindMessage, map[string]string{
			"event": "question_answered_from_memory", "question": ev.Question, "answer": answer,
		})
		return a.state
	}
	a.askHuman(ctx, ev.Question)
	return StateWaiting
}

// recallFromMemory answers a question when a memory line shares a
// non-trivial word with it.
func (a *Actor) recallFromMemory(question string) (string, bool) {
	words := strings.Fields(strings.ToLower(question))
	for _, line := range a.memory {
		lower := strings.ToLower(line)
		for _, w := range words {
			if len(w) >= 4 && strings.Contains(lower, w) {
				return line, true
			}
		}
	}
	return "", false
}

func (a *Actor) askHuman(ctx context.Context, question string) {
	a.journal(session.KindToolCall, map[string]string{"tool": "ask_user", "question": question})
	if a.cfg.Tools == nil {
		return
	}
	out, err := a.cfg.Tools.Execute(ctx, tools.AskUser{Question: question})
	if err != nil {
		a.journalError(err)
		return
	}
	a.memory = append(a.memory, fmt.Sprintf("Q: %s A: %s", question, out.Text))
	a.journal(session.KindToolResult, map[string]string{"tool": "ask_user", "answer": out.Text})
}

func (a *Actor) handleUserFeedback(ctx context.Context, ev UserFeedback) ActionState {
	a.memory = append(a.memory, ev.Feedback)
	a.journal(session.KindMessage, map[string]string{"event": "user_feedback", "text": ev.Feedback})

	// Re-enter planning with the enriched memory when a task is in flight.
	if a.lastQuery != "" {
		return a.handleInitial(ctx, InitialRequest{Query: a.lastQuery, Anchor: a.anchor})
	}
	return a.state
}

func (a *Actor) handleEdit(ctx context.Context, req EditRequest) ActionState {
	a.applyEdit(ctx, tools.CodeEditing{
		FSFilePath:     a.id.FSFilePath,
		StartLine:      req.StartLine,
		EndLine:        req.EndLine,
		SubSymbolNames: a.anchor.SubSymbolNames,
		ReplaceWith:    req.ReplaceWith,
	})
	return a.state
}

func (a *Actor) applyEdit(ctx context.Context, edit tools.CodeEditing) {
	if a.cfg.Tools == nil {
		a.fail(errors.New("no tool broker configured for edits"))
		return
	}
	a.journal(session.KindToolCall, edit)
	out, err := a.cfg.Tools.Execute(ctx, edit)
	if err != nil {
		a.fail(err)
		return
	}
	a.journal(session.KindEdit, map[string]string{"result": out.Text})
}

func (a *Actor) handleOutline(ctx context.Context) ActionState {
	var outline string
	if a.cfg.Tools != nil && a.id.FSFilePath != "" {
		out, err := a.cfg.Tools.Execute(ctx, tools.FolderOutline{Root: filepath.Dir(a.id.FSFilePath), Depth: 2})
		if err != nil {
			a.journalError(err)
		} else {
			outline = out.Text
		}
	}
	if a.anchor.Content != "" {
		outline += fmt.Sprintf("\nSymbol %s, lines %d-%d, references: %s",
			a.id.SymbolName, a.anchor.StartLine, a.anchor.EndLine,
			strings.Join(a.anchor.SubSymbolNames, ", "))
	}
	a.journal(session.KindMessage, map[string]string{"event": "outline", "text": outline})
	return a.state
}

func (a *Actor) handleDelete(ctx context.Context) ActionState {
	if a.anchor.StartLine > 0 && a.id.FSFilePath != "" {
		a.applyEdit(ctx, tools.CodeEditing{
			FSFilePath:     a.id.FSFilePath,
			StartLine:      a.anchor.StartLine,
			EndLine:        a.anchor.EndLine,
			SubSymbolNames: a.anchor.SubSymbolNames,
			ReplaceWith:    "",
		})
	}
	value := 0
	explanation := "symbol deleted"
	if a.lastErr != nil {
		value = -50
		explanation = "deletion edit failed: " + a.lastErr.Error()
	}
	r := NewReward(explanation, "", value)
	a.reward = &r
	a.journal(session.KindMessage, map[string]string{"event": "finished", "reward": fmt.Sprint(r.Value)})
	return StateFinished
}

// fail journals an error before recording it, per the propagation policy.
func (a *Actor) fail(err error) {
	a.journalError(err)
	a.lastErr = err
}

func (a *Actor) journalError(err error) {
	logging.SymbolError("%s: %v", a.id, err)
	a.journal(session.KindMessage, map[string]string{"event": "error", "error": err.Error()})
}

func (a *Actor) journal(kind session.Kind, payload any) {
	if a.cfg.Journal == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.SymbolError("%s: journal payload: %v", a.id, err)
		return
	}
	if _, err := a.cfg.Journal.Append(session.AuthorAgent, kind, raw); err != nil {
		logging.SymbolError("%s: journal append: %v", a.id, err)
	}
}
