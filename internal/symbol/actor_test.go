package symbol

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mecha/internal/llm"
	"mecha/internal/tools"
)

// scriptedCompleter returns canned replies in order, repeating the last one,
// and records the user prompts it was given.
type scriptedCompleter struct {
	replies []string
	calls   int
	prompts []string
}

func (s *scriptedCompleter) Stream(_ context.Context, _ llm.Provider, req llm.CompletionRequest, _ llm.StreamSink) (string, error) {
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			s.prompts = append(s.prompts, m.Content)
		}
	}
	i := s.calls
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	s.calls++
	return s.replies[i], nil
}

func newToolBroker(t *testing.T) *tools.Broker {
	t.Helper()
	b := tools.NewBroker(0)
	b.MustRegisterHandler(tools.ToolCodeEditing, tools.NewEditor().Handler())
	return b
}

func writeTestFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.go")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestInitialRequestAppliesEdits(t *testing.T) {
	path := writeTestFile(t, "func sum(a, b int) int {", "\treturn a - b", "}")
	completer := &scriptedCompleter{replies: []string{fmt.Sprintf(
		`<response>
<answer>Fixed the operator.</answer>
<edit file="%s" start_line="2" end_line="2">
	return a + b
</edit>
</response>`, path)}}

	id := SymbolIdentifier{SymbolName: "sum", FSFilePath: path}
	a := NewActor(id, ActorConfig{
		Model: llm.Gpt4, Provider: llm.ProviderOpenAI,
		Broker: completer, Tools: newToolBroker(t),
	})

	anchor := NewAnchoredSymbol(id, readTestFile(t, path), 1, 3)
	state := a.Handle(context.Background(), InitialRequest{Query: "fix the subtraction bug", Anchor: anchor})
	if state != StateOnGoing {
		t.Fatalf("state %v", state)
	}
	if a.LastError() != nil {
		t.Fatalf("last error: %v", a.LastError())
	}
	if got := readTestFile(t, path); !strings.Contains(got, "return a + b") {
		t.Fatalf("edit not applied:\n%s", got)
	}
	if completer.calls != 1 {
		t.Fatalf("completions %d, want 1", completer.calls)
	}
}

func TestReformatEscalationRecovers(t *testing.T) {
	path := writeTestFile(t, "old line")
	valid := fmt.Sprintf(`<response><edit file="%s" start_line="1" end_line="1">new line</edit></response>`, path)
	completer := &scriptedCompleter{replies: []string{"sure, I changed it for you!", valid}}

	id := SymbolIdentifier{SymbolName: "line", FSFilePath: path}
	a := NewActor(id, ActorConfig{
		Model: llm.Gpt4, Provider: llm.ProviderOpenAI,
		Broker: completer, Tools: newToolBroker(t),
	})
	a.Handle(context.Background(), InitialRequest{Query: "rewrite", Anchor: NewAnchoredSymbol(id, "old line", 1, 1)})

	if completer.calls != 2 {
		t.Fatalf("completions %d, want 2 (one reformat escalation)", completer.calls)
	}
	if a.LastError() != nil {
		t.Fatalf("last error: %v", a.LastError())
	}
	if got := readTestFile(t, path); got != "new line" {
		t.Fatalf("file %q", got)
	}
	// The escalation turn carries the prior reply back to the model.
	last := completer.prompts[len(completer.prompts)-1]
	if !strings.Contains(last, "<response>") {
		t.Fatalf("escalation prompt missing format reminder: %q", last)
	}
}

func TestSecondMalformedReplyIsTerminal(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"junk", "still junk"}}
	id := SymbolIdentifier{SymbolName: "x"}
	a := NewActor(id, ActorConfig{
		Model: llm.Gpt4, Provider: llm.ProviderOpenAI,
		Broker: completer, Tools: newToolBroker(t),
	})
	state := a.Handle(context.Background(), InitialRequest{Query: "do something"})

	if completer.calls != 2 {
		t.Fatalf("completions %d, want exactly 2", completer.calls)
	}
	if !errors.Is(a.LastError(), ErrMalformedAgentOutput) {
		t.Fatalf("last error %v, want ErrMalformedAgentOutput", a.LastError())
	}
	if state != StateOnGoing {
		t.Fatalf("state %v", state)
	}
}

func TestEditEventStaleAnchor(t *testing.T) {
	path := writeTestFile(t, "func widget() {", "\tcount++", "}")
	id := SymbolIdentifier{SymbolName: "widget", FSFilePath: path}
	a := NewActor(id, ActorConfig{Broker: &scriptedCompleter{replies: []string{""}}, Tools: newToolBroker(t)})

	anchor := NewAnchoredSymbol(id, readTestFile(t, path), 1, 3)
	a.anchor = anchor

	// The file changes under the actor's feet; the anchored identifiers are gone.
	rewritten := "package other\nvar x = 1\ny := 2"
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		t.Fatal(err)
	}

	a.Handle(context.Background(), Edit{Request: EditRequest{StartLine: 1, EndLine: 3, ReplaceWith: "clobbered"}})
	if !errors.Is(a.LastError(), tools.ErrStaleAnchor) {
		t.Fatalf("last error %v, want ErrStaleAnchor", a.LastError())
	}
	if got := readTestFile(t, path); got != rewritten {
		t.Fatalf("file modified despite stale anchor:\n%s", got)
	}
}

func TestDeleteFinishesActor(t *testing.T) {
	path := writeTestFile(t, "keep", "func gone() {}", "keep too")
	id := SymbolIdentifier{SymbolName: "gone", FSFilePath: path}
	a := NewActor(id, ActorConfig{Broker: &scriptedCompleter{replies: []string{""}}, Tools: newToolBroker(t)})
	a.anchor = NewAnchoredSymbol(id, "func gone() {}", 2, 2)

	state := a.Handle(context.Background(), Delete{})
	if state != StateFinished {
		t.Fatalf("state %v", state)
	}
	reward, ok := a.TerminalReward()
	if !ok || reward.Value != 0 {
		t.Fatalf("reward %+v ok=%v", reward, ok)
	}
	if got := readTestFile(t, path); strings.Contains(got, "gone") {
		t.Fatalf("region not deleted:\n%s", got)
	}

	// Finished is absorbing: later events are dropped without side effects.
	before := readTestFile(t, path)
	if state := a.Handle(context.Background(), Edit{Request: EditRequest{StartLine: 1, EndLine: 1, ReplaceWith: "zap"}}); state != StateFinished {
		t.Fatalf("post-finish state %v", state)
	}
	if readTestFile(t, path) != before {
		t.Fatal("edit applied after symbol finished")
	}
}

func TestQuestionsMoveActorToWaiting(t *testing.T) {
	asked := 0
	broker := newToolBroker(t)
	broker.MustRegisterHandler(tools.ToolAskUser, tools.AskUserHandler(
		func(_ context.Context, question string) (string, error) {
			asked++
			return "use the legacy codepath", nil
		}))

	completer := &scriptedCompleter{replies: []string{
		`<response><question>Which codepath should stay?</question></response>`,
	}}
	id := SymbolIdentifier{SymbolName: "router"}
	a := NewActor(id, ActorConfig{
		Model: llm.Gpt4, Provider: llm.ProviderOpenAI,
		Broker: completer, Tools: broker,
	})

	state := a.Handle(context.Background(), InitialRequest{Query: "simplify routing"})
	if state != StateWaiting {
		t.Fatalf("state %v, want waiting", state)
	}
	if asked != 1 {
		t.Fatalf("human asked %d times, want 1", asked)
	}

	// The answer landed in memory; a related question is served from there.
	state = a.Handle(context.Background(), AskQuestion{Question: "what about the legacy path?"})
	if asked != 1 {
		t.Fatalf("human re-asked for a question memory could answer (asked=%d)", asked)
	}
	if state != StateWaiting {
		t.Fatalf("state %v", state)
	}

	// An unrelated question escalates to the human again.
	a.Handle(context.Background(), AskQuestion{Question: "is retrying on failure fine?"})
	if asked != 2 {
		t.Fatalf("human asked %d times, want 2", asked)
	}
}

func TestUserFeedbackReentersPlanning(t *testing.T) {
	path := writeTestFile(t, "v1")
	completer := &scriptedCompleter{replies: []string{
		`<response><answer>done</answer></response>`,
	}}
	id := SymbolIdentifier{SymbolName: "v", FSFilePath: path}
	a := NewActor(id, ActorConfig{
		Model: llm.Gpt4, Provider: llm.ProviderOpenAI,
		Broker: completer, Tools: newToolBroker(t),
	})

	a.Handle(context.Background(), InitialRequest{Query: "bump the version", Anchor: NewAnchoredSymbol(id, "v1", 1, 1)})
	a.Handle(context.Background(), UserFeedback{Feedback: "actually bump to v3, not v2"})

	if completer.calls != 2 {
		t.Fatalf("completions %d, want 2 (feedback re-enters planning)", completer.calls)
	}
	last := completer.prompts[len(completer.prompts)-1]
	if !strings.Contains(last, "actually bump to v3") {
		t.Fatalf("feedback missing from re-planning prompt:\n%s", last)
	}
	if !strings.Contains(last, "bump the version") {
		t.Fatalf("original task missing from re-planning prompt:\n%s", last)
	}
}

func TestSpawnDispatchesChildEvents(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		`<response><spawn symbol="helper" file="pkg/helper.go"/></response>`,
	}}
	var spawned []SymbolIdentifier
	id := SymbolIdentifier{SymbolName: "main"}
	a := NewActor(id, ActorConfig{
		Model: llm.Gpt4, Provider: llm.ProviderOpenAI,
		Broker: completer, Tools: newToolBroker(t),
		Send: func(child SymbolIdentifier, ev SymbolEvent) error {
			if _, ok := ev.(InitialRequest); !ok {
				t.Fatalf("child event %T, want InitialRequest", ev)
			}
			spawned = append(spawned, child)
			return nil
		},
	})

	a.Handle(context.Background(), InitialRequest{Query: "extract a helper"})
	if len(spawned) != 1 || spawned[0].SymbolName != "helper" || spawned[0].FSFilePath != "pkg/helper.go" {
		t.Fatalf("spawned %+v", spawned)
	}
}
