package symbol

import (
	"errors"
	"testing"
)

func TestParseFullResponse(t *testing.T) {
	raw := `Here is my reply:
<response>
<thinking>The function needs a nil check.</thinking>
<answer>Added the guard clause.</answer>
<edit file="pkg/parse.go" start_line="10" end_line="12">
if input == nil {
	return nil, ErrNilInput
}
</edit>
<question>Should empty input also be rejected?</question>
<spawn symbol="validate" file="pkg/validate.go"/>
</response>`

	out, err := ParseAgentOutput(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out.Thinking != "The function needs a nil check." {
		t.Fatalf("thinking %q", out.Thinking)
	}
	if out.Answer != "Added the guard clause." {
		t.Fatalf("answer %q", out.Answer)
	}
	if len(out.Edits) != 1 {
		t.Fatalf("edits %+v", out.Edits)
	}
	edit := out.Edits[0]
	if edit.FSFilePath != "pkg/parse.go" || edit.StartLine != 10 || edit.EndLine != 12 {
		t.Fatalf("edit header %+v", edit)
	}
	if edit.ReplaceWith != "if input == nil {\n\treturn nil, ErrNilInput\n}" {
		t.Fatalf("edit body %q", edit.ReplaceWith)
	}
	if len(out.Questions) != 1 || out.Questions[0] != "Should empty input also be rejected?" {
		t.Fatalf("questions %+v", out.Questions)
	}
	if len(out.Spawns) != 1 || out.Spawns[0].SymbolName != "validate" {
		t.Fatalf("spawns %+v", out.Spawns)
	}
}

func TestParseToleratesUnclosedFinalTag(t *testing.T) {
	raw := `<response>
<answer>done</answer>
<edit file="a.go" start_line="1" end_line="1">
replacement`

	out, err := ParseAgentOutput(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(out.Edits) != 1 || out.Edits[0].ReplaceWith != "replacement" {
		t.Fatalf("unclosed edit not recovered: %+v", out.Edits)
	}
}

func TestParseToleratesMissingResponseClose(t *testing.T) {
	out, err := ParseAgentOutput("  <response><answer>ok</answer>")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out.Answer != "ok" {
		t.Fatalf("answer %q", out.Answer)
	}
}

func TestParseMissingTopLevelTag(t *testing.T) {
	_, err := ParseAgentOutput("I edited the file for you, no XML needed!")
	if !errors.Is(err, ErrMalformedAgentOutput) {
		t.Fatalf("expected ErrMalformedAgentOutput, got %v", err)
	}
}

func TestParseMultipleQuestions(t *testing.T) {
	out, err := ParseAgentOutput(`<response>
<question>first?</question>
<question>second?</question>
</response>`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(out.Questions) != 2 || out.Questions[1] != "second?" {
		t.Fatalf("questions %+v", out.Questions)
	}
}

func TestSubSymbolNamesByFirstOccurrence(t *testing.T) {
	anchor := NewAnchoredSymbol(
		SymbolIdentifier{SymbolName: "sum"},
		"func sum(a, b int) int {\n\treturn a + add(b, a)\n}",
		1, 3,
	)
	want := []string{"func", "sum", "a", "b", "int", "return", "add"}
	if len(anchor.SubSymbolNames) != len(want) {
		t.Fatalf("names %v, want %v", anchor.SubSymbolNames, want)
	}
	for i := range want {
		if anchor.SubSymbolNames[i] != want[i] {
			t.Fatalf("names %v, want %v", anchor.SubSymbolNames, want)
		}
	}
}

func TestRewardClamped(t *testing.T) {
	if r := NewReward("", "", 250); r.Value != 100 {
		t.Fatalf("clamp high: %d", r.Value)
	}
	if r := NewReward("", "", -250); r.Value != -100 {
		t.Fatalf("clamp low: %d", r.Value)
	}
	if r := NewReward("", "", 42); r.Value != 42 {
		t.Fatalf("in range: %d", r.Value)
	}
}
