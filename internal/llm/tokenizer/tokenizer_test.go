package tokenizer

import (
	"strings"
	"testing"
)

func TestCountEmpty(t *testing.T) {
	if got := Count("cl100k", ""); got != 0 {
		t.Fatalf("empty text counted %d tokens", got)
	}
}

func TestCountRoundsUp(t *testing.T) {
	// A counter must never report zero for non-empty text.
	for _, id := range []string{"approx", "cl100k", "claude", "llama", "mistral", "deepseek", "gemini"} {
		if got := Count(id, "x"); got < 1 {
			t.Fatalf("%s counted %d for single byte", id, got)
		}
	}
}

func TestCountMonotoneInLength(t *testing.T) {
	short := Count("claude", "func add(a, b int) int { return a + b }")
	long := Count("claude", strings.Repeat("func add(a, b int) int { return a + b }\n", 50))
	if long <= short {
		t.Fatalf("longer text counted fewer tokens: %d <= %d", long, short)
	}
}

func TestUnknownIDFallsBack(t *testing.T) {
	text := "some ordinary text"
	if Count("no-such-tokenizer", text) != Count("approx", text) {
		t.Fatal("unknown tokenizer id did not fall back to approx")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe("cl100k"); got != "tokenizer(cl100k)" {
		t.Fatalf("Describe(cl100k) = %q", got)
	}
	// Unknown ids describe the fallback, not the requested id.
	if got := Describe("no-such-tokenizer"); got != "tokenizer(approx)" {
		t.Fatalf("Describe(unknown) = %q", got)
	}
}

func TestCJKCharging(t *testing.T) {
	cjk := strings.Repeat("你好世界", 20)
	if Count("deepseek", cjk) < 80 {
		t.Fatalf("deepseek undercounted CJK text: %d", Count("deepseek", cjk))
	}
}

func TestFitsContext(t *testing.T) {
	if !FitsContext("approx", "short", 100, 10) {
		t.Fatal("short text should fit")
	}
	if FitsContext("approx", strings.Repeat("word ", 200), 100, 10) {
		t.Fatal("long text should not fit")
	}
	if FitsContext("approx", "x", 0, 0) {
		t.Fatal("zero limit fits nothing")
	}
}

func TestTrimToBudget(t *testing.T) {
	text := strings.Repeat("a line of source code here\n", 100)
	trimmed := TrimToBudget("llama", text, 50)
	if Count("llama", trimmed) > 50 {
		t.Fatalf("trimmed text still counts %d tokens", Count("llama", trimmed))
	}
	if !strings.HasPrefix(text, trimmed[:20]) {
		t.Fatal("trim must keep a prefix of the input")
	}
	if TrimToBudget("llama", text, 0) != "" {
		t.Fatal("zero budget trims to empty")
	}
	if got := TrimToBudget("llama", "tiny", 100); got != "tiny" {
		t.Fatalf("under-budget text must pass through, got %q", got)
	}
}
