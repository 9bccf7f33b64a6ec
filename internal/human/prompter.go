package human

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"mecha/internal/logging"
)

// Prompter answers agent questions on behalf of the human. It backs the
// ask_user tool handler.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// ConsolePrompter asks questions on a writer and reads one-line answers from
// a reader, typically stdout/stdin. Questions are serialized so concurrent
// agents never interleave on the terminal.
type ConsolePrompter struct {
	mu sync.Mutex
	in *bufio.Reader
	w  io.Writer
}

// NewConsolePrompter builds a prompter over the given streams.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewReader(in), w: out}
}

// Ask prints the question and blocks for a line of input. The read itself is
// not interruptible; ctx is checked before prompting and after the answer.
func (p *ConsolePrompter) Ask(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(p.w, "\n[agent] %s\n> ", question); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer := trimNewline(line)
	logging.HumanDebug("answered agent question (%d bytes)", len(answer))
	return answer, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
