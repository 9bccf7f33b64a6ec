package symbol

import (
	"regexp"
	"strconv"
	"strings"
)

// AgentOutput is the parsed form of a model response. The model is prompted
// to emit XML-tagged sections inside a top-level <response> element; only the
// top-level tag is mandatory.
type AgentOutput struct {
	Thinking  string
	Answer    string
	Edits     []ParsedEdit
	Questions []string
	Spawns    []SymbolIdentifier
}

// ParsedEdit is one <edit> section from the model.
type ParsedEdit struct {
	FSFilePath  string
	StartLine   int
	EndLine     int
	ReplaceWith string
}

var (
	editOpenRe  = regexp.MustCompile(`<edit\s+file="([^"]*)"\s+start_line="(\d+)"\s+end_line="(\d+)"\s*>`)
	spawnRe     = regexp.MustCompile(`<spawn\s+symbol="([^"]*)"(?:\s+file="([^"]*)")?\s*/?>`)
	responseTag = "response"
)

// ParseAgentOutput extracts the tagged sections from raw model output. The
// parser is tolerant: stray text around the top-level tag, leading/trailing
// whitespace, and an unclosed final tag are all recovered. It fails with
// ErrMalformedAgentOutput only when no <response> tag exists at all.
func ParseAgentOutput(raw string) (AgentOutput, error) {
	body, ok := section(raw, responseTag)
	if !ok {
		return AgentOutput{}, ErrMalformedAgentOutput
	}

	out := AgentOutput{}
	if thinking, ok := section(body, "thinking"); ok {
		out.Thinking = strings.TrimSpace(thinking)
	}
	if answer, ok := section(body, "answer"); ok {
		out.Answer = strings.TrimSpace(answer)
	}

	rest := body
	for {
		loc := editOpenRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		m := editOpenRe.FindStringSubmatch(rest)
		start, _ := strconv.Atoi(m[2])
		end, _ := strconv.Atoi(m[3])

		content := rest[loc[1]:]
		if closeIdx := strings.Index(content, "</edit>"); closeIdx >= 0 {
			rest = content[closeIdx+len("</edit>"):]
			content = content[:closeIdx]
		} else {
			// Unclosed final tag: take everything to the end of the body.
			rest = ""
		}
		out.Edits = append(out.Edits, ParsedEdit{
			FSFilePath:  m[1],
			StartLine:   start,
			EndLine:     end,
			ReplaceWith: trimSingleNewlines(content),
		})
		if rest == "" {
			break
		}
	}

	rest = body
	for {
		q, ok := section(rest, "question")
		if !ok {
			break
		}
		out.Questions = append(out.Questions, strings.TrimSpace(q))
		idx := strings.Index(rest, "</question>")
		if idx < 0 {
			break
		}
		rest = rest[idx+len("</question>"):]
	}

	for _, m := range spawnRe.FindAllStringSubmatch(body, -1) {
		out.Spawns = append(out.Spawns, SymbolIdentifier{SymbolName: m[1], FSFilePath: m[2]})
	}

	return out, nil
}

// section extracts the content of the first <tag>...</tag> pair. A missing
// close tag is tolerated by taking everything after the open tag.
func section(s, tag string) (string, bool) {
	open := "<" + tag + ">"
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	content := s[start+len(open):]
	if end := strings.Index(content, "</"+tag+">"); end >= 0 {
		content = content[:end]
	}
	return content, true
}

// trimSingleNewlines drops exactly one leading and one trailing newline so
// tag formatting does not leak into replacement text, while preserving
// intentional blank lines.
func trimSingleNewlines(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return s
}
