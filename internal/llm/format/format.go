// Package format renders normalized message lists into provider wire form.
// Formatting is pure: the same request always renders to identical bytes.
package format

import (
	"fmt"
	"strings"

	"mecha/internal/llm"
)

// ChatPayload is the normalized chat wire form. For Anthropic-dialect models
// the first system message is promoted into the System field and removed from
// Messages; other chat models keep system messages inline.
type ChatPayload struct {
	System   string
	Messages []llm.Message
}

// Chat normalizes a message list for a chat-dialect model.
func Chat(model llm.LLMType, messages []llm.Message) (ChatPayload, error) {
	if len(messages) == 0 {
		return ChatPayload{}, llm.ErrInvalidRequest
	}

	info := llm.Info(model)
	if info.Dialect != llm.DialectAnthropic {
		return ChatPayload{Messages: messages}, nil
	}

	// Anthropic: promote the first system message, then merge consecutive
	// same-role turns since the API requires strict user/assistant alternation.
	var system string
	rest := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleSystem && system == "" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}

	merged := make([]llm.Message, 0, len(rest))
	for _, m := range rest {
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Content = merged[n-1].Content + "\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}

	return ChatPayload{System: system, Messages: merged}, nil
}

// Prompt renders a message list to a single raw prompt string for models whose
// dialect is text-completion shaped. Chat-dialect models render as plain
// role-tagged text so the function stays total on recognized models.
func Prompt(model llm.LLMType, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", llm.ErrInvalidRequest
	}

	switch llm.Info(model).Dialect {
	case llm.DialectMistral:
		return mistralPrompt(messages), nil
	case llm.DialectLlama70B:
		return llama70BPrompt(messages), nil
	case llm.DialectDeepSeek:
		return deepSeekPrompt(messages), nil
	default:
		return plainPrompt(messages), nil
	}
}

// mistralPrompt collapses system+user turns into [INST] segments; assistant
// turns terminate with </s>.
func mistralPrompt(messages []llm.Message) string {
	var sb strings.Builder
	sb.WriteString("<s>")

	var pendingSystem string
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if pendingSystem != "" {
				pendingSystem += "\n"
			}
			pendingSystem += m.Content
		case llm.RoleUser:
			sb.WriteString("[INST] ")
			if pendingSystem != "" {
				sb.WriteString(pendingSystem)
				sb.WriteString("\n\n")
				pendingSystem = ""
			}
			sb.WriteString(m.Content)
			sb.WriteString(" [/INST]")
		case llm.RoleAssistant:
			sb.WriteString(" ")
			sb.WriteString(m.Content)
			sb.WriteString("</s>")
		}
	}
	return sb.String()
}

// llama70BPrompt uses the BOS + <<SYS>> framing.
func llama70BPrompt(messages []llm.Message) string {
	var sb strings.Builder

	var system string
	first := true
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case llm.RoleUser:
			sb.WriteString("<s>[INST] ")
			if first && system != "" {
				sb.WriteString("<<SYS>>\n")
				sb.WriteString(system)
				sb.WriteString("\n<</SYS>>\n\n")
			}
			first = false
			sb.WriteString(m.Content)
			sb.WriteString(" [/INST]")
		case llm.RoleAssistant:
			sb.WriteString(" ")
			sb.WriteString(m.Content)
			sb.WriteString(" </s>")
		}
	}
	return sb.String()
}

// deepSeekPrompt uses the "### Instruction:" / "### Response:" sections.
func deepSeekPrompt(messages []llm.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		case llm.RoleUser:
			sb.WriteString("### Instruction:\n")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		case llm.RoleAssistant:
			sb.WriteString("### Response:\n")
			sb.WriteString(m.Content)
			sb.WriteString("\n<|EOT|>\n")
		}
	}
	sb.WriteString("### Response:\n")
	return sb.String()
}

// plainPrompt is the Custom/chat fallback: role-tagged text.
func plainPrompt(messages []llm.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return sb.String()
}
