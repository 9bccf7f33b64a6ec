package llm

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dialect selects how a message list is rendered for the wire.
type Dialect string

const (
	// DialectChat is the role-annotated message list (OpenAI family).
	DialectChat Dialect = "chat"

	// DialectAnthropic is chat with the first system message promoted to a
	// top-level system field.
	DialectAnthropic Dialect = "anthropic"

	// DialectMistral collapses system+user into [INST] ... [/INST] segments.
	DialectMistral Dialect = "mistral"

	// DialectLlama70B is the BOS + <<SYS>> framing used by CodeLlama-70B.
	DialectLlama70B Dialect = "llama70b"

	// DialectDeepSeek is the "### Instruction:" / "### Response:" framing.
	DialectDeepSeek Dialect = "deepseek"
)

// FIMVariant selects the fill-in-the-middle sentinel family for a model.
type FIMVariant string

const (
	FIMNone      FIMVariant = ""
	FIMCodeLlama FIMVariant = "codellama"
	FIMDeepSeek  FIMVariant = "deepseek"
)

// ModelInfo is the static per-model metadata consulted by the formatter,
// tokenizer selection, and the broker's support checks.
type ModelInfo struct {
	Tokenizer string     `yaml:"tokenizer"`
	Dialect   Dialect    `yaml:"dialect"`
	FIM       FIMVariant `yaml:"fim"`
	Context   int        `yaml:"context"`
}

//go:embed models.yaml
var modelsYAML []byte

var catalog map[LLMType]ModelInfo

func init() {
	if err := yaml.Unmarshal(modelsYAML, &catalog); err != nil {
		panic(fmt.Sprintf("model catalog is corrupt: %v", err))
	}
}

// Info returns the catalog entry for a model. Custom models fall back to the
// plain chat dialect with the approximate tokenizer.
func Info(t LLMType) ModelInfo {
	if info, ok := catalog[t]; ok {
		return info
	}
	return ModelInfo{Tokenizer: "approx", Dialect: DialectChat}
}

// SupportsFIM reports whether the model has a fill-in-the-middle dialect.
func (t LLMType) SupportsFIM() bool {
	return Info(t).FIM != FIMNone
}

// KnownModels returns every model in the catalog, for support tables.
func KnownModels() []LLMType {
	models := make([]LLMType, 0, len(catalog))
	for m := range catalog {
		models = append(models, m)
	}
	return models
}
