package format

import (
	"fmt"

	"mecha/internal/llm"
)

// FIM sentinel literals. These must match the upstream model training data
// byte for byte; any divergence silently degrades completions, so the literals
// are pinned by tests.
const (
	codeLlamaPre = "<PRE>"
	codeLlamaSuf = "<SUF>"
	codeLlamaMid = "<MID>"

	deepSeekFIMBegin = "<｜fim▁begin｜>"
	deepSeekFIMHole  = "<｜fim▁hole｜>"
	deepSeekFIMEnd   = "<｜fim▁end｜>"
)

// FIM renders a fill-in-the-middle prompt for the model's sentinel family.
// Models without a FIM variant fail with ErrUnsupportedDialect.
func FIM(model llm.LLMType, prefix, suffix string) (string, error) {
	switch llm.Info(model).FIM {
	case llm.FIMCodeLlama:
		return fmt.Sprintf("%s %s %s%s %s", codeLlamaPre, prefix, codeLlamaSuf, suffix, codeLlamaMid), nil
	case llm.FIMDeepSeek:
		return deepSeekFIMBegin + prefix + deepSeekFIMHole + suffix + deepSeekFIMEnd, nil
	default:
		return "", fmt.Errorf("%w: %s has no fill-in-the-middle sentinels", llm.ErrUnsupportedDialect, model)
	}
}
