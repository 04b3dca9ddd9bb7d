package chat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cjcelaya/mindgate/pkg/kb"
	"github.com/cjcelaya/mindgate/pkg/rag"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens counts with the cl100k_base tokenizer, falling back to the
// chars/4 estimate when the encoding is unavailable (offline builds).
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return kb.EstimateTokens(text)
	}
	return len(encoding.Encode(text, nil, nil))
}

// fitContext drops the lowest-ranked blocks until the rendered context fits
// the token budget. Blocks arrive ranked best-first, so truncation removes
// from the tail.
func fitContext(blocks []rag.ContextBlock, budget int) []rag.ContextBlock {
	if budget <= 0 {
		return blocks
	}
	for len(blocks) > 0 && countTokens(rag.FormatContext(blocks)) > budget {
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}
