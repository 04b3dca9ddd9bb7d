package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cjcelaya/mindgate/pkg/cache"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/llms"
)

// hydeMaxTokens bounds the hypothetical document length.
const hydeMaxTokens = 500

const hydePrompt = `Write a concise, hypothetical document excerpt that would be highly relevant to answer the following query: "%s"

The excerpt should:
- Be brief (1-2 paragraphs)
- Directly address the core of the query
- Sound like a real knowledge-base note
- Not mention that it is hypothetical

Excerpt:`

// HyDESearch searches with a Hypothetical Document Embedding: the LLM
// writes a document that would answer the query, and that document's
// embedding replaces the query embedding. One extra LLM call, one embed
// call; the hypothetical is cached per query.
func (e *Engine) HyDESearch(ctx context.Context, query string, limit int, rerank bool) ([]databases.ScoredChunk, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	hypothetical, err := e.hypotheticalDocument(ctx, query)
	if err != nil {
		return nil, err
	}

	vector, err := e.embedder.Embed(ctx, hypothetical)
	if err != nil {
		return nil, fmt.Errorf("failed to embed hypothetical document: %w", err)
	}

	candidates, err := e.vectors.VectorSearch(ctx, vector, limit*overfetchFactor, nil)
	if err != nil {
		return nil, err
	}
	if rerank {
		// Rerank against the real query, not the hypothetical.
		candidates = e.reranker.Rerank(ctx, query, candidates, 0)
	}
	return dedupe(candidates, limit), nil
}

func (e *Engine) hypotheticalDocument(ctx context.Context, query string) (string, error) {
	key := cache.RewriteKey("hyde", query)
	if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		return string(data), nil
	}

	temp := 0.7
	hypothetical, _, err := e.llm.Generate(ctx, []llms.Message{
		llms.User(fmt.Sprintf(hydePrompt, sanitizeInput(query))),
	}, llms.Options{Temperature: &temp, MaxTokens: hydeMaxTokens})
	if err != nil {
		return "", fmt.Errorf("failed to generate hypothetical document: %w", err)
	}
	if hypothetical == "" {
		return "", fmt.Errorf("hypothetical document generation returned empty response")
	}

	if err := e.cache.Set(ctx, key, []byte(hypothetical), cache.RewriteTTL); err != nil {
		slog.Debug("Rewrite cache write failed", "error", err)
	}
	return hypothetical, nil
}
