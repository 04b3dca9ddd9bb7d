package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cjcelaya/mindgate/pkg/cache"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/llms"
)

// numQueryVariants is how many alternative phrasings multi-query search
// generates, the original query included on top.
const numQueryVariants = 3

const multiQueryPrompt = `Generate %d alternative versions of the following search query.
Each alternative should:
- Search for the same information but with different wording
- Use synonyms or related terms
- Rephrase the question from different angles

Original query: "%s"

Respond with only the alternative queries, one per line, without numbering or bullets.`

// MultiQuerySearch improves recall by searching with several phrasings of
// the query and merging the result sets, keeping the best score per chunk.
// Expansion failures degrade to a plain hybrid search.
func (e *Engine) MultiQuerySearch(ctx context.Context, query string, limit int, rerank bool) ([]databases.ScoredChunk, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	queries := e.expandQuery(ctx, query)

	// Variants are already rewrites, so they feed hybrid search directly.
	var sets [][]databases.ScoredChunk
	for _, variant := range queries {
		vector, err := e.embedQuery(ctx, variant)
		if err != nil {
			return nil, err
		}
		hits, err := e.vectors.HybridSearch(ctx, variant, vector, HybridAlpha, limit*2, nil)
		if err != nil {
			return nil, err
		}
		sets = append(sets, hits)
	}

	combined := combineResults(sets, limit*overfetchFactor)
	if rerank {
		combined = e.reranker.Rerank(ctx, query, combined, 0)
	}
	return dedupe(combined, limit), nil
}

// expandQuery returns the original query plus up to numQueryVariants
// alternatives. The variant list is cached per query.
func (e *Engine) expandQuery(ctx context.Context, query string) []string {
	key := cache.RewriteKey("multiquery", query)
	if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var cached []string
		if err := json.Unmarshal(data, &cached); err == nil && len(cached) > 0 {
			return cached
		}
	}

	temp := 0.7
	response, _, err := e.llm.Generate(ctx, []llms.Message{
		llms.User(fmt.Sprintf(multiQueryPrompt, numQueryVariants, sanitizeInput(query))),
	}, llms.Options{Temperature: &temp, MaxTokens: 200})
	if err != nil {
		slog.Warn("Multi-query expansion failed", "error", err)
		return []string{query}
	}

	queries := parseQueryLines(response, query)

	if data, err := json.Marshal(queries); err == nil {
		if err := e.cache.Set(ctx, key, data, cache.RewriteTTL); err != nil {
			slog.Debug("Rewrite cache write failed", "error", err)
		}
	}
	return queries
}

// parseQueryLines extracts variants from the model response, always keeping
// the original query first.
func parseQueryLines(response, original string) []string {
	queries := []string{original}
	seen := map[string]bool{strings.ToLower(original): true}

	for _, line := range strings.Split(response, "\n") {
		query := strings.TrimSpace(line)
		for _, prefix := range []string{"-", "•", "*", "1.", "2.", "3.", "4.", "5."} {
			query = strings.TrimPrefix(query, prefix)
		}
		query = strings.Trim(strings.TrimSpace(query), `"'`)

		if query == "" || seen[strings.ToLower(query)] {
			continue
		}
		queries = append(queries, query)
		seen[strings.ToLower(query)] = true

		if len(queries) >= numQueryVariants+1 {
			break
		}
	}
	return queries
}
