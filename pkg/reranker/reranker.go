// Package reranker reorders retrieval candidates by query relevance.
// Reranking is best-effort: a provider failure returns the candidates in
// their original order rather than failing the search.
package reranker

import (
	"context"

	"github.com/cjcelaya/mindgate/pkg/databases"
)

// Reranker reorders candidates and truncates to topN. Implementations must
// never drop the result set on provider failure.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []databases.ScoredChunk, topN int) []databases.ScoredChunk
}

func truncate(hits []databases.ScoredChunk, topN int) []databases.ScoredChunk {
	if topN > 0 && len(hits) > topN {
		return hits[:topN]
	}
	return hits
}

// Noop passes candidates through unchanged.
type Noop struct{}

func (Noop) Rerank(_ context.Context, _ string, candidates []databases.ScoredChunk, topN int) []databases.ScoredChunk {
	return truncate(candidates, topN)
}
