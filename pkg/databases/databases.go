// Package databases persists and searches chunk vectors. Qdrant backs
// production; an in-memory store with literal BM25 scoring backs tests.
package databases

import (
	"context"
	"sort"
	"strings"

	"github.com/cjcelaya/mindgate/pkg/kb"
)

// ScoredChunk is one search hit with its relevance score.
type ScoredChunk struct {
	kb.Chunk
	Score float64
}

// Operator selects how a filter condition matches.
type Operator string

const (
	// OpEqual matches a single value exactly.
	OpEqual Operator = "equal"
	// OpAny matches when the field equals any listed value.
	OpAny Operator = "any"
	// OpAll matches when an array field contains every listed value.
	OpAll Operator = "all"
)

// Condition constrains one payload field.
type Condition struct {
	Field  string
	Op     Operator
	Values []string
}

// Filter is the conjunction of its conditions.
type Filter struct {
	Conditions []Condition
}

// BySource builds the filter restricting results to one source file.
func BySource(source string) *Filter {
	return &Filter{Conditions: []Condition{{Field: "source", Op: OpEqual, Values: []string{source}}}}
}

// BySources builds the compound Or filter over multiple source files.
func BySources(sources []string) *Filter {
	return &Filter{Conditions: []Condition{{Field: "source", Op: OpAny, Values: sources}}}
}

// VectorStore is the chunk index. Searches never mutate state; Upsert with
// an existing chunk ID replaces the stored point.
type VectorStore interface {
	// EnsureCollection creates the collection when absent.
	EnsureCollection(ctx context.Context, dimension int) error

	Upsert(ctx context.Context, chunk kb.Chunk, vector []float32) error
	UpsertBatch(ctx context.Context, chunks []kb.Chunk, vectors [][]float32) error

	VectorSearch(ctx context.Context, vector []float32, limit int, filter *Filter) ([]ScoredChunk, error)
	KeywordSearch(ctx context.Context, query string, limit int, filter *Filter) ([]ScoredChunk, error)
	HybridSearch(ctx context.Context, query string, vector []float32, alpha float64, limit int, filter *Filter) ([]ScoredChunk, error)

	DeleteBySource(ctx context.Context, source string) error
	Reset(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)

	// SupportsCompoundOrFilter reports whether BySources can be pushed down
	// in one query. When false, callers batch per-source and merge.
	SupportsCompoundOrFilter() bool

	Close() error
}

// fuseHybrid merges vector and keyword result lists into a single ranking:
// each list's scores are max-normalized to [0,1], then combined as
// alpha*vector + (1-alpha)*keyword per chunk.
func fuseHybrid(vector, keyword []ScoredChunk, alpha float64, limit int) []ScoredChunk {
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}

	type fused struct {
		chunk   kb.Chunk
		vScore  float64
		kScore  float64
	}

	merged := make(map[string]*fused)
	for _, hit := range normalize(vector) {
		merged[hit.ID] = &fused{chunk: hit.Chunk, vScore: hit.Score}
	}
	for _, hit := range normalize(keyword) {
		if existing, ok := merged[hit.ID]; ok {
			existing.kScore = hit.Score
			continue
		}
		merged[hit.ID] = &fused{chunk: hit.Chunk, kScore: hit.Score}
	}

	out := make([]ScoredChunk, 0, len(merged))
	for _, f := range merged {
		out = append(out, ScoredChunk{
			Chunk: f.chunk,
			Score: alpha*f.vScore + (1-alpha)*f.kScore,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Fingerprint() < out[j].Fingerprint()
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalize(hits []ScoredChunk) []ScoredChunk {
	var max float64
	for _, hit := range hits {
		if hit.Score > max {
			max = hit.Score
		}
	}
	if max <= 0 {
		return hits
	}
	out := make([]ScoredChunk, len(hits))
	for i, hit := range hits {
		hit.Score /= max
		out[i] = hit
	}
	return out
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
