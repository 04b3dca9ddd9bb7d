// Package rag is the retrieval engine: mode dispatch, query rewriting,
// over-fetching, reranking, deduplication, and result caching.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cjcelaya/mindgate/pkg/cache"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/embedders"
	"github.com/cjcelaya/mindgate/pkg/extract"
	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/kberr"
	"github.com/cjcelaya/mindgate/pkg/llms"
	"github.com/cjcelaya/mindgate/pkg/reranker"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
	ModeGraph    Mode = "graph"
)

// HybridAlpha weights vector similarity against keyword score in hybrid
// fusion.
const HybridAlpha = 0.7

// overfetchFactor is how many extra candidates are pulled before reranking
// and deduplication.
const overfetchFactor = 3

const defaultLimit = 8

// Request is one search invocation.
type Request struct {
	Query  string            `json:"query"`
	Mode   Mode              `json:"mode,omitempty"`
	Filter *databases.Filter `json:"-"`
	Limit  int               `json:"limit,omitempty"`
	Rerank bool              `json:"rerank,omitempty"`
}

// ContextBlock is one retrieval result shaped for prompt assembly.
type ContextBlock struct {
	Text    string  `json:"text"`
	Source  string  `json:"source"`
	Section string  `json:"section"`
	Score   float64 `json:"score"`
}

// Engine coordinates the stores, the embedder, the LLM rewriters, and the
// reranker. graph and extractor may be nil; graph mode then falls back to
// hybrid.
type Engine struct {
	vectors   databases.VectorStore
	embedder  embedders.Embedder
	llm       llms.LLM
	reranker  reranker.Reranker
	graph     graphdb.GraphStore
	extractor *extract.Extractor
	cache     cache.Cache
}

func NewEngine(vectors databases.VectorStore, embedder embedders.Embedder, llm llms.LLM, rr reranker.Reranker, graph graphdb.GraphStore, extractor *extract.Extractor, c cache.Cache) *Engine {
	if rr == nil {
		rr = reranker.Noop{}
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Engine{
		vectors:   vectors,
		embedder:  embedder,
		llm:       llm,
		reranker:  rr,
		graph:     graph,
		extractor: extractor,
		cache:     c,
	}
}

// Search runs one retrieval request: cache check keyed on the query
// embedding, query rewrite, mode dispatch with over-fetch, rerank when the
// candidate set outgrows the limit, fingerprint dedup, cache store, truncate.
func (e *Engine) Search(ctx context.Context, req Request) ([]databases.ScoredChunk, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, kberr.New(kberr.KindValidation, "query must not be empty")
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	// Vector-bearing modes key the result cache on the embedding, so two
	// phrasings that embed identically share an entry. Keyword mode has no
	// vector and keys on the query text.
	seed := query
	var vector []float32
	if req.Mode == ModeSemantic || req.Mode == ModeHybrid || req.Mode == ModeGraph {
		var err error
		vector, err = e.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		seed = cache.VectorDigest(vector)
	}

	// Filtered searches bypass the cache: the key does not encode the
	// filter shape.
	cacheable := req.Filter == nil
	key := cache.SearchKey(seed, string(req.Mode), req.Limit, !cacheable)
	if cacheable {
		if hits, ok := e.cachedResults(ctx, key); ok {
			return hits, nil
		}
	}

	candidates, err := e.retrieve(ctx, query, vector, req.Mode, req.Filter, req.Limit*overfetchFactor)
	if err != nil {
		return nil, err
	}

	if req.Rerank && len(candidates) > req.Limit {
		candidates = e.reranker.Rerank(ctx, query, candidates, 0)
	}
	hits := dedupe(candidates, req.Limit)

	if cacheable {
		e.storeResults(ctx, key, hits)
	}
	return hits, nil
}

func (e *Engine) retrieve(ctx context.Context, query string, vector []float32, mode Mode, filter *databases.Filter, limit int) ([]databases.ScoredChunk, error) {
	switch mode {
	case ModeSemantic:
		return e.vectors.VectorSearch(ctx, vector, limit, filter)

	case ModeKeyword:
		return e.vectors.KeywordSearch(ctx, e.rewriteQuery(ctx, query), limit, filter)

	case ModeGraph:
		return e.graphRetrieve(ctx, query, vector, filter, limit)

	case ModeHybrid:
		return e.vectors.HybridSearch(ctx, e.rewriteQuery(ctx, query), vector, HybridAlpha, limit, filter)

	default:
		return nil, kberr.Newf(kberr.KindValidation, "unknown search mode %q", mode)
	}
}

const rewriteMaxTokens = 200

const rewritePrompt = `Rewrite the following search query so it is rich in relevant keywords while preserving its intent. Respond with a single line containing only the rewritten query.

Query: "%s"

Rewritten query:`

// rewriteQuery asks the LLM for a keyword-rich rephrasing, used as the
// sparse half of hybrid fusion and as the BM25 query. Rewrites are cached
// per query; any failure degrades to the original text.
func (e *Engine) rewriteQuery(ctx context.Context, query string) string {
	key := cache.RewriteKey("keyword", query)
	if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		return string(data)
	}

	temp := 0.3
	response, _, err := e.llm.Generate(ctx, []llms.Message{
		llms.User(fmt.Sprintf(rewritePrompt, sanitizeInput(query))),
	}, llms.Options{Temperature: &temp, MaxTokens: rewriteMaxTokens})
	if err != nil {
		slog.Debug("Query rewrite failed, keeping the original", "error", err)
		return query
	}

	rewritten := strings.TrimSpace(response)
	if i := strings.IndexByte(rewritten, '\n'); i >= 0 {
		rewritten = strings.TrimSpace(rewritten[:i])
	}
	rewritten = strings.Trim(rewritten, `"`)
	if rewritten == "" {
		return query
	}

	if err := e.cache.Set(ctx, key, []byte(rewritten), cache.RewriteTTL); err != nil {
		slog.Debug("Rewrite cache write failed", "error", err)
	}
	return rewritten
}

// graphRetrieve walks extracted query entities to their documents, then
// vector-searches within those sources. Anything short of a usable entity
// set falls back to hybrid search.
func (e *Engine) graphRetrieve(ctx context.Context, query string, vector []float32, filter *databases.Filter, limit int) ([]databases.ScoredChunk, error) {
	if e.graph == nil || e.extractor == nil {
		return e.retrieve(ctx, query, vector, ModeHybrid, filter, limit)
	}

	entities, err := e.extractor.EntityNames(ctx, query)
	if err != nil || len(entities) == 0 {
		if err != nil {
			slog.Debug("Graph mode entity extraction failed, falling back to hybrid", "error", err)
		}
		return e.retrieve(ctx, query, vector, ModeHybrid, filter, limit)
	}

	seen := make(map[string]bool)
	var sources []string
	for _, entity := range entities {
		docs, err := e.graph.DocumentsFor(ctx, entity)
		if err != nil {
			slog.Debug("Graph lookup failed for entity", "entity", entity, "error", err)
			continue
		}
		for _, source := range docs {
			if !seen[source] {
				seen[source] = true
				sources = append(sources, source)
			}
		}
	}
	if len(sources) == 0 {
		return e.retrieve(ctx, query, vector, ModeHybrid, filter, limit)
	}

	if e.vectors.SupportsCompoundOrFilter() {
		return e.vectors.VectorSearch(ctx, vector, limit, mergeFilters(filter, databases.BySources(sources)))
	}

	// Compound Or pushdown unavailable: query per source and merge.
	var sets [][]databases.ScoredChunk
	for _, source := range sources {
		hits, err := e.vectors.VectorSearch(ctx, vector, limit, mergeFilters(filter, databases.BySource(source)))
		if err != nil {
			return nil, err
		}
		sets = append(sets, hits)
	}
	return combineResults(sets, limit), nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vector, nil
}

func (e *Engine) cachedResults(ctx context.Context, key string) ([]databases.ScoredChunk, bool) {
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var hits []databases.ScoredChunk
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, false
	}
	return hits, true
}

func (e *Engine) storeResults(ctx context.Context, key string, hits []databases.ScoredChunk) {
	data, err := json.Marshal(hits)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, cache.SearchTTL); err != nil {
		slog.Debug("Search cache write failed", "error", err)
	}
}

// dedupe drops repeated (source, chunk_index) fingerprints, keeping the
// first (highest-ranked) occurrence, then truncates.
func dedupe(hits []databases.ScoredChunk, limit int) []databases.ScoredChunk {
	seen := make(map[string]bool, len(hits))
	out := make([]databases.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		fp := hit.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, hit)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// combineResults merges result sets, keeping the best score per chunk.
func combineResults(sets [][]databases.ScoredChunk, limit int) []databases.ScoredChunk {
	best := make(map[string]databases.ScoredChunk)
	for _, set := range sets {
		for _, hit := range set {
			fp := hit.Fingerprint()
			if existing, ok := best[fp]; !ok || hit.Score > existing.Score {
				best[fp] = hit
			}
		}
	}

	out := make([]databases.ScoredChunk, 0, len(best))
	for _, hit := range best {
		out = append(out, hit)
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

func mergeFilters(base, extra *databases.Filter) *databases.Filter {
	if base == nil {
		return extra
	}
	if extra == nil {
		return base
	}
	merged := &databases.Filter{}
	merged.Conditions = append(merged.Conditions, base.Conditions...)
	merged.Conditions = append(merged.Conditions, extra.Conditions...)
	return merged
}

// ToContext shapes results for prompt assembly.
func ToContext(hits []databases.ScoredChunk) []ContextBlock {
	blocks := make([]ContextBlock, len(hits))
	for i, hit := range hits {
		blocks[i] = ContextBlock{
			Text:    hit.Text,
			Source:  hit.Source,
			Section: hit.Section,
			Score:   hit.Score,
		}
	}
	return blocks
}

// FormatContext renders context blocks with [source:section] citation
// headers, the format the system prompt tells the model to cite.
func FormatContext(blocks []ContextBlock) string {
	var sb strings.Builder
	for i, block := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s:%s]\n%s", block.Source, block.Section, block.Text)
	}
	return sb.String()
}
