package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cjcelaya/mindgate/pkg/cache"
	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/embedders"
	"github.com/cjcelaya/mindgate/pkg/extract"
	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/llms"
	"github.com/cjcelaya/mindgate/pkg/rag"
	"github.com/cjcelaya/mindgate/pkg/reranker"
	"github.com/cjcelaya/mindgate/pkg/tools"
)

// backends holds every shared client, created once per process. The graph
// store is optional: when Neo4j is unreachable the gateway degrades to
// vector-only retrieval.
type backends struct {
	cache    cache.Cache
	vectors  databases.VectorStore
	graph    graphdb.GraphStore
	embedder embedders.Embedder
	llm      llms.LLM
	engine   *rag.Engine
	registry *tools.Registry
}

func newBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	redisCache := cache.NewRedisCache(cfg.Redis)
	if err := redisCache.Ping(ctx); err != nil {
		slog.Warn("Redis unavailable, using in-process cache", "error", err)
		b.cache = cache.NewMemoryCache()
	} else {
		b.cache = redisCache
	}

	vectors, err := databases.NewQdrantStore(cfg.Qdrant)
	if err != nil {
		b.close(ctx)
		return nil, fmt.Errorf("vector store init: %w", err)
	}
	b.vectors = vectors

	graph, err := graphdb.NewNeo4jStore(ctx, cfg.Neo4j)
	if err != nil {
		slog.Warn("Graph store unavailable, graph retrieval disabled", "error", err)
	} else {
		b.graph = graph
	}

	embedder, err := embedders.NewOpenAIEmbedder(cfg.Embedder)
	if err != nil {
		b.close(ctx)
		return nil, fmt.Errorf("embedder init: %w", err)
	}
	b.embedder = embedders.NewCachedEmbedder(embedder, b.cache)

	llm, err := llms.NewOpenAIClient(cfg.LLM)
	if err != nil {
		b.close(ctx)
		return nil, fmt.Errorf("llm init: %w", err)
	}
	b.llm = llm

	rr := reranker.NewMetadataBoost(reranker.NewCohereReranker(cfg.Reranker))
	extractor := extract.NewExtractor(b.llm)

	b.engine = rag.NewEngine(b.vectors, b.embedder, b.llm, rr, b.graph, extractor, b.cache)
	b.registry = tools.NewDefaultRegistry(b.engine, tools.NewRemoteExecutor(cfg.Tools))
	return b, nil
}

func (b *backends) close(ctx context.Context) {
	if b.llm != nil {
		_ = b.llm.Close()
	}
	if b.embedder != nil {
		_ = b.embedder.Close()
	}
	if b.graph != nil {
		_ = b.graph.Close(ctx)
	}
	if b.vectors != nil {
		_ = b.vectors.Close()
	}
	if b.cache != nil {
		_ = b.cache.Close()
	}
}
