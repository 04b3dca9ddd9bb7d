package embedders

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cjcelaya/mindgate/pkg/cache"
)

// CachedEmbedder wraps an Embedder with a content-addressed cache. Cache
// failures degrade to direct embedding; they never fail the call.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
}

func NewCachedEmbedder(inner Embedder, c cache.Cache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.EmbeddingKey(e.inner.ModelName(), text)
	if vector, ok := e.lookup(ctx, key); ok {
		return vector, nil
	}

	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store(ctx, key, vector)
	return vector, nil
}

// EmbedBatch serves cached texts from the cache and embeds only the misses,
// preserving input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIndexes []int

	for i, text := range texts {
		key := cache.EmbeddingKey(e.inner.ModelName(), text)
		if vector, ok := e.lookup(ctx, key); ok {
			results[i] = vector
			continue
		}
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}

	if len(missTexts) > 0 {
		vectors, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vector := range vectors {
			idx := missIndexes[j]
			results[idx] = vector
			e.store(ctx, cache.EmbeddingKey(e.inner.ModelName(), texts[idx]), vector)
		}
	}

	return results, nil
}

func (e *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		slog.Debug("Embedding cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		slog.Debug("Embedding cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return vector, true
}

func (e *CachedEmbedder) store(ctx context.Context, key string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, cache.EmbeddingTTL); err != nil {
		slog.Debug("Embedding cache write failed", "error", err)
	}
}

func (e *CachedEmbedder) Dimension() int    { return e.inner.Dimension() }
func (e *CachedEmbedder) ModelName() string { return e.inner.ModelName() }
func (e *CachedEmbedder) Close() error      { return e.inner.Close() }
