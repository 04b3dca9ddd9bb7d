package databases

import (
	"context"
	"sync"

	"github.com/cjcelaya/mindgate/pkg/embedders"
	"github.com/cjcelaya/mindgate/pkg/kb"
)

// MemoryStore is an in-process VectorStore. Vector search uses cosine
// similarity; keyword search uses BM25 over the full corpus.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]memoryPoint
}

type memoryPoint struct {
	chunk  kb.Chunk
	vector []float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]memoryPoint)}
}

func (s *MemoryStore) EnsureCollection(context.Context, int) error { return nil }

func (s *MemoryStore) Upsert(_ context.Context, chunk kb.Chunk, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[chunk.ID] = memoryPoint{chunk: chunk, vector: vector}
	return nil
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, chunks []kb.Chunk, vectors [][]float32) error {
	for i, chunk := range chunks {
		if err := s.Upsert(ctx, chunk, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) VectorSearch(_ context.Context, vector []float32, limit int, filter *Filter) ([]ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ScoredChunk
	for _, point := range s.points {
		if !matches(point.chunk, filter) {
			continue
		}
		score := embedders.CosineSimilarity(vector, point.vector)
		if score <= 0 {
			continue
		}
		hits = append(hits, ScoredChunk{Chunk: point.chunk, Score: score})
	}
	return fuseHybrid(hits, nil, 1, limit), nil
}

func (s *MemoryStore) KeywordSearch(_ context.Context, query string, limit int, filter *Filter) ([]ScoredChunk, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []kb.Chunk
	var docTokens [][]string
	for _, point := range s.points {
		if !matches(point.chunk, filter) {
			continue
		}
		chunks = append(chunks, point.chunk)
		docTokens = append(docTokens, tokenize(point.chunk.Text))
	}

	corpus := newBM25(docTokens)
	var hits []ScoredChunk
	for i, chunk := range chunks {
		if score := corpus.score(tokens, i); score > 0 {
			hits = append(hits, ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	return fuseHybrid(nil, hits, 0, limit), nil
}

func (s *MemoryStore) HybridSearch(ctx context.Context, query string, vector []float32, alpha float64, limit int, filter *Filter) ([]ScoredChunk, error) {
	vectorHits, err := s.VectorSearch(ctx, vector, limit*2, filter)
	if err != nil {
		return nil, err
	}
	keywordHits, err := s.KeywordSearch(ctx, query, limit*2, filter)
	if err != nil {
		return nil, err
	}
	return fuseHybrid(vectorHits, keywordHits, alpha, limit), nil
}

func (s *MemoryStore) DeleteBySource(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, point := range s.points {
		if point.chunk.Source == source {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = make(map[string]memoryPoint)
	return nil
}

func (s *MemoryStore) Count(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.points)), nil
}

func (s *MemoryStore) SupportsCompoundOrFilter() bool { return true }

func (s *MemoryStore) Close() error { return nil }

func matches(chunk kb.Chunk, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for _, cond := range filter.Conditions {
		if !matchCondition(chunk, cond) {
			return false
		}
	}
	return true
}

func matchCondition(chunk kb.Chunk, cond Condition) bool {
	switch cond.Field {
	case "source":
		return matchValue(cond, chunk.Source)
	case "section":
		return matchValue(cond, chunk.Section)
	case "type":
		return matchValue(cond, string(chunk.Type))
	case "tags":
		return matchArray(cond, chunk.Tags)
	default:
		return false
	}
}

func matchValue(cond Condition, value string) bool {
	switch cond.Op {
	case OpAny:
		for _, want := range cond.Values {
			if value == want {
				return true
			}
		}
		return false
	default:
		return len(cond.Values) > 0 && value == cond.Values[0]
	}
}

func matchArray(cond Condition, values []string) bool {
	have := make(map[string]bool, len(values))
	for _, v := range values {
		have[v] = true
	}
	switch cond.Op {
	case OpAll:
		for _, want := range cond.Values {
			if !have[want] {
				return false
			}
		}
		return true
	default: // any
		for _, want := range cond.Values {
			if have[want] {
				return true
			}
		}
		return false
	}
}
