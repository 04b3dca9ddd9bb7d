package databases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/kb"
)

const upsertBatchSize = 100

// QdrantStore implements VectorStore on a Qdrant collection.
type QdrantStore struct {
	client           *qdrant.Client
	collection       string
	dimension        int
	compoundOrFilter bool
}

func NewQdrantStore(cfg config.QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{
		client:           client,
		collection:       cfg.Collection,
		compoundOrFilter: cfg.CompoundOrFilter,
	}, nil
}

// EnsureCollection creates the collection and its payload indexes when
// absent. The full-text index on text backs keyword search; the keyword
// index on source backs filter pushdown.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	s.dimension = dimension

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
	}

	for field, fieldType := range map[string]qdrant.FieldType{
		"text":    qdrant.FieldType_FieldTypeText,
		"source":  qdrant.FieldType_FieldTypeKeyword,
		"type":    qdrant.FieldType_FieldTypeKeyword,
		"tags":    qdrant.FieldType_FieldTypeKeyword,
		"section": qdrant.FieldType_FieldTypeKeyword,
	} {
		ft := fieldType
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      &ft,
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, chunk kb.Chunk, vector []float32) error {
	return s.UpsertBatch(ctx, []kb.Chunk{chunk}, [][]float32{vector})
}

// UpsertBatch writes points in fixed-size batches. Point IDs derive from
// (source, chunk_index), so re-ingesting replaces instead of duplicating.
func (s *QdrantStore) UpsertBatch(ctx context.Context, chunks []kb.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			payload, err := qdrant.TryValueMap(chunkPayload(chunks[i]))
			if err != nil {
				return fmt.Errorf("failed to convert payload for chunk %s: %w", chunks[i].ID, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(chunks[i].ID),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: payload,
			})
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert points: %w", err)
		}
	}
	return nil
}

func (s *QdrantStore) VectorSearch(ctx context.Context, vector []float32, limit int, filter *Filter) ([]ScoredChunk, error) {
	query := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := buildFilter(filter); f != nil {
		query.Filter = f
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]ScoredChunk, 0, len(points))
	for _, point := range points {
		results = append(results, ScoredChunk{
			Chunk: chunkFromPayload(pointID(point.Id), point.Payload),
			Score: float64(point.Score),
		})
	}
	return results, nil
}

// KeywordSearch scrolls full-text candidates and ranks them with BM25
// computed over the candidate set.
func (s *QdrantStore) KeywordSearch(ctx context.Context, query string, limit int, filter *Filter) ([]ScoredChunk, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	scrollFilter := buildFilter(filter)
	if scrollFilter == nil {
		scrollFilter = &qdrant.Filter{}
	}
	for _, tok := range tokens {
		scrollFilter.Should = append(scrollFilter.Should, qdrant.NewMatchText("text", tok))
	}

	candidateLimit := uint32(limit * 10)
	if candidateLimit < 100 {
		candidateLimit = 100
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         scrollFilter,
		Limit:          qdrant.PtrOf(candidateLimit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	chunks := make([]kb.Chunk, len(points))
	docTokens := make([][]string, len(points))
	for i, point := range points {
		chunks[i] = chunkFromPayload(pointID(point.Id), point.Payload)
		docTokens[i] = tokenize(chunks[i].Text)
	}

	corpus := newBM25(docTokens)
	results := make([]ScoredChunk, 0, len(chunks))
	for i, chunk := range chunks {
		if score := corpus.score(tokens, i); score > 0 {
			results = append(results, ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	return fuseHybrid(nil, results, 0, limit), nil
}

func (s *QdrantStore) HybridSearch(ctx context.Context, query string, vector []float32, alpha float64, limit int, filter *Filter) ([]ScoredChunk, error) {
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

func (s *QdrantStore) DeleteBySource(ctx context.Context, source string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildFilter(BySource(source)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for source %s: %w", source, err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (s *QdrantStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", s.collection, err)
	}
	if s.dimension > 0 {
		return s.EnsureCollection(ctx, s.dimension)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}

func (s *QdrantStore) SupportsCompoundOrFilter() bool {
	return s.compoundOrFilter
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildFilter(filter *Filter) *qdrant.Filter {
	if filter == nil || len(filter.Conditions) == 0 {
		return nil
	}

	out := &qdrant.Filter{}
	for _, cond := range filter.Conditions {
		switch cond.Op {
		case OpAny:
			out.Must = append(out.Must, qdrant.NewMatchKeywords(cond.Field, cond.Values...))
		case OpAll:
			for _, value := range cond.Values {
				out.Must = append(out.Must, qdrant.NewMatchKeyword(cond.Field, value))
			}
		default:
			if len(cond.Values) > 0 {
				out.Must = append(out.Must, qdrant.NewMatchKeyword(cond.Field, cond.Values[0]))
			}
		}
	}
	return out
}

func chunkPayload(chunk kb.Chunk) map[string]any {
	tags := make([]any, len(chunk.Tags))
	for i, tag := range chunk.Tags {
		tags[i] = tag
	}
	return map[string]any{
		"text":         chunk.Text,
		"source":       chunk.Source,
		"section":      chunk.Section,
		"type":         string(chunk.Type),
		"tags":         tags,
		"chunk_index":  int64(chunk.ChunkIndex),
		"total_chunks": int64(chunk.TotalChunks),
		"created_at":   chunk.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) kb.Chunk {
	chunk := kb.Chunk{
		ID:          id,
		Text:        payloadString(payload, "text"),
		Source:      payloadString(payload, "source"),
		Section:     payloadString(payload, "section"),
		Type:        kb.DocumentType(payloadString(payload, "type")),
		ChunkIndex:  payloadInt(payload, "chunk_index"),
		TotalChunks: payloadInt(payload, "total_chunks"),
	}
	if list := payload["tags"].GetListValue(); list != nil {
		for _, item := range list.Values {
			if s := item.GetStringValue(); s != "" {
				chunk.Tags = append(chunk.Tags, s)
			}
		}
	}
	if created := payloadString(payload, "created_at"); created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			chunk.CreatedAt = t
		}
	}
	return chunk
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		return int(v.GetIntegerValue())
	}
	return 0
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
