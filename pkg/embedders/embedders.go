// Package embedders produces dense vectors for corpus chunks and queries.
package embedders

import (
	"context"
	"math"
)

// Embedder converts text into dense vectors. Implementations must preserve
// input order in EmbedBatch and return one vector per input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
