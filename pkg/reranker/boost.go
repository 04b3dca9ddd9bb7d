package reranker

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/kb"
)

// typeBoost weights document types by how often they answer direct
// questions; project and research notes outrank background philosophy.
var typeBoost = map[kb.DocumentType]float64{
	kb.TypeProject:       1.15,
	kb.TypeResearch:      1.1,
	kb.TypeDocumentation: 1.0,
	kb.TypePhilosophy:    0.9,
}

// recencyHalfLife is the age at which the recency boost decays to half.
const recencyHalfLife = 365 * 24 * time.Hour

// MetadataBoost wraps another reranker and adjusts its scores with type
// multipliers and recency decay.
type MetadataBoost struct {
	inner Reranker
	now   func() time.Time
}

func NewMetadataBoost(inner Reranker) *MetadataBoost {
	if inner == nil {
		inner = Noop{}
	}
	return &MetadataBoost{inner: inner, now: time.Now}
}

func (b *MetadataBoost) Rerank(ctx context.Context, query string, candidates []databases.ScoredChunk, topN int) []databases.ScoredChunk {
	// Let the inner reranker see the full candidate list; boost reorders
	// before the final truncation.
	ranked := b.inner.Rerank(ctx, query, candidates, 0)

	boosted := make([]databases.ScoredChunk, len(ranked))
	now := b.now()
	for i, hit := range ranked {
		hit.Score *= b.boostFor(hit.Chunk, now)
		boosted[i] = hit
	}
	sort.SliceStable(boosted, func(i, j int) bool { return boosted[i].Score > boosted[j].Score })
	return truncate(boosted, topN)
}

func (b *MetadataBoost) boostFor(chunk kb.Chunk, now time.Time) float64 {
	boost := typeBoost[chunk.Type]
	if boost == 0 {
		boost = 1.0
	}

	if !chunk.CreatedAt.IsZero() {
		age := now.Sub(chunk.CreatedAt)
		if age < 0 {
			age = 0
		}
		// Decay from 1.1 toward 0.95 with the configured half-life.
		decay := math.Pow(0.5, float64(age)/float64(recencyHalfLife))
		boost *= 0.95 + 0.15*decay
	}
	return boost
}
