// Package ingest turns the Markdown corpus into vector points and graph
// entities: discover, parse, chunk, embed, store, then build the graph.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/embedders"
	"github.com/cjcelaya/mindgate/pkg/extract"
	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/kb"
)

// Stage names one phase of the pipeline.
type Stage string

const (
	StageReading   Stage = "reading"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageComplete  Stage = "complete"
)

// Progress is one pipeline progress event.
type Progress struct {
	Stage           Stage  `json:"stage"`
	FilesProcessed  int    `json:"filesProcessed"`
	TotalFiles      int    `json:"totalFiles"`
	ChunksProcessed int    `json:"chunksProcessed"`
	TotalChunks     int    `json:"totalChunks"`
	Message         string `json:"message,omitempty"`
}

// ProgressFunc receives pipeline events. A nil func disables reporting.
type ProgressFunc func(Progress)

// Summary is the outcome of one pipeline run.
type Summary struct {
	Files       int
	FailedFiles int
	Chunks      int
	GraphNodes  int64
	GraphEdges  int64
	Duration    time.Duration
}

// Pipeline wires the parser, chunker, embedder, and stores together.
// A single parse failure skips that file; the run continues.
type Pipeline struct {
	parser    *kb.Parser
	chunker   *kb.Chunker
	embedder  embedders.Embedder
	vectors   databases.VectorStore
	graph     graphdb.GraphStore
	extractor *extract.Extractor
	cfg       config.IngestConfig
}

// New builds a pipeline. graph and extractor may be nil to skip the graph
// build (vector-only ingestion).
func New(embedder embedders.Embedder, vectors databases.VectorStore, graph graphdb.GraphStore, extractor *extract.Extractor, cfg config.IngestConfig) *Pipeline {
	if cfg.EmbedBatchSize <= 0 || cfg.EmbedBatchSize > 128 {
		cfg.EmbedBatchSize = 128
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Pipeline{
		parser:    kb.NewParser(),
		chunker:   kb.NewChunker(kb.ChunkerConfig{MaxTokens: cfg.MaxTokens, Overlap: cfg.Overlap}),
		embedder:  embedder,
		vectors:   vectors,
		graph:     graph,
		extractor: extractor,
		cfg:       cfg,
	}
}

// Run ingests the whole corpus directory.
func (p *Pipeline) Run(ctx context.Context, report ProgressFunc) (*Summary, error) {
	paths, err := kb.Discover(p.cfg.KnowledgeBaseDir)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, paths, report)
}

// ReingestFile re-ingests one file: its existing points are removed first,
// so edits and deletions of chunks converge.
func (p *Pipeline) ReingestFile(ctx context.Context, relPath string) (*Summary, error) {
	if err := p.vectors.DeleteBySource(ctx, relPath); err != nil {
		return nil, fmt.Errorf("failed to clear existing points for %s: %w", relPath, err)
	}
	return p.ingest(ctx, []string{relPath}, nil)
}

func (p *Pipeline) ingest(ctx context.Context, paths []string, report ProgressFunc) (*Summary, error) {
	start := time.Now()
	emit := func(progress Progress) {
		if report != nil {
			report(progress)
		}
	}

	totalFiles := len(paths)
	emit(Progress{Stage: StageReading, TotalFiles: totalFiles})

	// Parse and chunk with bounded concurrency. Results keep path order so
	// chunk IDs and progress stay deterministic.
	type parsed struct {
		doc    *kb.Document
		chunks []kb.Chunk
	}
	results := make([]*parsed, totalFiles)
	var failed int
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.MaxConcurrent)

	for i, relPath := range paths {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			doc, err := p.parser.ParseFile(p.cfg.KnowledgeBaseDir, relPath)
			if err != nil {
				slog.Warn("Skipping unparsable file", "path", relPath, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = &parsed{doc: doc, chunks: p.chunker.ChunkDocument(doc)}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var docs []*kb.Document
	var chunks []kb.Chunk
	for i, result := range results {
		if result == nil {
			continue
		}
		docs = append(docs, result.doc)
		chunks = append(chunks, result.chunks...)
		emit(Progress{
			Stage:          StageChunking,
			FilesProcessed: i + 1,
			TotalFiles:     totalFiles,
			TotalChunks:    len(chunks),
			Message:        result.doc.Path,
		})
	}

	if err := p.vectors.EnsureCollection(ctx, p.embedder.Dimension()); err != nil {
		return nil, err
	}

	// Embed and store in batches so progress is visible and a failure
	// partway keeps earlier batches.
	stored := 0
	for batchStart := 0; batchStart < len(chunks); batchStart += p.cfg.EmbedBatchSize {
		batchEnd := batchStart + p.cfg.EmbedBatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for j, chunk := range batch {
			texts[j] = chunk.Text
		}

		emit(Progress{Stage: StageEmbedding, FilesProcessed: totalFiles, TotalFiles: totalFiles,
			ChunksProcessed: stored, TotalChunks: len(chunks)})
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding failed at chunk %d: %w", batchStart, err)
		}

		if err := p.vectors.UpsertBatch(ctx, batch, vectors); err != nil {
			return nil, fmt.Errorf("storing failed at chunk %d: %w", batchStart, err)
		}
		stored += len(batch)
		emit(Progress{Stage: StageStoring, FilesProcessed: totalFiles, TotalFiles: totalFiles,
			ChunksProcessed: stored, TotalChunks: len(chunks)})
	}

	summary := &Summary{
		Files:       len(docs),
		FailedFiles: failed,
		Chunks:      stored,
	}

	if p.graph != nil {
		p.buildGraph(ctx, docs, emit)
		if stats, err := p.graph.Stats(ctx); err == nil {
			summary.GraphNodes = stats.Nodes
			summary.GraphEdges = stats.Edges
		}
	}

	summary.Duration = time.Since(start)
	emit(Progress{Stage: StageComplete, FilesProcessed: totalFiles, TotalFiles: totalFiles,
		ChunksProcessed: stored, TotalChunks: len(chunks)})
	return summary, nil
}

// buildGraph extracts entities per document and merges them with the
// document's node. Extraction failures skip the document; the throttle
// keeps the LLM provider happy during full rebuilds.
func (p *Pipeline) buildGraph(ctx context.Context, docs []*kb.Document, emit ProgressFunc) {
	if err := p.graph.EnsureConstraints(ctx); err != nil {
		slog.Warn("Graph constraints unavailable", "error", err)
	}

	for i, doc := range docs {
		if i > 0 && p.cfg.GraphThrottle > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.GraphThrottle):
			}
		}

		docNode := graphdb.Node{
			Name: doc.Path,
			Type: graphdb.NodeDocument,
			Properties: map[string]any{
				"source": doc.Path,
				"title":  doc.Title,
				"type":   string(doc.Type),
			},
		}
		if err := p.graph.MergeNode(ctx, docNode); err != nil {
			slog.Warn("Failed to merge document node", "path", doc.Path, "error", err)
			continue
		}

		if p.extractor == nil {
			continue
		}
		extraction, err := p.extractor.Extract(ctx, doc.Content)
		if err != nil {
			slog.Warn("Entity extraction failed", "path", doc.Path, "error", err)
			continue
		}

		nodes := extraction.Nodes(doc.Title, string(doc.Type))
		for _, node := range nodes {
			if err := p.graph.MergeNode(ctx, node); err != nil {
				slog.Warn("Failed to merge entity node", "entity", node.Name, "error", err)
			}
		}
		for _, edge := range extraction.Edges() {
			if err := p.graph.MergeEdge(ctx, edge); err != nil {
				slog.Warn("Failed to merge relation", "from", edge.From, "to", edge.To, "error", err)
			}
		}
		for _, node := range nodes {
			edge := graphdb.Edge{From: node.Name, To: doc.Path, Type: graphdb.RelDocumentedIn}
			if err := p.graph.MergeEdge(ctx, edge); err != nil {
				slog.Warn("Failed to link entity to document", "entity", node.Name, "error", err)
			}
		}

		emit(Progress{Stage: StageStoring, FilesProcessed: len(docs), TotalFiles: len(docs),
			Message: fmt.Sprintf("graph: %s (%d entities)", doc.Path, len(extraction.Entities))})
	}
}
