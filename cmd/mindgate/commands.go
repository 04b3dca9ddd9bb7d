package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cjcelaya/mindgate/pkg/chat"
	"github.com/cjcelaya/mindgate/pkg/extract"
	"github.com/cjcelaya/mindgate/pkg/ingest"
	"github.com/cjcelaya/mindgate/pkg/server"
)

// ServeCmd starts the HTTP gateway.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides MINDGATE_ADDR)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	ctx, cancel := signalContext()
	defer cancel()

	b, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	orchestrator := chat.NewOrchestrator(b.llm, b.engine, b.registry, cfg.Chat)
	srv := server.New(cfg.Server, orchestrator, b.engine, b.registry, b.vectors, b.graph, b.cache)
	return srv.Start(ctx)
}

// IngestCmd runs the full ingestion pipeline.
type IngestCmd struct {
	Dir string `help:"Knowledge-base directory (overrides MINDGATE_KNOWLEDGEBASE_DIR)." type:"path"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()
	if c.Dir != "" {
		cfg.Ingest.KnowledgeBaseDir = c.Dir
	}

	ctx, cancel := signalContext()
	defer cancel()

	b, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	pipeline := ingest.New(b.embedder, b.vectors, b.graph, extract.NewExtractor(b.llm), cfg.Ingest)
	summary, err := pipeline.Run(ctx, printProgress)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	printSummary(summary)
	return nil
}

// ReingestCmd re-ingests one file.
type ReingestCmd struct {
	Path string `arg:"" help:"File path relative to the knowledge-base directory."`
}

func (c *ReingestCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	pipeline := ingest.New(b.embedder, b.vectors, b.graph, extract.NewExtractor(b.llm), cfg.Ingest)
	summary, err := pipeline.ReingestFile(ctx, c.Path)
	if err != nil {
		return fmt.Errorf("re-ingestion failed: %w", err)
	}
	printSummary(summary)
	return nil
}

// StatsCmd prints store statistics as JSON.
type StatsCmd struct{}

func (c *StatsCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := newBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	stats := map[string]any{}
	if chunks, err := b.vectors.Count(ctx); err == nil {
		stats["totalChunks"] = chunks
	}
	if b.graph != nil {
		if graphStats, err := b.graph.Stats(ctx); err == nil {
			stats["totalNodes"] = graphStats.Nodes
			stats["totalEdges"] = graphStats.Edges
		}
	}
	if keys, err := b.cache.Keys(ctx); err == nil {
		stats["cacheKeys"] = keys
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func printProgress(p ingest.Progress) {
	switch p.Stage {
	case ingest.StageChunking:
		fmt.Printf("chunking %d/%d files (%d chunks) %s\n", p.FilesProcessed, p.TotalFiles, p.TotalChunks, p.Message)
	case ingest.StageEmbedding, ingest.StageStoring:
		fmt.Printf("%s %d/%d chunks\n", p.Stage, p.ChunksProcessed, p.TotalChunks)
	default:
		fmt.Printf("%s\n", p.Stage)
	}
}

func printSummary(s *ingest.Summary) {
	fmt.Printf("ingested %d files (%d failed), %d chunks, %d graph nodes, %d graph edges in %s\n",
		s.Files, s.FailedFiles, s.Chunks, s.GraphNodes, s.GraphEdges, s.Duration.Round(10*time.Millisecond))
}
