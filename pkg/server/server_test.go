package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cjcelaya/mindgate/pkg/cache"
	"github.com/cjcelaya/mindgate/pkg/chat"
	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/kb"
	"github.com/cjcelaya/mindgate/pkg/llms"
	"github.com/cjcelaya/mindgate/pkg/rag"
	"github.com/cjcelaya/mindgate/pkg/tools"
)

type stubLLM struct{}

func (stubLLM) Generate(context.Context, []llms.Message, llms.Options) (string, int, error) {
	return `{"intent": "search", "needsSearch": true, "searchMode": "semantic", "confidence": 0.9}`, 0, nil
}

func (stubLLM) GenerateStreaming(context.Context, []llms.Message, llms.Options) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 3)
	ch <- llms.StreamChunk{Type: llms.ChunkText, Text: "Hel"}
	ch <- llms.StreamChunk{Type: llms.ChunkText, Text: "lo"}
	ch <- llms.StreamChunk{Type: llms.ChunkDone, Tokens: 2}
	close(ch)
	return ch, nil
}

func (stubLLM) ModelName() string { return "stub" }
func (stubLLM) Close() error      { return nil }

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}

func (stubEmbedder) Dimension() int    { return 3 }
func (stubEmbedder) ModelName() string { return "stub" }
func (stubEmbedder) Close() error      { return nil }

func newTestServer(t *testing.T) (*Server, *databases.MemoryStore, *graphdb.MemoryGraph, *cache.MemoryCache) {
	t.Helper()

	store := databases.NewMemoryStore()
	graph := graphdb.NewMemoryGraph()
	memCache := cache.NewMemoryCache()
	ctx := context.Background()

	chunk := kb.Chunk{
		ID:          kb.ChunkID("flow.md", 0),
		Text:        "Flow states are periods of effortless deep focus.",
		Source:      "flow.md",
		Section:     "Flow",
		Type:        kb.TypeResearch,
		TotalChunks: 1,
		CreatedAt:   time.Now(),
	}
	if err := store.Upsert(ctx, chunk, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := graph.MergeNode(ctx, graphdb.Node{Name: "flow.md", Type: graphdb.NodeDocument}); err != nil {
		t.Fatal(err)
	}

	engine := rag.NewEngine(store, stubEmbedder{}, stubLLM{}, nil, graph, nil, memCache)
	registry := tools.NewDefaultRegistry(engine, nil)
	orchestrator := chat.NewOrchestrator(stubLLM{}, engine, registry, config.ChatConfig{
		SystemPrompt:  "persona",
		ContextLimit:  8,
		ContextBudget: 4000,
	})

	srv := New(config.ServerConfig{
		Addr:            ":0",
		RateLimitPerMin: 1000,
		ShutdownTimeout: time.Second,
	}, orchestrator, engine, registry, store, graph, memCache)

	return srv, store, graph, memCache
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSearch_Standard(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/search", map[string]any{
		"query": "flow states",
		"mode":  "semantic",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Results []databases.ScoredChunk `json:"results"`
		Count   int                     `json:"count"`
		Query   string                  `json:"query"`
		Method  string                  `json:"method"`
		Mode    string                  `json:"mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Method != "standard" || resp.Mode != "semantic" {
		t.Errorf("unexpected method/mode: %s/%s", resp.Method, resp.Mode)
	}
	if resp.Count != 1 || len(resp.Results) != 1 || resp.Results[0].Source != "flow.md" {
		t.Errorf("unexpected results: %+v", resp)
	}
}

func TestSearch_EmptyQueryIs400(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/search", map[string]any{"query": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("expected error body, got %s", rec.Body)
	}
}

func TestSearch_UnknownMethodIs400(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/search", map[string]any{
		"query":  "flow",
		"method": "telepathy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestToolExecute_MissingParameterIs400(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/tools/execute", map[string]any{
		"tool":       "search_knowledge",
		"parameters": map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, d := range resp.Details {
		if d == "Missing required parameter: query" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected named missing parameter, got %+v", resp.Details)
	}
}

func TestToolExecute_UnknownToolIs404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/tools/execute", map[string]any{
		"tool": "nonexistent",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestToolExecute_Success(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/tools/execute", map[string]any{
		"tool":       "search_knowledge",
		"parameters": map[string]any{"query": "flow states", "mode": "semantic"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var result tools.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.Tool != "search_knowledge" {
		t.Errorf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.Formatted, "flow.md") {
		t.Errorf("expected formatted hit, got %q", result.Formatted)
	}
}

func TestChat_StreamsSSE(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "what is flow?"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var contents []string
	sawDone := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad SSE payload %q: %v", line, err)
		}
		if text, ok := event["content"].(string); ok {
			contents = append(contents, text)
		}
		if done, ok := event["done"].(bool); ok && done {
			sawDone = true
		}
	}

	if got := strings.Join(contents, ""); got != "Hello" {
		t.Errorf("expected streamed Hello, got %q", got)
	}
	if !sawDone {
		t.Error("stream must terminate with a done event")
	}
}

func TestChat_NoUserMessageIs400(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/chat", map[string]any{
		"messages": []map[string]string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdmin_StatsAndRebuild(t *testing.T) {
	srv, _, _, memCache := newTestServer(t)
	handler := srv.Handler()
	ctx := context.Background()

	if err := memCache.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}

	var stats struct {
		VectorDatabase struct {
			TotalChunks int `json:"totalChunks"`
		} `json:"vectorDatabase"`
		KnowledgeGraph struct {
			TotalNodes int `json:"totalNodes"`
		} `json:"knowledgeGraph"`
		Cache struct {
			TotalKeys int `json:"totalKeys"`
		} `json:"cache"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.VectorDatabase.TotalChunks != 1 || stats.KnowledgeGraph.TotalNodes != 1 {
		t.Errorf("unexpected pre-rebuild stats: %+v", stats)
	}
	if stats.Cache.TotalKeys < 1 {
		t.Errorf("expected cached keys, got %d", stats.Cache.TotalKeys)
	}

	rec = postJSON(t, handler, "/api/admin/rebuild", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.VectorDatabase.TotalChunks != 0 || stats.KnowledgeGraph.TotalNodes != 0 || stats.Cache.TotalKeys != 0 {
		t.Errorf("rebuild did not clear all stores: %+v", stats)
	}
}

func TestAdmin_WithoutGraphStore(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	srv.graph = nil
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats without graph: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var stats struct {
		KnowledgeGraph struct {
			TotalNodes int `json:"totalNodes"`
			TotalEdges int `json:"totalEdges"`
		} `json:"knowledgeGraph"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.KnowledgeGraph.TotalNodes != 0 || stats.KnowledgeGraph.TotalEdges != 0 {
		t.Errorf("expected empty graph stats, got %+v", stats)
	}

	rec = postJSON(t, handler, "/api/admin/rebuild", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild without graph: expected 200, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	srv.config.RateLimitPerMin = 2
	handler := srv.Handler()

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected third request limited, got %d", last)
	}

	// A different client is unaffected.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.9.9.9:5555"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected other client allowed, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/search", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}
