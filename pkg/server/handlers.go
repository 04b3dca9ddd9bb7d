package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/kberr"
	"github.com/cjcelaya/mindgate/pkg/llms"
	"github.com/cjcelaya/mindgate/pkg/rag"
	"github.com/cjcelaya/mindgate/pkg/tools"
)

type chatRequest struct {
	Messages  []llms.Message `json:"messages"`
	SessionID string         `json:"sessionId,omitempty"`
}

// handleChat streams assistant tokens over SSE. Each text chunk is one
// "data:" event carrying {"content": …}; the stream terminates with either
// {"done": true} or {"error": …}.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	stream, err := s.orchestrator.Turn(r.Context(), req.Messages)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkText:
			writeSSE(w, map[string]any{"content": chunk.Text})
		case llms.ChunkDone:
			writeSSE(w, map[string]any{"done": true, "tokens": chunk.Tokens})
		case llms.ChunkError:
			writeSSE(w, map[string]any{"error": shortMessage(chunk.Err)})
		}
		flusher.Flush()

		if r.Context().Err() != nil {
			return
		}
	}
}

type searchRequest struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode,omitempty"`
	Limit   int            `json:"limit,omitempty"`
	Rerank  *bool          `json:"rerank,omitempty"`
	Method  string         `json:"method,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	if req.Mode == "" {
		req.Mode = string(rag.ModeHybrid)
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Method == "" {
		req.Method = "standard"
	}
	rerank := req.Rerank == nil || *req.Rerank

	var (
		hits []databases.ScoredChunk
		err  error
	)
	switch req.Method {
	case "standard":
		hits, err = s.engine.Search(r.Context(), rag.Request{
			Query:  req.Query,
			Mode:   rag.Mode(req.Mode),
			Limit:  req.Limit,
			Rerank: rerank,
			Filter: parseFilters(req.Filters),
		})
	case "hyde":
		hits, err = s.engine.HyDESearch(r.Context(), req.Query, req.Limit, rerank)
	case "multi":
		hits, err = s.engine.MultiQuerySearch(r.Context(), req.Query, req.Limit, rerank)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "unknown search method",
			"details": []string{fmt.Sprintf("method %q is not one of standard, hyde, multi", req.Method)},
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": hits,
		"count":   len(hits),
		"query":   req.Query,
		"method":  req.Method,
		"mode":    req.Mode,
	})
}

// parseFilters maps {field: value} and {field: [values]} onto store filter
// conditions.
func parseFilters(filters map[string]any) *databases.Filter {
	if len(filters) == 0 {
		return nil
	}

	f := &databases.Filter{}
	for field, raw := range filters {
		switch v := raw.(type) {
		case string:
			f.Conditions = append(f.Conditions, databases.Condition{
				Field: field, Op: databases.OpEqual, Values: []string{v},
			})
		case []any:
			values := make([]string, 0, len(v))
			for _, item := range v {
				values = append(values, fmt.Sprintf("%v", item))
			}
			f.Conditions = append(f.Conditions, databases.Condition{
				Field: field, Op: databases.OpAny, Values: values,
			})
		default:
			f.Conditions = append(f.Conditions, databases.Condition{
				Field: field, Op: databases.OpEqual, Values: []string{fmt.Sprintf("%v", v)},
			})
		}
	}
	return f
}

type toolExecuteRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var req toolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	result, err := s.registry.Execute(r.Context(), tools.Call{Tool: req.Tool, Parameters: req.Parameters})
	if err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid tool parameters",
				"details": verr.Problems,
			})
			return
		}
		if kberr.IsKind(err, kberr.KindNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chunks, err := s.vectors.Count(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "vector store stats failed"})
		return
	}

	// The graph store is optional; without it the gateway runs vector-only
	// and stats report an empty graph.
	var graphStats graphdb.Stats
	if s.graph != nil {
		graphStats, err = s.graph.Stats(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "graph store stats failed"})
			return
		}
	}
	if graphStats.NodesByType == nil {
		graphStats.NodesByType = map[graphdb.NodeType]int64{}
	}

	keys, err := s.cache.Keys(ctx)
	if err != nil {
		slog.Warn("Cache stats failed", "error", err)
		keys = -1
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"vectorDatabase": map[string]any{"totalChunks": chunks},
		"knowledgeGraph": map[string]any{
			"totalNodes":  graphStats.Nodes,
			"totalEdges":  graphStats.Edges,
			"nodesByType": graphStats.NodesByType,
		},
		"cache":     map[string]any{"totalKeys": keys},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRebuild clears all three stores. Re-ingestion is the operator's next
// step via the CLI.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.vectors.Reset(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "failed to clear vector store"})
		return
	}
	if s.graph != nil {
		if err := s.graph.Reset(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "failed to clear graph store"})
			return
		}
	}
	if err := s.cache.Reset(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "failed to clear cache"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "all stores cleared",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Response encoding failed", "error", err)
	}
}

func writeSSE(w http.ResponseWriter, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeError maps error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch kberr.KindOf(err) {
	case kberr.KindValidation:
		status = http.StatusBadRequest
	case kberr.KindNotFound:
		status = http.StatusNotFound
	case kberr.KindRateLimited:
		status = http.StatusTooManyRequests
	case kberr.KindConfigMissing:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"error": shortMessage(err)})
}

func shortMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
