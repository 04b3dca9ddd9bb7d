package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/httpclient"
)

// CohereReranker calls a Cohere-compatible /rerank endpoint.
type CohereReranker struct {
	client  *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func NewCohereReranker(cfg config.RerankerConfig) *CohereReranker {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.cohere.com/v2"
	}
	model := cfg.Model
	if model == "" {
		model = "rerank-v3.5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &CohereReranker{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
	}
}

// Configured reports whether the provider credential is present. Without it
// the engine skips remote reranking entirely.
func (r *CohereReranker) Configured() bool {
	return r.apiKey != ""
}

func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []databases.ScoredChunk, topN int) []databases.ScoredChunk {
	if !r.Configured() || len(candidates) <= 1 {
		return truncate(candidates, topN)
	}

	documents := make([]string, len(candidates))
	for i, candidate := range candidates {
		documents[i] = candidate.Text
	}

	reordered, err := r.rerank(ctx, rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	}, candidates)
	if err != nil {
		slog.Warn("Rerank failed, keeping original order", "error", err)
		return truncate(candidates, topN)
	}
	return reordered
}

func (r *CohereReranker) rerank(ctx context.Context, request rerankRequest, candidates []databases.ScoredChunk) ([]databases.ScoredChunk, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}

	reordered := make([]databases.ScoredChunk, 0, len(parsed.Results))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(candidates) {
			continue
		}
		hit := candidates[result.Index]
		hit.Score = result.RelevanceScore
		reordered = append(reordered, hit)
	}
	if len(reordered) == 0 {
		return nil, &httpStatusError{status: resp.StatusCode, body: "rerank returned no results"}
	}
	return reordered, nil
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("rerank API status %d: %s", e.status, e.body)
}
