package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/httpclient"
	"github.com/cjcelaya/mindgate/pkg/kberr"
)

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *httpclient.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewOpenAIEmbedder(cfg config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kberr.ConfigMissing("MINDGATE_EMBED_API_KEY")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1536
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 128 {
		batchSize = 128
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch splits texts into provider-sized batches and returns the
// vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}
	return results, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, input []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindRemoteUnavailable, "embedding request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindRemoteUnavailable, "failed to read embedding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, remoteError("embedding", resp.StatusCode, body)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, kberr.Wrap(kberr.KindRemoteBadResponse, "failed to decode embedding response", err)
	}
	if len(parsed.Data) != len(input) {
		return nil, kberr.Newf(kberr.KindRemoteBadResponse,
			"embedding count mismatch: sent %d texts, got %d vectors", len(input), len(parsed.Data))
	}

	// The API may return items out of order; the index field restores it.
	vectors := make([][]float32, len(input))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, kberr.Newf(kberr.KindRemoteBadResponse, "embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, kberr.Newf(kberr.KindRemoteBadResponse, "missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int    { return e.dimension }
func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Close() error      { return nil }

// remoteError classifies a non-2xx provider response.
func remoteError(operation string, status int, body []byte) error {
	message := string(body)
	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	kind := kberr.KindRemoteBadResponse
	switch {
	case status == http.StatusTooManyRequests:
		kind = kberr.KindRateLimited
	case status >= 500:
		kind = kberr.KindRemoteUnavailable
	}
	return kberr.Newf(kind, "%s API returned status %d: %s", operation, status, message)
}
