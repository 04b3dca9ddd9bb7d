package llms

import (
	"bufio"
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

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	client      *httpclient.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage usage     `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage    `json:"usage,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, kberr.ConfigMissing("MINDGATE_LLM_API_KEY")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIClient{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *OpenAIClient) buildRequest(messages []Message, stream bool, opts Options) chatRequest {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

// Generate runs a non-streaming completion and returns the text and total
// token usage.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, opts Options) (string, int, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, false, opts))
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, kberr.Wrap(kberr.KindRemoteUnavailable, "failed to read completion response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, classifyStatus(resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, kberr.Wrap(kberr.KindRemoteBadResponse, "failed to decode completion response", err)
	}
	if parsed.Error != nil {
		return "", 0, kberr.Newf(kberr.KindRemoteBadResponse, "completion API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, kberr.New(kberr.KindRemoteBadResponse, "completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

// GenerateStreaming runs a streaming completion. The returned channel emits
// text chunks and closes after a terminal done or error chunk.
func (c *OpenAIClient) GenerateStreaming(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 100)

	go func() {
		defer close(out)
		if err := c.stream(ctx, c.buildRequest(messages, true, opts), out); err != nil {
			out <- StreamChunk{Type: ChunkError, Err: err}
		}
	}()

	return out, nil
}

func (c *OpenAIClient) stream(ctx context.Context, request chatRequest, out chan<- StreamChunk) error {
	resp, err := c.post(ctx, request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, body)
	}

	reader := bufio.NewReader(resp.Body)
	totalTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return kberr.Wrap(kberr.KindRemoteUnavailable, "failed to read completion stream", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var event streamResponse
		if err := json.Unmarshal(line, &event); err != nil {
			continue // malformed events are skipped, not fatal
		}
		if event.Error != nil {
			return kberr.Newf(kberr.KindRemoteBadResponse, "completion API error: %s", event.Error.Message)
		}
		if event.Usage != nil {
			totalTokens = event.Usage.TotalTokens
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		if choice.Delta.Content != "" {
			select {
			case out <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if choice.FinishReason == "stop" {
			break
		}
	}

	out <- StreamChunk{Type: ChunkDone, Tokens: totalTokens}
	return nil
}

func (c *OpenAIClient) post(ctx context.Context, request chatRequest) (*http.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindRemoteUnavailable, "completion request failed", err)
	}
	return resp, nil
}

func (c *OpenAIClient) ModelName() string { return c.model }
func (c *OpenAIClient) Close() error      { return nil }

func classifyStatus(status int, body []byte) error {
	message := string(body)
	var parsed struct {
		Error apiError `json:"error"`
	}
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
	return kberr.Newf(kind, "completion API returned status %d: %s", status, message)
}
