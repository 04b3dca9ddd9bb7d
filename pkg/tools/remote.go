package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/httpclient"
)

// RemoteExecutor posts validated tool payloads to the configured analytics
// endpoint. Non-2xx responses become failed results, never propagated
// status codes.
type RemoteExecutor struct {
	config config.ToolsConfig
	client *httpclient.Client
}

func NewRemoteExecutor(cfg config.ToolsConfig) *RemoteExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RemoteExecutor{
		config: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(1),
		),
	}
}

func (x *RemoteExecutor) Execute(ctx context.Context, desc Descriptor, args map[string]any) Result {
	if x.config.BaseURL == "" {
		return Result{Success: false, Error: "remote tool endpoint is not configured"}
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return Result{Success: false, Error: "failed to encode tool parameters"}
	}

	ctx, cancel := context.WithTimeout(ctx, x.config.Timeout)
	defer cancel()

	url := strings.TrimSuffix(x.config.BaseURL, "/") + desc.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Success: false, Error: "failed to build tool request"}
	}
	req.Header.Set("Content-Type", "application/json")
	if x.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+x.config.BearerToken)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("%s is unreachable", desc.Name)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("failed to read %s response", desc.Name)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Success: false, Error: fmt.Sprintf("%s returned an error", desc.Name)}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		data = string(body)
	}
	return Result{Success: true, Data: data, Formatted: formatRemote(desc.Name, data)}
}

// formatRemote renders a remote payload as Markdown. A payload that carries
// its own "formatted" or "markdown" field wins; everything else is fenced.
func formatRemote(tool string, data any) string {
	if m, ok := data.(map[string]any); ok {
		for _, key := range []string{"formatted", "markdown"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
	}

	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("### %s\n\n%v", tool, data)
	}
	return fmt.Sprintf("### %s\n\n```json\n%s\n```", tool, pretty)
}
