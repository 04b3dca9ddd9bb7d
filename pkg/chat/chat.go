// Package chat orchestrates one conversational turn: intent classification,
// retrieval, tool dispatch, prompt assembly and token streaming.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cjcelaya/mindgate/pkg/config"
	"github.com/cjcelaya/mindgate/pkg/kberr"
	"github.com/cjcelaya/mindgate/pkg/llms"
	"github.com/cjcelaya/mindgate/pkg/rag"
	"github.com/cjcelaya/mindgate/pkg/tools"
)

// Orchestrator drives chat turns. It holds no per-turn state; every turn is
// one call tree over the shared clients.
type Orchestrator struct {
	llm      llms.LLM
	engine   *rag.Engine
	registry *tools.Registry
	config   config.ChatConfig
}

func NewOrchestrator(llm llms.LLM, engine *rag.Engine, registry *tools.Registry, cfg config.ChatConfig) *Orchestrator {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 8
	}
	if registry == nil {
		registry = tools.NewRegistry(nil)
	}
	return &Orchestrator{llm: llm, engine: engine, registry: registry, config: cfg}
}

// Turn runs one user turn and returns the assistant token stream. Ordering
// within the turn is intent, retrieval, tools, prompt, stream. Retrieval
// and tool failures never fail the turn.
func (o *Orchestrator) Turn(ctx context.Context, messages []llms.Message) (<-chan llms.StreamChunk, error) {
	userMessage := latestUserMessage(messages)
	if userMessage == "" {
		return nil, kberr.New(kberr.KindValidation, "conversation has no user message")
	}

	intent := o.classifyIntent(ctx, userMessage)
	slog.Debug("Turn classified",
		"intent", intent.Intent,
		"needsSearch", intent.NeedsSearch,
		"mode", intent.SearchMode,
		"confidence", intent.Confidence)

	contextText, degraded := o.retrieveContext(ctx, userMessage, intent)
	toolResults := o.runTools(ctx, userMessage, intent)

	system := o.buildSystemPrompt(contextText, toolResults, degraded)
	prompt := append([]llms.Message{llms.System(system)}, messages...)

	return o.llm.GenerateStreaming(ctx, prompt, llms.Options{})
}

// retrieveContext runs retrieval when the intent asks for it. On error it
// logs and reports degradation so the reply can open by saying so.
func (o *Orchestrator) retrieveContext(ctx context.Context, query string, intent Intent) (string, bool) {
	if !intent.NeedsSearch {
		return "", false
	}

	hits, err := o.engine.Search(ctx, rag.Request{
		Query:  query,
		Mode:   rag.Mode(intent.SearchMode),
		Limit:  o.config.ContextLimit,
		Rerank: true,
	})
	if err != nil {
		slog.Warn("Retrieval failed, continuing without context", "error", err)
		return "", true
	}
	if len(hits) == 0 {
		return "", false
	}

	blocks := fitContext(rag.ToContext(hits), o.config.ContextBudget)
	return rag.FormatContext(blocks), false
}

// runTools dispatches the slash command when present, then any tools the
// classifier suggested. Failed dispatches are reported as failed results,
// never as turn errors.
func (o *Orchestrator) runTools(ctx context.Context, message string, intent Intent) []tools.Result {
	var results []tools.Result

	if tools.IsCommand(message) {
		call, err := o.registry.ParseCommand(message)
		if err != nil {
			results = append(results, tools.Result{
				Tool:    strings.Fields(message)[0],
				Success: false,
				Error:   err.Error(),
				State:   tools.StateFailed,
			})
		} else {
			result, _ := o.registry.Execute(ctx, call)
			results = append(results, result)
		}
	}

	if intent.Intent == IntentTool {
		dispatched := make(map[string]bool, len(results))
		for _, r := range results {
			dispatched[r.Tool] = true
		}
		for _, name := range intent.SuggestedTools {
			if dispatched[name] {
				continue
			}
			if _, err := o.registry.Get(name); err != nil {
				slog.Debug("Classifier suggested unknown tool", "tool", name)
				continue
			}
			result, _ := o.registry.Execute(ctx, tools.Call{
				Tool:       name,
				Parameters: map[string]any{"input": message},
			})
			results = append(results, result)
			dispatched[name] = true
		}
	}

	return results
}

func (o *Orchestrator) buildSystemPrompt(contextText string, toolResults []tools.Result, degraded bool) string {
	var sb strings.Builder
	sb.WriteString(o.config.SystemPrompt)

	if degraded {
		sb.WriteString("\n\nRetrieval is currently unavailable. Open your reply by noting that you are answering without knowledge-base context.")
	}

	if contextText != "" {
		sb.WriteString("\n\n## Context\n\n")
		sb.WriteString(contextText)
	}

	if len(toolResults) > 0 {
		sb.WriteString("\n\n## Tool Results\n")
		for _, result := range toolResults {
			sb.WriteString("\n")
			sb.WriteString(formatToolResult(result))
		}
	}

	return sb.String()
}

func formatToolResult(result tools.Result) string {
	if !result.Success {
		return fmt.Sprintf("**%s** failed: %s", result.Tool, result.Error)
	}
	if result.Formatted != "" {
		return result.Formatted
	}
	return fmt.Sprintf("**%s** completed.", result.Tool)
}

func latestUserMessage(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
