package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cjcelaya/mindgate/pkg/llms"
	"github.com/cjcelaya/mindgate/pkg/rag"
)

// Intent is the classifier's verdict for one user message.
type Intent struct {
	Intent         string   `json:"intent"`
	NeedsSearch    bool     `json:"needsSearch"`
	SearchMode     string   `json:"searchMode"`
	SuggestedTools []string `json:"suggestedTools"`
	Confidence     float64  `json:"confidence"`
}

const (
	IntentSearch         = "search"
	IntentTool           = "tool"
	IntentConversational = "conversational"
	IntentCommand        = "command"
)

const intentPrompt = `Classify the user's message for a knowledge-base assistant.

Respond with only a JSON object of this exact shape:
{"intent": "search" | "tool" | "conversational" | "command", "needsSearch": <bool>, "searchMode": "semantic" | "keyword" | "hybrid" | "graph", "suggestedTools": [<tool names>], "confidence": <0..1>}

Available tools: %s

Message: %q`

// defaultIntent is used whenever classification fails; searching is the
// safe default.
func defaultIntent() Intent {
	return Intent{
		Intent:      IntentSearch,
		NeedsSearch: true,
		SearchMode:  string(rag.ModeHybrid),
		Confidence:  0.5,
	}
}

// classifyIntent runs the low-temperature intent call. Any failure, from
// transport to malformed JSON, degrades to the default.
func (o *Orchestrator) classifyIntent(ctx context.Context, message string) Intent {
	temp := 0.0
	response, _, err := o.llm.Generate(ctx, []llms.Message{
		llms.User(fmt.Sprintf(intentPrompt, o.toolNames(), message)),
	}, llms.Options{Temperature: &temp, MaxTokens: 200, JSONMode: true})
	if err != nil {
		slog.Debug("Intent classification failed", "error", err)
		return defaultIntent()
	}

	var intent Intent
	if err := llms.ExtractJSONObject(response, &intent); err != nil {
		slog.Debug("Intent response did not parse", "error", err)
		return defaultIntent()
	}

	if intent.Intent == "" {
		return defaultIntent()
	}
	if intent.SearchMode == "" {
		intent.SearchMode = string(rag.ModeHybrid)
	}
	return intent
}

func (o *Orchestrator) toolNames() string {
	names := ""
	for i, d := range o.registry.List() {
		if i > 0 {
			names += ", "
		}
		names += d.Name
	}
	if names == "" {
		return "none"
	}
	return names
}
