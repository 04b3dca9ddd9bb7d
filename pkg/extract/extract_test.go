package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/llms"
)

// scriptedLLM returns a fixed response and records the last prompt.
type scriptedLLM struct {
	response   string
	lastPrompt string
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llms.Message, _ llms.Options) (string, int, error) {
	s.lastPrompt = messages[len(messages)-1].Content
	return s.response, 0, nil
}

func (s *scriptedLLM) GenerateStreaming(context.Context, []llms.Message, llms.Options) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) ModelName() string { return "scripted" }
func (s *scriptedLLM) Close() error      { return nil }

func TestExtract(t *testing.T) {
	llm := &scriptedLLM{response: `{
		"entities": [
			{"name": "Flow", "type": "Concept", "description": "A state of deep focus"},
			{"name": "  ", "type": "Concept"},
			{"name": "flow", "type": "Concept"},
			{"name": "Deep Work", "type": "Technique"}
		],
		"relationships": [
			{"from": "Flow", "to": "Deep Work", "type": "ENABLES"},
			{"from": "Flow", "to": "", "type": "USES"},
			{"from": "Deep Work", "to": "Flow"}
		]
	}`}

	extraction, err := NewExtractor(llm).Extract(context.Background(), "some document text")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	// Blank and duplicate names are dropped.
	if len(extraction.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d: %v", len(extraction.Entities), extraction.Entities)
	}
	// The relationship with a blank endpoint is dropped.
	if len(extraction.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %d", len(extraction.Relationships))
	}

	edges := extraction.Edges()
	if edges[1].Type != graphdb.RelRelatesTo {
		t.Errorf("missing relation type should default to RELATES_TO, got %s", edges[1].Type)
	}

	nodes := extraction.Nodes("Flow Notes", "research")
	if nodes[1].Type != graphdb.NodeTechnique {
		t.Errorf("expected Technique node, got %s", nodes[1].Type)
	}
	if nodes[0].Properties["description"] != "A state of deep focus" {
		t.Errorf("entity description missing: %v", nodes[0].Properties)
	}
	if nodes[0].Properties["source"] != "Flow Notes" || nodes[0].Properties["type"] != "research" {
		t.Errorf("document metadata missing from entity node: %v", nodes[0].Properties)
	}
}

func TestExtract_TruncatesLongText(t *testing.T) {
	llm := &scriptedLLM{response: `{"entities": [], "relationships": []}`}
	long := strings.Repeat("x", maxExtractChars*2)

	if _, err := NewExtractor(llm).Extract(context.Background(), long); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(llm.lastPrompt) > maxExtractChars+len(extractionPrompt) {
		t.Errorf("prompt not truncated: %d chars", len(llm.lastPrompt))
	}
}

func TestExtract_UnparsableResponse(t *testing.T) {
	llm := &scriptedLLM{response: "I could not find any entities."}
	if _, err := NewExtractor(llm).Extract(context.Background(), "text"); err == nil {
		t.Fatal("expected error for unparsable response")
	}
}

func TestEntityNames(t *testing.T) {
	llm := &scriptedLLM{response: `{"entities": [{"name": "Chess", "type": "Concept"}], "relationships": []}`}
	names, err := NewExtractor(llm).EntityNames(context.Background(), "what do I know about chess?")
	if err != nil {
		t.Fatalf("entity names: %v", err)
	}
	if len(names) != 1 || names[0] != "Chess" {
		t.Errorf("unexpected names %v", names)
	}
}
