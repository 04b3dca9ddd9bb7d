// Package extract pulls typed entities and relations out of document text
// with the LLM, feeding the knowledge graph and graph-mode retrieval.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/cjcelaya/mindgate/pkg/graphdb"
	"github.com/cjcelaya/mindgate/pkg/llms"
)

// maxExtractChars bounds how much of a document the extraction prompt sees.
const maxExtractChars = 3000

// Entity is one extracted graph node candidate.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Relationship is one extracted edge candidate.
type Relationship struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Extraction is the parsed result of one extraction call.
type Extraction struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

const extractionPrompt = `Extract the named entities and their relationships from the text below.

Entity types: Concept, Project, Person, Tool, Technique, Theory.
Relationship types: RELATES_TO, ENABLES, REQUIRES, PART_OF, USES, IMPLEMENTS, ANALYZES, DERIVES_FROM.

Respond with a JSON object:
{"entities": [{"name": "...", "type": "...", "description": "..."}], "relationships": [{"from": "...", "to": "...", "type": "...", "description": "..."}]}

Text:
%s`

// Extractor runs entity extraction against the LLM.
type Extractor struct {
	llm llms.LLM
}

func NewExtractor(llm llms.LLM) *Extractor {
	return &Extractor{llm: llm}
}

// Extract analyzes the leading portion of text. Entities with empty names
// are dropped; unknown types normalize to their defaults downstream.
func (e *Extractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars]
	}

	low := 0.0
	response, _, err := e.llm.Generate(ctx, []llms.Message{
		llms.User(fmt.Sprintf(extractionPrompt, text)),
	}, llms.Options{Temperature: &low, JSONMode: true})
	if err != nil {
		return nil, fmt.Errorf("entity extraction failed: %w", err)
	}

	var extraction Extraction
	if err := llms.ExtractJSONObject(response, &extraction); err != nil {
		return nil, fmt.Errorf("entity extraction returned unparsable output: %w", err)
	}

	extraction.Entities = cleanEntities(extraction.Entities)
	extraction.Relationships = cleanRelationships(extraction.Relationships)
	return &extraction, nil
}

// EntityNames extracts just the entity names from a query, for graph-mode
// retrieval.
func (e *Extractor) EntityNames(ctx context.Context, query string) ([]string, error) {
	extraction, err := e.Extract(ctx, query)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(extraction.Entities))
	for _, entity := range extraction.Entities {
		names = append(names, entity.Name)
	}
	return names, nil
}

// Nodes converts extracted entities into normalized graph nodes carrying the
// entity description plus the originating document's title and type.
func (x *Extraction) Nodes(docTitle, docType string) []graphdb.Node {
	nodes := make([]graphdb.Node, 0, len(x.Entities))
	for _, entity := range x.Entities {
		props := make(map[string]any)
		if entity.Description != "" {
			props["description"] = entity.Description
		}
		if docTitle != "" {
			props["source"] = docTitle
		}
		if docType != "" {
			props["type"] = docType
		}
		nodes = append(nodes, graphdb.Node{
			Name:       entity.Name,
			Type:       graphdb.NormalizeNodeType(entity.Type),
			Properties: props,
		})
	}
	return nodes
}

// Edges converts extracted relationships into normalized graph edges.
// Relationships with a missing type become RELATES_TO.
func (x *Extraction) Edges() []graphdb.Edge {
	edges := make([]graphdb.Edge, 0, len(x.Relationships))
	for _, rel := range x.Relationships {
		edges = append(edges, graphdb.Edge{
			From: rel.From,
			To:   rel.To,
			Type: graphdb.NormalizeRelationType(rel.Type),
		})
	}
	return edges
}

func cleanEntities(entities []Entity) []Entity {
	seen := make(map[string]bool)
	out := entities[:0]
	for _, entity := range entities {
		entity.Name = strings.TrimSpace(entity.Name)
		if entity.Name == "" || seen[strings.ToLower(entity.Name)] {
			continue
		}
		seen[strings.ToLower(entity.Name)] = true
		out = append(out, entity)
	}
	return out
}

func cleanRelationships(rels []Relationship) []Relationship {
	out := rels[:0]
	for _, rel := range rels {
		rel.From = strings.TrimSpace(rel.From)
		rel.To = strings.TrimSpace(rel.To)
		if rel.From == "" || rel.To == "" {
			continue
		}
		out = append(out, rel)
	}
	return out
}
