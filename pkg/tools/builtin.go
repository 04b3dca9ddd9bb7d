package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cjcelaya/mindgate/pkg/databases"
	"github.com/cjcelaya/mindgate/pkg/rag"
)

// NewDefaultRegistry wires the built-in tool set: three local search tools
// over the retrieval engine and four remote analyzers.
func NewDefaultRegistry(engine *rag.Engine, remote *RemoteExecutor) *Registry {
	return NewRegistry(remote,
		searchDescriptor(engine),
		hydeDescriptor(engine),
		multiQueryDescriptor(engine),
		Descriptor{
			Name:        "clos_analysis",
			Command:     "/clos",
			Description: "Runs the CLOS cognitive-load analyzer on a note or passage.",
			Endpoint:    "/clos",
			Parameters: []Parameter{
				{Name: "input", Type: TypeString, Description: "Text to analyze", Required: true},
			},
		},
		Descriptor{
			Name:        "chess_analysis",
			Command:     "/chess",
			Description: "Analyzes a chess position (FEN) or game fragment (PGN).",
			Endpoint:    "/chess",
			Parameters: []Parameter{
				{Name: "input", Type: TypeString, Description: "FEN position or PGN moves", Required: true},
				{Name: "depth", Type: TypeNumber, Description: "Engine search depth", Required: false, Default: float64(18)},
			},
		},
		Descriptor{
			Name:        "neural_analysis",
			Command:     "/neural",
			Description: "Runs the neural pattern analyzer over the supplied input.",
			Endpoint:    "/neural",
			Parameters: []Parameter{
				{Name: "input", Type: TypeString, Description: "Text or data to analyze", Required: true},
			},
		},
		Descriptor{
			Name:        "artifact_generator",
			Command:     "/artifact",
			Description: "Generates a structured artifact (summary, outline, table) from input text.",
			Endpoint:    "/artifact",
			Parameters: []Parameter{
				{Name: "input", Type: TypeString, Description: "Source material", Required: true},
				{Name: "format", Type: TypeString, Description: "Artifact format", Required: false, Default: "summary"},
				{Name: "tags", Type: TypeArray, Description: "Labels attached to the artifact", Required: false},
			},
		},
	)
}

func searchDescriptor(engine *rag.Engine) Descriptor {
	return Descriptor{
		Name:        "search_knowledge",
		Command:     "/search",
		Description: "Searches the knowledge base.",
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Description: "Search query", Required: true},
			{Name: "mode", Type: TypeString, Description: "semantic, keyword, hybrid or graph", Required: false, Default: string(rag.ModeHybrid)},
			{Name: "limit", Type: TypeNumber, Description: "Maximum results", Required: false, Default: float64(5)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, string, error) {
			hits, err := engine.Search(ctx, rag.Request{
				Query:  argString(args, "query"),
				Mode:   rag.Mode(argString(args, "mode")),
				Limit:  argInt(args, "limit"),
				Rerank: true,
			})
			if err != nil {
				return nil, "", err
			}
			return hits, formatHits("Knowledge Base Results", hits), nil
		},
	}
}

func hydeDescriptor(engine *rag.Engine) Descriptor {
	return Descriptor{
		Name:        "hyde_search",
		Command:     "/hyde",
		Description: "Searches with a hypothetical document embedding.",
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Description: "Search query", Required: true},
			{Name: "limit", Type: TypeNumber, Description: "Maximum results", Required: false, Default: float64(5)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, string, error) {
			hits, err := engine.HyDESearch(ctx, argString(args, "query"), argInt(args, "limit"), true)
			if err != nil {
				return nil, "", err
			}
			return hits, formatHits("HyDE Results", hits), nil
		},
	}
}

func multiQueryDescriptor(engine *rag.Engine) Descriptor {
	return Descriptor{
		Name:        "multi_query_search",
		Command:     "/mqsearch",
		Description: "Searches with multiple generated phrasings of the query.",
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Description: "Search query", Required: true},
			{Name: "limit", Type: TypeNumber, Description: "Maximum results", Required: false, Default: float64(5)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, string, error) {
			hits, err := engine.MultiQuerySearch(ctx, argString(args, "query"), argInt(args, "limit"), true)
			if err != nil {
				return nil, "", err
			}
			return hits, formatHits("Multi-Query Results", hits), nil
		},
	}
}

func formatHits(title string, hits []databases.ScoredChunk) string {
	if len(hits) == 0 {
		return fmt.Sprintf("### %s\n\nNo matching documents.", title)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n", title)
	for i, hit := range hits {
		fmt.Fprintf(&sb, "\n%d. **[%s:%s]** (score %.2f)\n   %s\n", i+1, hit.Source, hit.Section, hit.Score, snippet(hit.Text))
	}
	return sb.String()
}

const snippetLen = 240

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= snippetLen {
		return text
	}
	return text[:snippetLen] + "…"
}

func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func argInt(args map[string]any, name string) int {
	if f, ok := args[name].(float64); ok {
		return int(f)
	}
	return 0
}
