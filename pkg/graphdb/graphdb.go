// Package graphdb maintains the entity graph extracted from the corpus:
// typed nodes, typed relations, and the document links that let graph-mode
// retrieval walk from entities back to source files.
package graphdb

import "context"

// NodeType labels an extracted entity. The set is closed so labels can be
// interpolated into Cypher safely.
type NodeType string

const (
	NodeConcept   NodeType = "Concept"
	NodeProject   NodeType = "Project"
	NodePerson    NodeType = "Person"
	NodeTool      NodeType = "Tool"
	NodeDocument  NodeType = "Document"
	NodeTechnique NodeType = "Technique"
	NodeTheory    NodeType = "Theory"
)

// NodeTypes lists every valid node label.
var NodeTypes = []NodeType{
	NodeConcept, NodeProject, NodePerson, NodeTool,
	NodeDocument, NodeTechnique, NodeTheory,
}

// RelationType labels an extracted relation. Unknown relation strings from
// extraction normalize to RelRelatesTo.
type RelationType string

const (
	RelRelatesTo    RelationType = "RELATES_TO"
	RelEnables      RelationType = "ENABLES"
	RelRequires     RelationType = "REQUIRES"
	RelPartOf       RelationType = "PART_OF"
	RelDocumentedIn RelationType = "DOCUMENTED_IN"
	RelUses         RelationType = "USES"
	RelImplements   RelationType = "IMPLEMENTS"
	RelAnalyzes     RelationType = "ANALYZES"
	RelDerivesFrom  RelationType = "DERIVES_FROM"
)

var relationTypes = map[RelationType]bool{
	RelRelatesTo: true, RelEnables: true, RelRequires: true,
	RelPartOf: true, RelDocumentedIn: true, RelUses: true,
	RelImplements: true, RelAnalyzes: true, RelDerivesFrom: true,
}

var nodeTypes = map[NodeType]bool{
	NodeConcept: true, NodeProject: true, NodePerson: true, NodeTool: true,
	NodeDocument: true, NodeTechnique: true, NodeTheory: true,
}

// NormalizeNodeType maps a free-form extracted type onto the closed set,
// defaulting to Concept.
func NormalizeNodeType(t string) NodeType {
	nt := NodeType(t)
	if nodeTypes[nt] {
		return nt
	}
	return NodeConcept
}

// NormalizeRelationType maps a free-form extracted relation onto the closed
// set, defaulting to RELATES_TO.
func NormalizeRelationType(t string) RelationType {
	rt := RelationType(t)
	if relationTypes[rt] {
		return rt
	}
	return RelRelatesTo
}

// Node is one graph entity, unique by name.
type Node struct {
	Name       string
	Type       NodeType
	Properties map[string]any
}

// Edge is one directed relation between two named nodes.
type Edge struct {
	From string
	To   string
	Type RelationType
}

// Path is a node sequence with the relation types traversed between
// consecutive nodes; len(EdgeTypes) is len(Nodes)-1.
type Path struct {
	Nodes     []Node
	EdgeTypes []RelationType
}

// Stats summarizes graph size.
type Stats struct {
	Nodes       int64
	Edges       int64
	NodesByType map[NodeType]int64
}

// GraphStore persists the entity graph. MergeNode and MergeEdge are
// idempotent; re-running ingestion does not grow the graph.
type GraphStore interface {
	EnsureConstraints(ctx context.Context) error

	MergeNode(ctx context.Context, node Node) error
	MergeEdge(ctx context.Context, edge Edge) error

	// Neighbors returns nodes reachable from name within depth hops
	// (direction-agnostic), ordered by path length. Depth clamps to [1, 3].
	Neighbors(ctx context.Context, name string, depth int) ([]Node, error)

	// ShortestPath returns an undirected shortest path with the edge types
	// traversed, or nil when no path exists. A node is a zero-edge path to
	// itself.
	ShortestPath(ctx context.Context, from, to string) (*Path, error)

	// DocumentsFor returns the source paths of Document nodes within two
	// hops of the named entity.
	DocumentsFor(ctx context.Context, entity string) ([]string, error)

	NodesOfType(ctx context.Context, t NodeType) ([]Node, error)

	Stats(ctx context.Context) (Stats, error)
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

func clampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > 3 {
		return 3
	}
	return depth
}
