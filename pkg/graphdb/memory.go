package graphdb

import (
	"context"
	"sort"
	"sync"
)

// MemoryGraph is an in-process GraphStore for tests and single-node setups.
type MemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[Edge]bool
	adj   map[string]map[string]bool // undirected adjacency
}

func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[string]Node),
		edges: make(map[Edge]bool),
		adj:   make(map[string]map[string]bool),
	}
}

func (g *MemoryGraph) EnsureConstraints(context.Context) error { return nil }

func (g *MemoryGraph) MergeNode(_ context.Context, node Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node.Type = NormalizeNodeType(string(node.Type))
	existing, ok := g.nodes[node.Name]
	if !ok {
		if node.Properties == nil {
			node.Properties = make(map[string]any)
		}
		g.nodes[node.Name] = node
		return nil
	}
	for key, value := range node.Properties {
		existing.Properties[key] = value
	}
	existing.Type = node.Type
	g.nodes[node.Name] = existing
	return nil
}

func (g *MemoryGraph) MergeEdge(_ context.Context, edge Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Both endpoints must exist, mirroring the MATCH-then-MERGE semantics.
	if _, ok := g.nodes[edge.From]; !ok {
		return nil
	}
	if _, ok := g.nodes[edge.To]; !ok {
		return nil
	}

	edge.Type = NormalizeRelationType(string(edge.Type))
	g.edges[edge] = true
	g.link(edge.From, edge.To)
	return nil
}

func (g *MemoryGraph) link(a, b string) {
	if g.adj[a] == nil {
		g.adj[a] = make(map[string]bool)
	}
	if g.adj[b] == nil {
		g.adj[b] = make(map[string]bool)
	}
	g.adj[a][b] = true
	g.adj[b][a] = true
}

func (g *MemoryGraph) Neighbors(_ context.Context, name string, depth int) ([]Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[name]; !ok {
		return nil, nil
	}

	reached := g.bfs(name, clampDepth(depth))
	var names []string
	for other := range reached {
		if other == name {
			continue
		}
		names = append(names, other)
	}
	// Closest first; ties break on name for a stable order.
	sort.Slice(names, func(i, j int) bool {
		if reached[names[i]] != reached[names[j]] {
			return reached[names[i]] < reached[names[j]]
		}
		return names[i] < names[j]
	})
	nodes := make([]Node, len(names))
	for i, other := range names {
		nodes[i] = g.nodes[other]
	}
	return nodes, nil
}

func (g *MemoryGraph) ShortestPath(_ context.Context, from, to string) (*Path, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[from]; !ok {
		return nil, nil
	}
	if from == to {
		return &Path{Nodes: []Node{g.nodes[from]}}, nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, nil
	}

	prev := map[string]string{from: from}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == to {
			break
		}
		for next := range g.adj[current] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = current
			queue = append(queue, next)
		}
	}
	if _, found := prev[to]; !found {
		return nil, nil
	}

	var names []string
	for at := to; ; at = prev[at] {
		names = append([]string{at}, names...)
		if at == from {
			break
		}
	}

	path := &Path{Nodes: make([]Node, len(names))}
	for i, name := range names {
		path.Nodes[i] = g.nodes[name]
		if i > 0 {
			path.EdgeTypes = append(path.EdgeTypes, g.edgeTypeBetween(names[i-1], name))
		}
	}
	return path, nil
}

// edgeTypeBetween resolves the relation between adjacent nodes in either
// direction. Callers must hold the lock.
func (g *MemoryGraph) edgeTypeBetween(a, b string) RelationType {
	for edge := range g.edges {
		if (edge.From == a && edge.To == b) || (edge.From == b && edge.To == a) {
			return edge.Type
		}
	}
	return RelRelatesTo
}

func (g *MemoryGraph) DocumentsFor(_ context.Context, entity string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[entity]; !ok {
		return nil, nil
	}

	seen := make(map[string]bool)
	var sources []string
	for other := range g.bfs(entity, 2) {
		node := g.nodes[other]
		if node.Type != NodeDocument {
			continue
		}
		source, _ := node.Properties["source"].(string)
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources, nil
}

func (g *MemoryGraph) NodesOfType(_ context.Context, t NodeType) ([]Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	want := NormalizeNodeType(string(t))
	var nodes []Node
	for _, node := range g.nodes {
		if node.Type == want {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

func (g *MemoryGraph) Stats(context.Context) (Stats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{
		Nodes:       int64(len(g.nodes)),
		Edges:       int64(len(g.edges)),
		NodesByType: make(map[NodeType]int64),
	}
	for _, node := range g.nodes {
		stats.NodesByType[node.Type]++
	}
	return stats, nil
}

func (g *MemoryGraph) Reset(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]Node)
	g.edges = make(map[Edge]bool)
	g.adj = make(map[string]map[string]bool)
	return nil
}

func (g *MemoryGraph) Close(context.Context) error { return nil }

// bfs returns every node within depth hops of start, start included, mapped
// to its hop count. Callers must hold the lock.
func (g *MemoryGraph) bfs(start string, depth int) map[string]int {
	reached := map[string]int{start: 0}
	frontier := []string{start}
	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, current := range frontier {
			for neighbor := range g.adj[current] {
				if _, seen := reached[neighbor]; seen {
					continue
				}
				reached[neighbor] = hop
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return reached
}
