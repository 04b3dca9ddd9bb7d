package graphdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cjcelaya/mindgate/pkg/config"
)

// Neo4jStore implements GraphStore on a Neo4j database.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewNeo4jStore(ctx context.Context, cfg config.Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Neo4j at %s: %w", cfg.URI, err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

// EnsureConstraints creates the per-label unique name constraints.
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) error {
	for _, t := range NodeTypes {
		query := fmt.Sprintf(
			"CREATE CONSTRAINT %s_name IF NOT EXISTS FOR (n:%s) REQUIRE n.name IS UNIQUE",
			strings.ToLower(string(t)), t)
		if _, err := s.run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to ensure constraint for %s: %w", t, err)
		}
	}
	return nil
}

func (s *Neo4jStore) MergeNode(ctx context.Context, node Node) error {
	props := node.Properties
	if props == nil {
		props = map[string]any{}
	}
	// Labels come from the closed NodeType set; only values are parameters.
	query := fmt.Sprintf("MERGE (n:%s {name: $name}) SET n += $props", NormalizeNodeType(string(node.Type)))
	_, err := s.run(ctx, query, map[string]any{"name": node.Name, "props": props})
	if err != nil {
		return fmt.Errorf("failed to merge node %s: %w", node.Name, err)
	}
	return nil
}

func (s *Neo4jStore) MergeEdge(ctx context.Context, edge Edge) error {
	query := fmt.Sprintf(
		"MATCH (a {name: $from}) MATCH (b {name: $to}) MERGE (a)-[:%s]->(b)",
		NormalizeRelationType(string(edge.Type)))
	_, err := s.run(ctx, query, map[string]any{"from": edge.From, "to": edge.To})
	if err != nil {
		return fmt.Errorf("failed to merge edge %s-[%s]->%s: %w", edge.From, edge.Type, edge.To, err)
	}
	return nil
}

func (s *Neo4jStore) Neighbors(ctx context.Context, name string, depth int) ([]Node, error) {
	query := fmt.Sprintf(
		"MATCH p = (a {name: $name})-[*1..%d]-(b) WHERE b <> a "+
			"WITH b, min(length(p)) AS hops RETURN b ORDER BY hops, b.name",
		clampDepth(depth))
	result, err := s.run(ctx, query, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors of %s: %w", name, err)
	}
	return recordNodes(result, "b"), nil
}

func (s *Neo4jStore) ShortestPath(ctx context.Context, from, to string) (*Path, error) {
	if from == to {
		result, err := s.run(ctx, "MATCH (a {name: $name}) RETURN a LIMIT 1", map[string]any{"name": from})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve node %s: %w", from, err)
		}
		nodes := recordNodes(result, "a")
		if len(nodes) == 0 {
			return nil, nil
		}
		return &Path{Nodes: nodes}, nil
	}

	query := "MATCH p = shortestPath((a {name: $from})-[*..6]-(b {name: $to})) " +
		"RETURN nodes(p) AS path, [r IN relationships(p) | type(r)] AS rels"
	result, err := s.run(ctx, query, map[string]any{"from": from, "to": to})
	if err != nil {
		return nil, fmt.Errorf("failed to query shortest path %s -> %s: %w", from, to, err)
	}
	if len(result.Records) == 0 {
		return nil, nil
	}

	raw, _, err := neo4j.GetRecordValue[[]any](result.Records[0], "path")
	if err != nil {
		return nil, fmt.Errorf("failed to read path record: %w", err)
	}
	path := &Path{Nodes: make([]Node, 0, len(raw))}
	for _, item := range raw {
		if n, ok := item.(neo4j.Node); ok {
			path.Nodes = append(path.Nodes, fromNeo4jNode(n))
		}
	}

	rels, _, err := neo4j.GetRecordValue[[]any](result.Records[0], "rels")
	if err != nil {
		return nil, fmt.Errorf("failed to read path relationships: %w", err)
	}
	for _, item := range rels {
		if rel, ok := item.(string); ok {
			path.EdgeTypes = append(path.EdgeTypes, NormalizeRelationType(rel))
		}
	}
	return path, nil
}

func (s *Neo4jStore) DocumentsFor(ctx context.Context, entity string) ([]string, error) {
	query := "MATCH (a {name: $name})-[*1..2]-(d:Document) " +
		"WHERE d.source IS NOT NULL RETURN DISTINCT d.source AS source"
	result, err := s.run(ctx, query, map[string]any{"name": entity})
	if err != nil {
		return nil, fmt.Errorf("failed to query documents for %s: %w", entity, err)
	}

	var sources []string
	for _, record := range result.Records {
		if source, _, err := neo4j.GetRecordValue[string](record, "source"); err == nil && source != "" {
			sources = append(sources, source)
		}
	}
	return sources, nil
}

func (s *Neo4jStore) NodesOfType(ctx context.Context, t NodeType) ([]Node, error) {
	query := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.name", NormalizeNodeType(string(t)))
	result, err := s.run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s nodes: %w", t, err)
	}
	return recordNodes(result, "n"), nil
}

func (s *Neo4jStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{NodesByType: make(map[NodeType]int64)}

	result, err := s.run(ctx, "MATCH (n) RETURN count(n) AS c", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to count nodes: %w", err)
	}
	stats.Nodes = recordCount(result)

	result, err = s.run(ctx, "MATCH ()-[r]->() RETURN count(r) AS c", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to count edges: %w", err)
	}
	stats.Edges = recordCount(result)

	for _, t := range NodeTypes {
		result, err = s.run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", t), nil)
		if err != nil {
			return stats, fmt.Errorf("failed to count %s nodes: %w", t, err)
		}
		if count := recordCount(result); count > 0 {
			stats.NodesByType[t] = count
		}
	}
	return stats, nil
}

func (s *Neo4jStore) Reset(ctx context.Context) error {
	if _, err := s.run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return fmt.Errorf("failed to reset graph: %w", err)
	}
	return nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
}

func recordNodes(result *neo4j.EagerResult, key string) []Node {
	var nodes []Node
	for _, record := range result.Records {
		raw, _, err := neo4j.GetRecordValue[neo4j.Node](record, key)
		if err != nil {
			continue
		}
		nodes = append(nodes, fromNeo4jNode(raw))
	}
	return nodes
}

func recordCount(result *neo4j.EagerResult) int64 {
	if len(result.Records) == 0 {
		return 0
	}
	count, _, err := neo4j.GetRecordValue[int64](result.Records[0], "c")
	if err != nil {
		return 0
	}
	return count
}

func fromNeo4jNode(n neo4j.Node) Node {
	node := Node{Type: NodeConcept, Properties: make(map[string]any)}
	for _, label := range n.Labels {
		if nodeTypes[NodeType(label)] {
			node.Type = NodeType(label)
			break
		}
	}
	for key, value := range n.Props {
		if key == "name" {
			if s, ok := value.(string); ok {
				node.Name = s
			}
			continue
		}
		node.Properties[key] = value
	}
	return node
}
