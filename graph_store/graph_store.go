package graph_store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serisow/docgraph/kb_type"
)

// maxNeighborhoodSize caps Neighbors results regardless of graph
// density so a dense hub cannot blow up response cost.
const maxNeighborhoodSize = 50

// MaxTraversalDepth caps the hop count of a Neighbors walk. The row
// LIMIT bounds the result, not the traversal work, so depth must be
// bounded too.
const MaxTraversalDepth = 5

// ValidationError marks caller-supplied input rejected before any query
// is built from it.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// Relation types are a closed set. Edge labels are never taken from
// free-form extractor output; a candidate either canonicalizes into
// this set or is rejected with a ValidationError.
var allowedRelationTypes = map[string]string{
	"depends_on":     "depends_on",
	"depends":        "depends_on",
	"uses":           "uses",
	"used_by":        "uses",
	"part_of":        "part_of",
	"belongs_to":     "belongs_to",
	"member_of":      "belongs_to",
	"implements":     "implements",
	"extends":        "extends",
	"references":     "references",
	"defined_in":     "defined_in",
	"located_in":     "located_in",
	"authored_by":    "authored_by",
	"relates_to":     "relates_to",
	"related_to":     "relates_to",
	"interacts_with": "interacts_with",
}

// CanonicalRelationType normalizes a candidate relation type and maps
// it onto the closed allow-list.
func CanonicalRelationType(candidate string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(candidate))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	canonical, ok := allowedRelationTypes[normalized]
	return canonical, ok
}

// AllowedRelationTypes lists the canonical relation vocabulary.
func AllowedRelationTypes() []string {
	seen := map[string]struct{}{}
	var types []string
	for _, canonical := range allowedRelationTypes {
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		types = append(types, canonical)
	}
	sort.Strings(types)
	return types
}

// GraphStore persists entity nodes and relation edges in Postgres.
// Upserts are idempotent: replaying identical entities and relations
// produces no duplicate nodes or edges.
type GraphStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func New(db *pgxpool.Pool, logger *slog.Logger) *GraphStore {
	return &GraphStore{db: db, logger: logger}
}

// UpsertEntityNode inserts or updates the node keyed by the normalized
// (entity type, name) pair, tagging it with the contributing document.
func (g *GraphStore) UpsertEntityNode(ctx context.Context, documentID, entityType, name string, properties map[string]interface{}) (int64, error) {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	name = strings.ToLower(strings.TrimSpace(name))
	if entityType == "" {
		return 0, &ValidationError{Field: "entity type", Value: entityType}
	}
	if name == "" {
		return 0, &ValidationError{Field: "entity name", Value: name}
	}
	if properties == nil {
		properties = map[string]interface{}{}
	}

	var nodeID int64
	err := g.db.QueryRow(ctx, `
		INSERT INTO kb_nodes (entity_type, name, properties, document_ids)
		VALUES ($1, $2, $3, ARRAY[$4])
		ON CONFLICT (entity_type, name) DO UPDATE SET
			properties = kb_nodes.properties || EXCLUDED.properties,
			document_ids = CASE
				WHEN $4 = ANY (kb_nodes.document_ids) THEN kb_nodes.document_ids
				ELSE array_append(kb_nodes.document_ids, $4)
			END
		RETURNING id`,
		entityType, name, properties, documentID,
	).Scan(&nodeID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert entity node (%s, %s): %w", entityType, name, err)
	}

	return nodeID, nil
}

// UpsertRelation inserts or updates the typed edge between two existing
// nodes. The relation type must canonicalize into the allow-list.
func (g *GraphStore) UpsertRelation(ctx context.Context, documentID string, sourceID, targetID int64, relationType string, properties map[string]interface{}) error {
	canonical, ok := CanonicalRelationType(relationType)
	if !ok {
		return &ValidationError{Field: "relation type", Value: relationType}
	}
	if properties == nil {
		properties = map[string]interface{}{}
	}

	_, err := g.db.Exec(ctx, `
		INSERT INTO kb_edges (source_id, target_id, relation_type, properties, document_ids)
		VALUES ($1, $2, $3, $4, ARRAY[$5])
		ON CONFLICT (source_id, target_id, relation_type) DO UPDATE SET
			properties = kb_edges.properties || EXCLUDED.properties,
			document_ids = CASE
				WHEN $5 = ANY (kb_edges.document_ids) THEN kb_edges.document_ids
				ELSE array_append(kb_edges.document_ids, $5)
			END`,
		sourceID, targetID, canonical, properties, documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert relation %d-[%s]->%d: %w", sourceID, canonical, targetID, err)
	}

	return nil
}

// Neighbors walks edges in both directions up to depth hops and returns
// the reached nodes plus the edges among them, capped at
// maxNeighborhoodSize each.
func (g *GraphStore) Neighbors(ctx context.Context, nodeID int64, depth int) (*kb_type.GraphNeighborhood, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > MaxTraversalDepth {
		depth = MaxTraversalDepth
	}

	rows, err := g.db.Query(ctx, `
		WITH RECURSIVE walk (node_id, hop) AS (
			SELECT $1::bigint, 0
			UNION
			SELECT CASE WHEN e.source_id = w.node_id THEN e.target_id ELSE e.source_id END, w.hop + 1
			FROM kb_edges e
			JOIN walk w ON e.source_id = w.node_id OR e.target_id = w.node_id
			WHERE w.hop < $2
		)
		SELECT DISTINCT n.id, n.entity_type, n.name, n.properties
		FROM kb_nodes n
		JOIN walk w ON n.id = w.node_id
		LIMIT $3`,
		nodeID, depth, maxNeighborhoodSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors of node %d: %w", nodeID, err)
	}
	defer rows.Close()

	neighborhood := &kb_type.GraphNeighborhood{}
	nodeIDs := make([]int64, 0, maxNeighborhoodSize)
	for rows.Next() {
		var node kb_type.GraphNode
		if err := rows.Scan(&node.ID, &node.EntityType, &node.Name, &node.Properties); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor node: %w", err)
		}
		neighborhood.Nodes = append(neighborhood.Nodes, node)
		nodeIDs = append(nodeIDs, node.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read neighbor nodes: %w", err)
	}

	edgeRows, err := g.db.Query(ctx, `
		SELECT source_id, target_id, relation_type, properties
		FROM kb_edges
		WHERE source_id = ANY ($1) AND target_id = ANY ($1)
		LIMIT $2`,
		nodeIDs, maxNeighborhoodSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighborhood edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var edge kb_type.GraphEdge
		if err := edgeRows.Scan(&edge.SourceID, &edge.TargetID, &edge.Type, &edge.Properties); err != nil {
			return nil, fmt.Errorf("failed to scan neighborhood edge: %w", err)
		}
		neighborhood.Edges = append(neighborhood.Edges, edge)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read neighborhood edges: %w", err)
	}

	return neighborhood, nil
}

// SearchEntities lists nodes filtered by optional type and name
// pattern. The pattern is matched case-insensitively as a substring.
func (g *GraphStore) SearchEntities(ctx context.Context, entityType, namePattern string, limit int) ([]kb_type.GraphNode, error) {
	if limit <= 0 || limit > maxNeighborhoodSize {
		limit = maxNeighborhoodSize
	}

	rows, err := g.db.Query(ctx, `
		SELECT id, entity_type, name, properties
		FROM kb_nodes
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY name
		LIMIT $3`,
		strings.ToLower(strings.TrimSpace(entityType)), strings.TrimSpace(namePattern), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var nodes []kb_type.GraphNode
	for rows.Next() {
		var node kb_type.GraphNode
		if err := rows.Scan(&node.ID, &node.EntityType, &node.Name, &node.Properties); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// SearchEntitiesByDocument lists nodes tagged with the document id.
func (g *GraphStore) SearchEntitiesByDocument(ctx context.Context, documentID string, limit int) ([]kb_type.GraphNode, error) {
	if limit <= 0 || limit > maxNeighborhoodSize {
		limit = maxNeighborhoodSize
	}

	rows, err := g.db.Query(ctx, `
		SELECT id, entity_type, name, properties
		FROM kb_nodes
		WHERE $1 = ANY (document_ids)
		ORDER BY name
		LIMIT $2`,
		documentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities by document: %w", err)
	}
	defer rows.Close()

	var nodes []kb_type.GraphNode
	for rows.Next() {
		var node kb_type.GraphNode
		if err := rows.Scan(&node.ID, &node.EntityType, &node.Name, &node.Properties); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// DeleteDocumentGraph detaches the document from every node and edge it
// tagged, then removes the ones no other document still contributes to.
func (g *GraphStore) DeleteDocumentGraph(ctx context.Context, documentID string) error {
	tx, err := g.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin graph delete: %w", err)
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`UPDATE kb_edges SET document_ids = array_remove(document_ids, $1) WHERE $1 = ANY (document_ids)`,
		`DELETE FROM kb_edges WHERE document_ids = '{}'`,
		`UPDATE kb_nodes SET document_ids = array_remove(document_ids, $1) WHERE $1 = ANY (document_ids)`,
		`DELETE FROM kb_nodes WHERE document_ids = '{}'`,
	}
	for _, stmt := range statements {
		if strings.Contains(stmt, "$1") {
			_, err = tx.Exec(ctx, stmt, documentID)
		} else {
			_, err = tx.Exec(ctx, stmt)
		}
		if err != nil {
			return fmt.Errorf("failed to delete document graph: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit graph delete: %w", err)
	}

	g.logger.Info("Deleted document graph",
		slog.String("document_id", documentID))
	return nil
}
