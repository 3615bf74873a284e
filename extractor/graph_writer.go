package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/serisow/docgraph/graph_store"
	"github.com/serisow/docgraph/kb_type"
)

// graphStore is the slice of graph_store.GraphStore the writer needs.
type graphStore interface {
	UpsertEntityNode(ctx context.Context, documentID, entityType, name string, properties map[string]interface{}) (int64, error)
	UpsertRelation(ctx context.Context, documentID string, sourceID, targetID int64, relationType string, properties map[string]interface{}) error
}

// GraphWriter materializes extracted entities and relations as graph
// mutations. Relations whose type fails allow-list validation are
// dropped before reaching the backend; a backend write failure is
// stage-fatal and surfaced to the orchestrator.
type GraphWriter struct {
	graph  graphStore
	logger *slog.Logger
}

func NewGraphWriter(graph graphStore, logger *slog.Logger) *GraphWriter {
	return &GraphWriter{graph: graph, logger: logger}
}

func (w *GraphWriter) Materialize(ctx context.Context, documentID string, entities []kb_type.Entity, relations []kb_type.Relation) (int, int, error) {
	nodeIDs := make(map[string]int64, len(entities))

	for _, entity := range entities {
		properties := map[string]interface{}{
			"confidence":    entity.Confidence,
			"source_chunks": entity.ChunkIDs,
		}
		nodeID, err := w.graph.UpsertEntityNode(ctx, documentID, entity.Type, entity.Name, properties)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to materialize entity %s: %w", entity.Key(), err)
		}
		nodeIDs[entity.Key()] = nodeID
	}

	relationCount := 0
	for _, relation := range relations {
		sourceID, ok := nodeIDs[relation.SourceKey]
		if !ok {
			continue
		}
		targetID, ok := nodeIDs[relation.TargetKey]
		if !ok {
			continue
		}

		canonical, ok := graph_store.CanonicalRelationType(relation.Type)
		if !ok {
			w.logger.Warn("Dropping relation with disallowed type",
				slog.String("document_id", documentID),
				slog.String("relation_type", relation.Type),
				slog.String("source", relation.SourceKey),
				slog.String("target", relation.TargetKey))
			continue
		}

		properties := relation.Properties
		if properties == nil {
			properties = map[string]interface{}{}
		}
		properties["confidence"] = relation.Confidence

		err := w.graph.UpsertRelation(ctx, documentID, sourceID, targetID, canonical, properties)
		if err != nil {
			var validationErr *graph_store.ValidationError
			if errors.As(err, &validationErr) {
				w.logger.Warn("Graph backend rejected relation",
					slog.String("document_id", documentID),
					slog.String("error", validationErr.Error()))
				continue
			}
			return 0, 0, fmt.Errorf("failed to materialize relation %s-[%s]->%s: %w",
				relation.SourceKey, canonical, relation.TargetKey, err)
		}
		relationCount++
	}

	return len(entities), relationCount, nil
}
