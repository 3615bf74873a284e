package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/serisow/docgraph/graph_store"
	"github.com/serisow/docgraph/kb_type"
	"github.com/serisow/docgraph/llm_service"
)

// EntityExtractor derives typed entities and relations from chunks.
// Chunks are dispatched to the LLM in batches, and failure isolation is
// batch-granular: a call whose output cannot be parsed contributes
// nothing and never aborts the run, at the cost of at most batchSize
// chunks' worth of extraction. Batching trades that blast radius for
// fewer LLM round trips per document.
type EntityExtractor struct {
	llm                 llm_service.LLMService
	llmConfig           map[string]interface{}
	batchSize           int
	concurrency         int
	confidenceThreshold float64
	logger              *slog.Logger
}

func New(llm llm_service.LLMService, llmConfig map[string]interface{}, batchSize, concurrency int, confidenceThreshold float64, logger *slog.Logger) *EntityExtractor {
	if batchSize <= 0 {
		batchSize = 5
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &EntityExtractor{
		llm:                 llm,
		llmConfig:           llmConfig,
		batchSize:           batchSize,
		concurrency:         concurrency,
		confidenceThreshold: confidenceThreshold,
		logger:              logger,
	}
}

type extractedEntity struct {
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type extractedRelation struct {
	SourceType string  `json:"source_type"`
	SourceName string  `json:"source_name"`
	TargetType string  `json:"target_type"`
	TargetName string  `json:"target_name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type extractionPayload struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relations"`
}

// Extract returns a deduplicated entity list and the relations whose
// endpoints resolve to that list. Entity identity is the normalized
// (type, name) pair; repeated mentions merge instead of duplicating.
func (e *EntityExtractor) Extract(ctx context.Context, chunks []kb_type.Chunk, documentID string, docType kb_type.DocumentType) ([]kb_type.Entity, []kb_type.Relation, error) {
	if len(chunks) == 0 {
		return nil, nil, nil
	}

	var mu sync.Mutex
	entitiesByKey := map[string]*kb_type.Entity{}
	relationsByKey := map[string]*kb_type.Relation{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(chunks); start += e.batchSize {
		end := start + e.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			payload, ok := e.extractBatch(gctx, batch, docType)
			if !ok {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			e.mergeBatch(payload, batch, entitiesByKey, relationsByKey)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("extraction canceled: %w", err)
	}

	entities := make([]kb_type.Entity, 0, len(entitiesByKey))
	for _, entity := range entitiesByKey {
		entities = append(entities, *entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Key() < entities[j].Key() })

	relations := make([]kb_type.Relation, 0, len(relationsByKey))
	for _, relation := range relationsByKey {
		if _, ok := entitiesByKey[relation.SourceKey]; !ok {
			continue
		}
		if _, ok := entitiesByKey[relation.TargetKey]; !ok {
			continue
		}
		relations = append(relations, *relation)
	}
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].SourceKey != relations[j].SourceKey {
			return relations[i].SourceKey < relations[j].SourceKey
		}
		if relations[i].TargetKey != relations[j].TargetKey {
			return relations[i].TargetKey < relations[j].TargetKey
		}
		return relations[i].Type < relations[j].Type
	})

	return entities, relations, nil
}

// extractBatch issues one LLM call for a batch of chunks. Any failure
// is logged and reported as absent; the batch's chunks then contribute
// no entities or relations.
func (e *EntityExtractor) extractBatch(ctx context.Context, batch []kb_type.Chunk, docType kb_type.DocumentType) (*extractionPayload, bool) {
	response, err := e.llm.CallLLM(ctx, e.llmConfig, e.extractionPrompt(batch, docType))
	if err != nil {
		e.logger.Warn("Entity extraction call failed for batch",
			slog.Int("batch_size", len(batch)),
			slog.Int("first_chunk_index", batch[0].Index),
			slog.String("error", err.Error()))
		return nil, false
	}

	raw, ok := llm_service.RecoverJSON(response)
	if !ok {
		e.logger.Warn("No JSON payload in extraction response",
			slog.Int("first_chunk_index", batch[0].Index))
		return nil, false
	}

	var payload extractionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.logger.Warn("Malformed extraction payload",
			slog.Int("first_chunk_index", batch[0].Index),
			slog.String("error", err.Error()))
		return nil, false
	}

	return &payload, true
}

func (e *EntityExtractor) mergeBatch(payload *extractionPayload, batch []kb_type.Chunk, entitiesByKey map[string]*kb_type.Entity, relationsByKey map[string]*kb_type.Relation) {
	chunkIDs := make([]string, len(batch))
	for i, chunk := range batch {
		chunkIDs[i] = chunk.ID
	}

	for _, candidate := range payload.Entities {
		name := strings.TrimSpace(candidate.Name)
		entityType := strings.TrimSpace(candidate.Type)
		if name == "" || entityType == "" {
			continue
		}
		if candidate.Confidence < e.confidenceThreshold {
			continue
		}

		key := kb_type.EntityKey(entityType, name)
		if existing, ok := entitiesByKey[key]; ok {
			if candidate.Confidence > existing.Confidence {
				existing.Confidence = candidate.Confidence
			}
			existing.ChunkIDs = appendMissing(existing.ChunkIDs, chunkIDs)
			continue
		}
		entitiesByKey[key] = &kb_type.Entity{
			Type:       entityType,
			Name:       name,
			Confidence: candidate.Confidence,
			ChunkIDs:   append([]string(nil), chunkIDs...),
		}
	}

	for _, candidate := range payload.Relations {
		if candidate.Confidence < e.confidenceThreshold {
			continue
		}
		relType := strings.TrimSpace(candidate.Type)
		if relType == "" {
			continue
		}
		sourceKey := kb_type.EntityKey(candidate.SourceType, candidate.SourceName)
		targetKey := kb_type.EntityKey(candidate.TargetType, candidate.TargetName)
		if sourceKey == targetKey {
			continue
		}

		dedupKey := sourceKey + "->" + targetKey + ":" + strings.ToLower(relType)
		if existing, ok := relationsByKey[dedupKey]; ok {
			if candidate.Confidence > existing.Confidence {
				existing.Confidence = candidate.Confidence
			}
			continue
		}
		relationsByKey[dedupKey] = &kb_type.Relation{
			SourceKey:  sourceKey,
			TargetKey:  targetKey,
			Type:       relType,
			Confidence: candidate.Confidence,
			Properties: map[string]interface{}{},
		}
	}
}

func (e *EntityExtractor) extractionPrompt(batch []kb_type.Chunk, docType kb_type.DocumentType) string {
	var sb strings.Builder
	kind := "business document"
	if docType == kb_type.DocumentTypeDemoCode {
		kind = "code sample"
	}
	fmt.Fprintf(&sb, `Extract the entities and relations mentioned in the following %s excerpts.
Respond with JSON only, in the form:
{"entities": [{"type": "...", "name": "...", "confidence": 0.0}],
 "relations": [{"source_type": "...", "source_name": "...", "target_type": "...", "target_name": "...", "type": "...", "confidence": 0.0}]}
Relation types must be one of: %s.

`, kind, strings.Join(graph_store.AllowedRelationTypes(), ", "))

	for _, chunk := range batch {
		fmt.Fprintf(&sb, "--- excerpt %d ---\n%s\n", chunk.Index, chunk.Content)
	}
	return sb.String()
}

func appendMissing(existing []string, candidates []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range candidates {
		if _, ok := seen[id]; !ok {
			existing = append(existing, id)
		}
	}
	return existing
}
