package search_service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/serisow/docgraph/kb_type"
	"github.com/serisow/docgraph/llm_service"
)

const defaultTopK = 10

type vectorQuerier interface {
	Query(ctx context.Context, vector pgvector.Vector, k int, filter kb_type.SearchFilter) ([]kb_type.SearchResult, error)
}

// SearchService answers semantic queries over the indexed chunks. A
// backend failure never becomes an error return: the caller gets a
// degraded outcome with an empty result list, so an empty index and an
// unavailable backend remain distinguishable.
type SearchService struct {
	embedding llm_service.EmbeddingService
	vectors   vectorQuerier
	logger    *slog.Logger
}

func New(embedding llm_service.EmbeddingService, vectors vectorQuerier, logger *slog.Logger) *SearchService {
	return &SearchService{
		embedding: embedding,
		vectors:   vectors,
		logger:    logger,
	}
}

func (s *SearchService) Search(ctx context.Context, query string, k int, filter kb_type.SearchFilter) kb_type.SearchOutcome {
	query = strings.TrimSpace(query)
	if query == "" {
		return kb_type.SearchOutcome{Results: []kb_type.SearchResult{}}
	}
	if k <= 0 {
		k = defaultTopK
	}

	vectors, err := s.embedding.EmbedBatch(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		s.logger.Warn("Query embedding failed, returning degraded outcome",
			slog.String("query", query),
			slog.Any("error", err))
		return degraded("embedding backend unavailable")
	}

	results, err := s.vectors.Query(ctx, pgvector.NewVector(vectors[0]), k, filter)
	if err != nil {
		s.logger.Warn("Vector query failed, returning degraded outcome",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return degraded("vector index unavailable")
	}

	if results == nil {
		results = []kb_type.SearchResult{}
	}
	return kb_type.SearchOutcome{Results: results}
}

func degraded(reason string) kb_type.SearchOutcome {
	return kb_type.SearchOutcome{
		Results:  []kb_type.SearchResult{},
		Degraded: true,
		Reason:   reason,
	}
}
