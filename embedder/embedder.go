package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/serisow/docgraph/kb_type"
	"github.com/serisow/docgraph/llm_service"
)

// CountMismatchError means the embedding backend returned a different
// number of vectors than texts were sent; ordering cannot be trusted,
// so the whole embedding step fails.
type CountMismatchError struct {
	Requested int
	Received  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("embedding count mismatch: requested %d vectors, received %d", e.Requested, e.Received)
}

type vectorUpserter interface {
	UpsertChunks(ctx context.Context, chunks []kb_type.Chunk) error
}

// Embedder turns a document's chunks into vectors with one batched
// backend call and persists them all-or-nothing: a failed batch leaves
// no partial vector set behind.
type Embedder struct {
	embedding llm_service.EmbeddingService
	vectors   vectorUpserter
	logger    *slog.Logger
}

func New(embedding llm_service.EmbeddingService, vectors vectorUpserter, logger *slog.Logger) *Embedder {
	return &Embedder{
		embedding: embedding,
		vectors:   vectors,
		logger:    logger,
	}
}

func (e *Embedder) EmbedChunks(ctx context.Context, documentID string, chunks []kb_type.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = compositeText(chunk)
	}

	vectors, err := e.embedding.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding request failed for document %s: %w", documentID, err)
	}

	if len(vectors) != len(chunks) {
		return &CountMismatchError{Requested: len(chunks), Received: len(vectors)}
	}

	dimension := e.embedding.Dimension()
	for i, vector := range vectors {
		if len(vector) != dimension {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vector), dimension)
		}
		v := pgvector.NewVector(vector)
		chunks[i].Embedding = &v
	}

	if err := e.vectors.UpsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to persist vectors for document %s: %w", documentID, err)
	}

	e.logger.Info("Embedded document chunks",
		slog.String("document_id", documentID),
		slog.Int("chunk_count", len(chunks)))
	return nil
}

// compositeText folds the derived metadata into the embedded text so
// titles and summaries contribute to similarity.
func compositeText(chunk kb_type.Chunk) string {
	parts := make([]string, 0, 3)
	if chunk.Title != "" {
		parts = append(parts, chunk.Title)
	}
	if chunk.Summary != "" {
		parts = append(parts, chunk.Summary)
	}
	parts = append(parts, chunk.Content)
	return strings.Join(parts, "\n")
}
