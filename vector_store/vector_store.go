package vector_store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/serisow/docgraph/kb_type"
)

// VectorStore persists chunk vectors in the pgvector-backed chunks
// table and answers top-k cosine similarity queries.
type VectorStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func New(db *pgxpool.Pool, logger *slog.Logger) *VectorStore {
	return &VectorStore{db: db, logger: logger}
}

// UpsertChunks writes a document's chunks with their embeddings in one
// batch. Upserts are keyed by chunk id, so replaying the same chunk set
// is idempotent.
func (s *VectorStore) UpsertChunks(ctx context.Context, chunks []kb_type.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, document_id, chunk_index, content, title, summary, keywords, chunk_type, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				title = EXCLUDED.title,
				summary = EXCLUDED.summary,
				keywords = EXCLUDED.keywords,
				chunk_type = EXCLUDED.chunk_type,
				embedding = EXCLUDED.embedding`,
			chunk.ID, chunk.DocumentID, chunk.Index, chunk.Content,
			chunk.Title, chunk.Summary, chunk.Keywords, chunk.ChunkType, chunk.Embedding,
		)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", chunks[i].Index, err)
		}
	}

	s.logger.Debug("Upserted chunk vectors",
		slog.String("document_id", chunks[0].DocumentID),
		slog.Int("chunk_count", len(chunks)))
	return nil
}

// Query returns the top-k chunks by cosine similarity to the given
// vector, optionally filtered, with relevance score = 1 - distance.
func (s *VectorStore) Query(ctx context.Context, vector pgvector.Vector, k int, filter kb_type.SearchFilter) ([]kb_type.SearchResult, error) {
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, content, title, chunk_type, embedding <=> $1 AS distance
		FROM chunks
		WHERE embedding IS NOT NULL
		  AND ($2 = '' OR document_id = $2)
		  AND ($3 = '' OR chunk_type = $3)
		ORDER BY embedding <=> $1
		LIMIT $4`,
		vector, filter.DocumentID, filter.ChunkType, k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []kb_type.SearchResult
	for rows.Next() {
		var result kb_type.SearchResult
		var title, chunkType string
		if err := rows.Scan(&result.ChunkID, &result.DocumentID, &result.Content, &title, &chunkType, &result.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		result.Metadata = map[string]interface{}{
			"title":      title,
			"chunk_type": chunkType,
		}
		result.Score = relevanceScore(result.Distance)
		results = append(results, result)
	}
	return results, rows.Err()
}

// DeleteByDocument removes every chunk vector tagged with the document.
func (s *VectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", documentID, err)
	}

	s.logger.Debug("Deleted chunk vectors",
		slog.String("document_id", documentID),
		slog.Int64("deleted", tag.RowsAffected()))
	return nil
}

// CountByDocument reports remaining vectors for a document id.
func (s *VectorStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for document %s: %w", documentID, err)
	}
	return count, nil
}

// relevanceScore converts a distance from a metric normalized to [0,1]
// into a relevance score, clamped so the score also stays in [0,1].
func relevanceScore(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
