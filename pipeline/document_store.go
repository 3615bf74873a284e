package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serisow/docgraph/kb_type"
)

// PgDocumentStore is the system-of-record for document rows. Status
// transitions are guarded in SQL so they stay monotonic within a run:
// pending -> processing -> completed or failed.
type PgDocumentStore struct {
	db *pgxpool.Pool
}

func NewPgDocumentStore(db *pgxpool.Pool) *PgDocumentStore {
	return &PgDocumentStore{db: db}
}

func (s *PgDocumentStore) Create(ctx context.Context, doc *kb_type.Document) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO documents (id, source_path, filename, document_type, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING created_at, updated_at`,
		doc.ID, doc.SourcePath, doc.Filename, doc.DocumentType,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	doc.Status = kb_type.StatusPending
	return nil
}

func (s *PgDocumentStore) Get(ctx context.Context, documentID string) (*kb_type.Document, error) {
	var doc kb_type.Document
	err := s.db.QueryRow(ctx, `
		SELECT id, source_path, filename, document_type, status,
		       chunk_count, entity_count, relation_count, error_message,
		       created_at, updated_at
		FROM documents WHERE id = $1`,
		documentID,
	).Scan(
		&doc.ID, &doc.SourcePath, &doc.Filename, &doc.DocumentType, &doc.Status,
		&doc.ChunkCount, &doc.EntityCount, &doc.RelationCount, &doc.ErrorMessage,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// SetProcessing claims the document for a run. A document already in
// processing is not claimable; concurrent same-id runs must be
// serialized by the caller.
func (s *PgDocumentStore) SetProcessing(ctx context.Context, documentID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = 'processing', error_message = '', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'completed', 'failed')`,
		documentID,
	)
	if err != nil {
		return fmt.Errorf("failed to set document processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found or already processing", documentID)
	}
	return nil
}

// CommitStats records the derived counts and completes the run. Only a
// processing document can complete.
func (s *PgDocumentStore) CommitStats(ctx context.Context, documentID string, stats kb_type.IngestStats) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = 'completed',
		    chunk_count = $2, entity_count = $3, relation_count = $4,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		documentID, stats.ChunkCount, stats.EntityCount, stats.RelationCount,
	)
	if err != nil {
		return fmt.Errorf("failed to commit document stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s is not in processing status", documentID)
	}
	return nil
}

// MarkFailed ends the run in failed status. The document keeps its
// pre-existing metadata but contributes no derived data.
func (s *PgDocumentStore) MarkFailed(ctx context.Context, documentID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		documentID, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s is not in processing status", documentID)
	}
	return nil
}

func (s *PgDocumentStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document row: %w", err)
	}
	return nil
}
