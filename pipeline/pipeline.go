package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/serisow/docgraph/kb_type"
)

type Stage string

const (
	StageCleanup Stage = "cleanup"
	StageParse   Stage = "parse"
	StageChunk   Stage = "chunk"
	StageExtract Stage = "extract"
	StageEmbed   Stage = "embed"
)

// StageError carries the failing stage and the document so callers can
// tell where a run died without parsing error strings.
type StageError struct {
	DocumentID string
	Stage      Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("document %s failed at %s stage: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Parser interface {
	Parse(path string) (string, error)
}

type Chunker interface {
	ChunkDocument(ctx context.Context, documentID, text string, docType kb_type.DocumentType, assisted bool) []kb_type.Chunk
}

type Extractor interface {
	Extract(ctx context.Context, chunks []kb_type.Chunk, documentID string, docType kb_type.DocumentType) ([]kb_type.Entity, []kb_type.Relation, error)
}

type GraphWriter interface {
	Materialize(ctx context.Context, documentID string, entities []kb_type.Entity, relations []kb_type.Relation) (int, int, error)
}

type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, documentID string, chunks []kb_type.Chunk) error
}

type VectorDeleter interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

type GraphDeleter interface {
	DeleteDocumentGraph(ctx context.Context, documentID string) error
}

type DocumentStore interface {
	SetProcessing(ctx context.Context, documentID string) error
	CommitStats(ctx context.Context, documentID string, stats kb_type.IngestStats) error
	MarkFailed(ctx context.Context, documentID, reason string) error
	Delete(ctx context.Context, documentID string) error
}

// Orchestrator drives one document through the fixed stage order:
// parse, chunk, extract with graph writes, embed with vector writes.
// It owns the document's status transitions and the pre-run cleanup
// that makes reprocessing idempotent.
//
// Two concurrent runs for the same document id are undefined behavior;
// the caller must serialize per document (queue or lock). Distinct
// documents may run concurrently, sharing only the backend adapters.
type Orchestrator struct {
	parser      Parser
	chunker     Chunker
	extractor   Extractor
	graphWriter GraphWriter
	embedder    ChunkEmbedder
	vectors     VectorDeleter
	graph       GraphDeleter
	documents   DocumentStore

	assistedSegmentation bool
	logger               *slog.Logger
}

func NewOrchestrator(
	parser Parser,
	chunker Chunker,
	extractor Extractor,
	graphWriter GraphWriter,
	embedder ChunkEmbedder,
	vectors VectorDeleter,
	graph GraphDeleter,
	documents DocumentStore,
	assistedSegmentation bool,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		parser:               parser,
		chunker:              chunker,
		extractor:            extractor,
		graphWriter:          graphWriter,
		embedder:             embedder,
		vectors:              vectors,
		graph:                graph,
		documents:            documents,
		assistedSegmentation: assistedSegmentation,
		logger:               logger,
	}
}

// ProcessDocument runs the full ingestion pipeline for one document and
// returns the derived counts. On a stage-fatal error the document is
// marked failed; artifacts already written by earlier stores are not
// rolled back (the vector and graph stores are independent systems).
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID, filePath string, docType kb_type.DocumentType) (kb_type.IngestStats, error) {
	if err := o.documents.SetProcessing(ctx, documentID); err != nil {
		return kb_type.IngestStats{}, fmt.Errorf("failed to mark document %s processing: %w", documentID, err)
	}

	o.logger.Info("Processing document",
		slog.String("document_id", documentID),
		slog.String("path", filePath),
		slog.String("document_type", string(docType)))

	// Remove prior derived artifacts so replaying identical input
	// yields identical final counts.
	if err := o.deleteDerivedArtifacts(ctx, documentID); err != nil {
		return o.fail(ctx, documentID, StageCleanup, err)
	}

	text, err := o.parser.Parse(filePath)
	if err != nil {
		return o.fail(ctx, documentID, StageParse, err)
	}

	chunks := o.chunker.ChunkDocument(ctx, documentID, text, docType, o.assistedSegmentation)
	if len(chunks) == 0 {
		return o.fail(ctx, documentID, StageChunk, fmt.Errorf("no chunks produced"))
	}

	entities, relations, err := o.extractor.Extract(ctx, chunks, documentID, docType)
	if err != nil {
		return o.fail(ctx, documentID, StageExtract, err)
	}

	entityCount, relationCount, err := o.graphWriter.Materialize(ctx, documentID, entities, relations)
	if err != nil {
		return o.fail(ctx, documentID, StageExtract, err)
	}

	if err := o.embedder.EmbedChunks(ctx, documentID, chunks); err != nil {
		return o.fail(ctx, documentID, StageEmbed, err)
	}

	stats := kb_type.IngestStats{
		ChunkCount:    len(chunks),
		EntityCount:   entityCount,
		RelationCount: relationCount,
	}

	if err := o.documents.CommitStats(ctx, documentID, stats); err != nil {
		return kb_type.IngestStats{}, fmt.Errorf("failed to commit stats for document %s: %w", documentID, err)
	}

	o.logger.Info("Document processed",
		slog.String("document_id", documentID),
		slog.Int("chunk_count", stats.ChunkCount),
		slog.Int("entity_count", stats.EntityCount),
		slog.Int("relation_count", stats.RelationCount))

	return stats, nil
}

// DeleteDocumentArtifacts removes every derived artifact and the
// document row itself. No orphans may remain afterwards.
func (o *Orchestrator) DeleteDocumentArtifacts(ctx context.Context, documentID string) error {
	if err := o.deleteDerivedArtifacts(ctx, documentID); err != nil {
		return err
	}
	if err := o.documents.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}

	o.logger.Info("Deleted document and artifacts",
		slog.String("document_id", documentID))
	return nil
}

func (o *Orchestrator) deleteDerivedArtifacts(ctx context.Context, documentID string) error {
	if err := o.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete vectors for document %s: %w", documentID, err)
	}
	if err := o.graph.DeleteDocumentGraph(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete graph for document %s: %w", documentID, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, documentID string, stage Stage, cause error) (kb_type.IngestStats, error) {
	stageErr := &StageError{DocumentID: documentID, Stage: stage, Err: cause}

	o.logger.Error("Document processing failed",
		slog.String("document_id", documentID),
		slog.String("stage", string(stage)),
		slog.String("error", cause.Error()))

	if err := o.documents.MarkFailed(ctx, documentID, stageErr.Error()); err != nil {
		o.logger.Error("Failed to mark document failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}

	return kb_type.IngestStats{}, stageErr
}
