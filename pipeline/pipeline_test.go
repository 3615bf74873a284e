package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serisow/docgraph/chunker"
	"github.com/serisow/docgraph/embedder"
	"github.com/serisow/docgraph/extractor"
	"github.com/serisow/docgraph/kb_type"
	"github.com/serisow/docgraph/llm_service"
	"github.com/serisow/docgraph/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDocumentStore struct {
	status  kb_type.DocumentStatus
	history []kb_type.DocumentStatus
	stats   kb_type.IngestStats
	deleted bool
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{status: kb_type.StatusPending}
}

func (s *fakeDocumentStore) SetProcessing(ctx context.Context, documentID string) error {
	switch s.status {
	case kb_type.StatusPending, kb_type.StatusCompleted, kb_type.StatusFailed:
		s.status = kb_type.StatusProcessing
		s.history = append(s.history, s.status)
		return nil
	}
	return fmt.Errorf("document %s not found or already processing", documentID)
}

func (s *fakeDocumentStore) CommitStats(ctx context.Context, documentID string, stats kb_type.IngestStats) error {
	if s.status != kb_type.StatusProcessing {
		return fmt.Errorf("document %s is not in processing status", documentID)
	}
	s.status = kb_type.StatusCompleted
	s.history = append(s.history, s.status)
	s.stats = stats
	return nil
}

func (s *fakeDocumentStore) MarkFailed(ctx context.Context, documentID, reason string) error {
	if s.status != kb_type.StatusProcessing {
		return fmt.Errorf("document %s is not in processing status", documentID)
	}
	s.status = kb_type.StatusFailed
	s.history = append(s.history, s.status)
	return nil
}

func (s *fakeDocumentStore) Delete(ctx context.Context, documentID string) error {
	s.deleted = true
	return nil
}

type fakeVectorStore struct {
	vectors     map[string]int // document id -> persisted vector count
	deleteCalls int
	upsertErr   error
	deleteErr   error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{vectors: map[string]int{}}
}

func (s *fakeVectorStore) UpsertChunks(ctx context.Context, chunks []kb_type.Chunk) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, chunk := range chunks {
		s.vectors[chunk.DocumentID]++
	}
	return nil
}

func (s *fakeVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleteCalls++
	delete(s.vectors, documentID)
	return nil
}

type fakeGraph struct {
	nodes       map[string]int64
	edges       map[string]struct{}
	nextID      int64
	deleteCalls int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{nodes: map[string]int64{}, edges: map[string]struct{}{}}
}

func (g *fakeGraph) UpsertEntityNode(ctx context.Context, documentID, entityType, name string, properties map[string]interface{}) (int64, error) {
	key := kb_type.EntityKey(entityType, name)
	if id, ok := g.nodes[key]; ok {
		return id, nil
	}
	g.nextID++
	g.nodes[key] = g.nextID
	return g.nextID, nil
}

func (g *fakeGraph) UpsertRelation(ctx context.Context, documentID string, sourceID, targetID int64, relationType string, properties map[string]interface{}) error {
	g.edges[fmt.Sprintf("%d-%s->%d", sourceID, relationType, targetID)] = struct{}{}
	return nil
}

func (g *fakeGraph) DeleteDocumentGraph(ctx context.Context, documentID string) error {
	g.deleteCalls++
	g.nodes = map[string]int64{}
	g.edges = map[string]struct{}{}
	return nil
}

type testHarness struct {
	orchestrator *Orchestrator
	documents    *fakeDocumentStore
	vectors      *fakeVectorStore
	graph        *fakeGraph
}

func newHarness(t *testing.T, llmResponse string, llmErr error, embedService llm_service.EmbeddingService, minSize, maxSize int) *testHarness {
	t.Helper()

	logger := testLogger()
	mockLLM := &llm_service.MockLLMService{
		CallLLMFunc: func(ctx context.Context, config map[string]interface{}, prompt string) (string, error) {
			return llmResponse, llmErr
		},
	}

	documents := newFakeDocumentStore()
	vectors := newFakeVectorStore()
	graph := newFakeGraph()

	orchestrator := NewOrchestrator(
		parser.NewDocumentParser(logger),
		chunker.New(minSize, maxSize, maxSize/8, mockLLM, nil, logger),
		extractor.New(mockLLM, nil, 5, 2, 0.5, logger),
		extractor.NewGraphWriter(graph, logger),
		embedder.New(embedService, vectors, logger),
		vectors,
		graph,
		documents,
		false,
		logger,
	)

	return &testHarness{orchestrator: orchestrator, documents: documents, vectors: vectors, graph: graph}
}

func writeTempDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessDocumentScenarioA(t *testing.T) {
	// Assisted segmentation disabled, extraction yields nothing: the
	// run still completes through the fallback splitter.
	h := newHarness(t, "", nil, &llm_service.MockEmbeddingService{Dim: 8}, 200, 1200)
	path := writeTempDoc(t, "Flask is a Python web framework. It depends on Werkzeug.")

	stats, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness)
	if err != nil {
		t.Fatalf("ProcessDocument returned error: %v", err)
	}

	if stats.ChunkCount < 1 {
		t.Errorf("expected at least one chunk, got %d", stats.ChunkCount)
	}
	if stats.EntityCount != 0 || stats.RelationCount != 0 {
		t.Errorf("expected empty extraction, got %d entities, %d relations", stats.EntityCount, stats.RelationCount)
	}
	if h.documents.status != kb_type.StatusCompleted {
		t.Errorf("expected completed status, got %s", h.documents.status)
	}
	if h.vectors.vectors["doc-1"] != stats.ChunkCount {
		t.Errorf("persisted %d vectors, want %d", h.vectors.vectors["doc-1"], stats.ChunkCount)
	}
}

func TestProcessDocumentScenarioB(t *testing.T) {
	// Backend returns 2 vectors regardless of request size: the
	// embedding stage must fail and persist nothing.
	embedService := &llm_service.MockEmbeddingService{
		Dim: 8,
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{make([]float32, 8), make([]float32, 8)}, nil
		},
	}
	h := newHarness(t, "", nil, embedService, 20, 80)
	path := writeTempDoc(t, strings.Repeat("alpha beta gamma delta epsilon zeta eta theta ", 20))

	_, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness)

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != StageEmbed {
		t.Errorf("expected embed stage failure, got %s", stageErr.Stage)
	}
	var mismatch *embedder.CountMismatchError
	if !errors.As(err, &mismatch) {
		t.Errorf("expected CountMismatchError cause, got %v", stageErr.Err)
	}
	if h.documents.status != kb_type.StatusFailed {
		t.Errorf("expected failed status, got %s", h.documents.status)
	}
	if h.vectors.vectors["doc-1"] != 0 {
		t.Errorf("no vectors may be persisted for a failed embedding stage, got %d", h.vectors.vectors["doc-1"])
	}
}

func TestProcessDocumentIdempotentReplay(t *testing.T) {
	response := `{
		"entities": [
			{"type": "framework", "name": "Flask", "confidence": 0.9},
			{"type": "library", "name": "Werkzeug", "confidence": 0.8}
		],
		"relations": [
			{"source_type": "framework", "source_name": "Flask", "target_type": "library", "target_name": "Werkzeug", "type": "depends_on", "confidence": 0.9}
		]
	}`
	h := newHarness(t, response, nil, &llm_service.MockEmbeddingService{Dim: 8}, 200, 1200)
	path := writeTempDoc(t, "Flask is a Python web framework. It depends on Werkzeug.")

	first, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first != second {
		t.Errorf("replay produced different stats: %+v vs %+v", first, second)
	}
	if first.ChunkCount != 1 || first.EntityCount != 2 || first.RelationCount != 1 {
		t.Errorf("unexpected stats: %+v", first)
	}
	if h.vectors.deleteCalls != 2 || h.graph.deleteCalls != 2 {
		t.Errorf("each run must delete prior artifacts first (vector deletes %d, graph deletes %d)",
			h.vectors.deleteCalls, h.graph.deleteCalls)
	}
	if len(h.graph.nodes) != 2 || len(h.graph.edges) != 1 {
		t.Errorf("replay must not duplicate graph data: %d nodes, %d edges", len(h.graph.nodes), len(h.graph.edges))
	}
	if h.vectors.vectors["doc-1"] != first.ChunkCount {
		t.Errorf("replay must not duplicate vectors, got %d", h.vectors.vectors["doc-1"])
	}
}

func TestProcessDocumentParseFailure(t *testing.T) {
	h := newHarness(t, "", nil, &llm_service.MockEmbeddingService{Dim: 8}, 200, 1200)

	_, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", filepath.Join(t.TempDir(), "missing.txt"), kb_type.DocumentTypeBusiness)

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != StageParse {
		t.Errorf("expected parse stage failure, got %s", stageErr.Stage)
	}
	if stageErr.DocumentID != "doc-1" {
		t.Errorf("stage error must carry the document id, got %q", stageErr.DocumentID)
	}
	if h.documents.status != kb_type.StatusFailed {
		t.Errorf("expected failed status, got %s", h.documents.status)
	}
}

func TestProcessDocumentVectorStoreFailureIsFatal(t *testing.T) {
	h := newHarness(t, "", nil, &llm_service.MockEmbeddingService{Dim: 8}, 200, 1200)
	h.vectors.upsertErr = errors.New("vector store unavailable")
	path := writeTempDoc(t, "Flask is a Python web framework. It depends on Werkzeug.")

	_, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness)

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != StageEmbed {
		t.Errorf("expected embed stage failure, got %s", stageErr.Stage)
	}
}

func TestProcessDocumentRefusesUnclaimableDocument(t *testing.T) {
	h := newHarness(t, "", nil, &llm_service.MockEmbeddingService{Dim: 8}, 200, 1200)
	h.documents.status = kb_type.StatusProcessing
	path := writeTempDoc(t, "content")

	_, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness)
	if err == nil {
		t.Fatal("expected claim failure for a document already processing")
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		t.Errorf("claim failure is not a stage error: %v", err)
	}
}

func TestDeleteDocumentArtifacts(t *testing.T) {
	h := newHarness(t, "", nil, &llm_service.MockEmbeddingService{Dim: 8}, 200, 1200)
	path := writeTempDoc(t, "Flask is a Python web framework. It depends on Werkzeug.")

	if _, err := h.orchestrator.ProcessDocument(context.Background(), "doc-1", path, kb_type.DocumentTypeBusiness); err != nil {
		t.Fatalf("ProcessDocument returned error: %v", err)
	}

	if err := h.orchestrator.DeleteDocumentArtifacts(context.Background(), "doc-1"); err != nil {
		t.Fatalf("DeleteDocumentArtifacts returned error: %v", err)
	}

	if h.vectors.vectors["doc-1"] != 0 {
		t.Error("vectors must be gone after deletion")
	}
	if len(h.graph.nodes) != 0 {
		t.Error("graph nodes must be gone after deletion")
	}
	if !h.documents.deleted {
		t.Error("document row must be deleted")
	}
}

func TestStageErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &StageError{DocumentID: "doc-1", Stage: StageExtract, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("StageError must unwrap to its cause")
	}
	expected := "document doc-1 failed at extract stage: boom"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}
