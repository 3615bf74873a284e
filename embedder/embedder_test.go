package embedder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/serisow/docgraph/kb_type"
	"github.com/serisow/docgraph/llm_service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeUpserter struct {
	calls  int
	chunks []kb_type.Chunk
	err    error
}

func (f *fakeUpserter) UpsertChunks(ctx context.Context, chunks []kb_type.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.calls++
	f.chunks = chunks
	return nil
}

func makeChunks(n int) []kb_type.Chunk {
	chunks := make([]kb_type.Chunk, n)
	for i := range chunks {
		chunks[i] = kb_type.Chunk{
			ID:         "chunk-" + string(rune('a'+i)),
			DocumentID: "doc-1",
			Index:      i,
			Title:      "Title",
			Summary:    "Summary",
			Content:    "Content",
		}
	}
	return chunks
}

func TestEmbedChunksSuccess(t *testing.T) {
	var captured []string
	emb := &llm_service.MockEmbeddingService{
		Dim: 4,
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			captured = texts
			vectors := make([][]float32, len(texts))
			for i := range texts {
				vectors[i] = []float32{1, 0, 0, 0}
			}
			return vectors, nil
		},
	}
	upserter := &fakeUpserter{}
	e := New(emb, upserter, testLogger())

	chunks := makeChunks(3)
	if err := e.EmbedChunks(context.Background(), "doc-1", chunks); err != nil {
		t.Fatalf("EmbedChunks returned error: %v", err)
	}

	if len(captured) != 3 {
		t.Fatalf("expected one batched request with 3 texts, got %d", len(captured))
	}
	if !strings.HasPrefix(captured[0], "Title\nSummary\n") {
		t.Errorf("composite text should lead with title and summary, got %q", captured[0])
	}
	if upserter.calls != 1 {
		t.Errorf("expected one upsert call, got %d", upserter.calls)
	}
	for i, chunk := range upserter.chunks {
		if chunk.Embedding == nil {
			t.Errorf("chunk %d persisted without embedding", i)
		}
	}
}

func TestEmbedChunksCountMismatchIsFatal(t *testing.T) {
	emb := &llm_service.MockEmbeddingService{
		Dim: 4,
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			// Backend returns 2 vectors for a 3-chunk request.
			return [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}, nil
		},
	}
	upserter := &fakeUpserter{}
	e := New(emb, upserter, testLogger())

	err := e.EmbedChunks(context.Background(), "doc-1", makeChunks(3))
	var mismatch *CountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected CountMismatchError, got %v", err)
	}
	if mismatch.Requested != 3 || mismatch.Received != 2 {
		t.Errorf("mismatch = %+v, want requested 3, received 2", mismatch)
	}
	if upserter.calls != 0 {
		t.Error("no vectors may be persisted when the batch fails")
	}
}

func TestEmbedChunksBackendErrorIsFatal(t *testing.T) {
	emb := &llm_service.MockEmbeddingService{
		Dim: 4,
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("backend unavailable")
		},
	}
	upserter := &fakeUpserter{}
	e := New(emb, upserter, testLogger())

	if err := e.EmbedChunks(context.Background(), "doc-1", makeChunks(2)); err == nil {
		t.Fatal("expected backend error to surface")
	}
	if upserter.calls != 0 {
		t.Error("no vectors may be persisted when the backend call fails")
	}
}

func TestEmbedChunksDimensionMismatchIsFatal(t *testing.T) {
	emb := &llm_service.MockEmbeddingService{
		Dim: 4,
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 0}}, nil
		},
	}
	upserter := &fakeUpserter{}
	e := New(emb, upserter, testLogger())

	if err := e.EmbedChunks(context.Background(), "doc-1", makeChunks(1)); err == nil {
		t.Fatal("expected dimension mismatch to surface")
	}
	if upserter.calls != 0 {
		t.Error("no vectors may be persisted on dimension mismatch")
	}
}

func TestEmbedChunksEmptyInputIsNoop(t *testing.T) {
	upserter := &fakeUpserter{}
	e := New(&llm_service.MockEmbeddingService{Dim: 4}, upserter, testLogger())

	if err := e.EmbedChunks(context.Background(), "doc-1", nil); err != nil {
		t.Fatalf("EmbedChunks returned error: %v", err)
	}
	if upserter.calls != 0 {
		t.Error("empty chunk set should not touch the store")
	}
}
