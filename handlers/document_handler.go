package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/serisow/docgraph/kb_type"
)

const maxUploadBytes = 64 << 20 // 64 MiB

type ingestor interface {
	ProcessDocument(ctx context.Context, documentID, filePath string, docType kb_type.DocumentType) (kb_type.IngestStats, error)
	DeleteDocumentArtifacts(ctx context.Context, documentID string) error
}

type searcher interface {
	Search(ctx context.Context, query string, k int, filter kb_type.SearchFilter) kb_type.SearchOutcome
}

type documentStore interface {
	Create(ctx context.Context, doc *kb_type.Document) error
	Get(ctx context.Context, documentID string) (*kb_type.Document, error)
}

type indexManager interface {
	EnsureIndex(ctx context.Context) error
}

type DocumentHandler struct {
	Orchestrator ingestor
	Search       searcher
	Documents    documentStore
	Index        indexManager
	UploadDir    string
	Logger       *slog.Logger
}

func NewDocumentHandler(orchestrator ingestor, search searcher, documents documentStore, index indexManager, uploadDir string, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		Orchestrator: orchestrator,
		Search:       search,
		Documents:    documents,
		Index:        index,
		UploadDir:    uploadDir,
		Logger:       logger,
	}
}

func (h *DocumentHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/documents", h.UploadDocument).Methods(http.MethodPost)
	r.HandleFunc("/documents/{id}", h.GetDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", h.DeleteDocument).Methods(http.MethodDelete)
	r.HandleFunc("/search", h.SearchChunks).Methods(http.MethodGet)
}

// UploadDocument accepts a multipart upload, stores the file, and runs
// the ingestion pipeline synchronously. The response carries the
// derived counts; a failed run reports the failing stage.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid multipart request: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	docType := kb_type.DocumentTypeBusiness
	if v := r.FormValue("document_type"); v != "" {
		docType = kb_type.DocumentType(v)
		if docType != kb_type.DocumentTypeBusiness && docType != kb_type.DocumentTypeDemoCode {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown document_type %q", v))
			return
		}
	}

	documentID := uuid.New().String()
	storedPath := filepath.Join(h.UploadDir, documentID+"_"+filepath.Base(header.Filename))
	dst, err := os.Create(storedPath)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to store upload: %v", err))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to store upload: %v", err))
		return
	}
	dst.Close()

	doc := &kb_type.Document{
		ID:           documentID,
		SourcePath:   storedPath,
		Filename:     header.Filename,
		DocumentType: docType,
	}
	if err := h.Documents.Create(r.Context(), doc); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create document: %v", err))
		return
	}

	stats, err := h.Orchestrator.ProcessDocument(r.Context(), documentID, storedPath, docType)
	if err != nil {
		h.Logger.Error("Document ingestion failed",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if h.Index != nil {
		// Index drift is tolerated; a rebuild failure never fails an
		// ingestion that already committed.
		if err := h.Index.EnsureIndex(r.Context()); err != nil {
			h.Logger.Warn("Vector index maintenance failed",
				slog.String("error", err.Error()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id":    documentID,
		"chunk_count":    stats.ChunkCount,
		"entity_count":   stats.EntityCount,
		"relation_count": stats.RelationCount,
	})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	doc, err := h.Documents.Get(r.Context(), documentID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load document: %v", err))
		return
	}
	if doc == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Document %s not found", documentID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// DeleteDocument removes the document row and every derived artifact
// across the vector index and the graph.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	doc, err := h.Documents.Get(r.Context(), documentID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load document: %v", err))
		return
	}
	if doc == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Document %s not found", documentID))
		return
	}

	if err := h.Orchestrator.DeleteDocumentArtifacts(r.Context(), documentID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete document: %v", err))
		return
	}

	if doc.SourcePath != "" && strings.HasPrefix(doc.SourcePath, h.UploadDir) {
		if err := os.Remove(doc.SourcePath); err != nil && !os.IsNotExist(err) {
			h.Logger.Warn("Failed to remove stored upload",
				slog.String("path", doc.SourcePath),
				slog.String("error", err.Error()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Document deleted"})
}

// SearchChunks serves GET /search?q=&k=&document_id=&chunk_type=. A
// degraded backend yields HTTP 200 with degraded=true, never an error
// status, so callers can distinguish "no match" from "unavailable".
func (h *DocumentHandler) SearchChunks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing query parameter q")
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid k parameter %q", raw))
			return
		}
		k = parsed
	}

	filter := kb_type.SearchFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		ChunkType:  r.URL.Query().Get("chunk_type"),
	}

	outcome := h.Search.Search(r.Context(), query, k, filter)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
