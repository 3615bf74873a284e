package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/serisow/docgraph/graph_store"
	"github.com/serisow/docgraph/kb_type"
)

type graphReader interface {
	Neighbors(ctx context.Context, nodeID int64, depth int) (*kb_type.GraphNeighborhood, error)
	SearchEntities(ctx context.Context, entityType, namePattern string, limit int) ([]kb_type.GraphNode, error)
	SearchEntitiesByDocument(ctx context.Context, documentID string, limit int) ([]kb_type.GraphNode, error)
}

type GraphHandler struct {
	Graph  graphReader
	Logger *slog.Logger
}

func NewGraphHandler(graph graphReader, logger *slog.Logger) *GraphHandler {
	return &GraphHandler{Graph: graph, Logger: logger}
}

func (h *GraphHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/graph/entities", h.SearchEntities).Methods(http.MethodGet)
	r.HandleFunc("/graph/entities/{id}/neighbors", h.Neighbors).Methods(http.MethodGet)
}

// SearchEntities serves GET /graph/entities?type=&name=&document_id=&limit=.
func (h *GraphHandler) SearchEntities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit parameter %q", raw))
			return
		}
		limit = parsed
	}

	var (
		nodes []kb_type.GraphNode
		err   error
	)
	if documentID := query.Get("document_id"); documentID != "" {
		nodes, err = h.Graph.SearchEntitiesByDocument(r.Context(), documentID, limit)
	} else {
		nodes, err = h.Graph.SearchEntities(r.Context(), query.Get("type"), query.Get("name"), limit)
	}
	if err != nil {
		h.Logger.Error("Entity search failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "Entity search failed")
		return
	}

	if nodes == nil {
		nodes = []kb_type.GraphNode{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"entities": nodes})
}

// Neighbors serves GET /graph/entities/{id}/neighbors?depth=. The
// response is capped by the store regardless of graph density.
func (h *GraphHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid node id %q", mux.Vars(r)["id"]))
		return
	}

	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > graph_store.MaxTraversalDepth {
			writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid depth parameter %q: must be between 1 and %d", raw, graph_store.MaxTraversalDepth))
			return
		}
		depth = parsed
	}

	neighborhood, err := h.Graph.Neighbors(r.Context(), nodeID, depth)
	if err != nil {
		h.Logger.Error("Neighborhood query failed",
			slog.Int64("node_id", nodeID),
			slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "Neighborhood query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(neighborhood)
}
