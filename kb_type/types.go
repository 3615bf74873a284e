package kb_type

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

type DocumentType string

const (
	DocumentTypeBusiness DocumentType = "business"
	DocumentTypeDemoCode DocumentType = "demo_code"
)

// Document is the system-of-record row for an uploaded file. Only the
// pipeline orchestrator mutates status and the derived counts.
type Document struct {
	ID            string
	SourcePath    string
	Filename      string
	DocumentType  DocumentType
	Status        DocumentStatus
	ChunkCount    int
	EntityCount   int
	RelationCount int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is the unit of embedding and retrieval. Indices are contiguous
// and unique within a document; a chunk is immutable once produced.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Title      string
	Summary    string
	Keywords   []string
	ChunkType  string
	Embedding  *pgvector.Vector
}

// Entity is identified by its normalized (type, name) pair. Re-extraction
// merges into the same key instead of duplicating.
type Entity struct {
	Type       string
	Name       string
	Confidence float64
	ChunkIDs   []string
}

func (e Entity) Key() string {
	return EntityKey(e.Type, e.Name)
}

// EntityKey normalizes identity to lowercase trimmed (type, name).
func EntityKey(entityType, name string) string {
	return strings.ToLower(strings.TrimSpace(entityType)) + "|" + strings.ToLower(strings.TrimSpace(name))
}

// Relation is a typed directed edge between two entity keys.
type Relation struct {
	SourceKey  string
	TargetKey  string
	Type       string
	Confidence float64
	Properties map[string]interface{}
}

// IngestStats is what a completed pipeline run reports back to the caller.
type IngestStats struct {
	ChunkCount    int `json:"chunk_count"`
	EntityCount   int `json:"entity_count"`
	RelationCount int `json:"relation_count"`
}

// SearchFilter narrows a vector query. Zero values mean no filtering.
type SearchFilter struct {
	DocumentID string
	ChunkType  string
}

type SearchResult struct {
	ChunkID    string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	Distance   float64                `json:"distance"`
	Score      float64                `json:"score"`
}

// SearchOutcome distinguishes "no matches" from "backend unavailable":
// a degraded outcome carries an empty result list plus the reason, and
// is never surfaced to callers as an error.
type SearchOutcome struct {
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
	Reason   string         `json:"reason,omitempty"`
}

type GraphNode struct {
	ID         int64                  `json:"id"`
	EntityType string                 `json:"entity_type"`
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties"`
}

type GraphEdge struct {
	SourceID   int64                  `json:"source_id"`
	TargetID   int64                  `json:"target_id"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

type GraphNeighborhood struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
