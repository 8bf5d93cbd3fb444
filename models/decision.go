package models

import (
	"strings"
	"time"
)

// DecisionStatus is reported back to callers after an ingest
type DecisionStatus string

const (
	DecisionStatusRecorded DecisionStatus = "RECORDED"
)

// ConfidenceBand names a fixed confidence range used by queries
type ConfidenceBand string

const (
	ConfidenceBandLow    ConfidenceBand = "low"    // [0, 0.40)
	ConfidenceBandMedium ConfidenceBand = "medium" // [0.40, 0.70)
	ConfidenceBandHigh   ConfidenceBand = "high"   // [0.70, 1]
)

// Band boundaries
const (
	ConfidenceMediumFloor = 0.40
	ConfidenceHighFloor   = 0.70
)

// IsValid reports whether the band is one of the known values
func (b ConfidenceBand) IsValid() bool {
	switch b {
	case ConfidenceBandLow, ConfidenceBandMedium, ConfidenceBandHigh:
		return true
	}
	return false
}

// SortOrder is the creation-time ordering of query results
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// Decision is an AI decision record together with the context it was made on.
// (Tenant, DecisionID) is the natural key.
type Decision struct {
	ID            int64                  `json:"-" db:"id"`
	DecisionID    string                 `json:"decision_id" db:"decision_id"`
	Tenant        string                 `json:"tenant" db:"tenant"`
	Model         string                 `json:"model" db:"model"`
	ModelVersion  *string                `json:"model_version" db:"model_version"`
	Input         string                 `json:"input" db:"input_text"`
	Output        string                 `json:"output" db:"output_text"`
	Confidence    *float64               `json:"confidence" db:"confidence"`
	TraceID       string                 `json:"trace_id" db:"trace_id"`
	Metadata      map[string]interface{} `json:"metadata" db:"metadata"`
	ContextDocs   []string               `json:"context_docs"`
	ContextChunks []string               `json:"context_chunks"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Decision model
func (Decision) TableName() string {
	return "ai_decisions"
}

// ContextDocument describes a document referenced by a decision
type ContextDocument struct {
	DocID     string    `json:"doc_id" db:"doc_id"`
	SourceURI string    `json:"source_uri" db:"source_uri"`
	MimeType  *string   `json:"mime_type" db:"mime_type"`
	SizeBytes *int64    `json:"size_bytes" db:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ContextChunk describes a chunk referenced by a decision. Preview holds the
// first 280 characters of the chunk text.
type ContextChunk struct {
	ChunkID    string `json:"chunk_id" db:"chunk_id"`
	DocID      string `json:"doc_id" db:"doc_id"`
	ChunkIndex int    `json:"chunk_index" db:"chunk_index"`
	TokenCount *int   `json:"token_count" db:"token_count"`
	Preview    string `json:"preview" db:"preview"`
}

// DecisionContext bundles the documents and chunks linked to one decision
type DecisionContext struct {
	Documents []ContextDocument `json:"context_documents"`
	Chunks    []ContextChunk    `json:"context_chunks"`
}

// DecisionFilter selects decisions. Tenants is always set by the caller; a
// single-tenant query carries one entry.
type DecisionFilter struct {
	Tenants          []string
	DecisionIDPrefix string
	DecisionIDs      []string
	Model            string
	ModelVersion     string
	Outputs          []string
	DecisionTraceID  string
	Query            string
	MinConfidence    *float64
	MaxConfidence    *float64
	ConfidenceBand   ConfidenceBand
	CreatedFrom      *time.Time
	CreatedTo        *time.Time
	ContextDocs      []string
	ContextChunks    []string
	Limit            int
	Offset           int
	Order            SortOrder
}

// ChunkOwner maps a chunk to the document it belongs to
type ChunkOwner struct {
	ChunkID string
	DocID   string
}

// UniqueStrings trims every value and drops blanks and repeats, keeping the
// first occurrence order.
func UniqueStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
