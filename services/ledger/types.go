package ledger

import (
	"time"

	"github.com/upb/decision-audit/backend/models"
)

// Query bounds
const (
	DefaultLimit    = 50
	MaxLimit        = 500
	MaxAdminTenants = 100
)

// IngestRequest records one decision and the context it was made on
type IngestRequest struct {
	DecisionID    string                 `json:"decision_id" validate:"required,max=256"`
	Tenant        string                 `json:"tenant" validate:"omitempty,max=128"`
	Model         string                 `json:"model" validate:"required,max=256"`
	ModelVersion  *string                `json:"model_version,omitempty" validate:"omitempty,max=128"`
	Input         string                 `json:"input" validate:"required"`
	Output        string                 `json:"output" validate:"required"`
	Confidence    *float64               `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	ContextDocs   []string               `json:"context_docs" validate:"required,min=1"`
	ContextChunks []string               `json:"context_chunks,omitempty"`
	TraceID       string                 `json:"trace_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// Actor is the authenticated subject, set by the caller
	Actor string `json:"-"`
}

// IngestResult is returned after a decision is stored
type IngestResult struct {
	DecisionID         string                `json:"decision_id"`
	Tenant             string                `json:"tenant"`
	TraceID            string                `json:"trace_id"`
	Status             models.DecisionStatus `json:"status"`
	ContextDocsCount   int                   `json:"context_docs_count"`
	ContextChunksCount int                   `json:"context_chunks_count"`
	Overwritten        bool                  `json:"overwritten"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// Filters select decisions. They are embedded by query, export and bundle
// requests and echoed back in exports.
type Filters struct {
	Tenant           string                `json:"tenant,omitempty" validate:"omitempty,max=128"`
	DecisionIDPrefix string                `json:"decision_id_prefix,omitempty"`
	DecisionIDs      []string              `json:"decision_ids,omitempty" validate:"omitempty,max=500"`
	Model            string                `json:"model,omitempty"`
	ModelVersion     string                `json:"model_version,omitempty"`
	Outputs          []string              `json:"outputs,omitempty" validate:"omitempty,max=100"`
	DecisionTraceID  string                `json:"decision_trace_id,omitempty"`
	Query            string                `json:"query,omitempty" validate:"omitempty,max=1000"`
	MinConfidence    *float64              `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxConfidence    *float64              `json:"max_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	ConfidenceBand   models.ConfidenceBand `json:"confidence_band,omitempty"`
	CreatedFrom      *time.Time            `json:"created_from,omitempty"`
	CreatedTo        *time.Time            `json:"created_to,omitempty"`
	ContextDocs      []string              `json:"context_docs,omitempty" validate:"omitempty,max=100"`
	ContextChunks    []string              `json:"context_chunks,omitempty" validate:"omitempty,max=100"`
	Limit            int                   `json:"limit,omitempty" validate:"omitempty,gte=1,lte=500"`
	Offset           int                   `json:"offset,omitempty" validate:"omitempty,gte=0"`
	Order            models.SortOrder      `json:"order,omitempty"`
}

// QueryRequest is a single-tenant query
type QueryRequest struct {
	Filters
	TraceID string `json:"trace_id,omitempty"`
}

// AdminQueryRequest queries several tenants at once
type AdminQueryRequest struct {
	Filters
	Tenants []string `json:"tenants" validate:"required,min=1,max=100"`
	TraceID string   `json:"trace_id,omitempty"`
}

// QueryResult is one page of decisions
type QueryResult struct {
	TraceID   string             `json:"trace_id"`
	Tenants   []string           `json:"tenants,omitempty"`
	Decisions []*models.Decision `json:"decisions"`
	Total     int                `json:"total"`
	Offset    int                `json:"offset"`
	Limit     int                `json:"limit"`
	Returned  int                `json:"returned"`
}

// DecisionDetail is a decision with the documents and chunks it references
type DecisionDetail struct {
	Decision *models.Decision        `json:"decision"`
	Context  *models.DecisionContext `json:"context"`
}

// PushEnvelope is the body of a push-subscription delivery
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription,omitempty"`
}

// PushMessage carries base64 JSON of an IngestRequest in Data
type PushMessage struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}
