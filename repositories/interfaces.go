package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/decision-audit/backend/models"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction. The returned Transaction's Context
	// carries the transaction so repositories called with it join it.
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// DocumentRepository answers existence questions about ingested documents and chunks.
// Every lookup is scoped to one tenant.
type DocumentRepository interface {
	// ExistingDocIDs returns the subset of docIDs known to the tenant
	ExistingDocIDs(ctx context.Context, tenant string, docIDs []string) ([]string, error)

	// ChunkOwners returns the owning document of every known chunk in chunkIDs
	ChunkOwners(ctx context.Context, tenant string, chunkIDs []string) ([]models.ChunkOwner, error)
}

// DecisionRepository handles AI decision records and their context links
type DecisionRepository interface {
	// Upsert inserts or overwrites the decision keyed by (tenant, decision_id).
	// ID, CreatedAt and UpdatedAt are filled from the stored row.
	Upsert(ctx context.Context, decision *models.Decision) error

	// ReplaceContextDocs swaps the document links of a decision for docIDs
	ReplaceContextDocs(ctx context.Context, decisionRefID int64, tenant string, docIDs []string) error

	// ReplaceContextChunks swaps the chunk links of a decision for chunkIDs
	ReplaceContextChunks(ctx context.Context, decisionRefID int64, tenant string, chunkIDs []string) error

	// GetByDecisionID retrieves a decision with its linked ids, or ErrNotFound
	GetByDecisionID(ctx context.Context, tenant, decisionID string) (*models.Decision, error)

	// Query returns one page of decisions matching filter and the total match count
	Query(ctx context.Context, filter models.DecisionFilter) ([]*models.Decision, int, error)

	// GetContext retrieves document and chunk details linked to a decision
	GetContext(ctx context.Context, tenant string, decisionRefID int64) (*models.DecisionContext, error)
}

// ArtifactRepository handles the audit artifact catalog
type ArtifactRepository interface {
	// InsertBatch catalogs artifacts, leaving existing (tenant, type, uri) rows untouched
	InsertBatch(ctx context.Context, artifacts []*models.Artifact) error

	// GetByURI retrieves the live catalog row for a storage uri, or ErrNotFound
	GetByURI(ctx context.Context, tenant, gsURI string) (*models.Artifact, error)

	// ListRetentionCandidates returns live artifacts oldest first, each joined with its policy
	ListRetentionCandidates(ctx context.Context, filter CandidateFilter) ([]*models.RetentionCandidate, error)

	// MarkDeleted soft-deletes a live artifact and reports whether a row changed
	MarkDeleted(ctx context.Context, mark DeletionMark) (bool, error)
}

// CandidateFilter narrows a retention scan
type CandidateFilter struct {
	Tenant       string
	ArtifactType models.ArtifactType
	Limit        int
}

// DeletionMark records why and by whom an artifact was removed
type DeletionMark struct {
	ArtifactID     string
	Tenant         string
	ArtifactType   models.ArtifactType
	GSURI          string
	DeletedBy      string
	DeletionReason string
	DeleteJobID    string
	StorageDeleted bool
}

// RetentionPolicyRepository handles retention policy data operations
type RetentionPolicyRepository interface {
	// Upsert writes the policy keyed by (tenant, artifact_type) and returns the stored row
	Upsert(ctx context.Context, policy *models.RetentionPolicy) (*models.RetentionPolicy, error)

	// List retrieves policies, optionally for one tenant
	List(ctx context.Context, tenant string) ([]*models.RetentionPolicy, error)
}

// LegalHoldRepository handles legal hold data operations
type LegalHoldRepository interface {
	// Create inserts a new active hold and returns the stored row
	Create(ctx context.Context, hold *models.LegalHold) (*models.LegalHold, error)

	// Release sets released_at once; releasing twice keeps the first timestamp.
	// Returns ErrNotFound for unknown hold ids.
	Release(ctx context.Context, holdID string) (*models.LegalHold, error)

	// List retrieves holds newest first, optionally for one tenant and only active ones
	List(ctx context.Context, tenant string, activeOnly bool) ([]*models.LegalHold, error)
}

// ActivityLogRepository handles activity log data operations
type ActivityLogRepository interface {
	// Insert inserts a new activity log entry
	Insert(ctx context.Context, log *models.ActivityLog) error

	// GetByTenant retrieves activity logs for a tenant with pagination
	GetByTenant(ctx context.Context, tenant string, limit, offset int) ([]*models.ActivityLog, error)

	// GetByResource retrieves activity logs for one resource, newest first
	GetByResource(ctx context.Context, tenant, resourceType, resourceID string) ([]*models.ActivityLog, error)

	// GetByDateRange retrieves activity logs within a date range
	GetByDateRange(ctx context.Context, tenant string, start, end time.Time, limit, offset int) ([]*models.ActivityLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Documents         DocumentRepository
	Decisions         DecisionRepository
	Artifacts         ArtifactRepository
	RetentionPolicies RetentionPolicyRepository
	LegalHolds        LegalHoldRepository
	ActivityLogs      ActivityLogRepository
}
