package models

import (
	"strings"
	"time"
)

// RetentionPolicy sets how long artifacts of one type are kept for a tenant
type RetentionPolicy struct {
	Tenant            string       `json:"tenant" db:"tenant"`
	ArtifactType      ArtifactType `json:"artifact_type" db:"artifact_type"`
	RetainDays        int          `json:"retain_days" db:"retain_days"`
	LegalHoldEnabled  bool         `json:"legal_hold_enabled" db:"legal_hold_enabled"`
	ImmutableRequired bool         `json:"immutable_required" db:"immutable_required"`
	CreatedBy         string       `json:"created_by" db:"created_by"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the RetentionPolicy model
func (RetentionPolicy) TableName() string {
	return "retention_policies"
}

// ExpiresAt returns the instant an artifact created at createdAt leaves retention
func (p *RetentionPolicy) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, p.RetainDays)
}

// HoldScope is what a legal hold protects
type HoldScope string

const (
	HoldScopeTenant   HoldScope = "tenant"
	HoldScopeArtifact HoldScope = "artifact"
	HoldScopeDecision HoldScope = "decision"
	HoldScopeDocument HoldScope = "document"
	HoldScopeCase     HoldScope = "case"
)

// HoldScopeWildcard as a tenant-scope id covers every artifact of the tenant
const HoldScopeWildcard = "*"

// ParseHoldScope normalizes a raw scope type
func ParseHoldScope(raw string) HoldScope {
	return HoldScope(strings.ToLower(strings.TrimSpace(raw)))
}

// IsValid reports whether s is a known scope
func (s HoldScope) IsValid() bool {
	switch s {
	case HoldScopeTenant, HoldScopeArtifact, HoldScopeDecision, HoldScopeDocument, HoldScopeCase:
		return true
	}
	return false
}

// LegalHold blocks deletion of in-scope artifacts until released.
// Holds are never hard-deleted.
type LegalHold struct {
	HoldID       string     `json:"hold_id" db:"hold_id"`
	Tenant       string     `json:"tenant" db:"tenant"`
	ScopeType    HoldScope  `json:"scope_type" db:"scope_type"`
	ScopeID      string     `json:"scope_id" db:"scope_id"`
	Reason       string     `json:"reason" db:"reason"`
	CaseID       *string    `json:"case_id" db:"case_id"`
	RegulatorRef *string    `json:"regulator_ref" db:"regulator_ref"`
	CreatedBy    string     `json:"created_by" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	ReleasedAt   *time.Time `json:"released_at" db:"released_at"`
}

// TableName returns the table name for the LegalHold model
func (LegalHold) TableName() string {
	return "legal_holds"
}

// IsActive reports whether the hold has not been released
func (h *LegalHold) IsActive() bool {
	return h.ReleasedAt == nil
}

// RetentionAction is the outcome of evaluating one artifact
type RetentionAction string

const (
	RetentionSkipPolicyMissing RetentionAction = "SKIP_POLICY_MISSING"
	RetentionSkipNotExpired    RetentionAction = "SKIP_NOT_EXPIRED"
	RetentionSkipLegalHold     RetentionAction = "SKIP_LEGAL_HOLD"
	RetentionWouldDelete       RetentionAction = "WOULD_DELETE"
	RetentionDeleted           RetentionAction = "DELETED"
	RetentionDeleteFailed      RetentionAction = "DELETE_FAILED"
)

// RetentionCandidate is a live artifact joined with its tenant policy, if any
type RetentionCandidate struct {
	Artifact Artifact
	Policy   *RetentionPolicy
}

// RetentionItem is the per-artifact result of an enforcement run
type RetentionItem struct {
	ArtifactID   string          `json:"artifact_id"`
	Tenant       string          `json:"tenant"`
	ArtifactType ArtifactType    `json:"artifact_type"`
	GSURI        string          `json:"gs_uri"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	AgeDays      int             `json:"age_days"`
	Action       RetentionAction `json:"action"`
	Reason       string          `json:"reason"`
	HoldIDs      []string        `json:"hold_ids,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// RetentionReport aggregates an enforcement run. Scanned always equals the
// sum of the per-outcome counters.
type RetentionReport struct {
	TraceID              string          `json:"trace_id"`
	JobID                string          `json:"job_id"`
	DryRun               bool            `json:"dry_run"`
	Tenant               *string         `json:"tenant"`
	ArtifactType         *ArtifactType   `json:"artifact_type"`
	Scanned              int             `json:"scanned"`
	Eligible             int             `json:"eligible"`
	Deleted              int             `json:"deleted"`
	WouldDelete          int             `json:"would_delete"`
	SkippedNotExpired    int             `json:"skipped_not_expired"`
	SkippedOnHold        int             `json:"skipped_on_hold"`
	SkippedPolicyMissing int             `json:"skipped_policy_missing"`
	Failed               int             `json:"failed"`
	Items                []RetentionItem `json:"items"`
}

// Record appends an item and bumps the counter for its action
func (r *RetentionReport) Record(item RetentionItem) {
	r.Scanned++
	switch item.Action {
	case RetentionSkipPolicyMissing:
		r.SkippedPolicyMissing++
	case RetentionSkipNotExpired:
		r.SkippedNotExpired++
	case RetentionSkipLegalHold:
		r.Eligible++
		r.SkippedOnHold++
	case RetentionWouldDelete:
		r.Eligible++
		r.WouldDelete++
	case RetentionDeleted:
		r.Eligible++
		r.Deleted++
	case RetentionDeleteFailed:
		r.Eligible++
		r.Failed++
	}
	r.Items = append(r.Items, item)
}

// Reconciles reports whether the counters add up to Scanned
func (r *RetentionReport) Reconciles() bool {
	return r.Scanned == r.Deleted+r.WouldDelete+r.SkippedNotExpired+r.SkippedOnHold+r.SkippedPolicyMissing+r.Failed
}
