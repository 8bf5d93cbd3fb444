package retention

import (
	"github.com/upb/decision-audit/backend/models"
)

// PolicyRequest creates or replaces the policy for (tenant, artifact_type)
type PolicyRequest struct {
	Tenant            string `json:"tenant" validate:"required,max=128"`
	ArtifactType      string `json:"artifact_type" validate:"required"`
	RetainDays        int    `json:"retain_days" validate:"required,gte=1,lte=36500"`
	LegalHoldEnabled  *bool  `json:"legal_hold_enabled,omitempty"`
	ImmutableRequired *bool  `json:"immutable_required,omitempty"`
	TraceID           string `json:"trace_id,omitempty"`
	Actor             string `json:"-"`
}

// HoldRequest places a legal hold
type HoldRequest struct {
	Tenant       string  `json:"tenant" validate:"required,max=128"`
	ScopeType    string  `json:"scope_type" validate:"required"`
	ScopeID      string  `json:"scope_id" validate:"required,max=1024"`
	Reason       string  `json:"reason" validate:"required,max=2000"`
	CaseID       *string `json:"case_id,omitempty" validate:"omitempty,max=256"`
	RegulatorRef *string `json:"regulator_ref,omitempty" validate:"omitempty,max=256"`
	TraceID      string  `json:"trace_id,omitempty"`
	Actor        string  `json:"-"`
}

// ReleaseRequest releases a legal hold
type ReleaseRequest struct {
	HoldID  string `json:"hold_id" validate:"required"`
	TraceID string `json:"trace_id,omitempty"`
	Actor   string `json:"-"`
}

// EnforceRequest runs one enforcement pass. DryRun defaults to true.
type EnforceRequest struct {
	Tenant       string `json:"tenant,omitempty" validate:"omitempty,max=128"`
	ArtifactType string `json:"artifact_type,omitempty"`
	Limit        int    `json:"limit,omitempty" validate:"omitempty,gte=1"`
	DryRun       *bool  `json:"dry_run,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
	Actor        string `json:"-"`
}

// PolicyResult wraps a stored policy
type PolicyResult struct {
	TraceID string                  `json:"trace_id"`
	Policy  *models.RetentionPolicy `json:"policy"`
}

// PolicyList lists policies, optionally for one tenant
type PolicyList struct {
	TraceID  string                    `json:"trace_id"`
	Tenant   *string                   `json:"tenant"`
	Policies []*models.RetentionPolicy `json:"policies"`
}

// HoldResult wraps a stored hold
type HoldResult struct {
	TraceID string            `json:"trace_id"`
	Hold    *models.LegalHold `json:"hold"`
}

// HoldList lists holds
type HoldList struct {
	TraceID    string              `json:"trace_id"`
	Tenant     *string             `json:"tenant"`
	ActiveOnly bool                `json:"active_only"`
	Holds      []*models.LegalHold `json:"holds"`
}
