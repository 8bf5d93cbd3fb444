package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityAction represents the type of action being recorded
type ActivityAction string

const (
	ActivityDecisionRecorded        ActivityAction = "decision_recorded"
	ActivityDecisionOverwritten     ActivityAction = "decision_overwritten"
	ActivityArtifactWritten         ActivityAction = "artifact_written"
	ActivityArtifactVerified        ActivityAction = "artifact_verified"
	ActivityArtifactDeleted         ActivityAction = "artifact_deleted"
	ActivityRetentionPolicyUpserted ActivityAction = "retention_policy_upserted"
	ActivityLegalHoldCreated        ActivityAction = "legal_hold_created"
	ActivityLegalHoldReleased       ActivityAction = "legal_hold_released"
	ActivityRetentionEnforced       ActivityAction = "retention_enforced"
)

// ActivityLog is an append-only trail entry for an operation on the ledger
type ActivityLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Tenant       string          `json:"tenant" db:"tenant"`
	Action       ActivityAction  `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // decision, artifact, legal_hold, ...
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Actor        string          `json:"actor" db:"actor"`
	TraceID      string          `json:"trace_id" db:"trace_id"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the ActivityLog model
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// NewActivityLog creates a new ActivityLog instance
func NewActivityLog(tenant string, action ActivityAction, resourceType, resourceID string) *ActivityLog {
	return &ActivityLog{
		ID:           uuid.New(),
		Tenant:       tenant,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
}

// WithActor sets the principal that caused the activity
func (a *ActivityLog) WithActor(actor string) *ActivityLog {
	a.Actor = actor
	return a
}

// WithTrace sets the trace and request ids
func (a *ActivityLog) WithTrace(traceID, requestID string) *ActivityLog {
	a.TraceID = traceID
	a.RequestID = requestID
	return a
}

// WithDetails sets the details
func (a *ActivityLog) WithDetails(details interface{}) *ActivityLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}
