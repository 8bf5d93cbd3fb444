package models

import (
	"time"
)

// ArtifactType is the kind of an audit artifact. It is stored alongside the
// artifact and never derived from the payload.
type ArtifactType string

const (
	ArtifactTypeDecisionReport  ArtifactType = "decision_report"
	ArtifactTypeDecisionExport  ArtifactType = "decision_export"
	ArtifactTypeDecisionBundle  ArtifactType = "decision_bundle"
	ArtifactTypePackageManifest ArtifactType = "regulator_package_manifest"
	ArtifactTypePolicySnapshot  ArtifactType = "policy_snapshot"
	ArtifactTypeUnknown         ArtifactType = "unknown"
)

// ArtifactTypes lists every artifact type a retention policy may target
var ArtifactTypes = []ArtifactType{
	ArtifactTypeDecisionReport,
	ArtifactTypeDecisionExport,
	ArtifactTypeDecisionBundle,
	ArtifactTypePackageManifest,
	ArtifactTypePolicySnapshot,
}

// IsValid reports whether t is a known artifact type
func (t ArtifactType) IsValid() bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SignatureAlg identifies how an artifact trailer was signed
type SignatureAlg string

const (
	SignatureAlgNone       SignatureAlg = "none"
	SignatureAlgHMACSHA256 SignatureAlg = "hmac-sha256"
)

// Artifact is a catalog row for an immutable object written to the reports bucket
type Artifact struct {
	ID               int64                  `json:"-" db:"id"`
	ArtifactID       string                 `json:"artifact_id" db:"artifact_id"`
	Tenant           string                 `json:"tenant" db:"tenant"`
	ArtifactType     ArtifactType           `json:"artifact_type" db:"artifact_type"`
	GSURI            string                 `json:"gs_uri" db:"gs_uri"`
	ObjectGeneration *int64                 `json:"object_generation" db:"object_generation"`
	Metageneration   *int64                 `json:"metageneration" db:"metageneration"`
	ReportHash       string                 `json:"report_hash_sha256" db:"report_hash_sha256"`
	SignatureAlg     SignatureAlg           `json:"signature_alg" db:"signature_alg"`
	SignatureKeyID   *string                `json:"signature_key_id" db:"signature_key_id"`
	ImmutableWrite   bool                   `json:"immutable_write" db:"immutable_write"`
	CreatedBy        string                 `json:"created_by" db:"created_by"`
	TraceID          string                 `json:"trace_id" db:"trace_id"`
	Metadata         map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	DeletedAt        *time.Time             `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy        *string                `json:"deleted_by,omitempty" db:"deleted_by"`
	DeletionReason   *string                `json:"deletion_reason,omitempty" db:"deletion_reason"`
	DeleteJobID      *string                `json:"delete_job_id,omitempty" db:"delete_job_id"`
}

// TableName returns the table name for the Artifact model
func (Artifact) TableName() string {
	return "audit_artifacts"
}

// Metadata keys read by legal-hold matching
const (
	MetadataDecisionID  = "decision_id"
	MetadataDecisionIDs = "decision_ids"
	MetadataContextDocs = "context_docs"
	MetadataCaseID      = "case_id"
)

// MetadataString returns the trimmed string value stored under key
func (a *Artifact) MetadataString(key string) string {
	return stringValue(a.Metadata[key])
}

// MetadataStrings returns the non-blank string values of a list stored under key
func (a *Artifact) MetadataStrings(key string) []string {
	raw, ok := a.Metadata[key]
	if !ok || raw == nil {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			if s = stringValue(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
