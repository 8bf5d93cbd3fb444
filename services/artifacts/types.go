package artifacts

import (
	"time"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services/integrity"
	"github.com/upb/decision-audit/backend/services/ledger"
)

// Settings are the deployment facts captured by a policy snapshot
type Settings struct {
	ReportsBucket      string
	Environment        string
	AuthEnabled        bool
	AuthIssuer         string
	AuthAudiences      []string
	RequireTenantClaim bool
	PushAuthEnabled    bool
}

// ExportRequest writes the selected decisions as one export document
type ExportRequest struct {
	ledger.Filters
	IncludeContext bool    `json:"include_context"`
	ObjectName     *string `json:"object_name,omitempty"`
	TraceID        string  `json:"trace_id,omitempty"`
	Actor          string  `json:"-"`
}

// BundleRequest writes the selected decisions as per-decision reports in one document
type BundleRequest struct {
	ledger.Filters
	IncludeContext        bool    `json:"include_context"`
	IncludePolicySnapshot bool    `json:"include_policy_snapshot"`
	CaseID                *string `json:"case_id,omitempty" validate:"omitempty,max=256"`
	RegulatorRef          *string `json:"regulator_ref,omitempty" validate:"omitempty,max=256"`
	ObjectName            *string `json:"object_name,omitempty"`
	TraceID               string  `json:"trace_id,omitempty"`
	Actor                 string  `json:"-"`
}

// PackageRequest writes one object per decision report plus a manifest
type PackageRequest struct {
	ledger.Filters
	IncludeContext        bool    `json:"include_context"`
	IncludePolicySnapshot bool    `json:"include_policy_snapshot"`
	PackageID             *string `json:"package_id,omitempty" validate:"omitempty,max=128"`
	ObjectPrefix          *string `json:"object_prefix,omitempty"`
	CaseID                *string `json:"case_id,omitempty" validate:"omitempty,max=256"`
	RegulatorRef          *string `json:"regulator_ref,omitempty" validate:"omitempty,max=256"`
	TraceID               string  `json:"trace_id,omitempty"`
	Actor                 string  `json:"-"`
}

// VerifyRequest checks a stored artifact against its trailer
type VerifyRequest struct {
	Tenant                 string  `json:"tenant" validate:"omitempty,max=128"`
	GSURI                  string  `json:"gs_uri" validate:"required"`
	ExpectedReportHash     *string `json:"expected_report_hash_sha256,omitempty"`
	ExpectedSignatureKeyID *string `json:"expected_signature_key_id,omitempty"`
	StrictTenantPath       *bool   `json:"strict_tenant_path,omitempty"`
	TraceID                string  `json:"trace_id,omitempty"`
	Actor                  string  `json:"-"`
}

// Seal is the integrity trailer echoed in writer responses
type Seal struct {
	ReportHash     string  `json:"report_hash_sha256"`
	SignatureAlg   string  `json:"signature_alg"`
	SignatureKeyID *string `json:"signature_key_id"`
	Signature      *string `json:"signature"`
}

func sealOf(t integrity.Trailer) Seal {
	return Seal{
		ReportHash:     t.ReportHash,
		SignatureAlg:   t.SignatureAlg,
		SignatureKeyID: t.SignatureKeyID,
		Signature:      t.Signature,
	}
}

// ReportResult is a sealed decision report returned inline
type ReportResult struct {
	TraceID          string                   `json:"trace_id"`
	GeneratedAt      time.Time                `json:"generated_at"`
	Decision         *models.Decision         `json:"decision"`
	ContextDocuments []models.ContextDocument `json:"context_documents"`
	ContextChunks    []models.ContextChunk    `json:"context_chunks"`
	Seal
}

// ExportResult describes a written export
type ExportResult struct {
	TraceID     string    `json:"trace_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Tenant      string    `json:"tenant"`
	Total       int       `json:"total"`
	Returned    int       `json:"returned"`
	GSURI       string    `json:"gs_uri"`
	Seal
}

// BundleResult describes a written bundle
type BundleResult struct {
	TraceID     string    `json:"trace_id"`
	BundleID    string    `json:"bundle_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Tenant      string    `json:"tenant"`
	Total       int       `json:"total"`
	Returned    int       `json:"returned"`
	GSURI       string    `json:"gs_uri"`
	Seal
}

// PackageResult describes a written regulator package
type PackageResult struct {
	TraceID       string    `json:"trace_id"`
	PackageID     string    `json:"package_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Tenant        string    `json:"tenant"`
	Total         int       `json:"total"`
	Returned      int       `json:"returned"`
	ManifestGSURI string    `json:"manifest_gs_uri"`
	FilesCount    int       `json:"files_count"`
	Seal
}

// VerifyResult reports the checks made on a stored artifact
type VerifyResult struct {
	TraceID    string              `json:"trace_id"`
	Tenant     string              `json:"tenant"`
	GSURI      string              `json:"gs_uri"`
	ReportType models.ArtifactType `json:"report_type"`
	VerifiedAt time.Time           `json:"verified_at"`
	*integrity.VerificationResult
}

// PackageFile is one manifest entry
type PackageFile struct {
	Kind           models.ArtifactType `json:"kind"`
	DecisionID     string              `json:"decision_id,omitempty"`
	GSURI          string              `json:"gs_uri"`
	ReportHash     string              `json:"report_hash_sha256"`
	SignatureAlg   string              `json:"signature_alg"`
	SignatureKeyID *string             `json:"signature_key_id"`
	Signature      *string             `json:"signature"`
}
