package artifacts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/services/integrity"
	"github.com/upb/decision-audit/backend/storage"
)

// Verify downloads a stored artifact and checks it against its trailer. A
// failed check is reported in the result, not as an error.
func (s *Service) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	if err := s.requireBucket(); err != nil {
		return nil, err
	}
	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		return nil, services.NewValidationError("tenant is required")
	}
	uri := strings.TrimSpace(req.GSURI)
	bucket, key, err := storage.ParseURI(uri)
	if err != nil {
		return nil, services.NewValidationError("gs_uri must be gs://bucket/object").WithDetail("gs_uri", req.GSURI)
	}
	if bucket != s.settings.ReportsBucket {
		return nil, services.NewValidationError("gs_uri bucket does not match REPORTS_BUCKET")
	}
	strict := req.StrictTenantPath == nil || *req.StrictTenantPath
	if strict && !strings.HasPrefix(key, "reports/"+tenant+"/audit/") {
		return nil, services.NewAuthorizationError("gs_uri path is outside tenant audit prefix")
	}

	raw, err := s.store.Get(ctx, uri)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, services.NewNotFoundError("Artifact not found").WithDetail("gs_uri", uri)
		}
		return nil, services.WrapUpstream("Unable to read artifact", err)
	}
	document, err := integrity.DecodeDocument(raw)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "Artifact must be a JSON object", err)
	}

	checks, err := s.signer.Verify(document, integrity.VerifyOptions{
		ExpectedHash:  req.ExpectedReportHash,
		ExpectedKeyID: req.ExpectedSignatureKeyID,
	})
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "Artifact could not be canonicalized", err)
	}

	reportType := models.ArtifactTypeUnknown
	row, err := s.catalog.GetByURI(ctx, tenant, uri)
	switch {
	case err == nil:
		reportType = row.ArtifactType
	case errors.Is(err, repositories.ErrNotFound):
	default:
		return nil, services.WrapUpstream("failed to look up artifact catalog", err)
	}

	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s.activity.Record(models.NewActivityLog(tenant, models.ActivityArtifactVerified, "artifact", uri).
		WithActor(actorOrAnonymous(req.Actor)).
		WithTrace(traceID, "").
		WithDetails(map[string]any{
			"report_type": reportType,
			"verified":    checks.Verified,
			"errors":      checks.Errors,
		}))

	fields := []zap.Field{
		zap.String("tenant", tenant),
		zap.String("trace_id", traceID),
		zap.String("gs_uri", uri),
		zap.String("report_type", string(reportType)),
		zap.Bool("verified", checks.Verified),
		zap.Strings("errors", checks.Errors),
	}
	if checks.Verified {
		s.logger.Info("artifact verified", fields...)
	} else {
		s.logger.Warn("artifact failed verification", fields...)
	}

	return &VerifyResult{
		TraceID:            traceID,
		Tenant:             tenant,
		GSURI:              uri,
		ReportType:         reportType,
		VerifiedAt:         s.now(),
		VerificationResult: checks,
	}, nil
}
