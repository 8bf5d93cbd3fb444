package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"github.com/upb/decision-audit/backend/services"
)

const (
	deletionReason = "retention_expired"
	tracerName     = "github.com/upb/decision-audit/backend/services/retention"
)

// Enforce evaluates live artifacts oldest first against their policy and the
// active legal holds. Per-item failures are reported, never returned. A
// cancelled context stops the run between items and returns the partial
// report with the context error.
func (s *Service) Enforce(ctx context.Context, req *EnforceRequest) (*models.RetentionReport, error) {
	limit := req.Limit
	if limit == 0 {
		limit = s.limits.Default
	}
	if limit < 1 || limit > s.limits.Max {
		return nil, services.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", s.limits.Max)).
			WithDetail("limit", req.Limit)
	}
	var artifactType models.ArtifactType
	if raw := strings.TrimSpace(req.ArtifactType); raw != "" {
		artifactType = models.ArtifactType(raw)
		if !artifactType.IsValid() {
			return nil, services.NewValidationError("artifact_type is not supported").WithDetail("artifact_type", raw)
		}
	}
	tenant := strings.TrimSpace(req.Tenant)
	traceID := traceOrNew(req.TraceID)
	actor := actorOrAnonymous(req.Actor)

	report := &models.RetentionReport{
		TraceID: traceID,
		JobID:   "retention-enforce:" + traceID,
		DryRun:  boolOr(req.DryRun, true),
		Tenant:  optional(tenant),
		Items:   []models.RetentionItem{},
	}
	if artifactType != "" {
		report.ArtifactType = &artifactType
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "retention.enforce")
	defer span.End()
	span.SetAttributes(
		attribute.String("retention.trace_id", traceID),
		attribute.String("retention.tenant", tenant),
		attribute.String("retention.artifact_type", string(artifactType)),
		attribute.Bool("retention.dry_run", report.DryRun),
		attribute.Int("retention.limit", limit),
	)

	candidates, err := s.artifacts.ListRetentionCandidates(ctx, repositories.CandidateFilter{
		Tenant:       tenant,
		ArtifactType: artifactType,
		Limit:        limit,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list candidates")
		return nil, services.WrapUpstream("failed to list retention candidates", err)
	}
	holds, err := s.holds.List(ctx, tenant, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list holds")
		return nil, services.WrapUpstream("failed to list legal holds", err)
	}

	now := s.now()
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			s.finish(span, report, actor)
			return report, err
		}
		item := s.evaluate(ctx, c, holds, now, report, actor)
		if item.Action == models.RetentionDeleteFailed {
			s.logger.Warn("retention delete failed",
				zap.String("trace_id", traceID),
				zap.String("artifact_id", item.ArtifactID),
				zap.String("gs_uri", item.GSURI),
				zap.String("error", item.Error),
			)
		}
		report.Record(item)
	}

	s.finish(span, report, actor)
	return report, nil
}

// evaluate decides one candidate. The order of checks is fixed: policy,
// expiry, legal holds, dry run, delete.
func (s *Service) evaluate(ctx context.Context, c *models.RetentionCandidate, holds []*models.LegalHold, now time.Time, report *models.RetentionReport, actor string) models.RetentionItem {
	a := &c.Artifact
	item := models.RetentionItem{
		ArtifactID:   a.ArtifactID,
		Tenant:       a.Tenant,
		ArtifactType: a.ArtifactType,
		GSURI:        a.GSURI,
		CreatedAt:    a.CreatedAt,
		ExpiresAt:    a.CreatedAt,
		AgeDays:      ageDays(a.CreatedAt, now),
	}

	if c.Policy == nil {
		item.Action = models.RetentionSkipPolicyMissing
		item.Reason = "No retention policy configured for tenant/artifact_type"
		return item
	}

	item.ExpiresAt = c.Policy.ExpiresAt(a.CreatedAt)
	if item.ExpiresAt.After(now) {
		item.Action = models.RetentionSkipNotExpired
		item.Reason = "Retention period not expired"
		return item
	}

	if c.Policy.LegalHoldEnabled {
		if ids := MatchingHolds(a, holds); len(ids) > 0 {
			item.Action = models.RetentionSkipLegalHold
			item.Reason = "Active legal hold protects artifact"
			item.HoldIDs = ids
			return item
		}
	}

	if report.DryRun {
		item.Action = models.RetentionWouldDelete
		item.Reason = "Retention expired and no active legal hold"
		return item
	}

	storageDeleted, err := s.store.Delete(ctx, a.GSURI, a.ObjectGeneration)
	if err == nil {
		_, err = s.artifacts.MarkDeleted(ctx, repositories.DeletionMark{
			ArtifactID:     a.ArtifactID,
			Tenant:         a.Tenant,
			ArtifactType:   a.ArtifactType,
			GSURI:          a.GSURI,
			DeletedBy:      actor,
			DeletionReason: deletionReason,
			DeleteJobID:    report.JobID,
			StorageDeleted: storageDeleted,
		})
	}
	if err != nil {
		item.Action = models.RetentionDeleteFailed
		item.Reason = "Retention expired but deletion failed"
		item.Error = err.Error()
		return item
	}

	item.Action = models.RetentionDeleted
	item.Reason = "Retention expired and artifact removed"
	s.activity.Record(models.NewActivityLog(a.Tenant, models.ActivityArtifactDeleted, "artifact", a.ArtifactID).
		WithActor(actor).
		WithTrace(report.TraceID, "").
		WithDetails(map[string]any{
			"gs_uri":          a.GSURI,
			"artifact_type":   a.ArtifactType,
			"storage_deleted": storageDeleted,
			"delete_job_id":   report.JobID,
		}))
	return item
}

func (s *Service) finish(span trace.Span, report *models.RetentionReport, actor string) {
	span.SetAttributes(
		attribute.Int("retention.scanned", report.Scanned),
		attribute.Int("retention.deleted", report.Deleted),
		attribute.Int("retention.failed", report.Failed),
	)

	tenant := "*"
	if report.Tenant != nil {
		tenant = *report.Tenant
	}
	s.activity.Record(models.NewActivityLog(tenant, models.ActivityRetentionEnforced, "retention_job", report.JobID).
		WithActor(actor).
		WithTrace(report.TraceID, "").
		WithDetails(map[string]any{
			"dry_run":                report.DryRun,
			"scanned":                report.Scanned,
			"eligible":               report.Eligible,
			"deleted":                report.Deleted,
			"would_delete":           report.WouldDelete,
			"skipped_not_expired":    report.SkippedNotExpired,
			"skipped_on_hold":        report.SkippedOnHold,
			"skipped_policy_missing": report.SkippedPolicyMissing,
			"failed":                 report.Failed,
		}))

	s.logger.Info("retention enforcement completed",
		zap.String("trace_id", report.TraceID),
		zap.String("job_id", report.JobID),
		zap.String("tenant", tenant),
		zap.String("actor", actor),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("eligible", report.Eligible),
		zap.Int("deleted", report.Deleted),
		zap.Int("would_delete", report.WouldDelete),
		zap.Int("skipped_not_expired", report.SkippedNotExpired),
		zap.Int("skipped_on_hold", report.SkippedOnHold),
		zap.Int("skipped_policy_missing", report.SkippedPolicyMissing),
		zap.Int("failed", report.Failed),
	)
}

// MatchingHolds returns the ids of the active holds in holds that protect a
func MatchingHolds(a *models.Artifact, holds []*models.LegalHold) []string {
	decisionID := a.MetadataString(models.MetadataDecisionID)
	caseID := a.MetadataString(models.MetadataCaseID)
	decisionIDs := toSet(a.MetadataStrings(models.MetadataDecisionIDs))
	contextDocs := toSet(a.MetadataStrings(models.MetadataContextDocs))

	var ids []string
	for _, h := range holds {
		if h.Tenant != a.Tenant || !h.IsActive() {
			continue
		}
		scopeID := strings.TrimSpace(h.ScopeID)
		if scopeID == "" {
			continue
		}

		var matches bool
		switch models.ParseHoldScope(string(h.ScopeType)) {
		case models.HoldScopeTenant:
			matches = scopeID == a.Tenant || scopeID == models.HoldScopeWildcard
		case models.HoldScopeArtifact:
			matches = scopeID == a.ArtifactID || scopeID == a.GSURI
		case models.HoldScopeDecision:
			_, listed := decisionIDs[scopeID]
			matches = scopeID == decisionID || listed
		case models.HoldScopeDocument:
			_, matches = contextDocs[scopeID]
		case models.HoldScopeCase:
			matches = scopeID == caseID
		}
		if matches {
			ids = append(ids, h.HoldID)
		}
	}
	return ids
}

func ageDays(createdAt, now time.Time) int {
	days := int(now.Sub(createdAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
