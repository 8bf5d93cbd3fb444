package artifacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/services/integrity"
	"github.com/upb/decision-audit/backend/storage"
)

// Report builds a sealed decision report without storing it
func (s *Service) Report(ctx context.Context, tenant, decisionID string) (*ReportResult, error) {
	detail, err := s.decisions.Get(ctx, tenant, decisionID)
	if err != nil {
		return nil, err
	}
	docs, chunks := []models.ContextDocument{}, []models.ContextChunk{}
	if detail.Context != nil {
		docs = nonNilDocs(detail.Context.Documents)
		chunks = nonNilChunks(detail.Context.Chunks)
	}

	sealed, err := s.seal(map[string]any{
		"decision":          detail.Decision,
		"context_documents": docs,
		"context_chunks":    chunks,
	})
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	s.logger.Info("decision report generated",
		zap.String("tenant", detail.Decision.Tenant),
		zap.String("decision_id", detail.Decision.DecisionID),
		zap.String("trace_id", traceID),
		zap.String("signature_alg", sealed.Trailer.SignatureAlg),
	)

	return &ReportResult{
		TraceID:          traceID,
		GeneratedAt:      s.now(),
		Decision:         detail.Decision,
		ContextDocuments: docs,
		ContextChunks:    chunks,
		Seal:             sealOf(sealed.Trailer),
	}, nil
}

// Export writes the selected decisions, optionally with their context, as one artifact
func (s *Service) Export(ctx context.Context, req *ExportRequest) (*ExportResult, error) {
	if err := s.requireBucket(); err != nil {
		return nil, err
	}
	sel, err := s.selectDecisions(ctx, req.Filters, req.TraceID)
	if err != nil {
		return nil, err
	}
	generatedAt := s.now()
	key, err := objectName(req.ObjectName,
		fmt.Sprintf("reports/%s/audit/decisions_export_%s_%s.json", sel.tenant, generatedAt.Format(stampLayout), sel.traceID))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"trace_id":     sel.traceID,
		"generated_at": generatedAt,
		"tenant":       sel.tenant,
		"filters":      sel.filters,
		"total":        sel.total,
		"returned":     len(sel.decisions),
		"decisions":    sel.decisions,
	}
	if req.IncludeContext {
		decisionContext := make(map[string]any, len(sel.decisions))
		for _, d := range sel.decisions {
			report, err := s.reportPayload(ctx, d, true)
			if err != nil {
				return nil, err
			}
			delete(report, "decision")
			decisionContext[d.DecisionID] = report
		}
		payload["decision_context"] = decisionContext
	}

	w, err := s.write(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	actor := actorOrAnonymous(req.Actor)
	rec := s.record(w, sel.tenant, "export-"+sel.traceID, models.ArtifactTypeDecisionExport, actor, sel.traceID, map[string]any{
		"total":                    sel.total,
		"returned":                 len(sel.decisions),
		"include_context":          req.IncludeContext,
		models.MetadataDecisionIDs: decisionIDs(sel.decisions),
		models.MetadataContextDocs: contextDocs(sel.decisions...),
	})
	if err := s.catalogAll(ctx, []*models.Artifact{rec}); err != nil {
		s.discard(ctx, w)
		return nil, err
	}

	s.logger.Info("decision export written",
		zap.String("tenant", sel.tenant),
		zap.String("trace_id", sel.traceID),
		zap.Int("total", sel.total),
		zap.Int("returned", len(sel.decisions)),
		zap.String("gs_uri", w.info.URI),
	)
	return &ExportResult{
		TraceID:     sel.traceID,
		GeneratedAt: generatedAt,
		Tenant:      sel.tenant,
		Total:       sel.total,
		Returned:    len(sel.decisions),
		GSURI:       w.info.URI,
		Seal:        sealOf(w.sealed.Trailer),
	}, nil
}

// Bundle writes per-decision reports, each with its own hash, as one artifact
func (s *Service) Bundle(ctx context.Context, req *BundleRequest) (*BundleResult, error) {
	if err := s.requireBucket(); err != nil {
		return nil, err
	}
	sel, err := s.selectDecisions(ctx, req.Filters, req.TraceID)
	if err != nil {
		return nil, err
	}
	generatedAt := s.now()
	stamp := generatedAt.Format(stampLayout)
	bundleID := fmt.Sprintf("bundle-%s-%s", stamp, shortTrace(sel.traceID))
	key, err := objectName(req.ObjectName,
		fmt.Sprintf("reports/%s/audit/bundles/decision_bundle_%s_%s.json", sel.tenant, stamp, sel.traceID))
	if err != nil {
		return nil, err
	}

	reports := make([]map[string]any, 0, len(sel.decisions))
	for _, d := range sel.decisions {
		report, err := s.reportPayload(ctx, d, req.IncludeContext)
		if err != nil {
			return nil, err
		}
		hash, err := integrity.Hash(report)
		if err != nil {
			return nil, services.WrapInternal("failed to hash decision report", err)
		}
		report[integrity.FieldReportHash] = hash
		reports = append(reports, report)
	}

	actor := actorOrAnonymous(req.Actor)
	payload := map[string]any{
		"bundle_id":        bundleID,
		"trace_id":         sel.traceID,
		"generated_at":     generatedAt,
		"tenant":           sel.tenant,
		"exported_by":      actor,
		"case_id":          req.CaseID,
		"regulator_ref":    req.RegulatorRef,
		"filters":          sel.filters,
		"total":            sel.total,
		"returned":         len(reports),
		"decision_reports": reports,
	}
	if req.IncludePolicySnapshot {
		payload["policy_snapshot"] = s.policySnapshot(generatedAt)
	}

	w, err := s.write(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	rec := s.record(w, sel.tenant, "bundle-"+bundleID, models.ArtifactTypeDecisionBundle, actor, sel.traceID, withCase(map[string]any{
		"bundle_id":                bundleID,
		"total":                    sel.total,
		"returned":                 len(reports),
		models.MetadataDecisionIDs: decisionIDs(sel.decisions),
		models.MetadataContextDocs: contextDocs(sel.decisions...),
	}, req.CaseID, req.RegulatorRef))
	if err := s.catalogAll(ctx, []*models.Artifact{rec}); err != nil {
		s.discard(ctx, w)
		return nil, err
	}

	s.logger.Info("decision bundle written",
		zap.String("tenant", sel.tenant),
		zap.String("trace_id", sel.traceID),
		zap.String("bundle_id", bundleID),
		zap.Int("returned", len(reports)),
		zap.Bool("include_policy_snapshot", req.IncludePolicySnapshot),
		zap.String("gs_uri", w.info.URI),
	)
	return &BundleResult{
		TraceID:     sel.traceID,
		BundleID:    bundleID,
		GeneratedAt: generatedAt,
		Tenant:      sel.tenant,
		Total:       sel.total,
		Returned:    len(reports),
		GSURI:       w.info.URI,
		Seal:        sealOf(w.sealed.Trailer),
	}, nil
}

// Package writes one sealed report object per decision, an optional policy
// snapshot, and a sealed manifest listing them. Catalog rows are inserted
// together once every object is stored; on any failure the objects already
// written are removed again.
func (s *Service) Package(ctx context.Context, req *PackageRequest) (*PackageResult, error) {
	if err := s.requireBucket(); err != nil {
		return nil, err
	}
	sel, err := s.selectDecisions(ctx, req.Filters, req.TraceID)
	if err != nil {
		return nil, err
	}
	generatedAt := s.now()

	packageID := fmt.Sprintf("pkg-%s-%s", generatedAt.Format(stampLayout), shortTrace(sel.traceID))
	if req.PackageID != nil && strings.TrimSpace(*req.PackageID) != "" {
		packageID = strings.TrimSpace(*req.PackageID)
	}
	prefix, err := packagePrefix(req.ObjectPrefix, sel.tenant, packageID)
	if err != nil {
		return nil, err
	}

	actor := actorOrAnonymous(req.Actor)
	var records []*models.Artifact
	var stored []*written
	files := make([]PackageFile, 0, len(sel.decisions)+1)
	abort := func(err error) (*PackageResult, error) {
		s.discard(ctx, stored...)
		return nil, err
	}

	for _, d := range sel.decisions {
		report, err := s.reportPayload(ctx, d, req.IncludeContext)
		if err != nil {
			return abort(err)
		}
		key, err := storage.SafeObjectName(fmt.Sprintf("%s/decision_reports/%s.json", prefix, strings.ReplaceAll(d.DecisionID, "/", "_")))
		if err != nil {
			return abort(services.NewValidationError("decision report object name is invalid").WithDetail("decision_id", d.DecisionID))
		}
		w, err := s.write(ctx, key, report)
		if err != nil {
			return abort(err)
		}
		stored = append(stored, w)
		records = append(records, s.record(w, sel.tenant, artifactID("pkg-report", packageID, d.DecisionID),
			models.ArtifactTypeDecisionReport, actor, sel.traceID, withCase(map[string]any{
				"package_id":               packageID,
				models.MetadataDecisionID:  d.DecisionID,
				models.MetadataContextDocs: contextDocs(d),
			}, req.CaseID, nil)))
		files = append(files, fileEntry(models.ArtifactTypeDecisionReport, d.DecisionID, w))
	}

	if req.IncludePolicySnapshot {
		w, err := s.write(ctx, prefix+"/policy_snapshot.json", s.policySnapshot(generatedAt))
		if err != nil {
			return abort(err)
		}
		stored = append(stored, w)
		records = append(records, s.record(w, sel.tenant, "pkg-policy-"+packageID,
			models.ArtifactTypePolicySnapshot, actor, sel.traceID, withCase(map[string]any{
				"package_id": packageID,
			}, req.CaseID, nil)))
		files = append(files, fileEntry(models.ArtifactTypePolicySnapshot, "", w))
	}

	manifest := map[string]any{
		"package_id":    packageID,
		"trace_id":      sel.traceID,
		"generated_at":  generatedAt,
		"tenant":        sel.tenant,
		"exported_by":   actor,
		"case_id":       req.CaseID,
		"regulator_ref": req.RegulatorRef,
		"filters":       sel.filters,
		"total":         sel.total,
		"returned":      len(sel.decisions),
		"files":         files,
	}
	mw, err := s.write(ctx, prefix+"/manifest.json", manifest)
	if err != nil {
		return abort(err)
	}
	stored = append(stored, mw)
	filesCount := len(files) + 1
	records = append(records, s.record(mw, sel.tenant, "pkg-manifest-"+packageID,
		models.ArtifactTypePackageManifest, actor, sel.traceID, withCase(map[string]any{
			"package_id":               packageID,
			"files_count":              filesCount,
			models.MetadataDecisionIDs: decisionIDs(sel.decisions),
			models.MetadataContextDocs: contextDocs(sel.decisions...),
		}, req.CaseID, req.RegulatorRef)))

	if err := s.catalogAll(ctx, records); err != nil {
		return abort(err)
	}

	s.logger.Info("regulator package written",
		zap.String("tenant", sel.tenant),
		zap.String("trace_id", sel.traceID),
		zap.String("package_id", packageID),
		zap.Int("files_count", filesCount),
		zap.String("manifest_gs_uri", mw.info.URI),
	)
	return &PackageResult{
		TraceID:       sel.traceID,
		PackageID:     packageID,
		GeneratedAt:   generatedAt,
		Tenant:        sel.tenant,
		Total:         sel.total,
		Returned:      len(sel.decisions),
		ManifestGSURI: mw.info.URI,
		FilesCount:    filesCount,
		Seal:          sealOf(mw.sealed.Trailer),
	}, nil
}

func packagePrefix(requested *string, tenant, packageID string) (string, error) {
	if requested == nil {
		return fmt.Sprintf("reports/%s/audit/packages/%s", tenant, packageID), nil
	}
	prefix, err := storage.SafeObjectName(strings.TrimRight(strings.TrimSpace(*requested), "/"))
	if err != nil {
		return "", services.NewValidationError("object_prefix is invalid").WithDetail("reason", err.Error())
	}
	return prefix, nil
}

func fileEntry(kind models.ArtifactType, decisionID string, w *written) PackageFile {
	return PackageFile{
		Kind:           kind,
		DecisionID:     decisionID,
		GSURI:          w.info.URI,
		ReportHash:     w.sealed.Trailer.ReportHash,
		SignatureAlg:   w.sealed.Trailer.SignatureAlg,
		SignatureKeyID: w.sealed.Trailer.SignatureKeyID,
		Signature:      w.sealed.Trailer.Signature,
	}
}
