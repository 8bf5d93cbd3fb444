// Package artifacts writes sealed audit artifacts (exports, bundles, regulator
// packages) to the reports bucket, catalogs them, and verifies them later.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/services/audit"
	"github.com/upb/decision-audit/backend/services/integrity"
	"github.com/upb/decision-audit/backend/services/ledger"
	"github.com/upb/decision-audit/backend/storage"
)

const (
	contentTypeJSON = "application/json"
	stampLayout     = "20060102T150405Z"
	anonymousActor  = "anonymous"
)

// DecisionSource selects decisions and their context
type DecisionSource interface {
	Query(ctx context.Context, req *ledger.QueryRequest) (*ledger.QueryResult, error)
	Get(ctx context.Context, tenant, decisionID string) (*ledger.DecisionDetail, error)
	Context(ctx context.Context, decision *models.Decision) (*models.DecisionContext, error)
}

// Service writes, catalogs and verifies audit artifacts
type Service struct {
	decisions DecisionSource
	store     storage.ObjectStore
	catalog   repositories.ArtifactRepository
	txManager repositories.TransactionManager
	signer    *integrity.Signer
	activity  audit.Recorder
	settings  Settings
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new artifact service
func NewService(
	decisions DecisionSource,
	store storage.ObjectStore,
	catalog repositories.ArtifactRepository,
	txManager repositories.TransactionManager,
	signer *integrity.Signer,
	activity audit.Recorder,
	settings Settings,
	logger *zap.Logger,
) *Service {
	if activity == nil {
		activity = audit.NopRecorder{}
	}
	return &Service{
		decisions: decisions,
		store:     store,
		catalog:   catalog,
		txManager: txManager,
		signer:    signer,
		activity:  activity,
		settings:  settings,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// written is one object stored in the reports bucket
type written struct {
	sealed *integrity.Sealed
	info   storage.ObjectInfo
}

func (s *Service) requireBucket() error {
	if s.settings.ReportsBucket == "" {
		return services.NewNotConfiguredError("REPORTS_BUCKET is not configured")
	}
	return nil
}

// seal turns payload into its JSON-native form and applies the trailer. The
// hash therefore covers exactly what is written to storage.
func (s *Service) seal(payload map[string]any) (*integrity.Sealed, error) {
	raw, err := integrity.Canonicalize(payload)
	if err != nil {
		return nil, services.WrapInternal("failed to encode artifact", err)
	}
	doc, err := integrity.DecodeDocument(raw)
	if err != nil {
		return nil, services.WrapInternal("failed to encode artifact", err)
	}
	sealed, err := s.signer.Seal(doc)
	if err != nil {
		return nil, services.WrapInternal("failed to seal artifact", err)
	}
	return sealed, nil
}

// write seals payload and stores it at key, failing if the object exists
func (s *Service) write(ctx context.Context, key string, payload map[string]any) (*written, error) {
	sealed, err := s.seal(payload)
	if err != nil {
		return nil, err
	}
	data, err := sealed.Bytes()
	if err != nil {
		return nil, services.WrapInternal("failed to encode artifact", err)
	}

	info, err := s.store.Put(ctx, s.settings.ReportsBucket, key, data, contentTypeJSON, true)
	if err != nil {
		uri := storage.FormatURI(s.settings.ReportsBucket, key)
		if errors.Is(err, storage.ErrObjectExists) {
			return nil, services.NewConflictError("Artifact already exists at "+uri, err).WithDetail("gs_uri", uri)
		}
		return nil, services.WrapUpstream("Unable to write artifact", err)
	}
	return &written{sealed: sealed, info: info}, nil
}

// discard removes objects written by a request that then failed, so nothing
// stays in the bucket without a catalog row. Each delete is conditional on
// the generation this request wrote.
func (s *Service) discard(ctx context.Context, objects ...*written) {
	ctx = context.WithoutCancel(ctx)
	for _, w := range objects {
		gen := w.info.Generation
		if _, err := s.store.Delete(ctx, w.info.URI, &gen); err != nil {
			s.logger.Error("failed to remove uncataloged artifact",
				zap.String("gs_uri", w.info.URI),
				zap.Int64("generation", gen),
				zap.Error(err))
		}
	}
}

func (s *Service) record(w *written, tenant, artifactID string, typ models.ArtifactType, actor, traceID string, metadata map[string]any) *models.Artifact {
	gen, metagen := w.info.Generation, w.info.Metageneration
	return &models.Artifact{
		ArtifactID:       artifactID,
		Tenant:           tenant,
		ArtifactType:     typ,
		GSURI:            w.info.URI,
		ObjectGeneration: &gen,
		Metageneration:   &metagen,
		ReportHash:       w.sealed.Trailer.ReportHash,
		SignatureAlg:     models.SignatureAlg(w.sealed.Trailer.SignatureAlg),
		SignatureKeyID:   w.sealed.Trailer.SignatureKeyID,
		ImmutableWrite:   true,
		CreatedBy:        actor,
		TraceID:          traceID,
		Metadata:         metadata,
	}
}

// catalog inserts the rows in one transaction and logs each write
func (s *Service) catalogAll(ctx context.Context, records []*models.Artifact) error {
	err := services.WithTransaction(ctx, s.txManager, func(ctx context.Context, _ repositories.Transaction) error {
		if err := s.catalog.InsertBatch(ctx, records); err != nil {
			return services.WrapUpstream("failed to catalog artifacts", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range records {
		s.activity.Record(models.NewActivityLog(r.Tenant, models.ActivityArtifactWritten, "artifact", r.ArtifactID).
			WithActor(r.CreatedBy).
			WithTrace(r.TraceID, "").
			WithDetails(map[string]any{
				"artifact_type":      r.ArtifactType,
				"gs_uri":             r.GSURI,
				"report_hash_sha256": r.ReportHash,
			}))
	}
	return nil
}

// selection is the result of running writer filters through the ledger
type selection struct {
	traceID   string
	tenant    string
	filters   ledger.Filters
	total     int
	decisions []*models.Decision
}

func (s *Service) selectDecisions(ctx context.Context, filters ledger.Filters, traceID string) (*selection, error) {
	filters.Tenant = strings.TrimSpace(filters.Tenant)
	if filters.Tenant == "" {
		return nil, services.NewValidationError("tenant is required")
	}
	if err := filters.Normalize(); err != nil {
		return nil, err
	}
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	result, err := s.decisions.Query(ctx, &ledger.QueryRequest{Filters: filters, TraceID: traceID})
	if err != nil {
		return nil, err
	}
	return &selection{
		traceID:   traceID,
		tenant:    filters.Tenant,
		filters:   filters,
		total:     result.Total,
		decisions: result.Decisions,
	}, nil
}

// reportPayload is the body of a decision_report; context is empty unless loaded
func (s *Service) reportPayload(ctx context.Context, d *models.Decision, withContext bool) (map[string]any, error) {
	docs := []models.ContextDocument{}
	chunks := []models.ContextChunk{}
	if withContext {
		dc, err := s.decisions.Context(ctx, d)
		if err != nil {
			return nil, err
		}
		if dc != nil {
			docs = nonNilDocs(dc.Documents)
			chunks = nonNilChunks(dc.Chunks)
		}
	}
	return map[string]any{
		"decision":          d,
		"context_documents": docs,
		"context_chunks":    chunks,
	}, nil
}

func (s *Service) policySnapshot(generatedAt time.Time) map[string]any {
	audiences := s.settings.AuthAudiences
	if audiences == nil {
		audiences = []string{}
	}
	return map[string]any{
		"auth_enabled":              s.settings.AuthEnabled,
		"auth_issuer":               s.settings.AuthIssuer,
		"auth_audiences":            audiences,
		"auth_require_tenant_claim": s.settings.RequireTenantClaim,
		"push_auth_enabled":         s.settings.PushAuthEnabled,
		"signature_alg":             s.signer.Algorithm(),
		"signing_key_id":            s.signer.KeyID(),
		"environment":               s.settings.Environment,
		"generated_at":              generatedAt,
	}
}

// objectName resolves a caller-supplied name or falls back to def
func objectName(requested *string, def string) (string, error) {
	name := def
	if requested != nil {
		name = *requested
	}
	cleaned, err := storage.SafeObjectName(name)
	if err != nil {
		return "", services.NewValidationError("object_name is invalid").WithDetail("reason", err.Error())
	}
	return cleaned, nil
}

func actorOrAnonymous(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return anonymousActor
	}
	return actor
}

func shortTrace(traceID string) string {
	if len(traceID) > 8 {
		return traceID[:8]
	}
	return traceID
}

func decisionIDs(decisions []*models.Decision) []string {
	ids := make([]string, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.DecisionID)
	}
	return ids
}

func contextDocs(decisions ...*models.Decision) []string {
	var all []string
	for _, d := range decisions {
		all = append(all, d.ContextDocs...)
	}
	return nonNilStrings(models.UniqueStrings(all))
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilDocs(v []models.ContextDocument) []models.ContextDocument {
	if v == nil {
		return []models.ContextDocument{}
	}
	return v
}

func nonNilChunks(v []models.ContextChunk) []models.ContextChunk {
	if v == nil {
		return []models.ContextChunk{}
	}
	return v
}

func withCase(metadata map[string]any, caseID, regulatorRef *string) map[string]any {
	if caseID != nil && strings.TrimSpace(*caseID) != "" {
		metadata[models.MetadataCaseID] = strings.TrimSpace(*caseID)
	}
	if regulatorRef != nil && strings.TrimSpace(*regulatorRef) != "" {
		metadata["regulator_ref"] = strings.TrimSpace(*regulatorRef)
	}
	return metadata
}

func artifactID(prefix string, parts ...string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.Join(parts, "-"))
}
