package ledger

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/services/audit"
	"github.com/upb/decision-audit/backend/services/integrity"
)

// Service records AI decisions and answers queries over them
type Service struct {
	documents repositories.DocumentRepository
	decisions repositories.DecisionRepository
	txManager repositories.TransactionManager
	activity  audit.Recorder
	logger    *zap.Logger
}

// NewService creates a new decision ledger service
func NewService(
	documents repositories.DocumentRepository,
	decisions repositories.DecisionRepository,
	txManager repositories.TransactionManager,
	activity audit.Recorder,
	logger *zap.Logger,
) *Service {
	if activity == nil {
		activity = audit.NopRecorder{}
	}
	return &Service{
		documents: documents,
		decisions: decisions,
		txManager: txManager,
		activity:  activity,
		logger:    logger,
	}
}

// Ingest validates the context references of a decision and stores it.
// Re-ingesting an existing (tenant, decision_id) overwrites the record.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if req == nil {
		return nil, services.NewValidationError("request body is required")
	}
	decision, err := s.buildDecision(req)
	if err != nil {
		return nil, err
	}

	var previous *models.Decision
	err = services.WithTransaction(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.checkContext(ctx, decision); err != nil {
			return err
		}

		prev, err := s.decisions.GetByDecisionID(ctx, decision.Tenant, decision.DecisionID)
		switch {
		case err == nil:
			previous = prev
		case errors.Is(err, repositories.ErrNotFound):
		default:
			return services.WrapUpstream("failed to load decision", err)
		}

		if err := s.decisions.Upsert(ctx, decision); err != nil {
			return services.WrapUpstream("failed to store decision", err)
		}
		if err := s.decisions.ReplaceContextDocs(ctx, decision.ID, decision.Tenant, decision.ContextDocs); err != nil {
			return services.WrapUpstream("failed to store context documents", err)
		}
		if err := s.decisions.ReplaceContextChunks(ctx, decision.ID, decision.Tenant, decision.ContextChunks); err != nil {
			return services.WrapUpstream("failed to store context chunks", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordIngest(decision, previous, req.Actor)

	s.logger.Info("decision recorded",
		zap.String("tenant", decision.Tenant),
		zap.String("decision_id", decision.DecisionID),
		zap.String("trace_id", decision.TraceID),
		zap.Int("context_docs", len(decision.ContextDocs)),
		zap.Int("context_chunks", len(decision.ContextChunks)),
		zap.Bool("overwritten", previous != nil),
	)

	return &IngestResult{
		DecisionID:         decision.DecisionID,
		Tenant:             decision.Tenant,
		TraceID:            decision.TraceID,
		Status:             models.DecisionStatusRecorded,
		ContextDocsCount:   len(decision.ContextDocs),
		ContextChunksCount: len(decision.ContextChunks),
		Overwritten:        previous != nil,
		CreatedAt:          decision.CreatedAt,
		UpdatedAt:          decision.UpdatedAt,
	}, nil
}

func (s *Service) buildDecision(req *IngestRequest) (*models.Decision, error) {
	decisionID := strings.TrimSpace(req.DecisionID)
	tenant := strings.TrimSpace(req.Tenant)
	model := strings.TrimSpace(req.Model)
	switch {
	case decisionID == "":
		return nil, services.NewValidationError("decision_id is required")
	case tenant == "":
		return nil, services.NewValidationError("tenant is required")
	case model == "":
		return nil, services.NewValidationError("model is required")
	case len(req.ContextDocs) == 0:
		return nil, services.NewValidationError("context_docs must contain at least one document")
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return nil, services.NewValidationError("confidence must be between 0 and 1")
	}
	for _, id := range append(append([]string{}, req.ContextDocs...), req.ContextChunks...) {
		if strings.TrimSpace(id) == "" {
			return nil, services.NewValidationError("context ids must not be empty")
		}
	}

	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &models.Decision{
		DecisionID:    decisionID,
		Tenant:        tenant,
		Model:         model,
		ModelVersion:  req.ModelVersion,
		Input:         req.Input,
		Output:        req.Output,
		Confidence:    req.Confidence,
		TraceID:       traceID,
		Metadata:      metadata,
		ContextDocs:   models.UniqueStrings(req.ContextDocs),
		ContextChunks: nonNil(models.UniqueStrings(req.ContextChunks)),
	}, nil
}

// checkContext rejects references to unknown documents or chunks, and chunks
// whose document is not among the decision's documents.
func (s *Service) checkContext(ctx context.Context, decision *models.Decision) error {
	existing, err := s.documents.ExistingDocIDs(ctx, decision.Tenant, decision.ContextDocs)
	if err != nil {
		return services.WrapUpstream("failed to look up context documents", err)
	}
	knownDocs := toSet(existing)
	if missing := missingFrom(decision.ContextDocs, knownDocs); len(missing) > 0 {
		return services.NewValidationError("Context documents not found").
			WithDetail("missing_doc_ids", missing).
			WithStatus(http.StatusNotFound)
	}

	if len(decision.ContextChunks) == 0 {
		return nil
	}

	owners, err := s.documents.ChunkOwners(ctx, decision.Tenant, decision.ContextChunks)
	if err != nil {
		return services.WrapUpstream("failed to look up context chunks", err)
	}
	ownerOf := make(map[string]string, len(owners))
	for _, o := range owners {
		ownerOf[o.ChunkID] = o.DocID
	}

	var missing, mismatched []string
	for _, chunkID := range decision.ContextChunks {
		docID, ok := ownerOf[chunkID]
		if !ok {
			missing = append(missing, chunkID)
			continue
		}
		if _, ok := knownDocs[docID]; !ok {
			mismatched = append(mismatched, chunkID)
		}
	}
	if len(missing) > 0 {
		err := services.NewValidationError("Context chunks not found").
			WithDetail("missing_chunk_ids", missing).
			WithStatus(http.StatusNotFound)
		if len(mismatched) > 0 {
			err.WithDetail("mismatched_chunk_ids", mismatched)
		}
		return err
	}
	if len(mismatched) > 0 {
		return services.NewValidationError("Context chunks must belong to context_docs").
			WithDetail("mismatched_chunk_ids", mismatched)
	}
	return nil
}

func (s *Service) recordIngest(decision, previous *models.Decision, actor string) {
	s.activity.Record(models.NewActivityLog(decision.Tenant, models.ActivityDecisionRecorded, "decision", decision.DecisionID).
		WithActor(actor).
		WithTrace(decision.TraceID, "").
		WithDetails(map[string]interface{}{
			"model":          decision.Model,
			"context_docs":   decision.ContextDocs,
			"context_chunks": decision.ContextChunks,
		}))

	if previous == nil {
		return
	}
	details := map[string]interface{}{
		"previous_trace_id":   previous.TraceID,
		"previous_updated_at": previous.UpdatedAt,
	}
	if hash, err := integrity.Hash(previous); err == nil {
		details["previous_hash_sha256"] = hash
	} else {
		s.logger.Warn("failed to hash overwritten decision",
			zap.String("decision_id", previous.DecisionID),
			zap.Error(err),
		)
	}
	s.activity.Record(models.NewActivityLog(decision.Tenant, models.ActivityDecisionOverwritten, "decision", decision.DecisionID).
		WithActor(actor).
		WithTrace(decision.TraceID, "").
		WithDetails(details))
}

// Get returns a decision together with its context document and chunk details
func (s *Service) Get(ctx context.Context, tenant, decisionID string) (*DecisionDetail, error) {
	tenant = strings.TrimSpace(tenant)
	decisionID = strings.TrimSpace(decisionID)
	if tenant == "" || decisionID == "" {
		return nil, services.NewValidationError("tenant and decision_id are required")
	}

	decision, err := s.decisions.GetByDecisionID(ctx, tenant, decisionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewNotFoundError("Decision not found").WithDetail("decision_id", decisionID)
		}
		return nil, services.WrapUpstream("failed to load decision", err)
	}

	decisionContext, err := s.decisions.GetContext(ctx, tenant, decision.ID)
	if err != nil {
		return nil, services.WrapUpstream("failed to load decision context", err)
	}
	return &DecisionDetail{Decision: decision, Context: decisionContext}, nil
}

// Context loads the documents and chunks linked to a decision returned by Query
func (s *Service) Context(ctx context.Context, decision *models.Decision) (*models.DecisionContext, error) {
	decisionContext, err := s.decisions.GetContext(ctx, decision.Tenant, decision.ID)
	if err != nil {
		return nil, services.WrapUpstream("failed to load decision context", err)
	}
	return decisionContext, nil
}

// Query returns one page of a tenant's decisions
func (s *Service) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	if req == nil {
		return nil, services.NewValidationError("request body is required")
	}
	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		return nil, services.NewValidationError("tenant is required")
	}
	filter, err := req.Filters.toFilter([]string{tenant})
	if err != nil {
		return nil, err
	}
	result, err := s.run(ctx, filter, req.TraceID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminQuery runs the same filters across several tenants
func (s *Service) AdminQuery(ctx context.Context, req *AdminQueryRequest) (*QueryResult, error) {
	if req == nil {
		return nil, services.NewValidationError("request body is required")
	}
	tenants := models.UniqueStrings(req.Tenants)
	if len(tenants) == 0 {
		return nil, services.NewValidationError("tenants must contain at least one tenant")
	}
	if len(tenants) > MaxAdminTenants {
		return nil, services.NewValidationError("too many tenants").WithDetail("max_tenants", MaxAdminTenants)
	}
	filter, err := req.Filters.toFilter(tenants)
	if err != nil {
		return nil, err
	}
	result, err := s.run(ctx, filter, req.TraceID)
	if err != nil {
		return nil, err
	}
	result.Tenants = tenants
	return result, nil
}

func (s *Service) run(ctx context.Context, filter models.DecisionFilter, traceID string) (*QueryResult, error) {
	decisions, total, err := s.decisions.Query(ctx, filter)
	if err != nil {
		return nil, services.WrapUpstream("failed to query decisions", err)
	}
	if decisions == nil {
		decisions = []*models.Decision{}
	}
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return &QueryResult{
		TraceID:   traceID,
		Decisions: decisions,
		Total:     total,
		Offset:    filter.Offset,
		Limit:     filter.Limit,
		Returned:  len(decisions),
	}, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func missingFrom(wanted []string, known map[string]struct{}) []string {
	var missing []string
	for _, v := range wanted {
		if _, ok := known[v]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
