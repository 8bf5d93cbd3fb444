package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/middleware"
	"github.com/upb/decision-audit/backend/services/artifacts"
	"github.com/upb/decision-audit/backend/services/ledger"
	"github.com/upb/decision-audit/backend/utils"
)

// DecisionLedger records and reads decisions
type DecisionLedger interface {
	Ingest(ctx context.Context, req *ledger.IngestRequest) (*ledger.IngestResult, error)
	IngestPush(ctx context.Context, envelope *ledger.PushEnvelope, actor string) (*ledger.IngestResult, error)
	Get(ctx context.Context, tenant, decisionID string) (*ledger.DecisionDetail, error)
	Query(ctx context.Context, req *ledger.QueryRequest) (*ledger.QueryResult, error)
	AdminQuery(ctx context.Context, req *ledger.AdminQueryRequest) (*ledger.QueryResult, error)
}

// ArtifactWriter produces and verifies sealed audit artifacts
type ArtifactWriter interface {
	Report(ctx context.Context, tenant, decisionID string) (*artifacts.ReportResult, error)
	Export(ctx context.Context, req *artifacts.ExportRequest) (*artifacts.ExportResult, error)
	Bundle(ctx context.Context, req *artifacts.BundleRequest) (*artifacts.BundleResult, error)
	Package(ctx context.Context, req *artifacts.PackageRequest) (*artifacts.PackageResult, error)
	Verify(ctx context.Context, req *artifacts.VerifyRequest) (*artifacts.VerifyResult, error)
}

// TenantAuthorizer checks the request's principal against a tenant and
// writes the rejection when it fails
type TenantAuthorizer interface {
	AuthorizeTenantRequest(w http.ResponseWriter, r *http.Request, tenant string) bool
}

// pushActor names push deliveries that arrive without an identity
const pushActor = "push-subscription"

// DecisionHandler serves the tenant decision API and the push callback
type DecisionHandler struct {
	ledger        DecisionLedger
	artifacts     ArtifactWriter
	tenants       TenantAuthorizer
	defaultTenant string
	logger        *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(ledger DecisionLedger, artifacts ArtifactWriter, tenants TenantAuthorizer, defaultTenant string, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		ledger:        ledger,
		artifacts:     artifacts,
		tenants:       tenants,
		defaultTenant: defaultTenant,
		logger:        logger,
	}
}

// tenant resolves the requested tenant, falling back to the default, and
// authorizes it. It returns false once a response has been written.
func (h *DecisionHandler) tenant(w http.ResponseWriter, r *http.Request, requested *string) bool {
	*requested = strings.TrimSpace(*requested)
	if *requested == "" {
		*requested = h.defaultTenant
	}
	return h.tenants.AuthorizeTenantRequest(w, r, *requested)
}

// decode reads and validates a JSON body. It returns false once a response
// has been written.
func (h *DecisionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

// HandleIngest handles POST /v1/decisions
func (h *DecisionHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ledger.IngestRequest
	if !h.decode(w, r, &req) || !h.tenant(w, r, &req.Tenant) {
		return
	}
	req.Actor = middleware.ActorFromContext(r.Context())

	result, err := h.ledger.Ingest(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("decision ingested",
		zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		zap.String("tenant", result.Tenant),
		zap.String("decision_id", result.DecisionID),
		zap.Bool("overwritten", result.Overwritten))
	_ = utils.WriteCreated(w, result)
}

// HandlePush handles POST /v1/push/decisions. The body belongs to the push
// transport, so unknown envelope fields are tolerated.
func (h *DecisionHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	var envelope ledger.PushEnvelope
	if err := utils.DecodeJSONLenient(r, &envelope); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := middleware.ActorFromContext(r.Context())
	if actor == "" {
		actor = pushActor
	}
	result, err := h.ledger.IngestPush(r.Context(), &envelope, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleGet handles GET /v1/decisions/{decision_id}
func (h *DecisionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if !h.tenant(w, r, &tenant) {
		return
	}

	detail, err := h.ledger.Get(r.Context(), tenant, chi.URLParam(r, "decision_id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, detail)
}

// HandleQuery handles POST /v1/decisions/query
func (h *DecisionHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req ledger.QueryRequest
	if !h.decode(w, r, &req) || !h.tenant(w, r, &req.Tenant) {
		return
	}

	result, err := h.ledger.Query(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleReport handles GET /v1/decisions/{decision_id}/report
func (h *DecisionHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if !h.tenant(w, r, &tenant) {
		return
	}

	result, err := h.artifacts.Report(r.Context(), tenant, chi.URLParam(r, "decision_id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleExport handles POST /v1/decisions/export
func (h *DecisionHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var req artifacts.ExportRequest
	if !h.decode(w, r, &req) || !h.tenant(w, r, &req.Tenant) {
		return
	}
	req.Actor = middleware.ActorFromContext(r.Context())

	result, err := h.artifacts.Export(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandleBundle handles POST /v1/decisions/bundle
func (h *DecisionHandler) HandleBundle(w http.ResponseWriter, r *http.Request) {
	var req artifacts.BundleRequest
	if !h.decode(w, r, &req) || !h.tenant(w, r, &req.Tenant) {
		return
	}
	req.Actor = middleware.ActorFromContext(r.Context())

	result, err := h.artifacts.Bundle(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandlePackage handles POST /v1/decisions/package
func (h *DecisionHandler) HandlePackage(w http.ResponseWriter, r *http.Request) {
	var req artifacts.PackageRequest
	if !h.decode(w, r, &req) || !h.tenant(w, r, &req.Tenant) {
		return
	}
	req.Actor = middleware.ActorFromContext(r.Context())

	result, err := h.artifacts.Package(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandleVerify handles POST /v1/decisions/verify. A failed verification is
// still a 200; the verdict is in the body.
func (h *DecisionHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req artifacts.VerifyRequest
	if !h.decode(w, r, &req) || !h.tenant(w, r, &req.Tenant) {
		return
	}
	req.Actor = middleware.ActorFromContext(r.Context())

	result, err := h.artifacts.Verify(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}
