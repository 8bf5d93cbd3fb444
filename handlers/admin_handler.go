package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/middleware"
	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services/ledger"
	"github.com/upb/decision-audit/backend/services/retention"
	"github.com/upb/decision-audit/backend/utils"
)

// RetentionManager manages policies and holds and runs enforcement
type RetentionManager interface {
	UpsertPolicy(ctx context.Context, req *retention.PolicyRequest) (*retention.PolicyResult, error)
	ListPolicies(ctx context.Context, tenant string) (*retention.PolicyList, error)
	CreateHold(ctx context.Context, req *retention.HoldRequest) (*retention.HoldResult, error)
	ReleaseHold(ctx context.Context, req *retention.ReleaseRequest) (*retention.HoldResult, error)
	ListHolds(ctx context.Context, tenant string, activeOnly bool) (*retention.HoldList, error)
	Enforce(ctx context.Context, req *retention.EnforceRequest) (*models.RetentionReport, error)
}

// adminActor names admin calls made with auth disabled
const adminActor = "admin-api-key"

// AdminHandler serves the admin surface. Routes are mounted behind the admin
// key gate; handlers do no tenant authorization of their own.
type AdminHandler struct {
	retention RetentionManager
	ledger    DecisionLedger
	logger    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(retention RetentionManager, ledger DecisionLedger, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{retention: retention, ledger: ledger, logger: logger}
}

func (h *AdminHandler) actor(r *http.Request) string {
	if actor := middleware.ActorFromContext(r.Context()); actor != "" {
		return actor
	}
	return adminActor
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
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

// HandleUpsertPolicy handles POST /v1/admin/retention-policies
func (h *AdminHandler) HandleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req retention.PolicyRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Actor = h.actor(r)

	result, err := h.retention.UpsertPolicy(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleListPolicies handles GET /v1/admin/retention-policies
func (h *AdminHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	result, err := h.retention.ListPolicies(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleCreateHold handles POST /v1/admin/legal-holds
func (h *AdminHandler) HandleCreateHold(w http.ResponseWriter, r *http.Request) {
	var req retention.HoldRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Actor = h.actor(r)

	result, err := h.retention.CreateHold(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandleReleaseHold handles POST /v1/admin/legal-holds/release
func (h *AdminHandler) HandleReleaseHold(w http.ResponseWriter, r *http.Request) {
	var req retention.ReleaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Actor = h.actor(r)

	result, err := h.retention.ReleaseHold(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleListHolds handles GET /v1/admin/legal-holds
func (h *AdminHandler) HandleListHolds(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if raw := strings.TrimSpace(r.URL.Query().Get("active_only")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "active_only must be a boolean", map[string]interface{}{"active_only": raw})
			return
		}
		activeOnly = parsed
	}

	result, err := h.retention.ListHolds(r.Context(), r.URL.Query().Get("tenant"), activeOnly)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleEnforce handles POST /v1/admin/retention/enforce. An empty body runs
// a dry run over every tenant.
func (h *AdminHandler) HandleEnforce(w http.ResponseWriter, r *http.Request) {
	var req retention.EnforceRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	req.Actor = h.actor(r)

	report, err := h.retention.Enforce(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, report)
}

// HandleAdminQuery handles POST /v1/admin/decisions/query
func (h *AdminHandler) HandleAdminQuery(w http.ResponseWriter, r *http.Request) {
	var req ledger.AdminQueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.ledger.AdminQuery(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}
