// Package retention manages retention policies and legal holds and enforces
// them against the audit artifact catalog.
package retention

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
	"github.com/upb/decision-audit/backend/storage"
)

// Limits bound one enforcement run
type Limits struct {
	Default int
	Max     int
}

// Service owns retention policies, legal holds and enforcement runs
type Service struct {
	artifacts repositories.ArtifactRepository
	policies  repositories.RetentionPolicyRepository
	holds     repositories.LegalHoldRepository
	store     storage.ObjectStore
	activity  audit.Recorder
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new retention service
func NewService(
	artifacts repositories.ArtifactRepository,
	policies repositories.RetentionPolicyRepository,
	holds repositories.LegalHoldRepository,
	store storage.ObjectStore,
	activity audit.Recorder,
	limits Limits,
	logger *zap.Logger,
) *Service {
	if activity == nil {
		activity = audit.NopRecorder{}
	}
	if limits.Default <= 0 {
		limits.Default = 200
	}
	if limits.Max < limits.Default {
		limits.Max = limits.Default
	}
	return &Service{
		artifacts: artifacts,
		policies:  policies,
		holds:     holds,
		store:     store,
		activity:  activity,
		limits:    limits,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpsertPolicy creates or replaces the policy for a tenant and artifact type
func (s *Service) UpsertPolicy(ctx context.Context, req *PolicyRequest) (*PolicyResult, error) {
	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		return nil, services.NewValidationError("tenant is required")
	}
	artifactType := models.ArtifactType(strings.TrimSpace(req.ArtifactType))
	if !artifactType.IsValid() {
		return nil, services.NewValidationError("artifact_type is not supported").
			WithDetail("artifact_type", req.ArtifactType).
			WithDetail("allowed", models.ArtifactTypes)
	}
	if req.RetainDays < 1 {
		return nil, services.NewValidationError("retain_days must be at least 1")
	}

	policy := &models.RetentionPolicy{
		Tenant:            tenant,
		ArtifactType:      artifactType,
		RetainDays:        req.RetainDays,
		LegalHoldEnabled:  boolOr(req.LegalHoldEnabled, true),
		ImmutableRequired: boolOr(req.ImmutableRequired, true),
		CreatedBy:         actorOrAnonymous(req.Actor),
	}
	stored, err := s.policies.Upsert(ctx, policy)
	if err != nil {
		return nil, services.WrapUpstream("failed to store retention policy", err)
	}

	traceID := traceOrNew(req.TraceID)
	s.activity.Record(models.NewActivityLog(tenant, models.ActivityRetentionPolicyUpserted, "retention_policy", string(artifactType)).
		WithActor(policy.CreatedBy).
		WithTrace(traceID, "").
		WithDetails(map[string]any{
			"retain_days":        stored.RetainDays,
			"legal_hold_enabled": stored.LegalHoldEnabled,
			"immutable_required": stored.ImmutableRequired,
		}))
	s.logger.Info("retention policy upserted",
		zap.String("tenant", tenant),
		zap.String("artifact_type", string(artifactType)),
		zap.Int("retain_days", stored.RetainDays),
		zap.String("trace_id", traceID),
	)
	return &PolicyResult{TraceID: traceID, Policy: stored}, nil
}

// ListPolicies lists policies for one tenant, or all when tenant is empty
func (s *Service) ListPolicies(ctx context.Context, tenant string) (*PolicyList, error) {
	tenant = strings.TrimSpace(tenant)
	policies, err := s.policies.List(ctx, tenant)
	if err != nil {
		return nil, services.WrapUpstream("failed to list retention policies", err)
	}
	if policies == nil {
		policies = []*models.RetentionPolicy{}
	}
	return &PolicyList{TraceID: uuid.NewString(), Tenant: optional(tenant), Policies: policies}, nil
}

// CreateHold places a new active legal hold
func (s *Service) CreateHold(ctx context.Context, req *HoldRequest) (*HoldResult, error) {
	tenant := strings.TrimSpace(req.Tenant)
	scopeID := strings.TrimSpace(req.ScopeID)
	reason := strings.TrimSpace(req.Reason)
	scope := models.ParseHoldScope(req.ScopeType)
	switch {
	case tenant == "":
		return nil, services.NewValidationError("tenant is required")
	case !scope.IsValid():
		return nil, services.NewValidationError("scope_type must be one of tenant, artifact, decision, document, case").
			WithDetail("scope_type", req.ScopeType)
	case scopeID == "":
		return nil, services.NewValidationError("scope_id is required")
	case reason == "":
		return nil, services.NewValidationError("reason is required")
	}

	now := s.now()
	hold := &models.LegalHold{
		HoldID:       fmt.Sprintf("lh-%s-%s", now.Format("20060102150405"), uuid.NewString()[:8]),
		Tenant:       tenant,
		ScopeType:    scope,
		ScopeID:      scopeID,
		Reason:       reason,
		CaseID:       trimmed(req.CaseID),
		RegulatorRef: trimmed(req.RegulatorRef),
		CreatedBy:    actorOrAnonymous(req.Actor),
		CreatedAt:    now,
	}
	stored, err := s.holds.Create(ctx, hold)
	if err != nil {
		return nil, services.WrapUpstream("failed to create legal hold", err)
	}

	traceID := traceOrNew(req.TraceID)
	s.activity.Record(models.NewActivityLog(tenant, models.ActivityLegalHoldCreated, "legal_hold", stored.HoldID).
		WithActor(hold.CreatedBy).
		WithTrace(traceID, "").
		WithDetails(map[string]any{"scope_type": scope, "scope_id": scopeID}))
	s.logger.Info("legal hold created",
		zap.String("tenant", tenant),
		zap.String("hold_id", stored.HoldID),
		zap.String("scope_type", string(scope)),
		zap.String("trace_id", traceID),
	)
	return &HoldResult{TraceID: traceID, Hold: stored}, nil
}

// ReleaseHold releases a hold. Releasing an already released hold returns it
// unchanged.
func (s *Service) ReleaseHold(ctx context.Context, req *ReleaseRequest) (*HoldResult, error) {
	holdID := strings.TrimSpace(req.HoldID)
	if holdID == "" {
		return nil, services.NewValidationError("hold_id is required")
	}
	hold, err := s.holds.Release(ctx, holdID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewNotFoundError("Legal hold not found").WithDetail("hold_id", holdID)
		}
		return nil, services.WrapUpstream("failed to release legal hold", err)
	}

	traceID := traceOrNew(req.TraceID)
	s.activity.Record(models.NewActivityLog(hold.Tenant, models.ActivityLegalHoldReleased, "legal_hold", hold.HoldID).
		WithActor(actorOrAnonymous(req.Actor)).
		WithTrace(traceID, "").
		WithDetails(map[string]any{"scope_type": hold.ScopeType, "scope_id": hold.ScopeID}))
	s.logger.Info("legal hold released",
		zap.String("tenant", hold.Tenant),
		zap.String("hold_id", hold.HoldID),
		zap.String("trace_id", traceID),
	)
	return &HoldResult{TraceID: traceID, Hold: hold}, nil
}

// ListHolds lists holds newest first
func (s *Service) ListHolds(ctx context.Context, tenant string, activeOnly bool) (*HoldList, error) {
	tenant = strings.TrimSpace(tenant)
	holds, err := s.holds.List(ctx, tenant, activeOnly)
	if err != nil {
		return nil, services.WrapUpstream("failed to list legal holds", err)
	}
	if holds == nil {
		holds = []*models.LegalHold{}
	}
	return &HoldList{TraceID: uuid.NewString(), Tenant: optional(tenant), ActiveOnly: activeOnly, Holds: holds}, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return optional(strings.TrimSpace(*s))
}

func actorOrAnonymous(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "anonymous"
	}
	return actor
}

func traceOrNew(traceID string) string {
	if t := strings.TrimSpace(traceID); t != "" {
		return t
	}
	return uuid.NewString()
}
