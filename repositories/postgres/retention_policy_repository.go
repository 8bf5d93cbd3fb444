package postgres

import (
	"context"
	"fmt"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// RetentionPolicyRepository implements the repositories.RetentionPolicyRepository interface
type RetentionPolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRetentionPolicyRepository creates a new retention policy repository
func NewRetentionPolicyRepository(db *DB, logger *zap.Logger) repositories.RetentionPolicyRepository {
	return &RetentionPolicyRepository{
		db:     db,
		logger: logger,
	}
}

const retentionPolicyColumns = `tenant, artifact_type, retain_days, legal_hold_enabled, immutable_required, created_by, created_at, updated_at`

// Upsert writes the policy keyed by (tenant, artifact_type)
func (r *RetentionPolicyRepository) Upsert(ctx context.Context, policy *models.RetentionPolicy) (*models.RetentionPolicy, error) {
	query := `
		INSERT INTO retention_policies (
			tenant, artifact_type, retain_days, legal_hold_enabled, immutable_required, created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant, artifact_type)
		DO UPDATE SET
			retain_days = EXCLUDED.retain_days,
			legal_hold_enabled = EXCLUDED.legal_hold_enabled,
			immutable_required = EXCLUDED.immutable_required,
			created_by = EXCLUDED.created_by,
			updated_at = NOW()
		RETURNING ` + retentionPolicyColumns

	executor := GetExecutor(ctx, r.db)
	stored := &models.RetentionPolicy{}
	err := executor.QueryRowContext(ctx, query,
		policy.Tenant,
		policy.ArtifactType,
		policy.RetainDays,
		policy.LegalHoldEnabled,
		policy.ImmutableRequired,
		policy.CreatedBy,
	).Scan(
		&stored.Tenant,
		&stored.ArtifactType,
		&stored.RetainDays,
		&stored.LegalHoldEnabled,
		&stored.ImmutableRequired,
		&stored.CreatedBy,
		&stored.CreatedAt,
		&stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert retention policy: %w", err)
	}

	r.logger.Info("retention policy upserted",
		zap.String("tenant", stored.Tenant),
		zap.String("artifact_type", string(stored.ArtifactType)),
		zap.Int("retain_days", stored.RetainDays))
	return stored, nil
}

// List retrieves policies, optionally restricted to one tenant
func (r *RetentionPolicyRepository) List(ctx context.Context, tenant string) ([]*models.RetentionPolicy, error) {
	query := `SELECT ` + retentionPolicyColumns + ` FROM retention_policies ORDER BY tenant ASC, artifact_type ASC`
	var args []interface{}
	if tenant != "" {
		query = `SELECT ` + retentionPolicyColumns + ` FROM retention_policies WHERE tenant = $1 ORDER BY artifact_type ASC`
		args = append(args, tenant)
	}

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list retention policies: %w", err)
	}
	defer rows.Close()

	policies := []*models.RetentionPolicy{}
	for rows.Next() {
		p := &models.RetentionPolicy{}
		if err := rows.Scan(
			&p.Tenant,
			&p.ArtifactType,
			&p.RetainDays,
			&p.LegalHoldEnabled,
			&p.ImmutableRequired,
			&p.CreatedBy,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan retention policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retention policies: %w", err)
	}

	return policies, nil
}
