package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// LegalHoldRepository implements the repositories.LegalHoldRepository interface
type LegalHoldRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLegalHoldRepository creates a new legal hold repository
func NewLegalHoldRepository(db *DB, logger *zap.Logger) repositories.LegalHoldRepository {
	return &LegalHoldRepository{
		db:     db,
		logger: logger,
	}
}

const legalHoldColumns = `hold_id, tenant, scope_type, scope_id, reason, case_id, regulator_ref, created_by, created_at, released_at`

// Create inserts a new active hold
func (r *LegalHoldRepository) Create(ctx context.Context, hold *models.LegalHold) (*models.LegalHold, error) {
	query := `
		INSERT INTO legal_holds (` + legalHoldColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NULL)
		RETURNING ` + legalHoldColumns

	executor := GetExecutor(ctx, r.db)
	stored, err := scanLegalHold(executor.QueryRowContext(ctx, query,
		hold.HoldID,
		hold.Tenant,
		hold.ScopeType,
		hold.ScopeID,
		hold.Reason,
		hold.CaseID,
		hold.RegulatorRef,
		hold.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create legal hold: %w", err)
	}

	r.logger.Info("legal hold created",
		zap.String("hold_id", stored.HoldID),
		zap.String("tenant", stored.Tenant),
		zap.String("scope_type", string(stored.ScopeType)))
	return stored, nil
}

// Release marks the hold released. A second release keeps the first timestamp.
func (r *LegalHoldRepository) Release(ctx context.Context, holdID string) (*models.LegalHold, error) {
	query := `
		UPDATE legal_holds
		SET released_at = COALESCE(released_at, NOW())
		WHERE hold_id = $1
		RETURNING ` + legalHoldColumns

	executor := GetExecutor(ctx, r.db)
	stored, err := scanLegalHold(executor.QueryRowContext(ctx, query, holdID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to release legal hold: %w", err)
	}

	r.logger.Info("legal hold released", zap.String("hold_id", stored.HoldID))
	return stored, nil
}

// List retrieves holds newest first
func (r *LegalHoldRepository) List(ctx context.Context, tenant string, activeOnly bool) ([]*models.LegalHold, error) {
	var conds []string
	var args []interface{}
	if tenant != "" {
		args = append(args, tenant)
		conds = append(conds, fmt.Sprintf("tenant = $%d", len(args)))
	}
	if activeOnly {
		conds = append(conds, "released_at IS NULL")
	}

	query := `SELECT ` + legalHoldColumns + ` FROM legal_holds`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list legal holds: %w", err)
	}
	defer rows.Close()

	holds := []*models.LegalHold{}
	for rows.Next() {
		hold, err := scanLegalHold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan legal hold: %w", err)
		}
		holds = append(holds, hold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legal holds: %w", err)
	}

	return holds, nil
}

func scanLegalHold(row rowScanner) (*models.LegalHold, error) {
	h := &models.LegalHold{}
	var caseID, regulatorRef sql.NullString
	var releasedAt sql.NullTime
	if err := row.Scan(
		&h.HoldID,
		&h.Tenant,
		&h.ScopeType,
		&h.ScopeID,
		&h.Reason,
		&caseID,
		&regulatorRef,
		&h.CreatedBy,
		&h.CreatedAt,
		&releasedAt,
	); err != nil {
		return nil, err
	}
	h.CaseID = nullStringPtr(caseID)
	h.RegulatorRef = nullStringPtr(regulatorRef)
	h.ReleasedAt = nullTimePtr(releasedAt)
	return h, nil
}
