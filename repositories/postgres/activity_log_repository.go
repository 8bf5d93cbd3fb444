package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// ActivityLogRepository implements the repositories.ActivityLogRepository interface
type ActivityLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewActivityLogRepository creates a new activity log repository
func NewActivityLogRepository(db *DB, logger *zap.Logger) repositories.ActivityLogRepository {
	return &ActivityLogRepository{
		db:     db,
		logger: logger,
	}
}

const activityLogColumns = `id, tenant, action, resource_type, resource_id, actor, trace_id, request_id, details, timestamp`

// Insert inserts a new activity log entry
func (r *ActivityLogRepository) Insert(ctx context.Context, log *models.ActivityLog) error {
	query := `
		INSERT INTO activity_logs (` + activityLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	details := []byte(log.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.Tenant,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.Actor,
		log.TraceID,
		log.RequestID,
		details,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}

	r.logger.Debug("activity log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByTenant retrieves activity logs for a tenant with pagination
func (r *ActivityLogRepository) GetByTenant(ctx context.Context, tenant string, limit, offset int) ([]*models.ActivityLog, error) {
	query := `
		SELECT ` + activityLogColumns + `
		FROM activity_logs
		WHERE tenant = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryActivityLogs(ctx, query, tenant, limit, offset)
}

// GetByResource retrieves activity logs for one resource
func (r *ActivityLogRepository) GetByResource(ctx context.Context, tenant, resourceType, resourceID string) ([]*models.ActivityLog, error) {
	query := `
		SELECT ` + activityLogColumns + `
		FROM activity_logs
		WHERE tenant = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY timestamp DESC
	`

	return r.queryActivityLogs(ctx, query, tenant, resourceType, resourceID)
}

// GetByDateRange retrieves activity logs within a date range
func (r *ActivityLogRepository) GetByDateRange(ctx context.Context, tenant string, start, end time.Time, limit, offset int) ([]*models.ActivityLog, error) {
	query := `
		SELECT ` + activityLogColumns + `
		FROM activity_logs
		WHERE tenant = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT $4 OFFSET $5
	`

	return r.queryActivityLogs(ctx, query, tenant, start, end, limit, offset)
}

// queryActivityLogs is a helper method to query multiple activity logs
func (r *ActivityLogRepository) queryActivityLogs(ctx context.Context, query string, args ...interface{}) ([]*models.ActivityLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ActivityLog
	for rows.Next() {
		log := &models.ActivityLog{}
		var details []byte
		err := rows.Scan(
			&log.ID,
			&log.Tenant,
			&log.Action,
			&log.ResourceType,
			&log.ResourceID,
			&log.Actor,
			&log.TraceID,
			&log.RequestID,
			&details,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		log.Details = details
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity log rows: %w", err)
	}

	return logs, nil
}
