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

// ArtifactRepository implements the repositories.ArtifactRepository interface
type ArtifactRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewArtifactRepository creates a new artifact catalog repository
func NewArtifactRepository(db *DB, logger *zap.Logger) repositories.ArtifactRepository {
	return &ArtifactRepository{
		db:     db,
		logger: logger,
	}
}

// InsertBatch catalogs artifacts. Rows already present for (tenant, type, uri) are kept as is.
func (r *ArtifactRepository) InsertBatch(ctx context.Context, artifacts []*models.Artifact) error {
	query := `
		INSERT INTO audit_artifacts (
			artifact_id, tenant, artifact_type, gs_uri, object_generation, metageneration,
			report_hash_sha256, signature_alg, signature_key_id, immutable_write,
			created_by, trace_id, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $11, $12)
		ON CONFLICT (tenant, artifact_type, gs_uri) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	for _, a := range artifacts {
		metadata, err := marshalMetadata(a.Metadata)
		if err != nil {
			return err
		}
		if _, err := executor.ExecContext(ctx, query,
			a.ArtifactID,
			a.Tenant,
			a.ArtifactType,
			a.GSURI,
			a.ObjectGeneration,
			a.Metageneration,
			a.ReportHash,
			a.SignatureAlg,
			a.SignatureKeyID,
			a.CreatedBy,
			a.TraceID,
			metadata,
		); err != nil {
			return fmt.Errorf("failed to catalog artifact %s: %w", a.ArtifactID, err)
		}
	}

	r.logger.Debug("artifacts cataloged", zap.Int("count", len(artifacts)))
	return nil
}

// GetByURI retrieves the live catalog row for a storage uri
func (r *ArtifactRepository) GetByURI(ctx context.Context, tenant, gsURI string) (*models.Artifact, error) {
	query := `
		SELECT id, artifact_id, tenant, artifact_type, gs_uri, object_generation, metageneration,
		       report_hash_sha256, signature_alg, signature_key_id, immutable_write,
		       created_by, trace_id, metadata, created_at
		FROM audit_artifacts
		WHERE tenant = $1 AND gs_uri = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	a := &models.Artifact{}
	var objectGeneration, metageneration sql.NullInt64
	var keyID sql.NullString
	var metadata []byte

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, tenant, gsURI).Scan(
		&a.ID,
		&a.ArtifactID,
		&a.Tenant,
		&a.ArtifactType,
		&a.GSURI,
		&objectGeneration,
		&metageneration,
		&a.ReportHash,
		&a.SignatureAlg,
		&keyID,
		&a.ImmutableWrite,
		&a.CreatedBy,
		&a.TraceID,
		&metadata,
		&a.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	a.ObjectGeneration = nullInt64Ptr(objectGeneration)
	a.Metageneration = nullInt64Ptr(metageneration)
	a.SignatureKeyID = nullStringPtr(keyID)
	a.Metadata = unmarshalMetadata(metadata)
	return a, nil
}

// ListRetentionCandidates returns live artifacts oldest first with their tenant policy, if any
func (r *ArtifactRepository) ListRetentionCandidates(ctx context.Context, filter repositories.CandidateFilter) ([]*models.RetentionCandidate, error) {
	conds := []string{"a.deleted_at IS NULL"}
	var args []interface{}
	if filter.Tenant != "" {
		args = append(args, filter.Tenant)
		conds = append(conds, fmt.Sprintf("a.tenant = $%d", len(args)))
	}
	if filter.ArtifactType != "" {
		args = append(args, filter.ArtifactType)
		conds = append(conds, fmt.Sprintf("a.artifact_type = $%d", len(args)))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT
			a.artifact_id, a.tenant, a.artifact_type, a.gs_uri, a.object_generation,
			a.created_at, a.metadata,
			p.retain_days, p.legal_hold_enabled, p.immutable_required
		FROM audit_artifacts a
		LEFT JOIN retention_policies p
			ON p.tenant = a.tenant
			AND p.artifact_type = a.artifact_type
		WHERE %s
		ORDER BY a.created_at ASC
		LIMIT $%d
	`, strings.Join(conds, " AND "), len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list retention candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.RetentionCandidate
	for rows.Next() {
		c := &models.RetentionCandidate{}
		var objectGeneration sql.NullInt64
		var metadata []byte
		var retainDays sql.NullInt64
		var legalHoldEnabled, immutableRequired sql.NullBool

		if err := rows.Scan(
			&c.Artifact.ArtifactID,
			&c.Artifact.Tenant,
			&c.Artifact.ArtifactType,
			&c.Artifact.GSURI,
			&objectGeneration,
			&c.Artifact.CreatedAt,
			&metadata,
			&retainDays,
			&legalHoldEnabled,
			&immutableRequired,
		); err != nil {
			return nil, fmt.Errorf("failed to scan retention candidate: %w", err)
		}

		c.Artifact.ObjectGeneration = nullInt64Ptr(objectGeneration)
		c.Artifact.Metadata = unmarshalMetadata(metadata)
		if retainDays.Valid {
			c.Policy = &models.RetentionPolicy{
				Tenant:            c.Artifact.Tenant,
				ArtifactType:      c.Artifact.ArtifactType,
				RetainDays:        int(retainDays.Int64),
				LegalHoldEnabled:  legalHoldEnabled.Bool,
				ImmutableRequired: immutableRequired.Bool,
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retention candidates: %w", err)
	}

	return candidates, nil
}

// MarkDeleted soft-deletes a live artifact. The first deleted_at wins.
func (r *ArtifactRepository) MarkDeleted(ctx context.Context, mark repositories.DeletionMark) (bool, error) {
	query := `
		UPDATE audit_artifacts
		SET
			deleted_at = COALESCE(deleted_at, NOW()),
			deleted_by = $1,
			deletion_reason = $2,
			delete_job_id = $3,
			metadata = jsonb_set(
				COALESCE(metadata, '{}'::jsonb),
				'{retention_delete,storage_deleted}',
				to_jsonb($4::boolean),
				true
			)
		WHERE artifact_id = $5
			AND tenant = $6
			AND artifact_type = $7
			AND gs_uri = $8
			AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		mark.DeletedBy,
		mark.DeletionReason,
		mark.DeleteJobID,
		mark.StorageDeleted,
		mark.ArtifactID,
		mark.Tenant,
		mark.ArtifactType,
		mark.GSURI,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark artifact deleted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("artifact marked deleted",
		zap.String("artifact_id", mark.ArtifactID),
		zap.String("delete_job_id", mark.DeleteJobID),
		zap.Bool("changed", rowsAffected > 0))
	return rowsAffected > 0, nil
}
