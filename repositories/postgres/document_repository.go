package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// DocumentRepository implements the repositories.DocumentRepository interface
type DocumentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB, logger *zap.Logger) repositories.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// ExistingDocIDs returns the subset of docIDs known to the tenant
func (r *DocumentRepository) ExistingDocIDs(ctx context.Context, tenant string, docIDs []string) ([]string, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}

	query := `SELECT doc_id FROM documents WHERE tenant = $1 AND doc_id = ANY($2)`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenant, pq.Array(docIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to look up documents: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var docID string
		if err := rows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		found = append(found, docID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return found, nil
}

// ChunkOwners returns the owning document of every known chunk in chunkIDs
func (r *DocumentRepository) ChunkOwners(ctx context.Context, tenant string, chunkIDs []string) ([]models.ChunkOwner, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	query := `SELECT chunk_id, doc_id FROM chunks WHERE tenant = $1 AND chunk_id = ANY($2)`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenant, pq.Array(chunkIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to look up chunks: %w", err)
	}
	defer rows.Close()

	var owners []models.ChunkOwner
	for rows.Next() {
		var owner models.ChunkOwner
		if err := rows.Scan(&owner.ChunkID, &owner.DocID); err != nil {
			return nil, fmt.Errorf("failed to scan chunk owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return owners, nil
}
