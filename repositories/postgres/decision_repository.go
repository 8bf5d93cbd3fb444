package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// DecisionRepository implements the repositories.DecisionRepository interface
type DecisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB, logger *zap.Logger) repositories.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

const decisionColumns = `
	d.id, d.decision_id, d.tenant, d.model, d.model_version, d.input_text, d.output_text,
	d.confidence, d.trace_id, d.metadata, d.created_at, d.updated_at,
	COALESCE(array_agg(DISTINCT cd.doc_id) FILTER (WHERE cd.doc_id IS NOT NULL), ARRAY[]::TEXT[]) AS context_docs,
	COALESCE(array_agg(DISTINCT cc.chunk_id) FILTER (WHERE cc.chunk_id IS NOT NULL), ARRAY[]::TEXT[]) AS context_chunks`

const decisionJoins = `
	FROM ai_decisions d
	LEFT JOIN ai_decision_context_docs cd ON cd.decision_ref_id = d.id
	LEFT JOIN ai_decision_context_chunks cc ON cc.decision_ref_id = d.id`

// Upsert inserts or overwrites the decision keyed by (tenant, decision_id)
func (r *DecisionRepository) Upsert(ctx context.Context, decision *models.Decision) error {
	query := `
		INSERT INTO ai_decisions (
			decision_id, tenant, model, model_version, input_text, output_text,
			confidence, trace_id, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (tenant, decision_id)
		DO UPDATE SET
			model = EXCLUDED.model,
			model_version = EXCLUDED.model_version,
			input_text = EXCLUDED.input_text,
			output_text = EXCLUDED.output_text,
			confidence = EXCLUDED.confidence,
			trace_id = EXCLUDED.trace_id,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	metadata, err := marshalMetadata(decision.Metadata)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	err = executor.QueryRowContext(ctx, query,
		decision.DecisionID,
		decision.Tenant,
		decision.Model,
		decision.ModelVersion,
		decision.Input,
		decision.Output,
		decision.Confidence,
		decision.TraceID,
		metadata,
	).Scan(&decision.ID, &decision.CreatedAt, &decision.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert decision: %w", err)
	}

	r.logger.Debug("decision upserted",
		zap.String("tenant", decision.Tenant),
		zap.String("decision_id", decision.DecisionID),
		zap.Int64("id", decision.ID))
	return nil
}

// ReplaceContextDocs swaps the document links of a decision for docIDs
func (r *DecisionRepository) ReplaceContextDocs(ctx context.Context, decisionRefID int64, tenant string, docIDs []string) error {
	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx,
		`DELETE FROM ai_decision_context_docs WHERE decision_ref_id = $1 AND tenant = $2`,
		decisionRefID, tenant,
	); err != nil {
		return fmt.Errorf("failed to clear context documents: %w", err)
	}

	for _, docID := range docIDs {
		if _, err := executor.ExecContext(ctx, `
			INSERT INTO ai_decision_context_docs (decision_ref_id, tenant, doc_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (decision_ref_id, doc_id) DO NOTHING`,
			decisionRefID, tenant, docID,
		); err != nil {
			return fmt.Errorf("failed to link context document %s: %w", docID, err)
		}
	}
	return nil
}

// ReplaceContextChunks swaps the chunk links of a decision for chunkIDs
func (r *DecisionRepository) ReplaceContextChunks(ctx context.Context, decisionRefID int64, tenant string, chunkIDs []string) error {
	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx,
		`DELETE FROM ai_decision_context_chunks WHERE decision_ref_id = $1 AND tenant = $2`,
		decisionRefID, tenant,
	); err != nil {
		return fmt.Errorf("failed to clear context chunks: %w", err)
	}

	for _, chunkID := range chunkIDs {
		if _, err := executor.ExecContext(ctx, `
			INSERT INTO ai_decision_context_chunks (decision_ref_id, tenant, chunk_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (decision_ref_id, chunk_id) DO NOTHING`,
			decisionRefID, tenant, chunkID,
		); err != nil {
			return fmt.Errorf("failed to link context chunk %s: %w", chunkID, err)
		}
	}
	return nil
}

// GetByDecisionID retrieves a decision with its linked ids
func (r *DecisionRepository) GetByDecisionID(ctx context.Context, tenant, decisionID string) (*models.Decision, error) {
	query := `SELECT ` + decisionColumns + decisionJoins + `
		WHERE d.tenant = $1 AND d.decision_id = $2
		GROUP BY d.id`

	executor := GetExecutor(ctx, r.db)
	decision, err := scanDecision(executor.QueryRowContext(ctx, query, tenant, decisionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return decision, nil
}

// Query returns one page of decisions matching filter and the total match count.
// The count runs first; an empty match skips the page query.
func (r *DecisionRepository) Query(ctx context.Context, filter models.DecisionFilter) ([]*models.Decision, int, error) {
	where, args := buildDecisionWhere(filter)

	executor := GetExecutor(ctx, r.db)

	var total int
	countQuery := `SELECT COUNT(*) FROM ai_decisions d WHERE ` + where
	if err := executor.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	if total == 0 {
		return []*models.Decision{}, 0, nil
	}

	order := "DESC"
	if filter.Order == models.SortOrderAsc {
		order = "ASC"
	}
	pageArgs := append(append([]interface{}{}, args...), filter.Limit, filter.Offset)
	pageQuery := fmt.Sprintf(`SELECT %s %s
		WHERE %s
		GROUP BY d.id
		ORDER BY d.created_at %s, d.id %s
		LIMIT $%d OFFSET $%d`,
		decisionColumns, decisionJoins, where, order, order, len(args)+1, len(args)+2)

	rows, err := executor.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	decisions := make([]*models.Decision, 0, filter.Limit)
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, decision)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, total, nil
}

// GetContext retrieves document and chunk details linked to a decision
func (r *DecisionRepository) GetContext(ctx context.Context, tenant string, decisionRefID int64) (*models.DecisionContext, error) {
	executor := GetExecutor(ctx, r.db)
	result := &models.DecisionContext{
		Documents: []models.ContextDocument{},
		Chunks:    []models.ContextChunk{},
	}

	docRows, err := executor.QueryContext(ctx, `
		SELECT d.doc_id, d.source_uri, d.mime_type, d.size_bytes, d.updated_at
		FROM ai_decision_context_docs c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.decision_ref_id = $1 AND c.tenant = $2 AND d.tenant = $2
		ORDER BY d.doc_id ASC`,
		decisionRefID, tenant,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query context documents: %w", err)
	}
	defer docRows.Close()

	for docRows.Next() {
		var doc models.ContextDocument
		var mimeType sql.NullString
		var sizeBytes sql.NullInt64
		if err := docRows.Scan(&doc.DocID, &doc.SourceURI, &mimeType, &sizeBytes, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context document: %w", err)
		}
		if mimeType.Valid {
			doc.MimeType = &mimeType.String
		}
		if sizeBytes.Valid {
			doc.SizeBytes = &sizeBytes.Int64
		}
		result.Documents = append(result.Documents, doc)
	}
	if err := docRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating context documents: %w", err)
	}

	chunkRows, err := executor.QueryContext(ctx, `
		SELECT ch.chunk_id, ch.doc_id, ch.chunk_index, ch.token_count, LEFT(ch.chunk_text, 280) AS preview
		FROM ai_decision_context_chunks c
		JOIN chunks ch ON ch.chunk_id = c.chunk_id
		WHERE c.decision_ref_id = $1 AND c.tenant = $2 AND ch.tenant = $2
		ORDER BY ch.doc_id ASC, ch.chunk_index ASC`,
		decisionRefID, tenant,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query context chunks: %w", err)
	}
	defer chunkRows.Close()

	for chunkRows.Next() {
		var chunk models.ContextChunk
		var tokenCount sql.NullInt64
		if err := chunkRows.Scan(&chunk.ChunkID, &chunk.DocID, &chunk.ChunkIndex, &tokenCount, &chunk.Preview); err != nil {
			return nil, fmt.Errorf("failed to scan context chunk: %w", err)
		}
		if tokenCount.Valid {
			n := int(tokenCount.Int64)
			chunk.TokenCount = &n
		}
		result.Chunks = append(result.Chunks, chunk)
	}
	if err := chunkRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating context chunks: %w", err)
	}

	return result, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	d := &models.Decision{}
	var modelVersion sql.NullString
	var confidence sql.NullFloat64
	var metadata []byte
	var docs, chunks pq.StringArray

	if err := row.Scan(
		&d.ID,
		&d.DecisionID,
		&d.Tenant,
		&d.Model,
		&modelVersion,
		&d.Input,
		&d.Output,
		&confidence,
		&d.TraceID,
		&metadata,
		&d.CreatedAt,
		&d.UpdatedAt,
		&docs,
		&chunks,
	); err != nil {
		return nil, err
	}

	if modelVersion.Valid {
		d.ModelVersion = &modelVersion.String
	}
	if confidence.Valid {
		d.Confidence = &confidence.Float64
	}
	d.Metadata = unmarshalMetadata(metadata)
	d.ContextDocs = []string(docs)
	d.ContextChunks = []string(chunks)
	if d.ContextDocs == nil {
		d.ContextDocs = []string{}
	}
	if d.ContextChunks == nil {
		d.ContextChunks = []string{}
	}
	return d, nil
}

// buildDecisionWhere renders the filter as a WHERE clause with positional args.
// The tenant condition always comes first.
func buildDecisionWhere(f models.DecisionFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Tenants) == 1 {
		conds = append(conds, "d.tenant = "+arg(f.Tenants[0]))
	} else {
		conds = append(conds, "d.tenant = ANY("+arg(pq.Array(f.Tenants))+")")
	}

	if p := strings.TrimSpace(f.DecisionIDPrefix); p != "" {
		conds = append(conds, "d.decision_id ILIKE "+arg(escapeLike(p)+"%"))
	}
	if len(f.DecisionIDs) > 0 {
		conds = append(conds, "d.decision_id = ANY("+arg(pq.Array(f.DecisionIDs))+")")
	}
	if f.Model != "" {
		conds = append(conds, "d.model = "+arg(f.Model))
	}
	if f.ModelVersion != "" {
		conds = append(conds, "d.model_version = "+arg(f.ModelVersion))
	}
	if len(f.Outputs) > 0 {
		conds = append(conds, "d.output_text = ANY("+arg(pq.Array(f.Outputs))+")")
	}
	if f.DecisionTraceID != "" {
		conds = append(conds, "d.trace_id = "+arg(f.DecisionTraceID))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := arg("%" + escapeLike(q) + "%")
		conds = append(conds, "(d.input_text ILIKE "+pattern+" OR d.output_text ILIKE "+pattern+")")
	}
	if f.MinConfidence != nil {
		conds = append(conds, "d.confidence >= "+arg(*f.MinConfidence))
	}
	if f.MaxConfidence != nil {
		conds = append(conds, "d.confidence <= "+arg(*f.MaxConfidence))
	}
	switch f.ConfidenceBand {
	case models.ConfidenceBandLow:
		conds = append(conds, "d.confidence IS NOT NULL AND d.confidence < 0.40")
	case models.ConfidenceBandMedium:
		conds = append(conds, "d.confidence >= 0.40 AND d.confidence < 0.70")
	case models.ConfidenceBandHigh:
		conds = append(conds, "d.confidence >= 0.70")
	}
	if f.CreatedFrom != nil {
		conds = append(conds, "d.created_at >= "+arg(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		conds = append(conds, "d.created_at <= "+arg(*f.CreatedTo))
	}
	for _, docID := range f.ContextDocs {
		conds = append(conds, "EXISTS (SELECT 1 FROM ai_decision_context_docs filter_docs "+
			"WHERE filter_docs.decision_ref_id = d.id AND filter_docs.doc_id = "+arg(docID)+")")
	}
	for _, chunkID := range f.ContextChunks {
		conds = append(conds, "EXISTS (SELECT 1 FROM ai_decision_context_chunks filter_chunks "+
			"WHERE filter_chunks.decision_ref_id = d.id AND filter_chunks.chunk_id = "+arg(chunkID)+")")
	}

	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
