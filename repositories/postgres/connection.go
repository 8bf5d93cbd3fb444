package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/decision-audit/backend/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB adopts an already-open pool, e.g. one created by a test harness
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema creates the ledger schema. It runs once at process start,
// never from the request path.
func (db *DB) InitSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema (statement %d): %w", i+1, err)
		}
	}

	db.logger.Info("database schema initialized successfully",
		zap.Int("statements", len(schemaStatements)))
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		mime_type TEXT,
		size_bytes BIGINT,
		content_hash TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
		tenant TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		chunk_text TEXT NOT NULL,
		token_count INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS ai_decisions (
		id BIGSERIAL PRIMARY KEY,
		decision_id TEXT NOT NULL,
		tenant TEXT NOT NULL,
		model TEXT NOT NULL,
		model_version TEXT,
		input_text TEXT NOT NULL,
		output_text TEXT NOT NULL,
		confidence DOUBLE PRECISION,
		trace_id TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_ai_decisions_confidence_range CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
		UNIQUE (tenant, decision_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ai_decision_context_docs (
		id BIGSERIAL PRIMARY KEY,
		decision_ref_id BIGINT NOT NULL REFERENCES ai_decisions(id) ON DELETE CASCADE,
		tenant TEXT NOT NULL,
		doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE RESTRICT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (decision_ref_id, doc_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ai_decision_context_chunks (
		id BIGSERIAL PRIMARY KEY,
		decision_ref_id BIGINT NOT NULL REFERENCES ai_decisions(id) ON DELETE CASCADE,
		tenant TEXT NOT NULL,
		chunk_id TEXT NOT NULL REFERENCES chunks(chunk_id) ON DELETE RESTRICT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (decision_ref_id, chunk_id)
	)`,
	`CREATE TABLE IF NOT EXISTS retention_policies (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		retain_days INTEGER NOT NULL CHECK (retain_days > 0),
		legal_hold_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		immutable_required BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant, artifact_type)
	)`,
	`CREATE TABLE IF NOT EXISTS legal_holds (
		id BIGSERIAL PRIMARY KEY,
		hold_id TEXT NOT NULL UNIQUE,
		tenant TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		case_id TEXT,
		regulator_ref TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		released_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS audit_artifacts (
		id BIGSERIAL PRIMARY KEY,
		artifact_id TEXT NOT NULL,
		tenant TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		gs_uri TEXT NOT NULL,
		object_generation BIGINT,
		metageneration BIGINT,
		report_hash_sha256 TEXT NOT NULL,
		signature_alg TEXT NOT NULL,
		signature_key_id TEXT,
		immutable_write BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::JSONB,
		deleted_at TIMESTAMPTZ,
		deleted_by TEXT,
		deletion_reason TEXT,
		delete_job_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant, artifact_type, gs_uri)
	)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id UUID PRIMARY KEY,
		tenant TEXT NOT NULL,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		trace_id TEXT,
		request_id VARCHAR(255),
		details JSONB,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (tenant, doc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks (tenant, chunk_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_decisions_tenant_created_at ON ai_decisions (tenant, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_decisions_tenant_model_created_at ON ai_decisions (tenant, model, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_decisions_tenant_confidence_created_at ON ai_decisions (tenant, confidence, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_decisions_tenant_trace_id ON ai_decisions (tenant, trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_decision_context_docs_tenant_doc ON ai_decision_context_docs (tenant, doc_id, decision_ref_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_decision_context_chunks_tenant_chunk ON ai_decision_context_chunks (tenant, chunk_id, decision_ref_id)`,
	`CREATE INDEX IF NOT EXISTS idx_legal_holds_tenant_active_created_at ON legal_holds (tenant, released_at, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_legal_holds_scope ON legal_holds (tenant, scope_type, scope_id, released_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_artifacts_tenant_type_created_at ON audit_artifacts (tenant, artifact_type, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_artifacts_deleted_at ON audit_artifacts (deleted_at, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_tenant_timestamp ON activity_logs (tenant, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_resource ON activity_logs (tenant, resource_type, resource_id)`,
}
