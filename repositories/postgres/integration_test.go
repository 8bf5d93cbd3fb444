//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// Run with: go test -tags=integration -timeout 120s ./repositories/postgres/...
func TestRepositoriesWithRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("audit"),
		tcpostgres.WithUsername("audit"),
		tcpostgres.WithPassword("audit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer sqlDB.Close()

	logger := zap.NewNop()
	factory := NewRepositoryFactoryFromDB(WrapDB(sqlDB, logger), logger)
	require.NoError(t, factory.InitSchema(ctx))
	// Schema creation is idempotent.
	require.NoError(t, factory.InitSchema(ctx))

	repos := factory.NewRepositories()
	txm := factory.GetTransactionManager()

	_, err = sqlDB.ExecContext(ctx, `
		INSERT INTO documents (doc_id, tenant, source_uri, mime_type, size_bytes) VALUES
			('d1', 'acme', 'gs://raw/d1.pdf', 'application/pdf', 1024),
			('d2', 'acme', 'gs://raw/d2.pdf', NULL, NULL)`)
	require.NoError(t, err)
	_, err = sqlDB.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, tenant, chunk_index, chunk_text, token_count) VALUES
			('c1', 'd1', 'acme', 0, 'refund policy text', 4),
			('c2', 'd2', 'acme', 0, 'shipping policy text', NULL)`)
	require.NoError(t, err)

	t.Run("decision round trip", func(t *testing.T) {
		confidence := 0.82
		decision := &models.Decision{
			DecisionID: "dec-1",
			Tenant:     "acme",
			Model:      "claims-model",
			Input:      "Can I get a refund?",
			Output:     "approve",
			Confidence: &confidence,
			TraceID:    "trace-1",
			Metadata:   map[string]interface{}{"channel": "web"},
		}

		err := txm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			if err := repos.Decisions.Upsert(ctx, decision); err != nil {
				return err
			}
			if err := repos.Decisions.ReplaceContextDocs(ctx, decision.ID, "acme", []string{"d1", "d2"}); err != nil {
				return err
			}
			return repos.Decisions.ReplaceContextChunks(ctx, decision.ID, "acme", []string{"c1"})
		})
		require.NoError(t, err)

		got, err := repos.Decisions.GetByDecisionID(ctx, "acme", "dec-1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"d1", "d2"}, got.ContextDocs)
		assert.Equal(t, []string{"c1"}, got.ContextChunks)

		decisions, total, err := repos.Decisions.Query(ctx, models.DecisionFilter{
			Tenants:        []string{"acme"},
			ContextDocs:    []string{"d1"},
			ConfidenceBand: models.ConfidenceBandHigh,
			Query:          "refund",
			Limit:          10,
			Order:          models.SortOrderDesc,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, decisions, 1)

		_, total, err = repos.Decisions.Query(ctx, models.DecisionFilter{
			Tenants: []string{"globex"},
			Limit:   10,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, total)

		decisionContext, err := repos.Decisions.GetContext(ctx, "acme", got.ID)
		require.NoError(t, err)
		assert.Len(t, decisionContext.Documents, 2)
		require.Len(t, decisionContext.Chunks, 1)
		assert.Equal(t, "refund policy text", decisionContext.Chunks[0].Preview)
	})

	t.Run("rolled back transaction leaves no decision", func(t *testing.T) {
		err := txm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			decision := &models.Decision{DecisionID: "dec-rollback", Tenant: "acme", Model: "m", Input: "i", Output: "o", TraceID: "t"}
			if err := repos.Decisions.Upsert(ctx, decision); err != nil {
				return err
			}
			return sql.ErrTxDone
		})
		require.Error(t, err)

		_, err = repos.Decisions.GetByDecisionID(ctx, "acme", "dec-rollback")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("artifact catalog and retention", func(t *testing.T) {
		_, err := repos.RetentionPolicies.Upsert(ctx, &models.RetentionPolicy{
			Tenant:            "acme",
			ArtifactType:      models.ArtifactTypeDecisionReport,
			RetainDays:        30,
			LegalHoldEnabled:  true,
			ImmutableRequired: true,
			CreatedBy:         "admin",
		})
		require.NoError(t, err)

		artifact := &models.Artifact{
			ArtifactID:   "report-dec-1",
			Tenant:       "acme",
			ArtifactType: models.ArtifactTypeDecisionReport,
			GSURI:        "gs://reports/reports/acme/audit/dec-1.json",
			ReportHash:   "abc",
			SignatureAlg: models.SignatureAlgNone,
			CreatedBy:    "admin",
			TraceID:      "trace-2",
			Metadata:     map[string]interface{}{"decision_id": "dec-1"},
		}
		require.NoError(t, repos.Artifacts.InsertBatch(ctx, []*models.Artifact{artifact}))
		// A second insert for the same uri is ignored.
		require.NoError(t, repos.Artifacts.InsertBatch(ctx, []*models.Artifact{artifact}))

		stored, err := repos.Artifacts.GetByURI(ctx, "acme", artifact.GSURI)
		require.NoError(t, err)
		assert.Equal(t, models.ArtifactTypeDecisionReport, stored.ArtifactType)

		candidates, err := repos.Artifacts.ListRetentionCandidates(ctx, repositories.CandidateFilter{Tenant: "acme", Limit: 10})
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		require.NotNil(t, candidates[0].Policy)
		assert.Equal(t, 30, candidates[0].Policy.RetainDays)

		changed, err := repos.Artifacts.MarkDeleted(ctx, repositories.DeletionMark{
			ArtifactID:     artifact.ArtifactID,
			Tenant:         "acme",
			ArtifactType:   artifact.ArtifactType,
			GSURI:          artifact.GSURI,
			DeletedBy:      "admin",
			DeletionReason: "retention_expired",
			DeleteJobID:    "job-1",
			StorageDeleted: true,
		})
		require.NoError(t, err)
		assert.True(t, changed)

		candidates, err = repos.Artifacts.ListRetentionCandidates(ctx, repositories.CandidateFilter{Tenant: "acme", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("legal hold release keeps first timestamp", func(t *testing.T) {
		hold, err := repos.LegalHolds.Create(ctx, &models.LegalHold{
			HoldID:    "lh-test-1",
			Tenant:    "acme",
			ScopeType: models.HoldScopeDocument,
			ScopeID:   "d1",
			Reason:    "litigation",
			CreatedBy: "admin",
		})
		require.NoError(t, err)
		assert.True(t, hold.IsActive())

		first, err := repos.LegalHolds.Release(ctx, "lh-test-1")
		require.NoError(t, err)
		second, err := repos.LegalHolds.Release(ctx, "lh-test-1")
		require.NoError(t, err)
		require.NotNil(t, first.ReleasedAt)
		assert.True(t, first.ReleasedAt.Equal(*second.ReleasedAt))

		active, err := repos.LegalHolds.List(ctx, "acme", true)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}
