package artifacts

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/internal/testutil"
	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/services/integrity"
	"github.com/upb/decision-audit/backend/services/ledger"
	"github.com/upb/decision-audit/backend/storage"
)

const testBucket = "audit-reports"

var fixedNow = time.Date(2026, 4, 2, 9, 30, 15, 0, time.UTC)

type fixture struct {
	store    *storage.MemoryStore
	catalog  *testutil.Catalog
	tx       *testutil.TxManager
	recorder *testutil.Recorder
	signer   *integrity.Signer
	service  *Service
}

func newFixture(t *testing.T, signer *integrity.Signer) *fixture {
	t.Helper()
	store := testutil.NewLedger()
	store.AddDocument("acme", "doc-1", "c1", "c2")
	store.AddDocument("acme", "doc-2", "c3")
	tx := &testutil.TxManager{}
	ledgerService := ledger.NewService(store, store, tx, nil, zap.NewNop())

	ctx := context.Background()
	for i, id := range []string{"loan-1", "loan/2"} {
		conf := 0.5 + float64(i)/10
		_, err := ledgerService.Ingest(ctx, &ledger.IngestRequest{
			DecisionID:    id,
			Tenant:        "acme",
			Model:         "risk-v3",
			Input:         "applicant",
			Output:        "approve",
			Confidence:    &conf,
			ContextDocs:   []string{"doc-1", "doc-2"},
			ContextChunks: []string{"c1"},
		})
		require.NoError(t, err)
	}

	f := &fixture{
		store:    storage.NewMemoryStore(),
		catalog:  testutil.NewCatalog(),
		tx:       tx,
		recorder: &testutil.Recorder{},
		signer:   signer,
	}
	f.service = NewService(ledgerService, f.store, f.catalog, tx, signer, f.recorder, Settings{
		ReportsBucket:      testBucket,
		Environment:        "test",
		AuthEnabled:        true,
		AuthIssuer:         "https://issuer.example",
		AuthAudiences:      []string{"audit-api"},
		RequireTenantClaim: true,
	}, zap.NewNop())
	f.service.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) verify(t *testing.T, uri string) *VerifyResult {
	t.Helper()
	result, err := f.service.Verify(context.Background(), &VerifyRequest{Tenant: "acme", GSURI: uri})
	require.NoError(t, err)
	return result
}

func TestReport(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("secret", "k1"))

	report, err := f.service.Report(context.Background(), "acme", "loan-1")
	require.NoError(t, err)

	assert.Equal(t, "loan-1", report.Decision.DecisionID)
	assert.Len(t, report.ContextDocuments, 2)
	assert.Len(t, report.ContextChunks, 1)
	assert.Equal(t, integrity.AlgorithmHMACSHA256, report.SignatureAlg)
	require.NotNil(t, report.SignatureKeyID)
	assert.Equal(t, "k1", *report.SignatureKeyID)
	assert.Len(t, report.ReportHash, 64)
	assert.Zero(t, f.store.Len())

	_, err = f.service.Report(context.Background(), "acme", "missing")
	assert.True(t, services.IsNotFoundError(err))
}

func TestExport(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("secret", "k1"))

	result, err := f.service.Export(context.Background(), &ExportRequest{
		Filters:        ledger.Filters{Tenant: "acme"},
		IncludeContext: true,
		TraceID:        "trace-export-1",
		Actor:          "user-1",
	})
	require.NoError(t, err)

	wantURI := "gs://audit-reports/reports/acme/audit/decisions_export_20260402T093015Z_trace-export-1.json"
	assert.Equal(t, wantURI, result.GSURI)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Returned)
	assert.Equal(t, integrity.AlgorithmHMACSHA256, result.SignatureAlg)

	raw, err := f.store.Get(context.Background(), wantURI)
	require.NoError(t, err)
	doc, err := integrity.DecodeDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "trace-export-1", doc["trace_id"])
	assert.Equal(t, result.ReportHash, doc[integrity.FieldReportHash])
	assert.Contains(t, doc, "decision_context")
	filters := doc["filters"].(map[string]any)
	assert.Equal(t, "acme", filters["tenant"])
	assert.Equal(t, "desc", filters["order"])

	rows := f.catalog.Artifacts()
	require.Len(t, rows, 1)
	assert.Equal(t, "export-trace-export-1", rows[0].ArtifactID)
	assert.Equal(t, models.ArtifactTypeDecisionExport, rows[0].ArtifactType)
	assert.Equal(t, "user-1", rows[0].CreatedBy)
	assert.True(t, rows[0].ImmutableWrite)
	assert.ElementsMatch(t, []string{"loan-1", "loan/2"}, rows[0].Metadata[models.MetadataDecisionIDs])
	assert.Equal(t, []string{"doc-1", "doc-2"}, rows[0].Metadata[models.MetadataContextDocs])
	assert.Equal(t, []models.ActivityAction{models.ActivityArtifactWritten}, f.recorder.Actions())

	verified := f.verify(t, wantURI)
	assert.True(t, verified.Verified, verified.Errors)
	assert.Equal(t, models.ArtifactTypeDecisionExport, verified.ReportType)
}

func TestExport_ExistingObjectConflicts(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))
	req := &ExportRequest{Filters: ledger.Filters{Tenant: "acme"}, TraceID: "same-trace"}

	_, err := f.service.Export(context.Background(), req)
	require.NoError(t, err)

	_, err = f.service.Export(context.Background(), req)
	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
	assert.Len(t, f.catalog.Artifacts(), 1)
}

func TestExport_ObjectName(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))

	name := "  /reports/acme/audit/custom.json"
	result, err := f.service.Export(context.Background(), &ExportRequest{
		Filters:    ledger.Filters{Tenant: "acme"},
		ObjectName: &name,
	})
	require.NoError(t, err)
	assert.Equal(t, "gs://audit-reports/reports/acme/audit/custom.json", result.GSURI)
	assert.Equal(t, integrity.AlgorithmNone, result.SignatureAlg)
	assert.Nil(t, result.Signature)

	blank := "   "
	_, err = f.service.Export(context.Background(), &ExportRequest{
		Filters:    ledger.Filters{Tenant: "acme"},
		ObjectName: &blank,
	})
	assert.True(t, services.IsValidationError(err))
}

type failingStore struct {
	*storage.MemoryStore
	putErr error
	getErr error
}

func (s *failingStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string, ifNotExists bool) (storage.ObjectInfo, error) {
	if s.putErr != nil {
		return storage.ObjectInfo{}, s.putErr
	}
	return s.MemoryStore.Put(ctx, bucket, key, data, contentType, ifNotExists)
}

func (s *failingStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, uri)
}

func TestExport_StorageFailure(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))
	f.service.store = &failingStore{MemoryStore: f.store, putErr: errors.New("503 backend error")}

	_, err := f.service.Export(context.Background(), &ExportRequest{Filters: ledger.Filters{Tenant: "acme"}})
	require.Error(t, err)
	assert.True(t, services.IsUpstreamError(err))
	assert.Empty(t, f.catalog.Artifacts())
}

func TestWriters_RequireBucket(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))
	f.service.settings.ReportsBucket = ""
	ctx := context.Background()

	_, err := f.service.Export(ctx, &ExportRequest{Filters: ledger.Filters{Tenant: "acme"}})
	assert.True(t, services.IsNotConfiguredError(err))
	_, err = f.service.Bundle(ctx, &BundleRequest{Filters: ledger.Filters{Tenant: "acme"}})
	assert.True(t, services.IsNotConfiguredError(err))
	_, err = f.service.Package(ctx, &PackageRequest{Filters: ledger.Filters{Tenant: "acme"}})
	assert.True(t, services.IsNotConfiguredError(err))
	_, err = f.service.Verify(ctx, &VerifyRequest{Tenant: "acme", GSURI: "gs://x/y"})
	assert.True(t, services.IsNotConfiguredError(err))
}

func TestWriters_RejectBadFilters(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))

	_, err := f.service.Export(context.Background(), &ExportRequest{Filters: ledger.Filters{Tenant: "acme", Limit: 900}})
	assert.True(t, services.IsValidationError(err))
	_, err = f.service.Export(context.Background(), &ExportRequest{Filters: ledger.Filters{}})
	assert.True(t, services.IsValidationError(err))
	assert.Zero(t, f.store.Len())
}

func TestBundle(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("secret", "k1"))
	caseID := "case-42"

	result, err := f.service.Bundle(context.Background(), &BundleRequest{
		Filters:               ledger.Filters{Tenant: "acme", Order: models.SortOrderAsc},
		IncludeContext:        true,
		IncludePolicySnapshot: true,
		CaseID:                &caseID,
		TraceID:               "abcdef123456",
		Actor:                 "auditor",
	})
	require.NoError(t, err)

	assert.Equal(t, "bundle-20260402T093015Z-abcdef12", result.BundleID)
	assert.Equal(t, "gs://audit-reports/reports/acme/audit/bundles/decision_bundle_20260402T093015Z_abcdef123456.json", result.GSURI)

	raw, err := f.store.Get(context.Background(), result.GSURI)
	require.NoError(t, err)
	doc, err := integrity.DecodeDocument(raw)
	require.NoError(t, err)

	assert.Equal(t, "auditor", doc["exported_by"])
	assert.Equal(t, "case-42", doc["case_id"])
	assert.Nil(t, doc["regulator_ref"])
	snapshot := doc["policy_snapshot"].(map[string]any)
	assert.Equal(t, true, snapshot["auth_enabled"])
	assert.Equal(t, "hmac-sha256", snapshot["signature_alg"])
	assert.Equal(t, "k1", snapshot["signing_key_id"])

	reports := doc["decision_reports"].([]any)
	require.Len(t, reports, 2)
	first := reports[0].(map[string]any)
	nestedHash := first[integrity.FieldReportHash]
	delete(first, integrity.FieldReportHash)
	recomputed, err := integrity.Hash(first)
	require.NoError(t, err)
	assert.Equal(t, recomputed, nestedHash)

	rows := f.catalog.Artifacts()
	require.Len(t, rows, 1)
	assert.Equal(t, "bundle-"+result.BundleID, rows[0].ArtifactID)
	assert.Equal(t, "case-42", rows[0].Metadata[models.MetadataCaseID])

	assert.True(t, f.verify(t, result.GSURI).Verified)
}

func TestPackage(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("secret", "k1"))
	caseID := "case-7"

	result, err := f.service.Package(context.Background(), &PackageRequest{
		Filters:               ledger.Filters{Tenant: "acme", Order: models.SortOrderAsc},
		IncludeContext:        true,
		IncludePolicySnapshot: true,
		CaseID:                &caseID,
		TraceID:               "0123456789ab",
	})
	require.NoError(t, err)

	prefix := "gs://audit-reports/reports/acme/audit/packages/pkg-20260402T093015Z-01234567"
	assert.Equal(t, "pkg-20260402T093015Z-01234567", result.PackageID)
	assert.Equal(t, prefix+"/manifest.json", result.ManifestGSURI)
	assert.Equal(t, 4, result.FilesCount)
	assert.Equal(t, 4, f.store.Len())

	rows := f.catalog.Artifacts()
	require.Len(t, rows, 4)
	byID := make(map[string]*models.Artifact, len(rows))
	for _, r := range rows {
		byID[r.ArtifactID] = r
		assert.Equal(t, "anonymous", r.CreatedBy)
	}
	report := byID["pkg-report-"+result.PackageID+"-loan/2"]
	require.NotNil(t, report)
	assert.Equal(t, prefix+"/decision_reports/loan_2.json", report.GSURI)
	assert.Equal(t, models.ArtifactTypeDecisionReport, report.ArtifactType)
	assert.Equal(t, "loan/2", report.Metadata[models.MetadataDecisionID])
	assert.Equal(t, "case-7", report.Metadata[models.MetadataCaseID])

	policy := byID["pkg-policy-"+result.PackageID]
	require.NotNil(t, policy)
	assert.Equal(t, models.ArtifactTypePolicySnapshot, policy.ArtifactType)

	manifestRow := byID["pkg-manifest-"+result.PackageID]
	require.NotNil(t, manifestRow)
	assert.Equal(t, 4, manifestRow.Metadata["files_count"])
	assert.Equal(t, 1, f.tx.Commits-2, "catalog rows inserted in one transaction")

	raw, err := f.store.Get(context.Background(), result.ManifestGSURI)
	require.NoError(t, err)
	manifest, err := integrity.DecodeDocument(raw)
	require.NoError(t, err)
	files := manifest["files"].([]any)
	require.Len(t, files, 3)
	last := files[2].(map[string]any)
	assert.Equal(t, "policy_snapshot", last["kind"])
	assert.NotContains(t, last, "decision_id")

	for _, r := range rows {
		v := f.verify(t, r.GSURI)
		assert.True(t, v.Verified, r.GSURI)
		assert.Equal(t, r.ArtifactType, v.ReportType)
		assert.Equal(t, r.ReportHash, *v.StoredHash)
	}
}

func TestPackage_CustomPrefixAndID(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))
	pkgID := "pkg-custom"
	prefix := "/reports/acme/audit/regulator/"

	result, err := f.service.Package(context.Background(), &PackageRequest{
		Filters:      ledger.Filters{Tenant: "acme", DecisionIDs: []string{"loan-1"}},
		PackageID:    &pkgID,
		ObjectPrefix: &prefix,
	})
	require.NoError(t, err)
	assert.Equal(t, "pkg-custom", result.PackageID)
	assert.Equal(t, "gs://audit-reports/reports/acme/audit/regulator/manifest.json", result.ManifestGSURI)
	assert.Equal(t, 2, result.FilesCount)
}

func TestPackage_FailureRemovesWrittenObjects(t *testing.T) {
	pkgID := "pkg-fail"
	manifestKey := "reports/acme/audit/packages/pkg-fail/manifest.json"

	t.Run("manifest conflict", func(t *testing.T) {
		f := newFixture(t, integrity.NewSigner("secret", "k1"))
		_, err := f.store.Put(context.Background(), testBucket, manifestKey, []byte(`{}`), "application/json", true)
		require.NoError(t, err)

		_, err = f.service.Package(context.Background(), &PackageRequest{
			Filters:               ledger.Filters{Tenant: "acme"},
			PackageID:             &pkgID,
			IncludePolicySnapshot: true,
		})
		require.Error(t, err)
		assert.True(t, services.IsConflictError(err))

		assert.Equal(t, 1, f.store.Len(), "only the pre-existing manifest remains")
		_, err = f.store.Get(context.Background(), "gs://"+testBucket+"/"+manifestKey)
		assert.NoError(t, err)
		assert.Empty(t, f.catalog.Artifacts())
	})

	t.Run("catalog failure", func(t *testing.T) {
		f := newFixture(t, integrity.NewSigner("secret", "k1"))
		f.catalog.InsertErr = errors.New("connection reset")

		_, err := f.service.Package(context.Background(), &PackageRequest{
			Filters:   ledger.Filters{Tenant: "acme"},
			PackageID: &pkgID,
		})
		require.Error(t, err)
		assert.True(t, services.IsUpstreamError(err))
		assert.Equal(t, 0, f.store.Len())
	})
}

func TestExport_CatalogFailureRemovesObject(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))
	f.catalog.InsertErr = errors.New("connection reset")

	_, err := f.service.Export(context.Background(), &ExportRequest{Filters: ledger.Filters{Tenant: "acme"}})
	require.Error(t, err)
	assert.True(t, services.IsUpstreamError(err))
	assert.Equal(t, 0, f.store.Len())
}

func TestVerify_Rejections(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("secret", "k1"))
	ctx := context.Background()
	notStrict := false

	_, err := f.store.Put(ctx, testBucket, "reports/acme/audit/list.json", []byte(`[1,2]`), contentTypeJSON, true)
	require.NoError(t, err)
	_, err = f.store.Put(ctx, testBucket, "elsewhere/doc.json", []byte(`{"a":1}`), contentTypeJSON, true)
	require.NoError(t, err)

	tests := []struct {
		name  string
		req   *VerifyRequest
		check func(error) bool
	}{
		{"malformed uri", &VerifyRequest{Tenant: "acme", GSURI: "s3://bucket/key"}, services.IsValidationError},
		{"other bucket", &VerifyRequest{Tenant: "acme", GSURI: "gs://other/reports/acme/audit/x.json"}, services.IsValidationError},
		{"outside tenant prefix", &VerifyRequest{Tenant: "acme", GSURI: "gs://audit-reports/reports/globex/audit/x.json"}, services.IsAuthorizationError},
		{"missing object", &VerifyRequest{Tenant: "acme", GSURI: "gs://audit-reports/reports/acme/audit/none.json"}, services.IsNotFoundError},
		{"not an object", &VerifyRequest{Tenant: "acme", GSURI: "gs://audit-reports/reports/acme/audit/list.json"}, services.IsValidationError},
		{"missing tenant", &VerifyRequest{GSURI: "gs://audit-reports/reports/acme/audit/x.json"}, services.IsValidationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Verify(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	t.Run("non-strict path allows other prefixes", func(t *testing.T) {
		result, err := f.service.Verify(ctx, &VerifyRequest{
			Tenant:           "acme",
			GSURI:            "gs://audit-reports/elsewhere/doc.json",
			StrictTenantPath: &notStrict,
		})
		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.Equal(t, models.ArtifactTypeUnknown, result.ReportType)
		assert.Contains(t, result.Errors, integrity.ReasonHashMismatch)
	})

	t.Run("storage outage", func(t *testing.T) {
		f.service.store = &failingStore{MemoryStore: f.store, getErr: errors.New("timeout")}
		defer func() { f.service.store = f.store }()
		_, err := f.service.Verify(ctx, &VerifyRequest{Tenant: "acme", GSURI: "gs://audit-reports/reports/acme/audit/list.json"})
		assert.True(t, services.IsUpstreamError(err))
	})
}

func TestVerify_DetectsTampering(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("secret", "k1"))
	ctx := context.Background()

	result, err := f.service.Export(ctx, &ExportRequest{Filters: ledger.Filters{Tenant: "acme"}, TraceID: "t-tamper"})
	require.NoError(t, err)

	raw, err := f.store.Get(ctx, result.GSURI)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"approve"`), []byte(`"deny"`), 1)
	require.NotEqual(t, raw, tampered)

	_, key, err := storage.ParseURI(result.GSURI)
	require.NoError(t, err)
	tamperedKey := strings.Replace(key, ".json", "_copy.json", 1)
	_, err = f.store.Put(ctx, testBucket, tamperedKey, tampered, contentTypeJSON, true)
	require.NoError(t, err)

	wrongKey := "k2"
	v, err := f.service.Verify(ctx, &VerifyRequest{
		Tenant:                 "acme",
		GSURI:                  storage.FormatURI(testBucket, tamperedKey),
		ExpectedReportHash:     &result.ReportHash,
		ExpectedSignatureKeyID: &wrongKey,
	})
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Equal(t, []string{
		integrity.ReasonHashMismatch,
		integrity.ReasonExpectedHashMismatch,
		integrity.ReasonSignatureMismatch,
		integrity.ReasonSignatureKeyIDMismatch,
	}, v.Errors)
	assert.Equal(t, models.ArtifactTypeUnknown, v.ReportType)
}

func TestVerify_UnsignedArtifactWithKeyConfigured(t *testing.T) {
	f := newFixture(t, integrity.NewSigner("", ""))
	ctx := context.Background()

	result, err := f.service.Export(ctx, &ExportRequest{Filters: ledger.Filters{Tenant: "acme"}})
	require.NoError(t, err)

	f.service.signer = integrity.NewSigner("secret", "k1")
	v := f.verify(t, result.GSURI)
	assert.True(t, v.Verified)
	assert.Equal(t, integrity.AlgorithmNone, v.SignatureAlg)
}
