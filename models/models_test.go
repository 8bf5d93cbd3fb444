package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecision_TableName(t *testing.T) {
	assert.Equal(t, "ai_decisions", Decision{}.TableName())
}

func TestDecision_JSONMarshaling(t *testing.T) {
	decision := Decision{
		ID:         99,
		DecisionID: "dec-1",
		Tenant:     "acme",
		Model:      "claims",
		Input:      "question",
		Output:     "approve",
		TraceID:    "trace-1",
	}

	data, err := json.Marshal(decision)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Internal row id stays out of payloads
	assert.NotContains(t, decoded, "id")
	assert.Equal(t, "question", decoded["input"])
	assert.Nil(t, decoded["confidence"])
	assert.Nil(t, decoded["model_version"])
}

func TestConfidenceBand_IsValid(t *testing.T) {
	assert.True(t, ConfidenceBandLow.IsValid())
	assert.True(t, ConfidenceBandMedium.IsValid())
	assert.True(t, ConfidenceBandHigh.IsValid())
	assert.False(t, ConfidenceBand("extreme").IsValid())
}

func TestUniqueStrings(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"trims and drops blanks", []string{" d1 ", "", "  "}, []string{"d1"}},
		{"keeps first occurrence order", []string{"d2", "d1", "d2", " d1"}, []string{"d2", "d1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UniqueStrings(tt.in))
		})
	}
}

func TestArtifactType_IsValid(t *testing.T) {
	for _, at := range ArtifactTypes {
		assert.True(t, at.IsValid(), at)
	}
	assert.False(t, ArtifactTypeUnknown.IsValid())
	assert.False(t, ArtifactType("raw_document").IsValid())
}

func TestArtifact_Metadata(t *testing.T) {
	artifact := &Artifact{
		Metadata: map[string]interface{}{
			MetadataDecisionID:  " dec-1 ",
			MetadataDecisionIDs: []interface{}{"dec-1", "", "dec-2", nil},
			MetadataContextDocs: []string{"d1", " "},
			MetadataCaseID:      nil,
		},
	}

	assert.Equal(t, "dec-1", artifact.MetadataString(MetadataDecisionID))
	assert.Equal(t, "", artifact.MetadataString(MetadataCaseID))
	assert.Equal(t, "", artifact.MetadataString("absent"))
	assert.Equal(t, []string{"dec-1", "dec-2"}, artifact.MetadataStrings(MetadataDecisionIDs))
	assert.Equal(t, []string{"d1"}, artifact.MetadataStrings(MetadataContextDocs))
	assert.Nil(t, artifact.MetadataStrings(MetadataCaseID))
}

func TestRetentionPolicy_ExpiresAt(t *testing.T) {
	created := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	policy := &RetentionPolicy{RetainDays: 30}

	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), policy.ExpiresAt(created))
}

func TestParseHoldScope(t *testing.T) {
	assert.Equal(t, HoldScopeDocument, ParseHoldScope("  Document "))
	assert.True(t, ParseHoldScope("CASE").IsValid())
	assert.False(t, ParseHoldScope("bucket").IsValid())
}

func TestLegalHold_IsActive(t *testing.T) {
	hold := &LegalHold{HoldID: "lh-1"}
	assert.True(t, hold.IsActive())

	now := time.Now()
	hold.ReleasedAt = &now
	assert.False(t, hold.IsActive())
}

func TestRetentionReport_Record(t *testing.T) {
	report := &RetentionReport{}
	actions := []RetentionAction{
		RetentionSkipPolicyMissing,
		RetentionSkipNotExpired,
		RetentionSkipNotExpired,
		RetentionSkipLegalHold,
		RetentionWouldDelete,
		RetentionDeleted,
		RetentionDeleteFailed,
	}
	for i, action := range actions {
		report.Record(RetentionItem{ArtifactID: string(rune('a' + i)), Action: action})
	}

	assert.Equal(t, 7, report.Scanned)
	assert.Equal(t, 4, report.Eligible)
	assert.Equal(t, 1, report.SkippedPolicyMissing)
	assert.Equal(t, 2, report.SkippedNotExpired)
	assert.Equal(t, 1, report.SkippedOnHold)
	assert.Equal(t, 1, report.WouldDelete)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Items, 7)
	assert.True(t, report.Reconciles())
}

func TestNewActivityLog(t *testing.T) {
	entry := NewActivityLog("acme", ActivityArtifactWritten, "artifact", "export-t1").
		WithActor("auditor@example.com").
		WithTrace("trace-1", "req-1").
		WithDetails(map[string]interface{}{"gs_uri": "gs://reports/x.json"})

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, "acme", entry.Tenant)
	assert.Equal(t, ActivityArtifactWritten, entry.Action)
	assert.Equal(t, "auditor@example.com", entry.Actor)
	assert.Equal(t, "trace-1", entry.TraceID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, "activity_logs", entry.TableName())

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "gs://reports/x.json", details["gs_uri"])
}
