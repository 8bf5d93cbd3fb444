package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/services/retention"
)

// MockEnforcer is a mock implementation of Enforcer
type MockEnforcer struct {
	mock.Mock
}

func (m *MockEnforcer) Enforce(ctx context.Context, req *retention.EnforceRequest) (*models.RetentionReport, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionReport), args.Error(1)
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := parseFlags(nil)
		require.NoError(t, err)
		assert.True(t, opts.dryRun)
		assert.False(t, opts.initSchema)
		assert.True(t, opts.failOnErrors)
		assert.Zero(t, opts.limit)
	})

	t.Run("destructive run for one tenant", func(t *testing.T) {
		opts, err := parseFlags([]string{"-tenant", "acme", "-type", "decision_export", "-limit", "25", "-dry-run=false"})
		require.NoError(t, err)
		assert.Equal(t, "acme", opts.tenant)
		assert.Equal(t, "decision_export", opts.artifactType)
		assert.Equal(t, 25, opts.limit)
		assert.False(t, opts.dryRun)
	})

	t.Run("negative limit", func(t *testing.T) {
		_, err := parseFlags([]string{"-limit", "-1"})
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseFlags([]string{"-force"})
		assert.Error(t, err)
	})
}

func TestEnforce(t *testing.T) {
	t.Run("prints the report", func(t *testing.T) {
		enforcer := new(MockEnforcer)
		enforcer.On("Enforce", mock.Anything, mock.MatchedBy(func(req *retention.EnforceRequest) bool {
			return req.Tenant == "acme" && req.DryRun != nil && *req.DryRun && req.Actor == "retention-job"
		})).Return(&models.RetentionReport{JobID: "retention-enforce:t-1", DryRun: true, Scanned: 2, WouldDelete: 2}, nil)

		var out bytes.Buffer
		err := enforce(context.Background(), enforcer, &options{tenant: "acme", dryRun: true, failOnErrors: true}, &out)
		require.NoError(t, err)

		var report map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.Equal(t, "retention-enforce:t-1", report["job_id"])
		assert.Equal(t, float64(2), report["would_delete"])
		enforcer.AssertExpectations(t)
	})

	t.Run("failed deletions", func(t *testing.T) {
		enforcer := new(MockEnforcer)
		enforcer.On("Enforce", mock.Anything, mock.Anything).
			Return(&models.RetentionReport{Scanned: 1, Failed: 1}, nil)

		var out bytes.Buffer
		err := enforce(context.Background(), enforcer, &options{failOnErrors: true}, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 artifact deletions failed")
		assert.NotEmpty(t, out.String())

		out.Reset()
		assert.NoError(t, enforce(context.Background(), enforcer, &options{}, &out))
	})

	t.Run("enforcement error", func(t *testing.T) {
		enforcer := new(MockEnforcer)
		enforcer.On("Enforce", mock.Anything, mock.Anything).
			Return(nil, services.NewValidationError("limit must be between 1 and 5000"))

		var out bytes.Buffer
		err := enforce(context.Background(), enforcer, &options{limit: 9000}, &out)
		assert.True(t, services.IsValidationError(err))
		assert.Empty(t, out.String())
	})
}
