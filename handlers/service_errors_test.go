package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name            string
		err             error
		expectedStatus  int
		expectedError   string
		expectedMessage string
	}{
		{
			name:            "not found error",
			err:             services.NewNotFoundError("Decision not found"),
			expectedStatus:  http.StatusNotFound,
			expectedError:   "not_found",
			expectedMessage: "Decision not found",
		},
		{
			name:            "validation error",
			err:             services.NewValidationError("limit must be between 1 and 500"),
			expectedStatus:  http.StatusBadRequest,
			expectedError:   "validation_failed",
			expectedMessage: "limit must be between 1 and 500",
		},
		{
			name:            "validation error with status override",
			err:             services.NewValidationError("Context documents not found").WithStatus(http.StatusNotFound),
			expectedStatus:  http.StatusNotFound,
			expectedError:   "validation_failed",
			expectedMessage: "Context documents not found",
		},
		{
			name:            "authentication error",
			err:             services.NewAuthenticationError("Missing bearer token", nil),
			expectedStatus:  http.StatusUnauthorized,
			expectedError:   "authentication_failed",
			expectedMessage: "Missing bearer token",
		},
		{
			name:            "authorization error",
			err:             services.NewAuthorizationError("Forbidden: tenant mismatch"),
			expectedStatus:  http.StatusForbidden,
			expectedError:   "authorization_denied",
			expectedMessage: "Forbidden: tenant mismatch",
		},
		{
			name:            "conflict error",
			err:             services.NewConflictError("Artifact already exists at uri", nil),
			expectedStatus:  http.StatusConflict,
			expectedError:   "conflict_exists",
			expectedMessage: "Artifact already exists at uri",
		},
		{
			name:            "upstream error keeps message",
			err:             services.WrapUpstream("Unable to write artifact", errors.New("disk full")),
			expectedStatus:  http.StatusServiceUnavailable,
			expectedError:   "upstream_unavailable",
			expectedMessage: "Unable to write artifact",
		},
		{
			name:            "not configured error",
			err:             services.NewNotConfiguredError("REPORTS_BUCKET is not configured"),
			expectedStatus:  http.StatusServiceUnavailable,
			expectedError:   "not_configured",
			expectedMessage: "REPORTS_BUCKET is not configured",
		},
		{
			name:            "internal error hides message",
			err:             services.WrapInternal("pq: relation missing", nil),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal",
			expectedMessage: "An internal error occurred",
		},
		{
			name:            "unknown error",
			err:             errors.New("some unknown error"),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal",
			expectedMessage: "An internal error occurred",
		},
		{
			name:            "wrapped domain error",
			err:             fmt.Errorf("ingest: %w", services.NewConflictError("exists", nil)),
			expectedStatus:  http.StatusConflict,
			expectedError:   "conflict_exists",
			expectedMessage: "exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.Equal(t, tt.expectedMessage, response.Message)
		})
	}
}

func TestHandleServiceErrorWithDetails(t *testing.T) {
	err := services.NewValidationError("Context chunks must belong to context_docs").
		WithDetail("mismatched_chunk_ids", []string{"c9", "c3"})

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, []interface{}{"c9", "c3"}, response.Details["mismatched_chunk_ids"])
}

func TestHandleServiceErrorNil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("field errors", func(t *testing.T) {
		err := &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{"decision_id": "decision_id is required"},
		}

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "validation_failed", response.Error)
		assert.Equal(t, "Validation failed", response.Message)
		assert.Equal(t, "decision_id is required", response.Details["decision_id"])
	})

	t.Run("decode error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleValidationError(w, errors.New("request body is required"), logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "request body is required", response.Message)
	})
}
