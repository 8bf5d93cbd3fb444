package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "test"}

		err := WriteJSON(w, http.StatusOK, data)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteOK(w, map[string]string{"result": "success"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	dataMap := response.Data.(map[string]interface{})
	assert.Equal(t, "success", dataMap["result"])
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]string{"hold_id": "lh-1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "lh-1", response.Data.(map[string]interface{})["hold_id"])
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errorType string
		wantType  string
		details   map[string]interface{}
	}{
		{"typed", http.StatusConflict, "conflict_exists", "conflict_exists", map[string]interface{}{"gs_uri": "gs://b/k"}},
		{"untyped defaults to internal", http.StatusInternalServerError, "", "internal", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, WriteError(w, tt.status, tt.errorType, "message", tt.details))

			assert.Equal(t, tt.status, w.Code)
			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantType, response.Error)
			assert.Equal(t, "message", response.Message)
			assert.Equal(t, tt.details, response.Details)
		})
	}
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteBadRequest(w, "Validation failed", map[string]interface{}{"tenant": "tenant is required"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "validation_failed", response.Error)
	assert.Equal(t, "tenant is required", response.Details["tenant"])
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		HoldID string `json:"hold_id"`
	}

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{"valid", `{"hold_id":"lh-1"}`, "lh-1", ""},
		{"empty body", ``, "", "request body is required"},
		{"unknown field", `{"hold_id":"lh-1","extra":true}`, "", "invalid JSON body"},
		{"malformed", `{"hold_id":`, "", "invalid JSON body"},
		{"trailing object", `{"hold_id":"a"}{"hold_id":"b"}`, "", "single JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(req, &p)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.HoldID)
		})
	}
}

func TestDecodeJSONLenient(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"hold_id":"lh-1","deliveryAttempt":2}`))
	var p struct {
		HoldID string `json:"hold_id"`
	}
	require.NoError(t, DecodeJSONLenient(req, &p))
	assert.Equal(t, "lh-1", p.HoldID)
}
