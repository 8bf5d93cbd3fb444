package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/decision-audit/backend/jwtauth"
	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/utils"
)

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jwt.MapClaims), args.Error(1)
}

func enabledConfig() GateConfig {
	return GateConfig{
		Enabled:            true,
		TenantClaims:       []string{"tenant", "tenants"},
		RequireTenantClaim: true,
		AdminAPIKey:        "admin-secret",
	}
}

func requestWithToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/decisions/d1", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestGate_Authenticate_Disabled(t *testing.T) {
	gate := NewGate(GateConfig{}, nil, nil, zap.NewNop())

	result, err := gate.Authenticate(requestWithToken(""), "acme")
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated{}, result)
}

func TestGate_Authenticate(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		claims     jwt.MapClaims
		verifyErr  error
		tenant     string
		cfg        func(*GateConfig)
		wantStatus int
		wantSub    string
	}{
		{
			name:    "tenant in string claim",
			token:   "good",
			claims:  jwt.MapClaims{"sub": "user-1", "iss": "https://issuer", "aud": "api", "tenant": " acme "},
			tenant:  "acme",
			wantSub: "user-1",
		},
		{
			name:    "tenant in list claim",
			token:   "good",
			claims:  jwt.MapClaims{"sub": "user-1", "tenants": []interface{}{"globex", "acme"}},
			tenant:  "acme",
			wantSub: "user-1",
		},
		{
			name:    "wildcard tenant",
			token:   "good",
			claims:  jwt.MapClaims{"sub": "user-1", "tenants": []interface{}{"*"}},
			tenant:  "anything",
			wantSub: "user-1",
		},
		{
			name:    "empty tenant skips check",
			token:   "good",
			claims:  jwt.MapClaims{"sub": "user-1"},
			wantSub: "user-1",
		},
		{
			name:       "tenant mismatch",
			token:      "good",
			claims:     jwt.MapClaims{"sub": "user-1", "tenant": "globex"},
			tenant:     "acme",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "tenant claim missing",
			token:      "good",
			claims:     jwt.MapClaims{"sub": "user-1"},
			tenant:     "acme",
			wantStatus: http.StatusForbidden,
		},
		{
			name:    "tenant claim optional",
			token:   "good",
			claims:  jwt.MapClaims{"sub": "user-1"},
			tenant:  "acme",
			cfg:     func(c *GateConfig) { c.RequireTenantClaim = false },
			wantSub: "user-1",
		},
		{
			name:       "missing bearer token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing sub",
			token:      "good",
			claims:     jwt.MapClaims{"tenant": "acme"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			token:      "bad",
			verifyErr:  fmt.Errorf("%w: audience mismatch", jwtauth.ErrInvalidToken),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "keys unavailable",
			token:      "good",
			verifyErr:  fmt.Errorf("%w: jwks fetch failed", jwtauth.ErrKeyUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "verifier not configured",
			token:      "good",
			verifyErr:  fmt.Errorf("%w: no secret", jwtauth.ErrNotConfigured),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			verifier := new(MockTokenVerifier)
			if tt.token != "" {
				verifier.On("Verify", mock.Anything, tt.token).Return(tt.claims, tt.verifyErr)
			}
			gate := NewGate(cfg, verifier, nil, zap.NewNop())

			result, err := gate.Authenticate(requestWithToken(tt.token), tt.tenant)
			if tt.wantStatus != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantStatus, services.HTTPStatus(err))
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			principal, ok := PrincipalOf(result)
			require.True(t, ok)
			assert.Equal(t, tt.wantSub, principal.Subject)
			verifier.AssertExpectations(t)
		})
	}
}

func TestGate_Authenticate_PrincipalFields(t *testing.T) {
	verifier := new(MockTokenVerifier)
	verifier.On("Verify", mock.Anything, "tok").Return(jwt.MapClaims{
		"sub": "svc", "iss": "https://issuer", "aud": []interface{}{"a", " ", "b"},
	}, nil)
	gate := NewGate(enabledConfig(), verifier, nil, zap.NewNop())

	req := requestWithToken("")
	req.Header.Set("Authorization", "bearer  tok ")
	result, err := gate.Authenticate(req, "")
	require.NoError(t, err)

	principal, ok := PrincipalOf(result)
	require.True(t, ok)
	assert.Equal(t, "https://issuer", principal.Issuer)
	assert.Equal(t, []string{"a", "b"}, principal.Audiences)
}

func TestGate_AuthenticatePush(t *testing.T) {
	pushClaims := func(extra jwt.MapClaims) jwt.MapClaims {
		claims := jwt.MapClaims{"sub": "1234", "email": "push@proj.iam.gserviceaccount.com", "email_verified": true}
		for k, v := range extra {
			claims[k] = v
		}
		return claims
	}

	tests := []struct {
		name       string
		cfg        GateConfig
		token      string
		claims     jwt.MapClaims
		wantStatus int
		wantAuth   bool
	}{
		{
			name: "disabled and allowed",
			cfg:  GateConfig{AllowUnauthenticatedPush: true},
		},
		{
			name:       "disabled and not allowed",
			cfg:        GateConfig{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:     "allowed service account",
			cfg:      GateConfig{PushEnabled: true, PushServiceAccounts: []string{"push@proj.iam.gserviceaccount.com"}},
			token:    "push",
			claims:   pushClaims(nil),
			wantAuth: true,
		},
		{
			name:       "unknown service account",
			cfg:        GateConfig{PushEnabled: true, PushServiceAccounts: []string{"other@proj.iam.gserviceaccount.com"}},
			token:      "push",
			claims:     pushClaims(nil),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unverified email",
			cfg:        GateConfig{PushEnabled: true, PushServiceAccounts: []string{"push@proj.iam.gserviceaccount.com"}},
			token:      "push",
			claims:     pushClaims(jwt.MapClaims{"email_verified": false}),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing token",
			cfg:        GateConfig{PushEnabled: true},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenantVerifier := new(MockTokenVerifier)
			pushVerifier := new(MockTokenVerifier)
			if tt.token != "" {
				pushVerifier.On("Verify", mock.Anything, tt.token).Return(tt.claims, nil)
			}
			gate := NewGate(tt.cfg, tenantVerifier, pushVerifier, zap.NewNop())

			result, err := gate.AuthenticatePush(requestWithToken(tt.token))
			if tt.wantStatus != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantStatus, services.HTTPStatus(err))
				return
			}
			require.NoError(t, err)
			_, ok := PrincipalOf(result)
			assert.Equal(t, tt.wantAuth, ok)
			tenantVerifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
		})
	}
}

func TestGate_AuthenticateAdmin(t *testing.T) {
	claims := jwt.MapClaims{"sub": "ops"}

	tests := []struct {
		name       string
		cfg        GateConfig
		key        string
		token      string
		wantStatus int
	}{
		{"key not configured", GateConfig{}, "anything", "", http.StatusServiceUnavailable},
		{"auth disabled with key", GateConfig{AdminAPIKey: "admin-secret"}, "admin-secret", "", 0},
		{"auth disabled wrong key", GateConfig{AdminAPIKey: "admin-secret"}, "nope", "", http.StatusForbidden},
		{"auth enabled with key", enabledConfig(), "admin-secret", "tok", 0},
		{"auth enabled no token", enabledConfig(), "admin-secret", "", http.StatusUnauthorized},
		{"auth enabled missing key", enabledConfig(), "", "tok", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := new(MockTokenVerifier)
			verifier.On("Verify", mock.Anything, "tok").Return(claims, nil).Maybe()
			gate := NewGate(tt.cfg, verifier, nil, zap.NewNop())

			req := requestWithToken(tt.token)
			if tt.key != "" {
				req.Header.Set(AdminKeyHeader, tt.key)
			}
			_, err := gate.AuthenticateAdmin(req)
			if tt.wantStatus != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantStatus, services.HTTPStatus(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	verifier := new(MockTokenVerifier)
	verifier.On("Verify", mock.Anything, "valid-token").Return(jwt.MapClaims{
		"sub": "user-123", "email": "user@example.com", "tenant": "acme",
	}, nil)
	verifier.On("Verify", mock.Anything, "expired").Return(nil, fmt.Errorf("%w: %w", jwtauth.ErrInvalidToken, jwtauth.ErrTokenExpired))
	gate := NewGate(enabledConfig(), verifier, nil, zap.NewNop())

	t.Run("valid token stores principal", func(t *testing.T) {
		handler := gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "user-123", principal.Subject)
			assert.Equal(t, "user@example.com", ActorFromContext(r.Context()))

			if !gate.AuthorizeTenantRequest(w, r, "acme") {
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithToken("valid-token"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("tenant mismatch is rejected by handler check", func(t *testing.T) {
		handler := gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.AuthorizeTenantRequest(w, r, "globex") {
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithToken("valid-token"))
		assert.Equal(t, http.StatusForbidden, w.Code)

		var body utils.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "authorization_denied", body.Error)
		assert.Equal(t, "Forbidden: tenant mismatch", body.Message)
		assert.Equal(t, "globex", body.Details["tenant"])
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		called := false
		handler := gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithToken("expired"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)

		var body utils.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "authentication_failed", body.Error)
		assert.Contains(t, body.Message, "token expired")
	})

	t.Run("auth disabled stores unauthenticated", func(t *testing.T) {
		open := NewGate(GateConfig{}, nil, nil, zap.NewNop())
		handler := open.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, Unauthenticated{}, GetAuthResult(r.Context()))
			assert.Empty(t, ActorFromContext(r.Context()))
			assert.True(t, open.AuthorizeTenantRequest(w, r, "acme"))
			w.WriteHeader(http.StatusNoContent)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithToken(""))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	gate := NewGate(GateConfig{AdminAPIKey: "admin-secret"}, nil, nil, zap.NewNop())
	handler := gate.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/retention/enforce", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.Header.Set(AdminKeyHeader, "admin-secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePush(t *testing.T) {
	gate := NewGate(GateConfig{}, nil, nil, zap.NewNop())
	handler := gate.RequirePush(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/push/decisions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTenantValues(t *testing.T) {
	claims := jwt.MapClaims{
		"tenant":  " acme ",
		"tenants": []interface{}{"globex", 7, "", "initech"},
		"other":   "ignored",
	}
	values := TenantValues(claims, []string{"tenant", "tenants"})
	assert.Len(t, values, 3)
	for _, want := range []string{"acme", "globex", "initech"} {
		assert.Contains(t, values, want)
	}
}

func TestRequireAuth_RejectionLogCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gate := NewGate(enabledConfig(), new(MockTokenVerifier), nil, zap.New(core))

	handler := chimiddleware.RequestID(gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithToken(""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	entries := logs.FilterMessage("authentication rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.NotEmpty(t, fields["request_id"])
	assert.Equal(t, int64(http.StatusUnauthorized), fields["status"])
}
