package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/internal/observability"
	"github.com/upb/decision-audit/backend/jwtauth"
	"github.com/upb/decision-audit/backend/services"
)

// AdminKeyHeader carries the static admin credential
const AdminKeyHeader = "X-Admin-Key"

// TokenVerifier validates a bearer token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (jwt.MapClaims, error)
}

// Principal is the verified identity behind a request
type Principal struct {
	Subject   string
	Issuer    string
	Audiences []string
	Claims    jwt.MapClaims
}

// AuthResult is either Authenticated or Unauthenticated. Unauthenticated is
// only produced when the relevant gate is switched off.
type AuthResult interface {
	authResult()
}

// Authenticated carries the verified principal
type Authenticated struct {
	Principal Principal
}

// Unauthenticated marks a request admitted with authentication disabled
type Unauthenticated struct{}

func (Authenticated) authResult()   {}
func (Unauthenticated) authResult() {}

// PrincipalOf returns the principal of an Authenticated result
func PrincipalOf(result AuthResult) (Principal, bool) {
	a, ok := result.(Authenticated)
	return a.Principal, ok
}

// GateConfig configures the three authentication paths
type GateConfig struct {
	Enabled            bool
	TenantClaims       []string
	RequireTenantClaim bool

	PushEnabled              bool
	AllowUnauthenticatedPush bool
	PushServiceAccounts      []string

	AdminAPIKey string
}

// Gate authenticates tenant, push and admin requests
type Gate struct {
	cfg    GateConfig
	tokens TokenVerifier
	push   TokenVerifier
	logger observability.Logger
}

// NewGate creates a gate. tokens verifies tenant and admin tokens; push
// verifies push-callback tokens against their own issuers and audiences.
func NewGate(cfg GateConfig, tokens, push TokenVerifier, logger *zap.Logger) *Gate {
	if len(cfg.TenantClaims) == 0 {
		cfg.TenantClaims = []string{"tenant", "tenants"}
	}
	return &Gate{cfg: cfg, tokens: tokens, push: push, logger: observability.NewLogger(logger)}
}

// Authenticate verifies the bearer token and, when tenant is non-empty,
// authorizes the principal for it.
func (g *Gate) Authenticate(r *http.Request, tenant string) (AuthResult, error) {
	if !g.cfg.Enabled {
		return Unauthenticated{}, nil
	}
	principal, err := g.verify(r, g.tokens)
	if err != nil {
		return nil, err
	}
	result := Authenticated{Principal: principal}
	if err := g.AuthorizeTenant(result, tenant); err != nil {
		return nil, err
	}
	return result, nil
}

// AuthenticatePush admits a push callback
func (g *Gate) AuthenticatePush(r *http.Request) (AuthResult, error) {
	if !g.cfg.PushEnabled {
		if g.cfg.AllowUnauthenticatedPush {
			return Unauthenticated{}, nil
		}
		return nil, services.NewAuthenticationError("Push authentication required", nil)
	}
	principal, err := g.verify(r, g.push)
	if err != nil {
		return nil, err
	}

	if verified, ok := principal.Claims["email_verified"].(bool); ok && !verified {
		return nil, services.NewAuthorizationError("Forbidden: push identity email not verified")
	}
	email, _ := principal.Claims["email"].(string)
	email = strings.TrimSpace(email)
	if len(g.cfg.PushServiceAccounts) > 0 && !containsString(g.cfg.PushServiceAccounts, email) {
		return nil, services.NewAuthorizationError("Forbidden: push identity not allowed").
			WithDetail("email", email)
	}
	return Authenticated{Principal: principal}, nil
}

// AuthenticateAdmin requires the admin key on top of a valid principal
func (g *Gate) AuthenticateAdmin(r *http.Request) (AuthResult, error) {
	if g.cfg.AdminAPIKey == "" {
		return nil, services.NewNotConfiguredError("ADMIN_API_KEY is not configured")
	}
	result, err := g.Authenticate(r, "")
	if err != nil {
		return nil, err
	}
	provided := r.Header.Get(AdminKeyHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(g.cfg.AdminAPIKey)) != 1 {
		return nil, services.NewAuthorizationError("Forbidden")
	}
	return result, nil
}

// AuthorizeTenant checks the principal's tenant claims against tenant. An
// Unauthenticated result and an empty tenant always pass.
func (g *Gate) AuthorizeTenant(result AuthResult, tenant string) error {
	principal, ok := PrincipalOf(result)
	if !ok || tenant == "" {
		return nil
	}
	allowed := TenantValues(principal.Claims, g.cfg.TenantClaims)
	if len(allowed) == 0 {
		if g.cfg.RequireTenantClaim {
			return services.NewAuthorizationError("Forbidden: tenant claim missing")
		}
		return nil
	}
	if _, ok := allowed["*"]; ok {
		return nil
	}
	if _, ok := allowed[tenant]; !ok {
		return services.NewAuthorizationError("Forbidden: tenant mismatch").WithDetail("tenant", tenant)
	}
	return nil
}

func (g *Gate) verify(r *http.Request, verifier TokenVerifier) (Principal, error) {
	token := bearerToken(r)
	if token == "" {
		return Principal{}, services.NewAuthenticationError("Missing bearer token", nil)
	}
	if verifier == nil {
		return Principal{}, services.NewNotConfiguredError("token verification is not configured")
	}

	claims, err := verifier.Verify(r.Context(), token)
	if err != nil {
		return Principal{}, classify(err)
	}

	subject, _ := claims["sub"].(string)
	issuer, _ := claims["iss"].(string)
	principal := Principal{
		Subject:   strings.TrimSpace(subject),
		Issuer:    issuer,
		Audiences: jwtauth.NormalizeAudience(claims["aud"]),
		Claims:    claims,
	}
	if principal.Subject == "" {
		return Principal{}, services.NewAuthenticationError("Invalid token: missing sub", nil)
	}
	return principal, nil
}

// classify turns verifier failures into domain errors. Key and configuration
// problems are the server's fault and must not read as bad credentials.
func classify(err error) error {
	switch {
	case errors.Is(err, jwtauth.ErrKeyUnavailable):
		return services.WrapUpstream("Signing keys unavailable", err)
	case errors.Is(err, jwtauth.ErrNotConfigured):
		return services.NewDomainError(services.ErrorTypeNotConfigured, "Token verification is not configured", err)
	default:
		return services.NewAuthenticationError(err.Error(), nil)
	}
}

// TenantValues collects the tenants granted by the named claims. Each claim
// may hold a string or a list of strings.
func TenantValues(claims jwt.MapClaims, names []string) map[string]struct{} {
	values := make(map[string]struct{})
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			values[s] = struct{}{}
		}
	}
	for _, name := range names {
		switch raw := claims[name].(type) {
		case string:
			add(raw)
		case []interface{}:
			for _, item := range raw {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case []string:
			for _, s := range raw {
				add(s)
			}
		}
	}
	return values
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
