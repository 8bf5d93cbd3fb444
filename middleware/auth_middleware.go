package middleware

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/services"
	"github.com/upb/decision-audit/backend/utils"
)

// RequireAuth authenticates the caller without a tenant check. Handlers call
// Gate.AuthorizeTenant once they know the tenant they are serving.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return g.wrap("auth", func(r *http.Request) (AuthResult, error) {
		return g.Authenticate(r, "")
	}, next)
}

// RequirePush admits push callbacks
func (g *Gate) RequirePush(next http.Handler) http.Handler {
	return g.wrap("push", g.AuthenticatePush, next)
}

// RequireAdmin admits callers holding the admin key
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return g.wrap("admin", g.AuthenticateAdmin, next)
}

// AuthorizeTenantRequest checks the verdict stored by RequireAuth against
// tenant and writes the rejection itself. It returns false when the handler
// must stop.
func (g *Gate) AuthorizeTenantRequest(w http.ResponseWriter, r *http.Request, tenant string) bool {
	err := g.AuthorizeTenant(GetAuthResult(r.Context()), tenant)
	if err == nil {
		return true
	}
	g.reject(w, r, "tenant", err)
	return false
}

func (g *Gate) wrap(path string, check func(*http.Request) (AuthResult, error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := check(r)
		if err != nil {
			g.reject(w, r, path, err)
			return
		}
		if principal, ok := PrincipalOf(result); ok {
			g.logger.Debug(r.Context(), "authentication successful",
				zap.String("path", path),
				zap.String("sub", principal.Subject))
		}
		next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), result)))
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, path string, err error) {
	status := services.HTTPStatus(err)
	fields := []zap.Field{
		zap.String("path", path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		g.logger.Error(r.Context(), "authentication unavailable", fields...)
	} else {
		g.logger.Warn(r.Context(), "authentication rejected", fields...)
	}

	var message string
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	_ = utils.WriteJSON(w, status, utils.ErrorResponse{
		Error:   string(services.GetErrorType(err)),
		Message: message,
		Details: services.GetErrorDetails(err),
	})
}
