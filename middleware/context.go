package middleware

import (
	"context"
)

type contextKey string

const authResultKey contextKey = "auth_result"

// WithAuthResult stores the gate's verdict in the context
func WithAuthResult(ctx context.Context, result AuthResult) context.Context {
	return context.WithValue(ctx, authResultKey, result)
}

// GetAuthResult returns the stored verdict, or nil when no gate ran
func GetAuthResult(ctx context.Context) AuthResult {
	result, _ := ctx.Value(authResultKey).(AuthResult)
	return result
}

// GetPrincipal returns the authenticated principal, if any
func GetPrincipal(ctx context.Context) (Principal, bool) {
	return PrincipalOf(GetAuthResult(ctx))
}

// ActorFromContext names the caller for activity records: the principal's
// email when present, else its subject. Empty when unauthenticated.
func ActorFromContext(ctx context.Context) string {
	principal, ok := GetPrincipal(ctx)
	if !ok {
		return ""
	}
	if email, _ := principal.Claims["email"].(string); email != "" {
		return email
	}
	return principal.Subject
}
