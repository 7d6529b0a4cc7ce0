package identity

import (
	"context"

	"capitania.club/internal/backend"
	"capitania.club/internal/gate"
	"capitania.club/internal/member"
)

// Principal is the caller of an authenticated request.
type Principal struct {
	Session backend.Session
	Profile member.Profile
	State   gate.State
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// UserIDFromContext returns the id of the authenticated caller, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Session.UserID == "" {
		return "", false
	}
	return p.Session.UserID, true
}
