package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"capitania.club/internal/gate"
	"capitania.club/internal/identity"
	"capitania.club/internal/member"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

// pendingPaths stay reachable while a password change is pending.
var pendingPaths = []string{
	"/v1/me",
	"/v1/auth/password",
	"/v1/auth/logout",
}

// withAuth turns the bearer token into a principal and applies the session
// gate: a member who must change the password only reaches pendingPaths and
// their own profile.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.identity == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="capitania"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		session, _, err := a.identity.Authenticate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="capitania", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal := identity.Principal{Session: session}
		var profile *member.Profile
		p, fetchErr := a.profiles.GetProfile(r.Context(), session.UserID)
		if fetchErr == nil {
			profile = &p
			principal.Profile = p
		} else if !errors.Is(fetchErr, member.ErrNotFound) {
			a.log.Warn("httpapi: profile lookup failed", "user_id", session.UserID, "err", fetchErr)
		}
		principal.State = gate.Resolve(&session, profile, fetchErr, a.failOpen)

		if principal.State == gate.StateMustChangePassword && !pendingAllowed(r, session.UserID) {
			writeErrorCode(w, r, http.StatusForbidden, "password_change_required", "password change required")
			return
		}

		ctx := identity.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the caller. Handlers behind withAuth always have one.
func principal(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.Principal{}, false
	}
	return p, true
}

// actor returns the caller's profile, failing when it could not be loaded.
func actor(w http.ResponseWriter, r *http.Request) (member.Profile, bool) {
	p, ok := principal(w, r)
	if !ok {
		return member.Profile{}, false
	}
	if p.Profile.ID == "" {
		writeError(w, r, http.StatusNotFound, "profile not found")
		return member.Profile{}, false
	}
	return p.Profile, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func pendingAllowed(r *http.Request, userID string) bool {
	for _, p := range pendingPaths {
		if r.URL.Path == p {
			return true
		}
	}
	return r.Method == http.MethodGet && r.URL.Path == "/v1/profiles/"+userID
}
