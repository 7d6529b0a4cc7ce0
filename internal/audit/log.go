package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"capitania.club/internal/identity"
	"capitania.club/internal/ids"
	"capitania.club/internal/obs"
)

// Event names written by the service.
const (
	EventSignIn         = "auth.sign_in"
	EventSignInFailed   = "auth.sign_in_failed"
	EventSignOut        = "auth.sign_out"
	EventSignUp         = "auth.sign_up"
	EventPasswordChange = "auth.password_changed"
	EventMemberStatus   = "member.status_changed"
	EventMemberRole     = "member.role_changed"
	EventMemberRemoved  = "member.removed"
	EventMemberCreated  = "member.registered"
	EventPolicyDenied   = "member.action_denied"
	EventCheckin        = "member.checked_in"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	kv := []any{"type", "audit", "event", event, "audit_id", ids.New()}
	if rid := RequestIDFromContext(ctx); rid != "" {
		kv = append(kv, "request_id", rid)
	}
	if userID, ok := identity.UserIDFromContext(ctx); ok {
		kv = append(kv, "user_id", userID)
	}
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	kv = append(kv, "fields", copied)

	obs.Logger().Info("audit", kv...)
	return nil
}
