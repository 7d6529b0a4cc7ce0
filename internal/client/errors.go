package client

import (
	"errors"
	"fmt"
	"net/http"

	"capitania.club/internal/identity"
	"capitania.club/internal/member"
	"capitania.club/internal/members"
	"capitania.club/internal/policy"
)

// ErrPasswordChangeRequired is returned while the session is held at the
// password gate.
var ErrPasswordChangeRequired = errors.New("client: password change required")

// ErrNoSession means the call needs a signed-in session.
var ErrNoSession = errors.New("client: not signed in")

// APIError is a non-2xx response. It unwraps to the domain error matching
// the status so callers can use errors.Is.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return identity.ErrAuthFailure
	case http.StatusForbidden:
		if e.Code == "password_change_required" {
			return ErrPasswordChangeRequired
		}
		return policy.ErrPermissionDenied
	case http.StatusNotFound:
		return member.ErrNotFound
	case http.StatusConflict:
		return member.ErrConflict
	case http.StatusBadRequest:
		return member.ErrInvalidInput
	case http.StatusUnprocessableEntity:
		return members.ErrMutationFailure
	default:
		return nil
	}
}

// Denial returns the policy code carried by a 403, if any.
func (e *APIError) Denial() (policy.Code, bool) {
	if e.Status != http.StatusForbidden || e.Code == "" || e.Code == "password_change_required" {
		return "", false
	}
	return policy.Code(e.Code), true
}
