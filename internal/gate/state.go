// Package gate decides which screen stack a client shows, based on the
// authentication events emitted by the backend.
package gate

import (
	"errors"

	"capitania.club/internal/backend"
	"capitania.club/internal/member"
)

// ErrProfileFetch marks a resolution whose profile lookup failed.
var ErrProfileFetch = errors.New("gate: profile fetch failed")

// ErrNotPending is returned by PasswordChanged outside MustChangePassword.
var ErrNotPending = errors.New("gate: no password change pending")

// ErrClosed is returned once the gate has been shut down.
var ErrClosed = errors.New("gate: closed")

// State is the gate's current resolution.
type State string

const (
	StateLoading            State = "loading"
	StateUnauthenticated    State = "unauthenticated"
	StateMustChangePassword State = "must_change_password"
	StateAuthenticated      State = "authenticated"
)

// Steady reports whether s is one of the three resolved states.
func (s State) Steady() bool {
	return s == StateUnauthenticated || s == StateMustChangePassword || s == StateAuthenticated
}

// Stack describes the screens mounted for a state. Exactly one stack is
// mounted at a time.
type Stack struct {
	Name           string   `json:"name"`
	Screens        []string `json:"screens"`
	BackNavigation bool     `json:"back_navigation"`
}

// StackFor returns the screen stack mounted in s.
func StackFor(s State) Stack {
	switch s {
	case StateUnauthenticated:
		return Stack{Name: "auth", Screens: []string{"login", "register"}, BackNavigation: true}
	case StateMustChangePassword:
		return Stack{Name: "password_reset", Screens: []string{"reset_password"}}
	case StateAuthenticated:
		return Stack{Name: "app", Screens: []string{"home", "wallet", "members", "register_member", "reset_password"}, BackNavigation: true}
	default:
		return Stack{Name: "loading", Screens: []string{}}
	}
}

// Resolve maps a session and the outcome of its profile lookup to a steady
// state. A nil profile is treated like a failed lookup. Unless failOpen is
// set, an unknown password-change flag is resolved to MustChangePassword.
func Resolve(session *backend.Session, profile *member.Profile, fetchErr error, failOpen bool) State {
	if !session.Authenticated() {
		return StateUnauthenticated
	}
	if fetchErr != nil || profile == nil {
		if failOpen {
			return StateAuthenticated
		}
		return StateMustChangePassword
	}
	if profile.ForcePasswordChange {
		return StateMustChangePassword
	}
	return StateAuthenticated
}
