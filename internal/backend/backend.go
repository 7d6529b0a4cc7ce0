// Package backend describes the hosted identity and storage service the
// session core depends on.
package backend

import (
	"context"
	"time"

	"capitania.club/internal/member"
	"capitania.club/internal/stream"
)

// Session is the authentication state handed out by the identity service.
// A nil *Session means nobody is signed in.
type Session struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authenticated reports whether s carries a user.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// EventKind names an authentication notification.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventUserUpdated    EventKind = "USER_UPDATED"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// AuthEvent pairs a notification with the session current at that moment.
type AuthEvent struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session,omitempty"`
}

// ChangeKind is the type of a row mutation.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// TableProfiles is the table holding member profiles.
const TableProfiles = "profiles"

// TableCheckins is the table holding check-ins.
const TableCheckins = "checkins"

// Change notifies subscribers that a row in Table changed.
type Change struct {
	Table    string     `json:"table"`
	Kind     ChangeKind `json:"kind"`
	RecordID string     `json:"record_id"`
	At       time.Time  `json:"at"`
}

// Subscription is re-exported so implementations need not import stream.
type Subscription = stream.Subscription

// Auth is the identity half of the collaborator.
type Auth interface {
	GetCurrentSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(AuthEvent)) Subscription
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, meta member.Metadata) (member.Profile, error)
	SignOut(ctx context.Context) error
	UpdatePassword(ctx context.Context, newPassword string) error
}

// ProfileReader fetches one profile. Missing rows yield member.ErrNotFound.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (member.Profile, error)
}

// Profiles is the storage half of the collaborator.
type Profiles interface {
	ProfileReader
	UpdateProfile(ctx context.Context, id string, upd member.Update) (member.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
}

// Realtime delivers table change notifications.
type Realtime interface {
	SubscribeToTableChanges(table string, fn func(Change)) Subscription
}

// Client is the full collaborator surface.
type Client interface {
	Auth
	Profiles
	Realtime
}
