package member

import "context"

// NewMember is the input of Store.CreateMember. The profile and its
// credentials are created together.
type NewMember struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Metadata
}

// Store persists profiles, credentials and check-ins.
type Store interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	FindByEmail(ctx context.Context, email string) (Profile, error)
	FindByCPF(ctx context.Context, cpf string) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	UpdateProfile(ctx context.Context, id string, upd Update) (Profile, error)
	DeleteProfile(ctx context.Context, id string) error

	CreateMember(ctx context.Context, m NewMember) (Profile, error)
	PasswordHash(ctx context.Context, id string) (string, error)
	// CompletePasswordChange stores hash and clears the forced change flag
	// together. When the profile is gone it returns ErrNotFound and writes
	// nothing.
	CompletePasswordChange(ctx context.Context, id, hash string) (Profile, error)

	CreateCheckin(ctx context.Context, profileID string) (Checkin, error)
	ListCheckins(ctx context.Context, profileID string, limit int) ([]Checkin, error)

	Ping(ctx context.Context) error
}
