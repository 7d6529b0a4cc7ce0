// Package identity authenticates members: password sign-in by e-mail or
// CPF, sign-up, password changes and access tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	charmlog "github.com/charmbracelet/log"

	"capitania.club/internal/backend"
	"capitania.club/internal/member"
	"capitania.club/internal/obs"
)

// dummyHash is compared against when the account does not exist, so a miss
// costs about as much as a wrong password.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3Z2m6p8M6bWZ8Z1fQpNcVeu"

// Result is returned by a successful sign-in.
type Result struct {
	Session backend.Session `json:"session"`
	Profile member.Profile  `json:"profile"`
}

type Option func(*Service)

// WithBcryptCost overrides the hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(l *charmlog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

type Service struct {
	store  member.Store
	tokens *Tokens
	cost   int
	log    *charmlog.Logger
}

func NewService(store member.Store, tokens *Tokens, opts ...Option) *Service {
	s := &Service{store: store, tokens: tokens, log: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignInWithPassword verifies credentials and issues a session. Inactive
// members may sign in; the card shows their pending status.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		obs.ObserveSignIn(false)
		return Result{}, ErrAuthFailure
	}
	profile, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, member.ErrNotFound) {
		_ = VerifyPassword(dummyHash, password)
		obs.ObserveSignIn(false)
		return Result{}, ErrAuthFailure
	}
	if err != nil {
		return Result{}, err
	}
	return s.verifyAndIssue(ctx, profile, password)
}

// SignInWithCPF resolves the e-mail registered for cpf and signs in.
func (s *Service) SignInWithCPF(ctx context.Context, cpf, password string) (Result, error) {
	digits, err := member.ParseCPF(cpf)
	if err != nil {
		obs.ObserveSignIn(false)
		return Result{}, ErrCPFNotRegistered
	}
	profile, err := s.store.FindByCPF(ctx, digits)
	if errors.Is(err, member.ErrNotFound) {
		_ = VerifyPassword(dummyHash, password)
		obs.ObserveSignIn(false)
		return Result{}, ErrCPFNotRegistered
	}
	if err != nil {
		return Result{}, err
	}
	return s.verifyAndIssue(ctx, profile, password)
}

func (s *Service) verifyAndIssue(ctx context.Context, profile member.Profile, password string) (Result, error) {
	hash, err := s.store.PasswordHash(ctx, profile.ID)
	if errors.Is(err, member.ErrNotFound) {
		obs.ObserveSignIn(false)
		return Result{}, ErrAuthFailure
	}
	if err != nil {
		return Result{}, err
	}
	if err := VerifyPassword(hash, password); err != nil {
		obs.ObserveSignIn(false)
		return Result{}, ErrAuthFailure
	}
	session, err := s.issue(profile)
	if err != nil {
		return Result{}, err
	}
	obs.ObserveSignIn(true)
	s.log.Info("identity: signed in", "user_id", profile.ID, "role", profile.Role)
	return Result{Session: session, Profile: profile}, nil
}

func (s *Service) issue(profile member.Profile) (backend.Session, error) {
	token, expires, err := s.tokens.Issue(profile.ID, profile.Role)
	if err != nil {
		return backend.Session{}, err
	}
	return backend.Session{UserID: profile.ID, AccessToken: token, ExpiresAt: expires}, nil
}

// SignUp creates credentials and a profile. New accounts always start as
// socio; promotion goes through the management screen.
func (s *Service) SignUp(ctx context.Context, email, password string, meta member.Metadata) (member.Profile, error) {
	email, err := member.NormalizeEmail(email)
	if err != nil {
		return member.Profile{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return member.Profile{}, err
	}
	meta.FullName = strings.TrimSpace(meta.FullName)
	if meta.FullName == "" {
		return member.Profile{}, fmt.Errorf("%w: full_name is required", member.ErrInvalidInput)
	}
	if meta.CPF, err = member.ParseCPF(meta.CPF); err != nil {
		return member.Profile{}, err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return member.Profile{}, err
	}
	profile, err := s.store.CreateMember(ctx, member.NewMember{
		Email:        email,
		PasswordHash: hash,
		Role:         member.RoleSocio,
		Metadata:     meta,
	})
	if err != nil {
		return member.Profile{}, err
	}
	s.log.Info("identity: signed up", "user_id", profile.ID, "active", profile.IsActive, "force_password_change", profile.ForcePasswordChange)
	return profile, nil
}

// CompletePasswordChange sets a new password and clears the forced change
// flag in one store operation.
func (s *Service) CompletePasswordChange(ctx context.Context, userID, newPassword string) (member.Profile, error) {
	if err := ValidatePassword(newPassword); err != nil {
		return member.Profile{}, err
	}
	hash, err := HashPassword(newPassword, s.cost)
	if err != nil {
		return member.Profile{}, err
	}
	return s.store.CompletePasswordChange(ctx, userID, hash)
}

// Authenticate turns a bearer token into a session.
func (s *Service) Authenticate(token string) (backend.Session, *Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return backend.Session{}, nil, err
	}
	return backend.Session{
		UserID:      claims.Subject,
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, claims, nil
}
