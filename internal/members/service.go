// Package members runs the member-management operations behind the
// authorization policy: listing, activation, role changes, removal,
// registration by staff and the forced password change.
package members

import (
	"context"
	"errors"
	"fmt"
	"strings"

	charmlog "github.com/charmbracelet/log"

	"capitania.club/internal/audit"
	"capitania.club/internal/identity"
	"capitania.club/internal/member"
	"capitania.club/internal/obs"
	"capitania.club/internal/policy"
)

var (
	// ErrPermissionDenied is the policy's refusal, returned unchanged.
	ErrPermissionDenied = policy.ErrPermissionDenied
	// ErrMutationFailure means the store rejected a write.
	ErrMutationFailure = errors.New("members: mutation rejected")
)

// Accounts is the slice of the identity service used here.
type Accounts interface {
	SignUp(ctx context.Context, email, password string, meta member.Metadata) (member.Profile, error)
	CompletePasswordChange(ctx context.Context, userID, newPassword string) (member.Profile, error)
}

type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *charmlog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

type Service struct {
	store        member.Store
	accounts     Accounts
	policy       *policy.Policy
	tempPassword string
	log          *charmlog.Logger
}

// NewService wires the store, the identity service and the policy.
// tempPassword is assigned to members registered by staff.
func NewService(store member.Store, accounts Accounts, pol *policy.Policy, tempPassword string, opts ...Option) *Service {
	s := &Service{
		store:        store,
		accounts:     accounts,
		policy:       pol,
		tempPassword: tempPassword,
		log:          obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy exposes the policy the service evaluates against.
func (s *Service) Policy() *policy.Policy { return s.policy }

// authorize evaluates req, records the decision and converts a refusal into
// an error.
func (s *Service) authorize(ctx context.Context, req policy.Request) error {
	d, err := s.policy.Evaluate(req)
	if err != nil {
		return err
	}
	obs.ObservePolicyDecision(string(req.Action), string(d.Code))
	if d.Allowed {
		return nil
	}
	fields := map[string]any{"action": req.Action, "code": d.Code}
	if req.Target != nil {
		fields["target_id"] = req.Target.ID
	}
	_ = audit.LogEvent(ctx, audit.EventPolicyDenied, fields)
	return d.Err()
}

func (s *Service) target(ctx context.Context, id string) (member.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return member.Profile{}, policy.ErrMissingTarget
	}
	return s.store.GetProfile(ctx, id)
}

func mutationError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, member.ErrNotFound) || errors.Is(err, member.ErrInvalidInput) || errors.Is(err, member.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMutationFailure, err)
}

// List returns the members matching search, ordered by name. Only actors
// who may open the management screen can list.
func (s *Service) List(ctx context.Context, actor member.Profile, search string) ([]member.Profile, error) {
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionViewManagementScreen, Actor: &actor}); err != nil {
		return nil, err
	}
	all, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]member.Profile, 0, len(all))
	for _, p := range all {
		if p.MatchesSearch(search) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get returns a profile to its owner or to staff.
func (s *Service) Get(ctx context.Context, actor member.Profile, id string) (member.Profile, error) {
	if id == actor.ID {
		return s.store.GetProfile(ctx, id)
	}
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionViewManagementScreen, Actor: &actor}); err != nil {
		return member.Profile{}, err
	}
	return s.target(ctx, id)
}

// Options lists what the management modal may offer for targetID.
func (s *Service) Options(ctx context.Context, actor member.Profile, targetID string) (policy.Menu, error) {
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionViewManagementScreen, Actor: &actor}); err != nil {
		return policy.Menu{}, err
	}
	target, err := s.target(ctx, targetID)
	if err != nil {
		return policy.Menu{}, err
	}
	return s.policy.Options(&actor, &target)
}

// ToggleStatus flips the target's active flag.
func (s *Service) ToggleStatus(ctx context.Context, actor member.Profile, targetID string) (member.Profile, error) {
	target, err := s.target(ctx, targetID)
	if err != nil {
		return member.Profile{}, err
	}
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionToggleActiveStatus, Actor: &actor, Target: &target}); err != nil {
		return member.Profile{}, err
	}
	active := !target.IsActive
	updated, err := s.store.UpdateProfile(ctx, target.ID, member.Update{IsActive: &active})
	if err != nil {
		return member.Profile{}, mutationError(err)
	}
	_ = audit.LogEvent(ctx, audit.EventMemberStatus, map[string]any{"target_id": target.ID, "is_active": active})
	return updated, nil
}

// ChangeRole promotes or demotes the target.
func (s *Service) ChangeRole(ctx context.Context, actor member.Profile, targetID string, newRole member.Role) (member.Profile, error) {
	target, err := s.target(ctx, targetID)
	if err != nil {
		return member.Profile{}, err
	}
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionChangeRole, Actor: &actor, Target: &target, NewRole: newRole}); err != nil {
		return member.Profile{}, err
	}
	updated, err := s.store.UpdateProfile(ctx, target.ID, member.Update{Role: &newRole})
	if err != nil {
		return member.Profile{}, mutationError(err)
	}
	_ = audit.LogEvent(ctx, audit.EventMemberRole, map[string]any{"target_id": target.ID, "from": target.Role, "to": newRole})
	return updated, nil
}

// Remove deletes the target's profile.
func (s *Service) Remove(ctx context.Context, actor member.Profile, targetID string) error {
	target, err := s.target(ctx, targetID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionRemoveMember, Actor: &actor, Target: &target}); err != nil {
		return err
	}
	if err := s.store.DeleteProfile(ctx, target.ID); err != nil {
		return mutationError(err)
	}
	_ = audit.LogEvent(ctx, audit.EventMemberRemoved, map[string]any{"target_id": target.ID, "email": target.Email})
	return nil
}

// Apply performs a partial update, authorizing each field separately. An
// owner may rename themselves; everything else follows the management
// rules. Clearing the password-change flag of one's own account is only
// possible through CompletePasswordChange.
func (s *Service) Apply(ctx context.Context, actor member.Profile, targetID string, upd member.Update) (member.Profile, error) {
	if err := upd.Normalize(); err != nil {
		return member.Profile{}, err
	}
	target, err := s.target(ctx, targetID)
	if err != nil {
		return member.Profile{}, err
	}
	if upd.Empty() {
		return s.Get(ctx, actor, target.ID)
	}
	self := target.ID == actor.ID
	if upd.Role != nil {
		if err := s.authorize(ctx, policy.Request{Action: policy.ActionChangeRole, Actor: &actor, Target: &target, NewRole: *upd.Role}); err != nil {
			return member.Profile{}, err
		}
	}
	if upd.IsActive != nil || upd.ForcePasswordChange != nil || (upd.FullName != nil && !self) {
		if err := s.authorize(ctx, policy.Request{Action: policy.ActionToggleActiveStatus, Actor: &actor, Target: &target}); err != nil {
			return member.Profile{}, err
		}
	}
	updated, err := s.store.UpdateProfile(ctx, target.ID, upd)
	if err != nil {
		return member.Profile{}, mutationError(err)
	}
	return updated, nil
}

// RegisterInput carries the staff registration form.
type RegisterInput struct {
	FullName string `json:"full_name"`
	CPF      string `json:"cpf"`
	Email    string `json:"email"`
}

// Register creates an active member with the temporary password and a
// forced password change on first access.
func (s *Service) Register(ctx context.Context, actor member.Profile, in RegisterInput) (member.Profile, error) {
	if err := s.authorize(ctx, policy.Request{Action: policy.ActionViewManagementScreen, Actor: &actor}); err != nil {
		return member.Profile{}, err
	}
	p, err := s.accounts.SignUp(ctx, in.Email, s.tempPassword, member.Metadata{
		FullName:            in.FullName,
		CPF:                 in.CPF,
		IsActive:            true,
		ForcePasswordChange: true,
	})
	if err != nil {
		return member.Profile{}, mutationError(err)
	}
	_ = audit.LogEvent(ctx, audit.EventMemberCreated, map[string]any{"target_id": p.ID, "email": p.Email})
	s.log.Info("members: registered", "target_id", p.ID, "by", actor.ID)
	return p, nil
}

// CompletePasswordChange stores the new password and clears the forced
// change flag together. A member whose profile is gone gets a mutation
// failure and keeps the old password.
func (s *Service) CompletePasswordChange(ctx context.Context, userID, password, confirm string) (member.Profile, error) {
	if err := identity.ValidatePasswordChange(password, confirm); err != nil {
		return member.Profile{}, err
	}
	p, err := s.accounts.CompletePasswordChange(ctx, userID, password)
	if errors.Is(err, member.ErrNotFound) {
		return member.Profile{}, fmt.Errorf("%w: password-change flag not updated", ErrMutationFailure)
	}
	if err != nil {
		return member.Profile{}, mutationError(err)
	}
	_ = audit.LogEvent(ctx, audit.EventPasswordChange, map[string]any{"target_id": userID})
	return p, nil
}

// CheckIn records the member's presence at the club.
func (s *Service) CheckIn(ctx context.Context, actor member.Profile) (member.Checkin, error) {
	c, err := s.store.CreateCheckin(ctx, actor.ID)
	if err != nil {
		return member.Checkin{}, mutationError(err)
	}
	_ = audit.LogEvent(ctx, audit.EventCheckin, map[string]any{"checkin_id": c.ID})
	return c, nil
}

// Checkins lists the member's most recent check-ins.
func (s *Service) Checkins(ctx context.Context, actor member.Profile, limit int) ([]member.Checkin, error) {
	return s.store.ListCheckins(ctx, actor.ID, limit)
}
