// Package policy decides which member-management actions an actor may take
// on a target member. It performs no I/O and keeps no state between calls.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"capitania.club/internal/member"
)

var (
	ErrInvalidAction    = errors.New("policy: invalid action")
	ErrMissingTarget    = errors.New("policy: missing target")
	ErrMissingActor     = errors.New("policy: missing actor")
	ErrPermissionDenied = errors.New("policy: permission denied")
)

// Action identifies a member-management operation.
type Action string

const (
	ActionToggleActiveStatus   Action = "toggle_active_status"
	ActionChangeRole           Action = "change_role"
	ActionRemoveMember         Action = "remove_member"
	ActionViewManagementScreen Action = "view_management_screen"
)

// ParseAction maps a wire name to an Action.
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.TrimSpace(strings.ToLower(raw))); a {
	case ActionToggleActiveStatus, ActionChangeRole, ActionRemoveMember, ActionViewManagementScreen:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

func (a Action) needsTarget() bool {
	return a != ActionViewManagementScreen
}

// Code classifies a decision so callers can branch without parsing reasons.
type Code string

const (
	CodeAllowed      Code = "allowed"
	CodeTargetMaster Code = "target_master"
	CodeSelf         Code = "self"
	CodeNotManager   Code = "not_manager"
	CodeNotMaster    Code = "not_master"
	CodeAdminTarget  Code = "admin_target"
	CodeInvalidRole  Code = "invalid_role"
)

var reasons = map[Code]string{
	CodeTargetMaster: "cannot alter a Master profile",
	CodeSelf:         "cannot act on your own account",
	CodeNotManager:   "only admins and the Master can manage members",
	CodeNotMaster:    "only the Master can change roles",
	CodeAdminTarget:  "an admin cannot remove another admin",
	CodeInvalidRole:  "role can only be changed to socio or admin",
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    Code   `json:"code"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true, Code: CodeAllowed} }

func deny(code Code) Decision {
	return Decision{Code: code, Reason: reasons[code]}
}

// Err converts a denial into a *DeniedError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Code: d.Code, Reason: d.Reason}
}

// DeniedError carries the code of a refused request. It matches
// ErrPermissionDenied under errors.Is.
type DeniedError struct {
	Code   Code
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPermissionDenied, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

// Context is read once at startup and never mutated.
type Context struct {
	// MasterEmail grants master standing to the matching account regardless
	// of its stored role. Empty disables the override.
	MasterEmail string
}

// Policy evaluates requests against an immutable Context.
type Policy struct {
	masterEmail string
}

// New builds a Policy.
func New(ctx Context) *Policy {
	return &Policy{masterEmail: strings.TrimSpace(strings.ToLower(ctx.MasterEmail))}
}

// Request bundles the inputs of one evaluation.
type Request struct {
	Action  Action
	Actor   *member.Profile
	Target  *member.Profile
	NewRole member.Role
}

// IsMaster applies the role test and the break-glass e-mail test together.
func (p *Policy) IsMaster(profile member.Profile) bool {
	if profile.Role == member.RoleMaster {
		return true
	}
	if p.masterEmail == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(profile.Email), p.masterEmail)
}

// CanManage reports whether the actor may open the management screen.
func (p *Policy) CanManage(actor member.Profile) bool {
	return actor.Role == member.RoleAdmin || p.IsMaster(actor)
}

// Evaluate returns the decision for req. Errors are reserved for malformed
// requests; a refusal is a Decision with Allowed set to false.
func (p *Policy) Evaluate(req Request) (Decision, error) {
	switch req.Action {
	case ActionToggleActiveStatus, ActionChangeRole, ActionRemoveMember, ActionViewManagementScreen:
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}
	if req.Actor == nil {
		return Decision{}, ErrMissingActor
	}
	actor := *req.Actor
	if !req.Action.needsTarget() {
		if p.CanManage(actor) {
			return allow(), nil
		}
		return deny(CodeNotManager), nil
	}
	if req.Target == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrMissingTarget, req.Action)
	}
	target := *req.Target

	if p.IsMaster(target) {
		return deny(CodeTargetMaster), nil
	}
	if target.ID == actor.ID {
		return deny(CodeSelf), nil
	}

	switch req.Action {
	case ActionToggleActiveStatus:
		if !p.CanManage(actor) {
			return deny(CodeNotManager), nil
		}
		return allow(), nil
	case ActionChangeRole:
		if !p.IsMaster(actor) {
			return deny(CodeNotMaster), nil
		}
		if req.NewRole != member.RoleSocio && req.NewRole != member.RoleAdmin {
			return deny(CodeInvalidRole), nil
		}
		return allow(), nil
	default:
		if p.IsMaster(actor) {
			return allow(), nil
		}
		if actor.Role == member.RoleAdmin {
			if target.Role == member.RoleAdmin {
				return deny(CodeAdminTarget), nil
			}
			return allow(), nil
		}
		return deny(CodeNotManager), nil
	}
}

// Check evaluates an action that carries no role argument.
func (p *Policy) Check(action Action, actor, target member.Profile) (Decision, error) {
	return p.Evaluate(Request{Action: action, Actor: &actor, Target: &target})
}
