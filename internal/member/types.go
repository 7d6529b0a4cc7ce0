package member

import (
	"strings"
	"time"
)

// Role is the club-level access tier of a member.
type Role string

const (
	RoleSocio  Role = "socio"
	RoleAdmin  Role = "admin"
	RoleMaster Role = "master"
)

// ParseRole normalizes raw input into a known role.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.TrimSpace(strings.ToLower(raw))); r {
	case RoleSocio, RoleAdmin, RoleMaster:
		return r, nil
	default:
		return "", ErrUnknownRole
	}
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	return r == RoleSocio || r == RoleAdmin || r == RoleMaster
}

// Label is the upper-case tag shown on the member card and listings.
func (r Role) Label() string {
	switch r {
	case RoleMaster:
		return "MASTER"
	case RoleAdmin:
		return "ADMINISTRADOR"
	default:
		return "SÓCIO"
	}
}

// Profile represents one club member.
type Profile struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FullName            string    `json:"full_name"`
	CPF                 string    `json:"cpf"`
	Role                Role      `json:"role"`
	IsActive            bool      `json:"is_active"`
	ForcePasswordChange bool      `json:"force_password_change"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// StatusLabel is ATIVO for active members and PENDENTE otherwise.
func (p Profile) StatusLabel() string {
	if p.IsActive {
		return "ATIVO"
	}
	return "PENDENTE"
}

// FirstName returns the first word of the full name.
func (p Profile) FirstName() string {
	fields := strings.Fields(p.FullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Update carries a partial profile mutation. Nil fields are left untouched.
type Update struct {
	FullName            *string `json:"full_name,omitempty"`
	Role                *Role   `json:"role,omitempty"`
	IsActive            *bool   `json:"is_active,omitempty"`
	ForcePasswordChange *bool   `json:"force_password_change,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.FullName == nil && u.Role == nil && u.IsActive == nil && u.ForcePasswordChange == nil
}

// Normalize trims and validates the update in place.
func (u *Update) Normalize() error {
	if u.FullName != nil {
		name := strings.TrimSpace(*u.FullName)
		if name == "" {
			return invalid("full_name is required")
		}
		u.FullName = &name
	}
	if u.Role != nil && !u.Role.Valid() {
		return ErrUnknownRole
	}
	return nil
}

// Metadata is supplied at sign-up and seeds the new profile.
type Metadata struct {
	FullName            string `json:"full_name"`
	CPF                 string `json:"cpf"`
	IsActive            bool   `json:"is_active"`
	ForcePasswordChange bool   `json:"force_password_change"`
}

// Checkin records a member's presence at the club.
type Checkin struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	At        time.Time `json:"at"`
}

// NormalizeEmail trims and lower-cases an e-mail address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(strings.ToLower(raw))
	if email == "" || !strings.Contains(email, "@") {
		return "", invalid("valid email is required")
	}
	return email, nil
}

// MatchesSearch reports whether the query is a case-insensitive substring of
// the full name or the e-mail.
func (p Profile) MatchesSearch(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.FullName), query) ||
		strings.Contains(strings.ToLower(p.Email), query)
}
