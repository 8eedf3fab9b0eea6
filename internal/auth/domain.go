package auth

import "time"

// Role is the closed set of panel roles.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleStaff         Role = "staff"
	RoleProfessional  Role = "professional"
)

// Valid reports whether the role belongs to the known set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleStaff, RoleProfessional:
		return true
	}
	return false
}

// User aggregates the credential identity with its panel profile.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            Role      `json:"role"`
	Avatar          string    `json:"avatar,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastLoginAt     time.Time `json:"last_login_at"`
	IsActive        bool      `json:"is_active"`
	PrivacyConsents []string  `json:"privacy_consents"`
}

// Clone returns a deep copy so callers cannot mutate the live snapshot.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.PrivacyConsents != nil {
		cp.PrivacyConsents = append([]string(nil), u.PrivacyConsents...)
	}
	return &cp
}

// Session pairs a user snapshot with its time-bounded token grant.
type Session struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidAt reports whether the session is still usable at now, applying the
// refresh threshold so callers renew tokens before they actually lapse.
func (s *Session) ValidAt(now time.Time, threshold time.Duration) bool {
	if s == nil {
		return false
	}
	return s.ExpiresAt.After(now.Add(threshold))
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.User = *s.User.Clone()
	return &cp
}

// ProfilePatch carries the user-editable profile fields. Nil fields are left
// untouched. GrantConsents entries are unioned into the existing consent set;
// consents are never revoked through this module.
type ProfilePatch struct {
	Name          *string  `json:"name,omitempty"`
	Avatar        *string  `json:"avatar,omitempty"`
	GrantConsents []string `json:"grant_consents,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Avatar == nil && len(p.GrantConsents) == 0
}
