package auth

import "time"

// Credential providers.
const (
	ProviderPassword = "password"
	ProviderKioskPIN = "kiosk_pin"
)

// Built-in roles. Anything else is deny-by-absence until rules are loaded.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleKiosk  = "kiosk"
)

// User account statuses.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a household member account.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Role               string    `json:"role"`
	Status             string    `json:"status"`
	FirstLoginRequired bool      `json:"first_login_required"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Credential stores a derived secret for one (user, provider) pair.
// At most one row exists per pair; writes are upserts.
type Credential struct {
	UserID    string
	Provider  string
	Algo      string
	Salt      []byte
	Hash      []byte
	UpdatedAt time.Time
}

// LoginAttempt is one append-only row in the attempt history.
type LoginAttempt struct {
	ID          string
	UserID      string
	IP          string
	Success     bool
	AttemptedAt time.Time
}

// Session is server-side login state addressed by an opaque sid cookie.
// ImpersonatedBy, when non-empty, means UserID is the impersonated user and
// ImpersonatedBy holds the admin who started it.
type Session struct {
	SID            string    `json:"-"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsKiosk        bool      `json:"is_kiosk"`
	ImpersonatedBy string    `json:"impersonated_by,omitempty"`
	ClientIP       string    `json:"client_ip,omitempty"`
}

// Impersonated reports whether this session was started by an admin on behalf
// of another user.
func (s Session) Impersonated() bool { return s.ImpersonatedBy != "" }

// Rule effects.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// PermissionRule grants or denies an action pattern to a role. Rules for one
// role form an ordered list; first match wins.
type PermissionRule struct {
	Role          string `json:"role"`
	ActionPattern string `json:"action_pattern"`
	Effect        string `json:"effect"`
	LocalOnly     bool   `json:"local_only"`
}

// ResetCode is a pending password-reset code, stored hashed. One active row
// per user; consumed on successful reset.
type ResetCode struct {
	UserID    string
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
}
