package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Credentials() CredentialStore
	Attempts() AttemptStore
	Sessions() SessionStore
	Rules() RuleStore
	ResetCodes() ResetCodeStore
}

// UserStore manages member accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// ListWithCredential returns active users holding a credential for the
	// given provider (kiosk user picker).
	ListWithCredential(ctx context.Context, provider string) ([]*User, error)
	SetFirstLoginRequired(ctx context.Context, userID string, required bool) error
}

// CredentialStore manages derived secrets, one row per (user, provider).
type CredentialStore interface {
	Upsert(ctx context.Context, c *Credential) error
	Find(ctx context.Context, userID, provider string) (*Credential, error)
}

// AttemptStore is the append-only login attempt history behind LockoutGuard.
type AttemptStore interface {
	Append(ctx context.Context, a *LoginAttempt) error
	// CountFailedSince counts failed attempts for the user strictly after the
	// cutoff, and reports the most recent failure time.
	CountFailedSince(ctx context.Context, userID string, cutoff time.Time) (count int, latest time.Time, err error)
	DeleteFailed(ctx context.Context, userID string) error
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionStore persists sessions keyed by sid.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, sid string) (*Session, error)
	Delete(ctx context.Context, sid string) error
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RuleStore reads the permission rule table wholesale.
type RuleStore interface {
	ListAll(ctx context.Context) ([]PermissionRule, error)
}

// ResetCodeStore keeps at most one pending reset code per user.
type ResetCodeStore interface {
	Upsert(ctx context.Context, rc *ResetCode) error
	Find(ctx context.Context, userID string) (*ResetCode, error)
	IncrementAttempts(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error
}
