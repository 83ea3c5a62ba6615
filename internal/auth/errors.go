package auth

import "errors"

var (
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")

	// ErrInvalidCredentials covers both a wrong secret and an unresolvable
	// identity, deliberately indistinguishable to avoid account enumeration.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked is returned while the failed-attempt window holds the
	// account shut. Callers surface LockoutStatus.RetryAfter alongside it.
	ErrAccountLocked = errors.New("auth: account locked")

	// ErrKioskLocalOnly rejects PIN flows reaching us from outside the local
	// network.
	ErrKioskLocalOnly = errors.New("auth: kiosk login is local-network only")

	// ErrInvalidOrExpiredCode is returned for a wrong reset code and for an
	// expired one alike; the distinction is not leaked.
	ErrInvalidOrExpiredCode = errors.New("auth: invalid or expired code")

	ErrAuthRequired     = errors.New("auth: authentication required")
	ErrSessionExpired   = errors.New("auth: session expired")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrNotImpersonating = errors.New("auth: current session is not impersonating")
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
