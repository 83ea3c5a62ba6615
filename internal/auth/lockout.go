package auth

import (
	"context"
	"time"

	"hearthhub.org/internal/ids"
	"hearthhub.org/internal/obs"
)

// Lockout defaults; both are configuration, carried here only as fallbacks.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 15 * time.Minute
	DefaultAttemptRetention = 24 * time.Hour
)

// LockoutStatus is the result of a lockout check.
type LockoutStatus struct {
	Locked            bool      `json:"locked"`
	FailedAttempts    int       `json:"failed_attempts"`
	RemainingAttempts int       `json:"remaining_attempts"`
	ExpiresAt         time.Time `json:"expires_at,omitzero"`
}

// RetryAfter returns the time left until the lock expires, zero when unlocked.
func (s LockoutStatus) RetryAfter(now time.Time) time.Duration {
	if !s.Locked || !s.ExpiresAt.After(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// LockoutGuard computes lock state from a sliding window of recorded attempts.
//
// When the attempt store itself is unavailable the guard fails open: Check
// reports not-locked, Record and Clear log and continue. Availability is
// chosen over strict brute-force protection for a degraded history store;
// the lockout is a deterrent, not a hard boundary.
type LockoutGuard struct {
	attempts  AttemptStore
	threshold int
	window    time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewLockoutGuard constructs a guard with the given policy. Non-positive
// values fall back to the defaults.
func NewLockoutGuard(attempts AttemptStore, threshold int, window time.Duration) *LockoutGuard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if window <= 0 {
		window = DefaultLockoutWindow
	}
	return &LockoutGuard{
		attempts:  attempts,
		threshold: threshold,
		window:    window,
		retention: DefaultAttemptRetention,
		now:       time.Now,
	}
}

// Check counts failed attempts inside the trailing window. The returned
// status never reports locked when the store errors (fail open).
func (g *LockoutGuard) Check(ctx context.Context, userID string) LockoutStatus {
	now := g.now().UTC()
	count, latest, err := g.attempts.CountFailedSince(ctx, userID, now.Add(-g.window))
	if err != nil {
		obs.Warn("lockout check degraded, failing open", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return LockoutStatus{Locked: false, RemainingAttempts: g.threshold}
	}
	status := LockoutStatus{
		FailedAttempts:    count,
		RemainingAttempts: max(0, g.threshold-count),
	}
	if count >= g.threshold {
		status.Locked = true
		status.ExpiresAt = latest.Add(g.window)
	}
	return status
}

// Record appends one attempt row. A successful attempt also wipes all prior
// failures for the user, unlocking immediately without waiting out the window.
// Errors are logged, never surfaced; attempt bookkeeping must not fail a login.
func (g *LockoutGuard) Record(ctx context.Context, userID string, success bool, ip string) {
	err := g.attempts.Append(ctx, &LoginAttempt{
		ID:          ids.New(),
		UserID:      userID,
		IP:          ip,
		Success:     success,
		AttemptedAt: g.now().UTC(),
	})
	if err != nil {
		obs.Warn("login attempt not recorded", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return
	}
	if success {
		if err := g.attempts.DeleteFailed(ctx, userID); err != nil {
			obs.Warn("failed attempts not cleared after success", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}
}

// Clear wipes failed attempts unconditionally (used after a verified reset).
// Best-effort, same policy as Record.
func (g *LockoutGuard) Clear(ctx context.Context, userID string) {
	if err := g.attempts.DeleteFailed(ctx, userID); err != nil {
		obs.Warn("lockout clear failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

// Cleanup deletes failed attempts older than the retention horizon. Intended
// for a periodic scheduler, not the request path.
func (g *LockoutGuard) Cleanup(ctx context.Context) (int64, error) {
	return g.attempts.DeleteFailedBefore(ctx, g.now().UTC().Add(-g.retention))
}
