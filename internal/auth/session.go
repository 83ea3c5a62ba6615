package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Session TTL defaults. Kiosk sessions are deliberately short so a compromised
// wall tablet has a bounded exposure window.
const (
	DefaultSessionTTL      = 30 * 24 * time.Hour
	DefaultKioskSessionTTL = 4 * time.Hour
)

// SessionManager creates, reads, and destroys sessions against an injected
// session store.
type SessionManager struct {
	store    SessionStore
	ttl      time.Duration
	kioskTTL time.Duration
	now      func() time.Time
}

// NewSessionManager constructs a manager. Non-positive TTLs fall back to the
// defaults.
func NewSessionManager(store SessionStore, ttl, kioskTTL time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if kioskTTL <= 0 {
		kioskTTL = DefaultKioskSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, kioskTTL: kioskTTL, now: time.Now}
}

// NewSessionParams carries everything needed to issue a session.
type NewSessionParams struct {
	UserID         string
	Role           string
	IsKiosk        bool
	ImpersonatedBy string
	ClientIP       string
}

// Create allocates an unpredictable sid, persists the row, and returns it.
// Kiosk sessions get the shorter TTL regardless of the regular setting.
func (m *SessionManager) Create(ctx context.Context, p NewSessionParams) (*Session, error) {
	if p.UserID == "" || p.Role == "" {
		return nil, fmt.Errorf("%w: user_id and role are required", ErrInvalidInput)
	}
	sid, err := newSID()
	if err != nil {
		return nil, err
	}
	ttl := m.ttl
	if p.IsKiosk {
		ttl = m.kioskTTL
	}
	now := m.now().UTC()
	s := &Session{
		SID:            sid,
		UserID:         p.UserID,
		Role:           p.Role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		IsKiosk:        p.IsKiosk,
		ImpersonatedBy: p.ImpersonatedBy,
		ClientIP:       p.ClientIP,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return s, nil
}

// Get returns the session or nil when it is unknown or already expired.
// Expiry is enforced lazily here; the background sweep is storage hygiene only.
func (m *SessionManager) Get(ctx context.Context, sid string) (*Session, error) {
	if sid == "" {
		return nil, nil
	}
	s, err := m.store.Find(ctx, sid)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !s.ExpiresAt.After(m.now().UTC()) {
		// Expired rows are removed opportunistically on read.
		_ = m.store.Delete(ctx, sid)
		return nil, nil
	}
	return s, nil
}

// Destroy deletes the session row. Destroying an unknown sid is not an error.
func (m *SessionManager) Destroy(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	err := m.store.Delete(ctx, sid)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// DestroyAllForUser invalidates every session held by the user (forced global
// logout after a password reset).
func (m *SessionManager) DestroyAllForUser(ctx context.Context, userID string) error {
	return m.store.DeleteByUser(ctx, userID)
}

// Sweep removes expired rows. Correctness never depends on it.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now().UTC())
}

// newSID returns 32 bytes of crypto/rand entropy, URL-safe encoded.
func newSID() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate sid: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
