package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and by the server when no DSN
// is configured. One mutex guards everything; contention is irrelevant at
// household scale.
type MemStore struct {
	mu         sync.Mutex
	users      map[string]*User
	creds      map[string]*Credential // key: userID + "/" + provider
	attempts   []*LoginAttempt
	sessions   map[string]*Session
	rules      []PermissionRule
	resetCodes map[string]*ResetCode
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[string]*User),
		creds:      make(map[string]*Credential),
		sessions:   make(map[string]*Session),
		resetCodes: make(map[string]*ResetCode),
	}
}

// SetRules replaces the backing rule table (test and seed hook).
func (m *MemStore) SetRules(rules []PermissionRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]PermissionRule(nil), rules...)
}

func (m *MemStore) Users() UserStore             { return (*memUsers)(m) }
func (m *MemStore) Credentials() CredentialStore { return (*memCreds)(m) }
func (m *MemStore) Attempts() AttemptStore       { return (*memAttempts)(m) }
func (m *MemStore) Sessions() SessionStore       { return (*memSessions)(m) }
func (m *MemStore) Rules() RuleStore             { return (*memRules)(m) }
func (m *MemStore) ResetCodes() ResetCodeStore   { return (*memResetCodes)(m) }

// Users ---------------------------------------------------------------------

type memUsers MemStore

func (m *memUsers) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ListWithCredential(ctx context.Context, provider string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*User
	for _, u := range m.users {
		if u.Status != UserStatusActive {
			continue
		}
		if _, ok := m.creds[u.ID+"/"+provider]; !ok {
			continue
		}
		cp := *u
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *memUsers) SetFirstLoginRequired(ctx context.Context, userID string, required bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FirstLoginRequired = required
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// Credentials ---------------------------------------------------------------

type memCreds MemStore

func (m *memCreds) Upsert(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.creds[c.UserID+"/"+c.Provider] = &cp
	return nil
}

func (m *memCreds) Find(ctx context.Context, userID, provider string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID+"/"+provider]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Attempts ------------------------------------------------------------------

type memAttempts MemStore

func (m *memAttempts) Append(ctx context.Context, a *LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *memAttempts) CountFailedSince(ctx context.Context, userID string, cutoff time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int
	var latest time.Time
	for _, a := range m.attempts {
		if a.UserID != userID || a.Success || !a.AttemptedAt.After(cutoff) {
			continue
		}
		count++
		if a.AttemptedAt.After(latest) {
			latest = a.AttemptedAt
		}
	}
	return count, latest, nil
}

func (m *memAttempts) DeleteFailed(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.UserID == userID && !a.Success {
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return nil
}

func (m *memAttempts) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if !a.Success && a.AttemptedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return removed, nil
}

// Sessions ------------------------------------------------------------------

type memSessions MemStore

func (m *memSessions) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SID]; ok {
		return ErrConflict
	}
	cp := *s
	m.sessions[s.SID] = &cp
	return nil
}

func (m *memSessions) Find(ctx context.Context, sid string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Delete(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sid)
	return nil
}

func (m *memSessions) DeleteByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, sid)
		}
	}
	return nil
}

func (m *memSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for sid, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, sid)
			removed++
		}
	}
	return removed, nil
}

// Rules ---------------------------------------------------------------------

type memRules MemStore

func (m *memRules) ListAll(ctx context.Context) ([]PermissionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PermissionRule(nil), m.rules...), nil
}

// Reset codes ---------------------------------------------------------------

type memResetCodes MemStore

func (m *memResetCodes) Upsert(ctx context.Context, rc *ResetCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rc
	m.resetCodes[rc.UserID] = &cp
	return nil
}

func (m *memResetCodes) Find(ctx context.Context, userID string) (*ResetCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.resetCodes[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rc
	return &cp, nil
}

func (m *memResetCodes) IncrementAttempts(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.resetCodes[userID]
	if !ok {
		return ErrNotFound
	}
	rc.Attempts++
	return nil
}

func (m *memResetCodes) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resetCodes, userID)
	return nil
}
