package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hearthhub.org/internal/ids"
	"hearthhub.org/internal/mail"
	"hearthhub.org/internal/netguard"
	"hearthhub.org/internal/obs"
)

const (
	defaultResetCodeTTL    = 15 * time.Minute
	defaultResetCodeDigits = 6
	maxResetCodeAttempts   = 5

	onboardingTokenTTL = 15 * time.Minute
	onboardingIssuer   = "hearth"
	onboardingPurpose  = "onboarding"
)

// Service composes the vault, lockout guard, session manager, and permission
// cache into request-scoped auth workflows.
type Service struct {
	store    Store
	vault    *Vault
	lockout  *LockoutGuard
	sessions *SessionManager
	perms    *PermissionCache
	mailer   mail.Sender

	onboardingSecret []byte
	resetCodeTTL     time.Duration
	now              func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLockoutPolicy overrides the failed-attempt threshold and window.
func WithLockoutPolicy(threshold int, window time.Duration) ServiceOption {
	return func(s *Service) error {
		s.lockout = NewLockoutGuard(s.store.Attempts(), threshold, window)
		return nil
	}
}

// WithSessionTTLs overrides the regular and kiosk session lifetimes.
func WithSessionTTLs(ttl, kioskTTL time.Duration) ServiceOption {
	return func(s *Service) error {
		s.sessions = NewSessionManager(s.store.Sessions(), ttl, kioskTTL)
		return nil
	}
}

// WithMailer sets the out-of-band reset code delivery collaborator.
func WithMailer(m mail.Sender) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

// WithOnboardingSecret enables the first-login onboarding token flow (HS256).
func WithOnboardingSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) != "" {
			s.onboardingSecret = []byte(secret)
		}
		return nil
	}
}

// WithResetCodeTTL overrides the reset code lifetime.
func WithResetCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetCodeTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests). The lockout guard
// and session manager share it.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
			s.lockout.now = fn
			s.sessions.now = fn
			s.vault.now = fn
		}
		return nil
	}
}

// NewService constructs the orchestrator with default policies; options
// override them. Order matters: WithClock must come after policy options so
// the shared clock reaches the rebuilt components.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	s := &Service{
		store:        store,
		vault:        NewVault(store.Credentials()),
		lockout:      NewLockoutGuard(store.Attempts(), 0, 0),
		sessions:     NewSessionManager(store.Sessions(), 0, 0),
		perms:        NewPermissionCache(store.Rules()),
		mailer:       mail.LogSender{},
		resetCodeTTL: defaultResetCodeTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Permissions exposes the process-wide rule cache for the authz path.
func (s *Service) Permissions() *PermissionCache { return s.perms }

// Lockout exposes the guard for scheduled cleanup.
func (s *Service) Lockout() *LockoutGuard { return s.lockout }

// Sessions exposes the manager for scheduled sweeps.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// LoginResult is the outcome of a successful credential verification.
// Exactly one of Session or OnboardingToken is set: accounts flagged
// first-login-required get a short-lived token instead of a session.
type LoginResult struct {
	User            *User
	Session         *Session
	OnboardingToken string
}

// PasswordLogin verifies a password for a user resolved by id or email and
// issues a session.
func (s *Service) PasswordLogin(ctx context.Context, identifier, password, ip string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", ErrInvalidInput)
	}
	user, err := s.resolveUser(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != UserStatusActive {
		obs.LoginAttempts.WithLabelValues("password", "unknown_user").Inc()
		return nil, ErrInvalidCredentials
	}
	return s.verifyAndIssue(ctx, user, ProviderPassword, password, ip, false)
}

// PINLogin verifies a kiosk PIN. The local-network gate runs here in addition
// to the route middleware; both must pass independently.
func (s *Service) PINLogin(ctx context.Context, userID, pin, clientIP string) (*LoginResult, error) {
	if strings.TrimSpace(userID) == "" || pin == "" {
		return nil, fmt.Errorf("%w: user_id and pin are required", ErrInvalidInput)
	}
	if !netguard.IsLocal(clientIP) {
		return nil, ErrKioskLocalOnly
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			obs.LoginAttempts.WithLabelValues("pin", "unknown_user").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status != UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	return s.verifyAndIssue(ctx, user, ProviderKioskPIN, pin, clientIP, true)
}

// VerifyPIN confirms a kiosk PIN without issuing a session, with the same
// locality gate and lockout bookkeeping as a login.
func (s *Service) VerifyPIN(ctx context.Context, userID, pin, clientIP string) error {
	if strings.TrimSpace(userID) == "" || pin == "" {
		return fmt.Errorf("%w: user_id and pin are required", ErrInvalidInput)
	}
	if !netguard.IsLocal(clientIP) {
		return ErrKioskLocalOnly
	}
	if status := s.lockout.Check(ctx, userID); status.Locked {
		return lockedError(status)
	}
	ok, err := s.vault.VerifyCredential(ctx, userID, ProviderKioskPIN, pin)
	if err != nil {
		return fmt.Errorf("verify credential: %w", err)
	}
	s.lockout.Record(ctx, userID, ok, clientIP)
	if !ok {
		obs.LoginAttempts.WithLabelValues("pin", "failure").Inc()
		status := s.lockout.Check(ctx, userID)
		if status.Locked {
			obs.LockoutsTripped.Inc()
			return lockedError(status)
		}
		return &CredentialsError{Status: status}
	}
	return nil
}

// verifyAndIssue is the shared lockout/verify/record/session spine of both
// login flows.
func (s *Service) verifyAndIssue(ctx context.Context, user *User, provider, secret, ip string, kiosk bool) (*LoginResult, error) {
	method := "password"
	if provider == ProviderKioskPIN {
		method = "pin"
	}

	if status := s.lockout.Check(ctx, user.ID); status.Locked {
		obs.LoginAttempts.WithLabelValues(method, "locked").Inc()
		return nil, lockedError(status)
	}

	ok, err := s.vault.VerifyCredential(ctx, user.ID, provider, secret)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	if !ok {
		s.lockout.Record(ctx, user.ID, false, ip)
		obs.LoginAttempts.WithLabelValues(method, "failure").Inc()
		// Re-check so the caller learns whether this failure tripped the lock,
		// and how many attempts remain when it did not.
		status := s.lockout.Check(ctx, user.ID)
		if status.Locked {
			obs.LockoutsTripped.Inc()
			return nil, lockedError(status)
		}
		return nil, &CredentialsError{Status: status}
	}

	s.lockout.Record(ctx, user.ID, true, ip)
	obs.LoginAttempts.WithLabelValues(method, "success").Inc()

	if !kiosk && user.FirstLoginRequired {
		token, err := s.mintOnboardingToken(user)
		if err != nil {
			return nil, err
		}
		return &LoginResult{User: user, OnboardingToken: token}, nil
	}

	role := user.Role
	kind := "regular"
	params := NewSessionParams{UserID: user.ID, Role: role}
	if kiosk {
		params.Role = RoleKiosk
		params.IsKiosk = true
		params.ClientIP = ip
		kind = "kiosk"
	}
	session, err := s.sessions.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	obs.SessionsCreated.WithLabelValues(kind).Inc()
	return &LoginResult{User: user, Session: session}, nil
}

// LockedError carries the lockout status alongside ErrAccountLocked.
type LockedError struct {
	Status LockoutStatus
}

func (e *LockedError) Error() string { return ErrAccountLocked.Error() }
func (e *LockedError) Unwrap() error { return ErrAccountLocked }

func lockedError(status LockoutStatus) error {
	return &LockedError{Status: status}
}

// CredentialsError is a failed verification that did not trip the lock. It
// carries the post-failure lockout status alongside ErrInvalidCredentials so
// callers can surface how many attempts remain.
type CredentialsError struct {
	Status LockoutStatus
}

func (e *CredentialsError) Error() string { return ErrInvalidCredentials.Error() }
func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// KioskUsers lists active users that have a kiosk PIN set, for the local
// kiosk picker.
func (s *Service) KioskUsers(ctx context.Context) ([]*User, error) {
	return s.store.Users().ListWithCredential(ctx, ProviderKioskPIN)
}

// Register creates a user with a password credential. The credential write is
// not allowed to fail silently; any error surfaces.
func (s *Service) Register(ctx context.Context, email, name, role, password string, firstLoginRequired bool) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = RoleMember
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	user := &User{
		ID:                 ids.New(),
		Email:              email,
		Name:               name,
		Role:               role,
		Status:             UserStatusActive,
		FirstLoginRequired: firstLoginRequired,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.vault.UpdateCredential(ctx, user.ID, ProviderPassword, password); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPIN sets or replaces the kiosk PIN for a user (upsert semantics).
func (s *Service) SetPIN(ctx context.Context, userID, pin string) error {
	if len(pin) < 4 {
		return fmt.Errorf("%w: pin must be at least 4 digits", ErrInvalidInput)
	}
	return s.vault.UpdateCredential(ctx, userID, ProviderKioskPIN, pin)
}

// ChangePassword verifies the current password before upserting the new one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	ok, err := s.vault.VerifyCredential(ctx, userID, ProviderPassword, current)
	if err != nil {
		return fmt.Errorf("verify credential: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return s.vault.UpdateCredential(ctx, userID, ProviderPassword, next)
}

// ForgotPassword issues a time-boxed numeric reset code bound to the user and
// hands it to the mailer. An unknown email succeeds silently; existence is
// not leaked.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	code, err := GenerateCode(defaultResetCodeDigits)
	if err != nil {
		return err
	}
	rc := &ResetCode{
		UserID:    user.ID,
		CodeHash:  hashCode(code),
		ExpiresAt: s.now().UTC().Add(s.resetCodeTTL),
	}
	if err := s.store.ResetCodes().Upsert(ctx, rc); err != nil {
		return err
	}
	if err := s.mailer.SendResetCode(ctx, user.Email, code); err != nil {
		// Delivery is an external collaborator; its failure is logged and the
		// request still succeeds so the response cannot be used as an oracle.
		obs.Warn("reset code delivery failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// ResetPassword verifies the submitted code against the stored hash, updates
// the credential, clears lockout, invalidates every existing session for the
// user, and issues one fresh session. Wrong and expired codes are reported
// identically.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || code == "" || newPassword == "" {
		return nil, fmt.Errorf("%w: email, code, and new password are required", ErrInvalidInput)
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, err
	}
	rc, err := s.store.ResetCodes().Find(ctx, user.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, err
	}
	if rc.Attempts >= maxResetCodeAttempts {
		return nil, ErrInvalidOrExpiredCode
	}
	expired := !rc.ExpiresAt.After(s.now().UTC())
	match := subtle.ConstantTimeCompare([]byte(rc.CodeHash), []byte(hashCode(code))) == 1
	if expired || !match {
		// The attempts counter still advances on expired codes; the caller
		// cannot tell which condition failed.
		if err := s.store.ResetCodes().IncrementAttempts(ctx, user.ID); err != nil {
			obs.Warn("reset attempt counter not advanced", map[string]any{"error": err.Error()})
		}
		return nil, ErrInvalidOrExpiredCode
	}

	if err := s.vault.UpdateCredential(ctx, user.ID, ProviderPassword, newPassword); err != nil {
		return nil, err
	}
	if err := s.store.ResetCodes().Delete(ctx, user.ID); err != nil {
		obs.Warn("consumed reset code not deleted", map[string]any{"error": err.Error()})
	}
	s.lockout.Clear(ctx, user.ID)
	if user.FirstLoginRequired {
		if err := s.store.Users().SetFirstLoginRequired(ctx, user.ID, false); err != nil {
			return nil, err
		}
	}
	if err := s.sessions.DestroyAllForUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("invalidate sessions: %w", err)
	}
	session, err := s.sessions.Create(ctx, NewSessionParams{UserID: user.ID, Role: user.Role})
	if err != nil {
		return nil, err
	}
	obs.SessionsCreated.WithLabelValues("regular").Inc()
	return session, nil
}

// Impersonate starts an admin-only impersonation session for the target user.
// The admin's own session is left untouched; impersonation is additive until
// stopped. Nesting is forbidden: an impersonation session cannot start another.
func (s *Service) Impersonate(ctx context.Context, current *Session, targetUserID string) (*Session, error) {
	if current == nil {
		return nil, ErrAuthRequired
	}
	if current.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	if current.Impersonated() {
		return nil, fmt.Errorf("%w: stop the current impersonation first", ErrForbidden)
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, fmt.Errorf("%w: target user id is required", ErrInvalidInput)
	}
	if targetUserID == current.UserID {
		return nil, fmt.Errorf("%w: cannot impersonate yourself", ErrInvalidInput)
	}
	target, err := s.store.Users().Find(ctx, targetUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if target.Status != UserStatusActive {
		return nil, fmt.Errorf("%w: target user is not active", ErrInvalidInput)
	}
	session, err := s.sessions.Create(ctx, NewSessionParams{
		UserID:         target.ID,
		Role:           target.Role,
		ImpersonatedBy: current.UserID,
	})
	if err != nil {
		return nil, err
	}
	obs.SessionsCreated.WithLabelValues("impersonation").Inc()
	return session, nil
}

// StopImpersonation destroys the impersonation session and issues a brand-new
// session for the original admin. The old sid is invalid afterward.
func (s *Service) StopImpersonation(ctx context.Context, current *Session) (*Session, error) {
	if current == nil {
		return nil, ErrAuthRequired
	}
	if !current.Impersonated() {
		return nil, ErrNotImpersonating
	}
	admin, err := s.store.Users().Find(ctx, current.ImpersonatedBy)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if err := s.sessions.Destroy(ctx, current.SID); err != nil {
		return nil, err
	}
	session, err := s.sessions.Create(ctx, NewSessionParams{UserID: admin.ID, Role: admin.Role})
	if err != nil {
		return nil, err
	}
	obs.SessionsCreated.WithLabelValues("regular").Inc()
	return session, nil
}

// Logout destroys the session; unknown sids are not an error.
func (s *Service) Logout(ctx context.Context, sid string) error {
	return s.sessions.Destroy(ctx, sid)
}

// Authenticate resolves a sid to a live session and its user. Unknown or
// expired sids yield ErrAuthRequired.
func (s *Service) Authenticate(ctx context.Context, sid string) (*User, *Session, error) {
	session, err := s.sessions.Get(ctx, sid)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, ErrAuthRequired
	}
	user, err := s.store.Users().Find(ctx, session.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrAuthRequired
		}
		return nil, nil, err
	}
	return user, session, nil
}

func (s *Service) resolveUser(ctx context.Context, identifier string) (*User, error) {
	users := s.store.Users()
	if strings.Contains(identifier, "@") {
		user, err := users.FindByEmail(ctx, strings.ToLower(identifier))
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return user, nil
	}
	user, err := users.Find(ctx, identifier)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// onboardingClaims is the payload of the first-login token.
type onboardingClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (s *Service) mintOnboardingToken(user *User) (string, error) {
	if len(s.onboardingSecret) == 0 {
		return "", errors.New("onboarding secret is not configured")
	}
	now := s.now().UTC()
	claims := onboardingClaims{
		Purpose: onboardingPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    onboardingIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(onboardingTokenTTL)),
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.onboardingSecret)
	if err != nil {
		return "", fmt.Errorf("sign onboarding token: %w", err)
	}
	return signed, nil
}

// VerifyOnboardingToken validates a first-login token and returns the user id
// it was minted for.
func (s *Service) VerifyOnboardingToken(token string) (string, error) {
	if len(s.onboardingSecret) == 0 {
		return "", errors.New("onboarding secret is not configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &onboardingClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrForbidden
		}
		return s.onboardingSecret, nil
	}, jwt.WithIssuer(onboardingIssuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return "", ErrForbidden
	}
	claims, ok := parsed.Claims.(*onboardingClaims)
	if !ok || !parsed.Valid || claims.Purpose != onboardingPurpose || claims.Subject == "" {
		return "", ErrForbidden
	}
	return claims.Subject, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
