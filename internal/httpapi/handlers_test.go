package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"hearthhub.org/internal/auth"
	"hearthhub.org/internal/config"
)

const (
	remoteAddr = "203.0.113.7:50812"
	localAddr  = "192.168.1.30:50812"
)

type captureMailer struct {
	mu   sync.Mutex
	code string
}

func (m *captureMailer) SendResetCode(_ context.Context, _ string, code string) error {
	m.mu.Lock()
	m.code = code
	m.mu.Unlock()
	return nil
}

// apiClient drives the fully wrapped handler with a cookie jar, so tests
// exercise the same middleware chain the server runs.
type apiClient struct {
	t       *testing.T
	handler http.Handler
	cookie  string
	remote  string
}

func newTestAPI(t *testing.T, opts ...auth.ServiceOption) (*apiClient, *auth.Service) {
	t.Helper()
	store := auth.NewMemStore()
	base := append([]auth.ServiceOption{auth.WithOnboardingSecret("test-secret")}, opts...)
	svc, err := auth.NewService(store, base...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	cfg := &config.Config{}
	cfg.LoadDefaults()
	api := New(svc, ReadyProbe{}, cfg, "test")
	return &apiClient{
		t:       t,
		handler: api.Handler(),
		remote:  remoteAddr,
	}, svc
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = c.remote
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "hearth_sid", Value: c.cookie})
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name != "hearth_sid" {
			continue
		}
		if ck.MaxAge < 0 || ck.Value == "" {
			c.cookie = ""
		} else {
			c.cookie = ck.Value
		}
	}
	return rec
}

func (c *apiClient) decode(rec *httptest.ResponseRecorder, dst any) {
	c.t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
}

func seedUser(t *testing.T, svc *auth.Service, email, name, role, password string) *auth.User {
	t.Helper()
	u, err := svc.Register(context.Background(), email, name, role, password, false)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func TestHealthAndInfo(t *testing.T) {
	c, _ := newTestAPI(t)

	rec := c.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	var health map[string]any
	c.decode(rec, &health)
	if health["service"] != "hearth-api" || health["version"] != "test" {
		t.Fatalf("healthz payload %v", health)
	}

	if rec := c.do(http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz status %d", rec.Code)
	}
	if rec := c.do(http.MethodGet, "/v1/info", nil); rec.Code != http.StatusOK {
		t.Fatalf("info status %d", rec.Code)
	}
	if rec := c.do(http.MethodGet, "/no/such/route", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route status %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	c, _ := newTestAPI(t)

	rec := c.do(http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Request-Id", "trace-me-123")
	rec = httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "trace-me-123" {
		t.Fatalf("request id not honored: %q", got)
	}
}

func TestLoginSessionLogoutFlow(t *testing.T) {
	c, svc := newTestAPI(t)
	u := seedUser(t, svc, "kim@example.com", "Kim", auth.RoleMember, "hunter-two")

	// No session yet.
	if rec := c.do(http.MethodGet, "/auth/session", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pre-login session status %d", rec.Code)
	}

	rec := c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com",
		"password":   "hunter-two",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	if c.cookie == "" {
		t.Fatal("login did not set the session cookie")
	}
	var loginRes struct {
		User    *auth.User    `json:"user"`
		Session *auth.Session `json:"session"`
	}
	c.decode(rec, &loginRes)
	if loginRes.User.ID != u.ID || loginRes.Session.UserID != u.ID {
		t.Fatalf("login payload user %v session %v", loginRes.User, loginRes.Session)
	}

	rec = c.do(http.MethodGet, "/auth/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status %d", rec.Code)
	}

	if rec := c.do(http.MethodPost, "/auth/logout", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout status %d", rec.Code)
	}
	if c.cookie != "" {
		t.Fatal("logout did not clear the cookie")
	}
	if rec := c.do(http.MethodGet, "/auth/session", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout session status %d", rec.Code)
	}
}

func TestLoginRejections(t *testing.T) {
	c, svc := newTestAPI(t)
	seedUser(t, svc, "kim@example.com", "Kim", auth.RoleMember, "hunter-two")

	rec := c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com",
		"password":   "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status %d", rec.Code)
	}
	var payload map[string]any
	c.decode(rec, &payload)
	if payload["error"] != "invalid credentials" {
		t.Fatalf("error payload %v", payload)
	}
	if got, ok := payload["remaining_attempts"].(float64); !ok || got != 4 {
		t.Fatalf("expected remaining_attempts=4, payload %v", payload)
	}

	// Unknown account gets the same status and message.
	rec = c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "ghost@example.com",
		"password":   "whatever",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown account status %d", rec.Code)
	}

	if rec := c.do(http.MethodGet, "/auth/creds/login", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login status %d", rec.Code)
	} else if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow header %q", rec.Header().Get("Allow"))
	}

	// Unknown JSON fields are rejected.
	rec = c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com",
		"password":   "hunter-two",
		"surprise":   "field",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status %d", rec.Code)
	}
}

func TestLoginLockoutResponse(t *testing.T) {
	c, svc := newTestAPI(t)
	seedUser(t, svc, "kim@example.com", "Kim", auth.RoleMember, "correct-password")

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec = c.do(http.MethodPost, "/auth/creds/login", map[string]string{
			"identifier": "kim@example.com",
			"password":   "wrong",
		})
	}
	if rec.Code != http.StatusLocked {
		t.Fatalf("fifth failure status %d", rec.Code)
	}

	// Correct password while locked: still 423, with retry metadata.
	rec = c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com",
		"password":   "correct-password",
	})
	if rec.Code != http.StatusLocked {
		t.Fatalf("locked login status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	var payload struct {
		Error      string             `json:"error"`
		RetryAfter int                `json:"retry_after"`
		Lockout    auth.LockoutStatus `json:"lockout"`
	}
	c.decode(rec, &payload)
	if !payload.Lockout.Locked || payload.RetryAfter <= 0 {
		t.Fatalf("lockout payload %+v", payload)
	}
}

func TestRegisterRequiresAdmin(t *testing.T) {
	c, svc := newTestAPI(t)
	seedUser(t, svc, "admin@example.com", "Admin", auth.RoleAdmin, "admin-password")
	seedUser(t, svc, "member@example.com", "Member", auth.RoleMember, "member-password")

	newUser := map[string]any{
		"email":    "kid@example.com",
		"name":     "Kid",
		"password": "kid-password",
		"pin":      "2468",
	}

	if rec := c.do(http.MethodPost, "/auth/creds/register", newUser); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous register status %d", rec.Code)
	}

	c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "member@example.com", "password": "member-password",
	})
	if rec := c.do(http.MethodPost, "/auth/creds/register", newUser); rec.Code != http.StatusForbidden {
		t.Fatalf("member register status %d", rec.Code)
	}
	c.do(http.MethodPost, "/auth/logout", nil)

	c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "admin@example.com", "password": "admin-password",
	})
	rec := c.do(http.MethodPost, "/auth/creds/register", newUser)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin register status %d: %s", rec.Code, rec.Body.String())
	}
	var created auth.User
	c.decode(rec, &created)
	if created.Email != "kid@example.com" || created.Role != auth.RoleMember {
		t.Fatalf("created user %+v", created)
	}

	// The optional PIN landed, so the kiosk picker lists the new user.
	users, err := svc.KioskUsers(context.Background())
	if err != nil || len(users) != 1 || users[0].ID != created.ID {
		t.Fatalf("kiosk users after register: %v err %v", users, err)
	}
}

func TestChangePassword(t *testing.T) {
	c, svc := newTestAPI(t)
	seedUser(t, svc, "kim@example.com", "Kim", auth.RoleMember, "old-password")

	if rec := c.do(http.MethodPost, "/auth/creds/change", map[string]string{
		"current_password": "old-password", "new_password": "new-password",
	}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous change status %d", rec.Code)
	}

	c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com", "password": "old-password",
	})
	if rec := c.do(http.MethodPost, "/auth/creds/change", map[string]string{
		"current_password": "wrong", "new_password": "new-password",
	}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current status %d", rec.Code)
	}
	if rec := c.do(http.MethodPost, "/auth/creds/change", map[string]string{
		"current_password": "old-password", "new_password": "new-password",
	}); rec.Code != http.StatusNoContent {
		t.Fatalf("change status %d", rec.Code)
	}

	c.do(http.MethodPost, "/auth/logout", nil)
	if rec := c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com", "password": "new-password",
	}); rec.Code != http.StatusOK {
		t.Fatalf("login with new password status %d", rec.Code)
	}
}

func TestForgotResetFlow(t *testing.T) {
	mailer := &captureMailer{}
	c, svc := newTestAPI(t, auth.WithMailer(mailer))
	seedUser(t, svc, "kim@example.com", "Kim", auth.RoleMember, "old-password")

	// Seed a session that the reset must kill.
	c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kim@example.com", "password": "old-password",
	})
	oldCookie := c.cookie

	rec := c.do(http.MethodPost, "/auth/creds/forgot", map[string]string{"email": "kim@example.com"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("forgot status %d", rec.Code)
	}
	if mailer.code == "" {
		t.Fatal("no reset code delivered")
	}

	// Unknown email gets the exact same response.
	rec2 := c.do(http.MethodPost, "/auth/creds/forgot", map[string]string{"email": "ghost@example.com"})
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("forgot unknown status %d", rec2.Code)
	}

	rec = c.do(http.MethodPost, "/auth/creds/reset", map[string]string{
		"email": "kim@example.com", "code": "000000", "new_password": "new-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code status %d", rec.Code)
	}

	rec = c.do(http.MethodPost, "/auth/creds/reset", map[string]string{
		"email": "kim@example.com", "code": mailer.code, "new_password": "new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status %d: %s", rec.Code, rec.Body.String())
	}
	if c.cookie == "" || c.cookie == oldCookie {
		t.Fatal("reset should rotate the session cookie")
	}

	// The pre-reset session is dead.
	stale := &apiClient{t: t, handler: c.handler, cookie: oldCookie, remote: remoteAddr}
	if rec := stale.do(http.MethodGet, "/auth/session", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale session status %d", rec.Code)
	}

	// The fresh one works.
	if rec := c.do(http.MethodGet, "/auth/session", nil); rec.Code != http.StatusOK {
		t.Fatalf("fresh session status %d", rec.Code)
	}
}

func TestPinRoutesLocalGate(t *testing.T) {
	c, svc := newTestAPI(t)
	u := seedUser(t, svc, "kid@example.com", "Kid", auth.RoleMember, "long-password")
	if err := svc.SetPIN(context.Background(), u.ID, "4321"); err != nil {
		t.Fatalf("SetPIN: %v", err)
	}

	// From outside the local network every PIN route is a 403, even with a
	// correct PIN.
	c.remote = remoteAddr
	if rec := c.do(http.MethodGet, "/auth/pin/users", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("remote pin users status %d", rec.Code)
	}
	rec := c.do(http.MethodPost, "/auth/pin/login", map[string]string{"user_id": u.ID, "pin": "4321"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote pin login status %d", rec.Code)
	}
	if c.cookie != "" {
		t.Fatal("remote pin login must not set a cookie")
	}

	// A forged X-Forwarded-For from a remote peer changes nothing.
	req := httptest.NewRequest(http.MethodGet, "/auth/pin/users", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", "192.168.1.10")
	forged := httptest.NewRecorder()
	c.handler.ServeHTTP(forged, req)
	if forged.Code != http.StatusForbidden {
		t.Fatalf("forged header status %d", forged.Code)
	}

	// From the local network the picker and login work.
	c.remote = localAddr
	rec = c.do(http.MethodGet, "/auth/pin/users", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("local pin users status %d", rec.Code)
	}
	var picker struct {
		Users []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"users"`
	}
	c.decode(rec, &picker)
	if len(picker.Users) != 1 || picker.Users[0].ID != u.ID {
		t.Fatalf("picker %v", picker)
	}

	rec = c.do(http.MethodPost, "/auth/pin/login", map[string]string{"user_id": u.ID, "pin": "4321"})
	if rec.Code != http.StatusOK {
		t.Fatalf("local pin login status %d: %s", rec.Code, rec.Body.String())
	}
	var loginRes struct {
		Session *auth.Session `json:"session"`
	}
	c.decode(rec, &loginRes)
	if !loginRes.Session.IsKiosk || loginRes.Session.Role != auth.RoleKiosk {
		t.Fatalf("kiosk session %+v", loginRes.Session)
	}

	if rec := c.do(http.MethodPost, "/auth/pin/verify", map[string]string{"user_id": u.ID, "pin": "4321"}); rec.Code != http.StatusOK {
		t.Fatalf("pin verify status %d", rec.Code)
	}
	if rec := c.do(http.MethodPost, "/auth/pin/verify", map[string]string{"user_id": u.ID, "pin": "0000"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong pin verify status %d", rec.Code)
	}
}

func TestImpersonationEndpoints(t *testing.T) {
	c, svc := newTestAPI(t)
	admin := seedUser(t, svc, "admin@example.com", "Admin", auth.RoleAdmin, "admin-password")
	member := seedUser(t, svc, "kid@example.com", "Kid", auth.RoleMember, "kid-password")

	c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "admin@example.com", "password": "admin-password",
	})
	adminCookie := c.cookie

	rec := c.do(http.MethodGet, "/admin/impersonate/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status status %d", rec.Code)
	}
	var status map[string]any
	c.decode(rec, &status)
	if status["impersonating"] != false {
		t.Fatalf("status payload %v", status)
	}

	rec = c.do(http.MethodPost, "/admin/impersonate/"+member.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("impersonate status %d: %s", rec.Code, rec.Body.String())
	}
	if c.cookie == adminCookie {
		t.Fatal("impersonation should switch the cookie")
	}

	rec = c.do(http.MethodGet, "/admin/impersonate/status", nil)
	c.decode(rec, &status)
	if status["impersonating"] != true || status["impersonated_by"] != admin.ID || status["user_id"] != member.ID {
		t.Fatalf("impersonating status %v", status)
	}

	// The admin's original session still works in parallel.
	parallel := &apiClient{t: t, handler: c.handler, cookie: adminCookie, remote: remoteAddr}
	if rec := parallel.do(http.MethodGet, "/auth/session", nil); rec.Code != http.StatusOK {
		t.Fatalf("parallel admin session status %d", rec.Code)
	}

	// Nesting is refused.
	if rec := c.do(http.MethodPost, "/admin/impersonate/"+admin.ID, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("nested impersonation status %d", rec.Code)
	}

	impCookie := c.cookie
	rec = c.do(http.MethodPost, "/admin/impersonate/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status %d: %s", rec.Code, rec.Body.String())
	}
	if c.cookie == impCookie {
		t.Fatal("stop should rotate the cookie")
	}
	rec = c.do(http.MethodGet, "/auth/session", nil)
	var sess struct {
		User *auth.User `json:"user"`
	}
	c.decode(rec, &sess)
	if sess.User.ID != admin.ID {
		t.Fatalf("expected admin restored, got %v", sess.User)
	}

	// The impersonation sid is dead after stop.
	dead := &apiClient{t: t, handler: c.handler, cookie: impCookie, remote: remoteAddr}
	if rec := dead.do(http.MethodGet, "/auth/session", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("dead impersonation sid status %d", rec.Code)
	}
}

func TestImpersonationForbiddenForMembers(t *testing.T) {
	c, svc := newTestAPI(t)
	admin := seedUser(t, svc, "admin@example.com", "Admin", auth.RoleAdmin, "admin-password")
	seedUser(t, svc, "kid@example.com", "Kid", auth.RoleMember, "kid-password")

	c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "kid@example.com", "password": "kid-password",
	})
	if rec := c.do(http.MethodPost, "/admin/impersonate/"+admin.ID, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member impersonate status %d", rec.Code)
	}

	anon := &apiClient{t: t, handler: c.handler, remote: remoteAddr}
	if rec := anon.do(http.MethodPost, "/admin/impersonate/"+admin.ID, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous impersonate status %d", rec.Code)
	}
	if rec := anon.do(http.MethodPost, "/admin/impersonate/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("bare subtree status %d", rec.Code)
	}
}

func TestFirstLoginReturnsOnboardingToken(t *testing.T) {
	c, svc := newTestAPI(t)
	if _, err := svc.Register(context.Background(), "new@example.com", "New", auth.RoleMember, "temp-password", true); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec := c.do(http.MethodPost, "/auth/creds/login", map[string]string{
		"identifier": "new@example.com", "password": "temp-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first login status %d", rec.Code)
	}
	if c.cookie != "" {
		t.Fatal("first login must not set a session cookie")
	}
	var res struct {
		OnboardingRequired bool   `json:"onboarding_required"`
		OnboardingToken    string `json:"onboarding_token"`
	}
	c.decode(rec, &res)
	if !res.OnboardingRequired || res.OnboardingToken == "" {
		t.Fatalf("onboarding payload %+v", res)
	}
}

func TestRateLimit(t *testing.T) {
	c, _ := newTestAPI(t)

	var last *httptest.ResponseRecorder
	limited := false
	for i := 0; i < 40; i++ {
		last = c.do(http.MethodGet, "/healthz", nil)
		if last.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected the per-IP limiter to trip")
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on 429")
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, _ := newTestAPI(t)
	rec := c.do(http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("missing no-store header")
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content type %q", rec.Header().Get("Content-Type"))
	}
}
