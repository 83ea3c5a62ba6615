package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"hearthhub.org/internal/auth"
	"hearthhub.org/internal/config"
	"hearthhub.org/internal/obs"
)

// timeNow is the package time source, swapped in tests.
var timeNow = time.Now

// ReadyProbe is a simple readiness check (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	version    string

	cookieName   string
	cookieSecure bool

	rateBurst  int
	ratePerSec int
}

// New wires the route table. The auth service is the only collaborator;
// everything else the handlers need travels through it or the context.
func New(svc *auth.Service, rp ReadyProbe, cfg *config.Config, version string) *API {
	a := &API{
		mux:          http.NewServeMux(),
		svc:          svc,
		readyProbe:   rp,
		version:      version,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		rateBurst:    20,
		ratePerSec:   10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// password credential flows
	a.mux.HandleFunc("/auth/creds/login", a.handleCredsLogin)
	a.mux.HandleFunc("/auth/creds/register", a.handleCredsRegister)
	a.mux.HandleFunc("/auth/creds/change", a.handleCredsChange)
	a.mux.HandleFunc("/auth/creds/forgot", a.handleCredsForgot)
	a.mux.HandleFunc("/auth/creds/reset", a.handleCredsReset)

	// kiosk PIN flows, double-gated to the local network: once here, once
	// inside the service
	a.mux.Handle("/auth/pin/users", LocalOnly(http.HandlerFunc(a.handlePinUsers)))
	a.mux.Handle("/auth/pin/login", LocalOnly(http.HandlerFunc(a.handlePinLogin)))
	a.mux.Handle("/auth/pin/verify", LocalOnly(http.HandlerFunc(a.handlePinVerify)))

	// session introspection and teardown
	a.mux.HandleFunc("/auth/session", a.handleSession)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)

	// admin impersonation subtree: /admin/impersonate/{userId|stop|status}
	a.mux.HandleFunc("/admin/impersonate/", a.handleImpersonate)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- cookie helpers ---

func (a *API) setSessionCookie(w http.ResponseWriter, s *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    s.SID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) sessionID(r *http.Request) string {
	c, err := r.Cookie(a.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// --- basic handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hearth-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "hearth-api",
		"time":    timeNow().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
