package httpapi

import (
	"net/http"

	"hearthhub.org/internal/audit"
)

// handleSession reports the current session and user without mutating anything.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: principal.User, Session: principal.Session})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sid := a.sessionID(r)
	if sid != "" {
		if err := a.svc.Logout(r.Context(), sid); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	a.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
