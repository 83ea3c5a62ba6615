package httpapi

import (
	"net/http"
	"strings"

	"hearthhub.org/internal/audit"
)

// handleImpersonate dispatches the /admin/impersonate/ subtree:
// POST /admin/impersonate/{userId}, POST /admin/impersonate/stop,
// GET /admin/impersonate/status.
func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/impersonate/"), "/")
	if tail == "" || strings.Contains(tail, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch tail {
	case "stop":
		a.handleImpersonateStop(w, r)
	case "status":
		a.handleImpersonateStatus(w, r)
	default:
		a.handleImpersonateStart(w, r, tail)
	}
}

func (a *API) handleImpersonateStart(w http.ResponseWriter, r *http.Request, targetUserID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	session, err := a.svc.Impersonate(r.Context(), principal.Session, targetUserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.impersonation.started", map[string]any{
		"target_user_id": session.UserID,
	})
	a.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleImpersonateStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	session, err := a.svc.StopImpersonation(r.Context(), principal.Session)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.impersonation.stopped", map[string]any{
		"admin_user_id": session.UserID,
	})
	a.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleImpersonateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	status := map[string]any{
		"impersonating": principal.Session.Impersonated(),
	}
	if principal.Session.Impersonated() {
		status["impersonated_by"] = principal.Session.ImpersonatedBy
		status["user_id"] = principal.Session.UserID
	}
	writeJSON(w, http.StatusOK, status)
}
