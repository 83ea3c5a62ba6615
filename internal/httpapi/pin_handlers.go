package httpapi

import (
	"net/http"

	"hearthhub.org/internal/audit"
	"hearthhub.org/internal/netguard"
)

type kioskUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// handlePinUsers lists active users with a kiosk PIN for the picker screen.
// The route middleware already confirmed locality.
func (a *API) handlePinUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	users, err := a.svc.KioskUsers(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	res := make([]kioskUser, 0, len(users))
	for _, u := range users {
		res = append(res, kioskUser{ID: u.ID, Name: u.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": res})
}

type pinRequest struct {
	UserID string `json:"user_id"`
	PIN    string `json:"pin"`
}

func (a *API) handlePinLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req pinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip := netguard.ResolveClientIP(r)
	// Second locality gate runs inside PINLogin; both must pass.
	result, err := a.svc.PINLogin(r.Context(), req.UserID, req.PIN, ip)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.pin_login.failed", map[string]any{
			"user_id": req.UserID,
			"ip":      ip,
		})
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.pin_login.success", map[string]any{
		"user_id": result.User.ID,
		"ip":      ip,
	})
	a.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, sessionResponse{User: result.User, Session: result.Session})
}

// handlePinVerify checks a PIN without issuing a session, used by the kiosk
// to re-confirm identity before a sensitive action. Same lockout bookkeeping
// as a login.
func (a *API) handlePinVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req pinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip := netguard.ResolveClientIP(r)
	if err := a.svc.VerifyPIN(r.Context(), req.UserID, req.PIN, ip); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}
