package httpapi

import (
	"net/http"

	"hearthhub.org/internal/audit"
	"hearthhub.org/internal/auth"
	"hearthhub.org/internal/netguard"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	User    *auth.User    `json:"user"`
	Session *auth.Session `json:"session"`
}

type onboardingResponse struct {
	OnboardingRequired bool   `json:"onboarding_required"`
	OnboardingToken    string `json:"onboarding_token"`
}

func (a *API) handleCredsLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ip := netguard.ResolveClientIP(r)
	result, err := a.svc.PasswordLogin(r.Context(), req.Identifier, req.Password, ip)
	if err != nil {
		// Fire-and-forget: audit failures never fail the request.
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"identifier": req.Identifier,
			"ip":         ip,
		})
		handleAuthError(w, r, err)
		return
	}
	if result.OnboardingToken != "" {
		_ = audit.LogEvent(r.Context(), "auth.login.onboarding_required", map[string]any{
			"user_id": result.User.ID,
		})
		writeJSON(w, http.StatusOK, onboardingResponse{
			OnboardingRequired: true,
			OnboardingToken:    result.OnboardingToken,
		})
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{
		"user_id": result.User.ID,
		"ip":      ip,
	})
	a.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusOK, sessionResponse{User: result.User, Session: result.Session})
}

type registerRequest struct {
	Email              string `json:"email"`
	Name               string `json:"name"`
	Role               string `json:"role"`
	Password           string `json:"password"`
	PIN                string `json:"pin"`
	FirstLoginRequired bool   `json:"first_login_required"`
}

func (a *API) handleCredsRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAction(w, r, "auth.user.create"); !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), req.Email, req.Name, req.Role, req.Password, req.FirstLoginRequired)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if req.PIN != "" {
		if err := a.svc.SetPIN(r.Context(), user.ID, req.PIN); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id": user.ID,
		"role":    user.Role,
	})
	writeJSON(w, http.StatusCreated, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleCredsChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), principal.Session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	w.WriteHeader(http.StatusNoContent)
}

type forgotRequest struct {
	Email string `json:"email"`
}

func (a *API) handleCredsForgot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset.requested", map[string]any{"email": req.Email})
	// Identical response whether or not the account exists.
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "code_sent_if_account_exists"})
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleCredsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.svc.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reset.completed", map[string]any{
		"user_id": session.UserID,
	})
	a.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}
