package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"hearthhub.org/internal/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps the auth error taxonomy onto HTTP codes. Locked
// accounts additionally carry lockout state and a Retry-After header.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked   *auth.LockedError
		badCreds *auth.CredentialsError
	)
	switch {
	case errors.As(err, &locked):
		retry := int(locked.Status.RetryAfter(timeNow()).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		payload := map[string]any{
			"error":       "account locked",
			"retry_after": retry,
			"lockout":     locked.Status,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusLocked, payload)
	case errors.As(err, &badCreds):
		// A failed verification that did not lock the account still reports
		// how many attempts are left before it will.
		payload := map[string]any{
			"error":              "invalid credentials",
			"remaining_attempts": badCreds.Status.RemainingAttempts,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnauthorized, payload)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidOrExpiredCode):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
	case errors.Is(err, auth.ErrAuthRequired), errors.Is(err, auth.ErrSessionExpired):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrKioskLocalOnly):
		writeError(w, r, http.StatusForbidden, "kiosk login is restricted to the local network")
	case errors.Is(err, auth.ErrNotImpersonating):
		writeError(w, r, http.StatusBadRequest, "not impersonating")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource conflict")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
