package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tenbase.org/internal/auth"
)

// decodeJSON parses a request body into dst. Body size is capped upstream by
// the MaxBodyBytes middleware, so the configured limit applies here too.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
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

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if code != "" {
		payload["code"] = code
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// handleServiceError maps domain sentinels onto HTTP responses. Credential
// and session failures stay deliberately vague; locked accounts carry a
// retry hint.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		payload := map[string]any{
			"error":               "account temporarily locked",
			"code":                "account_locked",
			"retry_after_minutes": locked.RetryAfterMinutes(),
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusLocked, payload)
	case errors.Is(err, auth.ErrInvalidInput):
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, auth.ErrEmailExists):
		writeErrorCode(w, r, http.StatusConflict, "email_exists", "email already registered")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeErrorCode(w, r, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, auth.ErrAccountLocked):
		writeErrorCode(w, r, http.StatusLocked, "account_locked", "account temporarily locked")
	case errors.Is(err, auth.ErrAccountDeactivated):
		writeErrorCode(w, r, http.StatusForbidden, "account_deactivated", "account is deactivated")
	case errors.Is(err, auth.ErrTenantSuspended), errors.Is(err, auth.ErrTenantInactive):
		writeErrorCode(w, r, http.StatusForbidden, "tenant_blocked", "tenant is not active")
	case errors.Is(err, auth.ErrRateLimited):
		writeErrorCode(w, r, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later")
	case errors.Is(err, auth.ErrSessionExpired):
		writeErrorCode(w, r, http.StatusUnauthorized, "session_expired", "session expired or invalid")
	case errors.Is(err, auth.ErrExpiredToken):
		writeErrorCode(w, r, http.StatusGone, "token_expired", "token has expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_token", "token is invalid or already used")
	case errors.Is(err, auth.ErrAlreadyVerified):
		writeErrorCode(w, r, http.StatusConflict, "already_verified", "email is already verified")
	case errors.Is(err, auth.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, auth.ErrUnavailable):
		writeErrorCode(w, r, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		writeErrorCode(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
