package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tenbase.org/internal/audit"
	"tenbase.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/logout",
	"/v1/auth/password/forgot",
	"/v1/auth/password/reset",
	"/v1/auth/resend-verification",
}

var publicPrefixes = []string{
	"/v1/auth/verify/",
}

// Restricted sessions are issued when a password change is pending. They can
// complete that change, inspect themselves, and log out; everything else is
// forbidden.
var restrictedPaths = []string{
	"/v1/auth/password/change",
	"/v1/auth/sessions/current",
	"/v1/auth/logout",
}

type sessionKey struct{}

// SessionFromContext returns the authenticated session info, if any.
func SessionFromContext(ctx context.Context) (*auth.SessionInfo, bool) {
	info, ok := ctx.Value(sessionKey{}).(*auth.SessionInfo)
	return info, ok
}

func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		info, err := a.svc.ValidateSession(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrSessionExpired):
				writeErrorCode(w, r, http.StatusUnauthorized, "session_expired", "session expired or invalid")
			case errors.Is(err, auth.ErrTenantSuspended), errors.Is(err, auth.ErrTenantInactive):
				writeErrorCode(w, r, http.StatusForbidden, "tenant_blocked", "tenant is not active")
			default:
				writeErrorCode(w, r, http.StatusServiceUnavailable, "unavailable", "authentication backend unavailable")
			}
			return
		}

		if info.Session.Restricted && !isRestrictedAllowed(r.URL.Path) {
			writeErrorCode(w, r, http.StatusForbidden, "password_change_required", "password change required before continuing")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, info)
		ctx = audit.WithActor(ctx, info.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission runs one authorization decision for the authenticated
// session. The decision itself lands in the permission audit trail.
func (a *API) requirePermission(r *http.Request, perm string) error {
	info, ok := SessionFromContext(r.Context())
	if !ok {
		return auth.ErrSessionExpired
	}
	res, err := a.svc.CheckPermission(r.Context(), info.User.ID, info.Tenant.ID, perm, r.URL.Path)
	if err != nil {
		return err
	}
	if !res.Granted {
		return errors.New(res.Reason)
	}
	return nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isRestrictedAllowed(path string) bool {
	for _, p := range restrictedPaths {
		if path == p {
			return true
		}
	}
	return false
}
