package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type registerRequest struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
	Language    string `json:"language"`
	Locale      string `json:"locale"`
}

type registerResponse struct {
	UserID       string `json:"user_id"`
	TenantID     string `json:"tenant_id"`
	RedirectURL  string `json:"redirect_url"`
	EmailDelayed bool   `json:"email_delayed,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Register(r.Context(), req.FullName, req.Email, req.Password, req.CompanyName, req.Language, req.Locale)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		UserID:       res.UserID,
		TenantID:     res.TenantID,
		RedirectURL:  res.RedirectURL,
		EmailDelayed: res.EmailDelayed,
	})
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	RedirectURL string    `json:"redirect_url"`
	Restricted  bool      `json:"restricted,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password, clientIP(r), r.UserAgent(), req.RememberMe)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       res.SessionToken,
		ExpiresAt:   res.ExpiresAt,
		Role:        res.RoleName,
		Permissions: res.Permissions,
		RedirectURL: res.RedirectURL,
		Restricted:  res.Restricted,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	// Logout never fails for a dead or unknown token.
	token, _ := extractBearerToken(r.Header.Get(authHeader))
	if err := a.svc.Logout(r.Context(), token); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

type sessionResponse struct {
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	ExpiresAt   time.Time `json:"expires_at"`
	Restricted  bool      `json:"restricted,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

func (a *API) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	info, ok := SessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	resp := sessionResponse{
		UserID:     info.User.ID,
		TenantID:   info.Tenant.ID,
		Email:      info.User.Email,
		FullName:   info.User.FullName,
		ExpiresAt:  info.Session.ExpiresAt,
		Restricted: info.Session.Restricted,
	}
	if !info.Session.Restricted {
		role, perms, err := a.svc.Resolve(r.Context(), info.User.ID, info.Tenant.ID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		resp.Role = role
		resp.Permissions = perms
	}
	writeJSON(w, http.StatusOK, resp)
}

type invalidateRequest struct {
	UserID        string `json:"user_id"`
	ExceptCurrent bool   `json:"except_current"`
}

func (a *API) handleInvalidateSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req invalidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	info, _ := SessionFromContext(r.Context())

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = info.User.ID
	}
	// Kicking someone else out requires user management rights.
	if userID != info.User.ID {
		if err := a.requirePermission(r, "user:update"); err != nil {
			writeErrorCode(w, r, http.StatusForbidden, "forbidden", "user:update permission required")
			return
		}
	}
	exceptID := ""
	if req.ExceptCurrent && userID == info.User.ID {
		exceptID = info.Session.ID
	}
	n, err := a.svc.InvalidateSessions(r.Context(), userID, exceptID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": n})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changePasswordResponse struct {
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	RedirectURL string    `json:"redirect_url"`
	Invalidated int       `json:"sessions_invalidated"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	info, ok := SessionFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	res, err := a.svc.ChangePassword(r.Context(), info, req.CurrentPassword, req.NewPassword)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changePasswordResponse{
		Status:      "password_changed",
		ExpiresAt:   res.ExpiresAt,
		Role:        res.RoleName,
		Permissions: res.Permissions,
		RedirectURL: res.RedirectURL,
		Invalidated: res.SessionsInvalidated,
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Email, clientIP(r), r.UserAgent()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	// Uniform response whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"detail": "if the account exists, a reset email has been sent",
	})
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "password_reset",
		"redirect_url": "/login",
	})
}

type adminResetRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requirePermission(r, "user:update"); err != nil {
		writeErrorCode(w, r, http.StatusForbidden, "forbidden", "user:update permission required")
		return
	}
	var req adminResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	info, _ := SessionFromContext(r.Context())
	token, err := a.svc.AdminInitiatePasswordReset(r.Context(), strings.TrimSpace(req.UserID), info.User.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reset_initiated",
		"token":  token,
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/v1/auth/verify/")
	if token == "" || strings.Contains(token, "/") {
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_token", "token is invalid or already used")
		return
	}
	res, err := a.svc.VerifyEmail(r.Context(), token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "verified",
		"user_id":      res.UserID,
		"email":        res.Email,
		"verified_at":  res.VerifiedAt.Format(time.RFC3339),
		"redirect_url": "/login",
	})
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResendVerification(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"detail": "if the account exists and is unverified, a new email has been sent",
	})
}

type permissionCheckRequest struct {
	Permission      string `json:"permission"`
	ResourceContext string `json:"resource_context"`
	UserID          string `json:"user_id"`
}

type permissionCheckResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req permissionCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	info, _ := SessionFromContext(r.Context())

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = info.User.ID
	}
	// Asking about another user's permissions requires read access to users.
	if userID != info.User.ID {
		if err := a.requirePermission(r, "user:read"); err != nil {
			writeErrorCode(w, r, http.StatusForbidden, "forbidden", "user:read permission required")
			return
		}
	}
	res, err := a.svc.CheckPermission(r.Context(), userID, info.Tenant.ID, strings.TrimSpace(req.Permission), req.ResourceContext)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionCheckResponse{Granted: res.Granted, Reason: res.Reason})
}
