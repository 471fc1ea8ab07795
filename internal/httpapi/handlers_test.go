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
	"time"

	"golang.org/x/crypto/bcrypt"

	"tenbase.org/internal/auth"
)

// stubStore is a minimal auth.Store with one active tenant, one active user,
// and one role grant, enough to drive the login and session flows over HTTP.
type stubStore struct {
	mu       sync.Mutex
	tenant   *auth.Tenant
	user     *auth.User
	role     *auth.Role
	granted  map[string]bool
	sessions map[string]*auth.Session
}

func newStubStore(t *testing.T) *stubStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("a strong password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	now := time.Now().UTC()
	return &stubStore{
		tenant: &auth.Tenant{ID: "t1", CompanyName: "Acme", Status: auth.TenantActive, MaxUsers: 25},
		user: &auth.User{
			ID: "u1", TenantID: "t1", FullName: "Jane Doe", Email: "jane@acme.test",
			PasswordHash: string(hash), Status: auth.UserActive, CreatedAt: now, UpdatedAt: now,
		},
		role:     &auth.Role{ID: "r1", Name: auth.RoleTenantOwner, IsSystemRole: true},
		granted:  map[string]bool{"user:read": true, "user:update": true},
		sessions: make(map[string]*auth.Session),
	}
}

func (s *stubStore) Tenants(context.Context) auth.TenantStore             { return (*stubTenants)(s) }
func (s *stubStore) Users(context.Context) auth.UserStore                 { return (*stubUsers)(s) }
func (s *stubStore) Roles(context.Context) auth.RoleStore                 { return (*stubRoles)(s) }
func (s *stubStore) Permissions(context.Context) auth.PermissionStore     { return (*stubPerms)(s) }
func (s *stubStore) Sessions(context.Context) auth.SessionStore           { return (*stubSessions)(s) }
func (s *stubStore) ResetTokens(context.Context) auth.ResetTokenStore     { return (*stubResets)(s) }
func (s *stubStore) Verifications(context.Context) auth.VerificationStore { return (*stubVerifs)(s) }
func (s *stubStore) Attempts(context.Context) auth.AttemptStore           { return (*stubAttempts)(s) }

func (s *stubStore) CreateTenantBundle(context.Context, *auth.TenantBundle) error {
	return auth.ErrUnavailable
}

func (s *stubStore) RotateSession(ctx context.Context, sess *auth.Session, resetCounters bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.UserID == sess.UserID && existing.Status == auth.SessionActive {
			existing.Status = auth.SessionInvalidated
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *stubStore) RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration, reason string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.LoginAttempts++
	return s.user.LoginAttempts, false, nil
}

func (s *stubStore) CreateResetToken(context.Context, *auth.ResetToken) error { return nil }
func (s *stubStore) ConsumeResetToken(context.Context, string, string, string) (int, error) {
	return 0, auth.ErrInvalidToken
}

func (s *stubStore) CompletePasswordChange(ctx context.Context, userID, sessionID, passwordHash string, expiresAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != s.user.ID {
		return 0, auth.ErrNotFound
	}
	cur, ok := s.sessions[sessionID]
	if !ok || cur.Status != auth.SessionActive {
		return 0, auth.ErrSessionExpired
	}
	s.user.PasswordHash = passwordHash
	s.user.PasswordResetRequired = false
	killed := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == auth.SessionActive && sess.ID != sessionID {
			sess.Status = auth.SessionInvalidated
			killed++
		}
	}
	cur.Restricted = false
	cur.ExpiresAt = expiresAt
	return killed, nil
}
func (s *stubStore) CreateVerification(context.Context, *auth.Verification) error { return nil }
func (s *stubStore) ConsumeVerification(context.Context, string, string, time.Time) error {
	return auth.ErrInvalidToken
}

type stubTenants stubStore

func (s *stubTenants) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	if id == s.tenant.ID {
		t := *s.tenant
		return &t, nil
	}
	return nil, auth.ErrNotFound
}
func (s *stubTenants) UpdateStatus(context.Context, string, string) error { return nil }

type stubUsers stubStore

func (s *stubUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	if id == s.user.ID {
		u := *s.user
		return &u, nil
	}
	return nil, auth.ErrNotFound
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if email == s.user.Email {
		u := *s.user
		return &u, nil
	}
	return nil, auth.ErrNotFound
}
func (s *stubUsers) UpdateStatus(context.Context, string, string) error   { return nil }
func (s *stubUsers) UpdatePassword(context.Context, string, string) error { return nil }

type stubRoles stubStore

func (s *stubRoles) Ensure(context.Context, []auth.Role) error { return nil }
func (s *stubRoles) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	if name == s.role.Name {
		r := *s.role
		return &r, nil
	}
	return nil, auth.ErrNotFound
}
func (s *stubRoles) ActiveGrant(ctx context.Context, userID, tenantID string) (*auth.UserRole, *auth.Role, error) {
	if userID == s.user.ID && tenantID == s.tenant.ID {
		r := *s.role
		return &auth.UserRole{UserID: userID, RoleID: r.ID, TenantID: tenantID, IsActive: true}, &r, nil
	}
	return nil, nil, auth.ErrNotFound
}
func (s *stubRoles) ReplaceGrant(context.Context, *auth.UserRole) error { return nil }

type stubPerms stubStore

func (s *stubPerms) Ensure(context.Context, []auth.Permission) error { return nil }
func (s *stubPerms) List(context.Context) ([]auth.Permission, error) { return nil, nil }
func (s *stubPerms) GrantedForRole(ctx context.Context, roleID, tenantID string) ([]auth.Permission, error) {
	var out []auth.Permission
	for name := range s.granted {
		out = append(out, auth.Permission{ID: name, Name: name})
	}
	return out, nil
}
func (s *stubPerms) IsGranted(ctx context.Context, roleID, tenantID, permissionName string) (bool, error) {
	return s.granted[permissionName], nil
}
func (s *stubPerms) SeedTenantGrants(context.Context, string, []auth.RolePermission) error {
	return nil
}

type stubSessions stubStore

func (s *stubSessions) FindByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *stubSessions) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.Status = status
	return nil
}

func (s *stubSessions) Touch(ctx context.Context, id string, at time.Time) error { return nil }

func (s *stubSessions) InvalidateAll(ctx context.Context, userID, exceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == auth.SessionActive && sess.ID != exceptID {
			sess.Status = auth.SessionInvalidated
			n++
		}
	}
	return n, nil
}

func (s *stubSessions) CountActive(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == auth.SessionActive {
			n++
		}
	}
	return n, nil
}

type stubResets stubStore

func (s *stubResets) FindByTokenHash(context.Context, string) (*auth.ResetToken, error) {
	return nil, auth.ErrNotFound
}
func (s *stubResets) UpdateStatus(context.Context, string, string) error { return nil }

type stubVerifs stubStore

func (s *stubVerifs) FindByToken(context.Context, string) (*auth.Verification, error) {
	return nil, auth.ErrNotFound
}
func (s *stubVerifs) UpdateStatus(context.Context, string, string) error { return nil }

type stubAttempts stubStore

func (s *stubAttempts) Append(context.Context, *auth.LoginAttempt) error           { return nil }
func (s *stubAttempts) AppendCheck(context.Context, *auth.PermissionCheck) error   { return nil }

func newTestAPI(t *testing.T) *API {
	t.Helper()
	api, _ := newTestAPIWithStore(t)
	return api
}

func newTestAPIWithStore(t *testing.T) (*API, *stubStore) {
	t.Helper()
	store := newStubStore(t)
	svc, err := auth.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, ReadyProbe{}, "test", WithEdgeRateLimit(1000, 1000)), store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestLoginOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "jane@acme.test", Password: "a strong password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("missing token")
	}
	if resp.RedirectURL != "/admin" {
		t.Fatalf("redirect = %q, want /admin", resp.RedirectURL)
	}

	// The token authenticates the session endpoint.
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/sessions/current", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.UserID != "u1" || sess.TenantID != "t1" {
		t.Fatalf("session = %+v", sess)
	}

	// Logout, then the token is dead; a repeat logout still succeeds.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/logout", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/sessions/current", resp.Token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("dead token status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/logout", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat logout status = %d", rec.Code)
	}
}

func TestLoginBadCredentialsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "jane@acme.test", Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "invalid_credentials" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestRestrictedSessionCompletesPasswordChange(t *testing.T) {
	api, store := newTestAPIWithStore(t)
	store.user.PasswordResetRequired = true
	h := api.Handler()

	login := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "jane@acme.test", Password: "a strong password",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", login.Code, login.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Restricted {
		t.Fatal("expected a restricted session")
	}
	if resp.RedirectURL != "/password/change" {
		t.Fatalf("redirect = %q, want /password/change", resp.RedirectURL)
	}

	// Everything outside the allow-list stays blocked until the change lands.
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/permissions/check", resp.Token, permissionCheckRequest{
		Permission: "user:read",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pre-change check status = %d, want 403", rec.Code)
	}
	var errBody map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errBody["code"] != "password_change_required" {
		t.Fatalf("code = %v, want password_change_required", errBody["code"])
	}

	// The wrong current password is refused.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/password/change", resp.Token, changePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "an even stronger one",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/password/change", resp.Token, changePasswordRequest{
		CurrentPassword: "a strong password", NewPassword: "an even stronger one",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var change changePasswordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &change); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.RedirectURL != "/admin" {
		t.Fatalf("redirect = %q, want /admin", change.RedirectURL)
	}

	// The same bearer now carries a full session.
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/sessions/current", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sess sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Restricted {
		t.Fatal("session should no longer be restricted")
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/permissions/check", resp.Token, permissionCheckRequest{
		Permission: "user:read",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("post-change check status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestMaxBodyLimitIsConfigurable(t *testing.T) {
	store := newStubStore(t)
	svc, err := auth.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	big := loginRequest{Email: strings.Repeat("x", 2<<20) + "@x.test", Password: "pw"}

	// Under the raised limit a 2 MiB body parses; the request fails on
	// credentials, not on size.
	raised := New(svc, ReadyProbe{}, "test", WithEdgeRateLimit(1000, 1000), WithMaxBodyBytes(4<<20))
	rec := doJSON(t, raised.Handler(), http.MethodPost, "/v1/auth/login", "", big)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("raised limit status = %d, want 401", rec.Code)
	}

	// The default 1 MiB cap rejects the same body.
	capped := New(svc, ReadyProbe{}, "test", WithEdgeRateLimit(1000, 1000))
	rec = doJSON(t, capped.Handler(), http.MethodPost, "/v1/auth/login", "", big)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("default limit status = %d, want 400", rec.Code)
	}
}

func TestProtectedEndpointWithoutToken(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/sessions/current", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestPermissionCheckOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	login := doJSON(t, h, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "jane@acme.test", Password: "a strong password",
	})
	var resp loginResponse
	if err := json.Unmarshal(login.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/permissions/check", resp.Token, permissionCheckRequest{
		Permission: "user:read",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var check permissionCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !check.Granted {
		t.Fatalf("user:read should be granted, reason = %q", check.Reason)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/permissions/check", resp.Token, permissionCheckRequest{
		Permission: "tenant:manage",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if check.Granted {
		t.Fatal("tenant:manage should be denied by the stub grant set")
	}
}

func TestVerifyEmptyTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/verify/", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/v1/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow = %q", allow)
	}
}
