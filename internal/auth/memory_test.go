package auth

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the service tests. It mirrors the
// transactional guarantees of the SQL implementation closely enough for
// state-machine assertions; SQL-level behavior is covered separately with
// sqlmock.
type memStore struct {
	mu            sync.Mutex
	tenants       map[string]*Tenant
	users         map[string]*User
	roles         map[string]*Role
	perms         map[string]*Permission
	userRoles     []*UserRole
	rolePerms     []*RolePermission
	sessions      map[string]*Session
	resetTokens   map[string]*ResetToken
	verifications map[string]*Verification
	attempts      []*LoginAttempt
	checks        []*PermissionCheck

	nowFn      func() time.Time
	failBundle error
}

func (m *memStore) clock() time.Time {
	if m.nowFn != nil {
		return m.nowFn()
	}
	return time.Now().UTC()
}

func newMemStore() *memStore {
	return &memStore{
		tenants:       make(map[string]*Tenant),
		users:         make(map[string]*User),
		roles:         make(map[string]*Role),
		perms:         make(map[string]*Permission),
		sessions:      make(map[string]*Session),
		resetTokens:   make(map[string]*ResetToken),
		verifications: make(map[string]*Verification),
	}
}

func (m *memStore) Tenants(context.Context) TenantStore             { return (*memTenants)(m) }
func (m *memStore) Users(context.Context) UserStore                 { return (*memUsers)(m) }
func (m *memStore) Roles(context.Context) RoleStore                 { return (*memRoles)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore     { return (*memPerms)(m) }
func (m *memStore) Sessions(context.Context) SessionStore           { return (*memSessions)(m) }
func (m *memStore) ResetTokens(context.Context) ResetTokenStore     { return (*memResets)(m) }
func (m *memStore) Verifications(context.Context) VerificationStore { return (*memVerifications)(m) }
func (m *memStore) Attempts(context.Context) AttemptStore           { return (*memAttempts)(m) }

func (m *memStore) CreateTenantBundle(ctx context.Context, b *TenantBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBundle != nil {
		return m.failBundle
	}
	for _, u := range m.users {
		if u.Email == b.Owner.Email {
			return ErrEmailExists
		}
	}
	m.tenants[b.Tenant.ID] = cloneTenant(b.Tenant)
	m.users[b.Owner.ID] = cloneUser(b.Owner)
	g := *b.OwnerGrant
	m.userRoles = append(m.userRoles, &g)
	m.verifications[b.Verification.ID] = cloneVerification(b.Verification)
	return nil
}

func (m *memStore) RotateSession(ctx context.Context, s *Session, resetCounters bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[s.UserID]
	if !ok {
		return ErrNotFound
	}
	for _, sess := range m.sessions {
		if sess.UserID == s.UserID && sess.Status == SessionActive {
			sess.Status = SessionInvalidated
		}
	}
	m.sessions[s.ID] = cloneSession(s)
	if resetCounters {
		u.LoginAttempts = 0
		u.LockedUntil = nil
		u.LockReason = ""
	}
	return nil
}

func (m *memStore) RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration, reason string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, false, ErrNotFound
	}
	u.LoginAttempts++
	locked := u.LoginAttempts >= threshold
	if locked {
		until := m.clock().Add(lockFor)
		u.LockedUntil = &until
		u.LockReason = reason
	}
	return u.LoginAttempts, locked, nil
}

func (m *memStore) CreateResetToken(ctx context.Context, t *ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.resetTokens {
		if rt.UserID == t.UserID && rt.Status == ResetPending {
			rt.Status = ResetInvalidated
		}
	}
	m.resetTokens[t.ID] = cloneResetToken(t)
	return nil
}

func (m *memStore) ConsumeResetToken(ctx context.Context, tokenID, userID, passwordHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.resetTokens[tokenID]
	if !ok || rt.Status != ResetPending {
		return 0, ErrInvalidToken
	}
	now := m.clock()
	rt.Status = ResetUsed
	rt.UsedAt = &now
	if u, ok := m.users[userID]; ok {
		u.PasswordHash = passwordHash
		u.LoginAttempts = 0
		u.LockedUntil = nil
		u.LockReason = ""
		u.PasswordResetRequired = false
	}
	killed := 0
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.Status == SessionActive {
			sess.Status = SessionInvalidated
			killed++
		}
	}
	return killed, nil
}

func (m *memStore) CompletePasswordChange(ctx context.Context, userID, sessionID, passwordHash string, expiresAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	cur, ok := m.sessions[sessionID]
	if !ok || cur.Status != SessionActive {
		return 0, ErrSessionExpired
	}
	u.PasswordHash = passwordHash
	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LockReason = ""
	u.PasswordResetRequired = false
	killed := 0
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.Status == SessionActive && sess.ID != sessionID {
			sess.Status = SessionInvalidated
			killed++
		}
	}
	cur.Restricted = false
	cur.ExpiresAt = expiresAt
	return killed, nil
}

func (m *memStore) CreateVerification(ctx context.Context, v *Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.verifications {
		if ev.UserID == v.UserID && ev.Status == VerificationPending {
			ev.Status = VerificationExpired
		}
	}
	m.verifications[v.ID] = cloneVerification(v)
	return nil
}

func (m *memStore) ConsumeVerification(ctx context.Context, verificationID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[verificationID]
	if !ok || v.Status != VerificationPending {
		return ErrInvalidToken
	}
	v.Status = VerificationVerified
	v.VerifiedAt = &at
	if u, ok := m.users[userID]; ok && u.Status == UserPendingVerification {
		u.Status = UserActive
		u.EmailVerifiedAt = &at
	}
	return nil
}

// --- sub-stores ---

type memTenants memStore

func (m *memTenants) Find(ctx context.Context, id string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTenant(t), nil
}

func (m *memTenants) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

type memUsers memStore

func (m *memUsers) Find(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordResetRequired = false
	return nil
}

type memRoles memStore

func (m *memRoles) Ensure(ctx context.Context, roles []Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range roles {
		if _, exists := (*memStore)(m).findRoleByName(r.Name); !exists {
			rr := r
			m.roles[r.ID] = &rr
		}
	}
	return nil
}

func (m *memStore) findRoleByName(name string) (*Role, bool) {
	for _, r := range m.roles {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

func (m *memRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := (*memStore)(m).findRoleByName(name)
	if !ok {
		return nil, ErrNotFound
	}
	rr := *r
	return &rr, nil
}

func (m *memRoles) ActiveGrant(ctx context.Context, userID, tenantID string) (*UserRole, *Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, g := range m.userRoles {
		if g.UserID == userID && g.TenantID == tenantID && g.IsActive &&
			(g.ExpiresAt == nil || g.ExpiresAt.After(now)) {
			r, ok := m.roles[g.RoleID]
			if !ok {
				return nil, nil, ErrNotFound
			}
			gg, rr := *g, *r
			return &gg, &rr, nil
		}
	}
	return nil, nil, ErrNotFound
}

func (m *memRoles) ReplaceGrant(ctx context.Context, grant *UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.userRoles {
		if g.UserID == grant.UserID && g.TenantID == grant.TenantID && g.IsActive {
			g.IsActive = false
		}
	}
	g := *grant
	g.IsActive = true
	m.userRoles = append(m.userRoles, &g)
	return nil
}

type memPerms memStore

func (m *memPerms) Ensure(ctx context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		found := false
		for _, existing := range m.perms {
			if existing.Name == p.Name {
				found = true
				break
			}
		}
		if !found {
			pp := p
			m.perms[p.ID] = &pp
		}
	}
	return nil
}

func (m *memPerms) List(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memPerms) GrantedForRole(ctx context.Context, roleID, tenantID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, rp := range m.rolePerms {
		if rp.RoleID == roleID && rp.TenantID == tenantID && rp.IsGranted {
			if p, ok := m.perms[rp.PermissionID]; ok {
				out = append(out, *p)
			}
		}
	}
	return out, nil
}

func (m *memPerms) IsGranted(ctx context.Context, roleID, tenantID, permissionName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rp := range m.rolePerms {
		if rp.RoleID != roleID || rp.TenantID != tenantID {
			continue
		}
		if p, ok := m.perms[rp.PermissionID]; ok && p.Name == permissionName {
			return rp.IsGranted, nil
		}
	}
	return false, nil
}

func (m *memPerms) SeedTenantGrants(ctx context.Context, tenantID string, grants []RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range grants {
		gg := g
		gg.TenantID = tenantID
		m.rolePerms = append(m.rolePerms, &gg)
	}
	return nil
}

type memSessions memStore

func (m *memSessions) FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == tokenHash {
			return cloneSession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *memSessions) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (m *memSessions) InvalidateAll(ctx context.Context, userID, exceptID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == SessionActive && s.ID != exceptID {
			s.Status = SessionInvalidated
			n++
		}
	}
	return n, nil
}

func (m *memSessions) CountActive(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == SessionActive {
			n++
		}
	}
	return n, nil
}

type memResets memStore

func (m *memResets) FindByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.resetTokens {
		if t.TokenHash == tokenHash {
			return cloneResetToken(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memResets) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resetTokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

type memVerifications memStore

func (m *memVerifications) FindByToken(ctx context.Context, token string) (*Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.verifications {
		if v.Token == token {
			return cloneVerification(v), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memVerifications) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	return nil
}

type memAttempts memStore

func (m *memAttempts) Append(ctx context.Context, a *LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	aa := *a
	m.attempts = append(m.attempts, &aa)
	return nil
}

func (m *memAttempts) AppendCheck(ctx context.Context, c *PermissionCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	m.checks = append(m.checks, &cc)
	return nil
}

// --- clone helpers ---

func cloneTenant(t *Tenant) *Tenant             { tt := *t; return &tt }
func cloneUser(u *User) *User                   { uu := *u; return &uu }
func cloneSession(s *Session) *Session          { ss := *s; return &ss }
func cloneResetToken(t *ResetToken) *ResetToken { tt := *t; return &tt }

func cloneVerification(v *Verification) *Verification { vv := *v; return &vv }

// --- test collaborators ---

// fakeWindow is a deterministic AttemptWindow.
type fakeWindow struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeWindow() *fakeWindow {
	return &fakeWindow{counts: make(map[string]int64)}
}

func (f *fakeWindow) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeWindow) Count(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[key], nil
}

// recordingNotifier captures outbound mail instead of sending it.
type recordingNotifier struct {
	mu            sync.Mutex
	verifications []string
	resets        []string
	welcomes      []string
	lastToken     string
	err           error
}

func (n *recordingNotifier) VerificationEmail(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.verifications = append(n.verifications, email)
	n.lastToken = token
	return nil
}

func (n *recordingNotifier) PasswordResetEmail(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.resets = append(n.resets, email)
	n.lastToken = token
	return nil
}

func (n *recordingNotifier) WelcomeEmail(ctx context.Context, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.welcomes = append(n.welcomes, email)
	return nil
}
