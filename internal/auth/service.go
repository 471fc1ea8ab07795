package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenbase.org/internal/audit"
	"tenbase.org/internal/ids"
	"tenbase.org/internal/obs"
)

// Default thresholds and lifetimes. All of them are overridable through
// Params.
const (
	defaultMaxLoginAttempts = 10
	defaultLockDuration     = time.Hour
	defaultIPWindow         = 15 * time.Minute
	defaultIPMaxFailures    = 5
	defaultSessionTTL       = 8 * time.Hour
	defaultRememberTTL      = 30 * 24 * time.Hour
	defaultRestrictedTTL    = time.Hour
	defaultResetTTL         = 2 * time.Hour
	defaultAdminResetTTL    = 24 * time.Hour
	defaultVerificationTTL  = 24 * time.Hour
	defaultResendWindow     = 15 * time.Minute
	defaultResendMax        = 3
	defaultMinPasswordLen   = 8
)

const tokenBytes = 32

// Params tunes lockout, rate limiting, and token lifetimes. Zero fields keep
// their defaults.
type Params struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
	IPWindow         time.Duration
	IPMaxFailures    int64
	SessionTTL       time.Duration
	RememberTTL      time.Duration
	RestrictedTTL    time.Duration
	ResetTTL         time.Duration
	AdminResetTTL    time.Duration
	VerificationTTL  time.Duration
	ResendWindow     time.Duration
	ResendMax        int64
	BcryptCost       int
	MinPasswordLen   int
}

func defaultParams() Params {
	return Params{
		MaxLoginAttempts: defaultMaxLoginAttempts,
		LockDuration:     defaultLockDuration,
		IPWindow:         defaultIPWindow,
		IPMaxFailures:    defaultIPMaxFailures,
		SessionTTL:       defaultSessionTTL,
		RememberTTL:      defaultRememberTTL,
		RestrictedTTL:    defaultRestrictedTTL,
		ResetTTL:         defaultResetTTL,
		AdminResetTTL:    defaultAdminResetTTL,
		VerificationTTL:  defaultVerificationTTL,
		ResendWindow:     defaultResendWindow,
		ResendMax:        defaultResendMax,
		BcryptCost:       MinBcryptCost,
		MinPasswordLen:   defaultMinPasswordLen,
	}
}

// AttemptWindow is a rolling counter keyed by source address or account,
// used for distributed brute-force defense. Implementations live outside the
// core (see internal/ratelimit).
type AttemptWindow interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
}

// Notifier delivers outbound mail. Calls happen strictly after the core
// transaction commits; failures are logged and never surfaced.
type Notifier interface {
	VerificationEmail(ctx context.Context, email, token string) error
	PasswordResetEmail(ctx context.Context, email, token string) error
	WelcomeEmail(ctx context.Context, email string) error
}

// TenantSeeder populates default per-tenant data after registration commits.
type TenantSeeder interface {
	SeedTenant(ctx context.Context, tenantID string) error
}

// Service drives the authentication, session, and permission flows.
type Service struct {
	store    Store
	window   AttemptWindow
	notifier Notifier
	seeder   TenantSeeder
	now      func() time.Time
	params   Params
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAttemptWindow installs the distributed attempt counter.
func WithAttemptWindow(w AttemptWindow) Option {
	return func(s *Service) error {
		if w != nil {
			s.window = w
		}
		return nil
	}
}

// WithNotifier installs the outbound mail collaborator.
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithTenantSeeder installs the post-registration seeding collaborator.
func WithTenantSeeder(ts TenantSeeder) Option {
	return func(s *Service) error {
		if ts != nil {
			s.seeder = ts
		}
		return nil
	}
}

// WithParams overrides thresholds and lifetimes; zero fields keep defaults.
func WithParams(p Params) Option {
	return func(s *Service) error {
		if p.MaxLoginAttempts > 0 {
			s.params.MaxLoginAttempts = p.MaxLoginAttempts
		}
		if p.LockDuration > 0 {
			s.params.LockDuration = p.LockDuration
		}
		if p.IPWindow > 0 {
			s.params.IPWindow = p.IPWindow
		}
		if p.IPMaxFailures > 0 {
			s.params.IPMaxFailures = p.IPMaxFailures
		}
		if p.SessionTTL > 0 {
			s.params.SessionTTL = p.SessionTTL
		}
		if p.RememberTTL > 0 {
			s.params.RememberTTL = p.RememberTTL
		}
		if p.RestrictedTTL > 0 {
			s.params.RestrictedTTL = p.RestrictedTTL
		}
		if p.ResetTTL > 0 {
			s.params.ResetTTL = p.ResetTTL
		}
		if p.AdminResetTTL > 0 {
			s.params.AdminResetTTL = p.AdminResetTTL
		}
		if p.VerificationTTL > 0 {
			s.params.VerificationTTL = p.VerificationTTL
		}
		if p.ResendWindow > 0 {
			s.params.ResendWindow = p.ResendWindow
		}
		if p.ResendMax > 0 {
			s.params.ResendMax = p.ResendMax
		}
		if p.BcryptCost > 0 {
			s.params.BcryptCost = p.BcryptCost
		}
		if p.MinPasswordLen > 0 {
			s.params.MinPasswordLen = p.MinPasswordLen
		}
		return nil
	}
}

// NewService constructs the identity service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:  store,
		window: noopWindow{},
		now:    time.Now,
		params: defaultParams(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	SessionToken string
	ExpiresAt    time.Time
	RoleName     string
	Permissions  []string
	RedirectURL  string
	// Restricted sessions only allow a password change.
	Restricted bool
}

// Login authenticates credentials and rotates the user's session. The check
// order is fixed: source-address window, account lookup, lockout, account
// status, tenant status, password. Every attempt lands in the audit log.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string, rememberMe bool) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	now := s.now().UTC()

	if err := s.checkSourceWindow(ctx, ip); err != nil {
		s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, AttemptRateLimited, "source address over limit", "")
		obs.LoginsTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.failSourceWindow(ctx, ip)
			s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, AttemptFailed, "unknown email", "")
			obs.LoginsTotal.WithLabelValues("failed").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Locked accounts fail before the credential check so attackers cannot
	// probe passwords during the lock window.
	if user.Locked(now) {
		s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, AttemptLocked, user.LockReason, user.TenantID)
		obs.LoginsTotal.WithLabelValues("locked").Inc()
		return nil, &LockedError{RetryAfter: user.LockedUntil.Sub(now)}
	}

	if user.Status == UserInactive || user.Status == UserSuspended {
		s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, AttemptFailed, "account "+user.Status, user.TenantID)
		obs.LoginsTotal.WithLabelValues("deactivated").Inc()
		return nil, ErrAccountDeactivated
	}

	tenant, err := s.store.Tenants(ctx).Find(ctx, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tenantGate(tenant); err != nil {
		s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, AttemptFailed, "tenant "+tenant.Status, tenant.ID)
		obs.LoginsTotal.WithLabelValues("tenant_blocked").Inc()
		return nil, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, s.failLogin(ctx, user, email, ip, userAgent)
	}

	if user.PasswordResetRequired {
		return s.issueRestrictedSession(ctx, user, tenant, ip, userAgent, now)
	}

	token, session, err := s.newSession(user, tenant, ip, userAgent, rememberMe, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.RotateSession(ctx, session, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	roleName, perms, err := s.Resolve(ctx, user.ID, tenant.ID)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, AttemptSucceeded, "", tenant.ID)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"user_id": user.ID, "tenant_id": tenant.ID, "remember": rememberMe,
	})
	obs.LoginsTotal.WithLabelValues("success").Inc()

	return &LoginResult{
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
		RoleName:     roleName,
		Permissions:  perms,
		RedirectURL:  roleRedirect(roleName),
	}, nil
}

// failLogin handles a wrong password: bump the per-account counter (possibly
// tripping the lock), bump the source window, append the audit row.
func (s *Service) failLogin(ctx context.Context, user *User, email, ip, userAgent string) error {
	attempts, locked, err := s.store.RecordFailedLogin(ctx, user.ID, s.params.MaxLoginAttempts, s.params.LockDuration, "too many failed login attempts")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.failSourceWindow(ctx, ip)

	reason := fmt.Sprintf("wrong password (attempt %d)", attempts)
	status := AttemptFailed
	if locked {
		reason = "wrong password, account locked"
		status = AttemptLocked
		obs.LockoutsTotal.Inc()
		_ = audit.LogEvent(ctx, "auth.lockout", map[string]any{
			"user_id": user.ID, "attempts": attempts,
		})
	}
	s.recordAttempt(ctx, email, ip, userAgent, AttemptLogin, status, reason, user.TenantID)
	obs.LoginsTotal.WithLabelValues("failed").Inc()
	return ErrInvalidCredentials
}

func (s *Service) issueRestrictedSession(ctx context.Context, user *User, tenant *Tenant, ip, userAgent string, now time.Time) (*LoginResult, error) {
	token, err := RandomToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	session := &Session{
		ID:             ids.New(),
		TokenHash:      HashToken(token),
		UserID:         user.ID,
		TenantID:       tenant.ID,
		Status:         SessionActive,
		IP:             ip,
		UserAgent:      userAgent,
		LoginMethod:    "password",
		Restricted:     true,
		ExpiresAt:      now.Add(s.params.RestrictedTTL),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := s.store.RotateSession(ctx, session, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.recordAttempt(ctx, user.Email, ip, userAgent, AttemptLogin, AttemptSucceeded, "password change required", tenant.ID)
	obs.LoginsTotal.WithLabelValues("restricted").Inc()
	return &LoginResult{
		SessionToken: token,
		ExpiresAt:    session.ExpiresAt,
		RedirectURL:  "/password/change",
		Restricted:   true,
	}, nil
}

func (s *Service) newSession(user *User, tenant *Tenant, ip, userAgent string, rememberMe bool, now time.Time) (string, *Session, error) {
	token, err := RandomToken(tokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ttl := s.params.SessionTTL
	if rememberMe {
		ttl = s.params.RememberTTL
	}
	return token, &Session{
		ID:             ids.New(),
		TokenHash:      HashToken(token),
		UserID:         user.ID,
		TenantID:       tenant.ID,
		Status:         SessionActive,
		IP:             ip,
		UserAgent:      userAgent,
		LoginMethod:    "password",
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
		CreatedAt:      now,
	}, nil
}

func (s *Service) checkSourceWindow(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	count, err := s.window.Count(ctx, sourceKey(ip))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= s.params.IPMaxFailures {
		return ErrRateLimited
	}
	return nil
}

// failSourceWindow counts one failed attempt against the source address.
// Errors here must not mask the credential outcome.
func (s *Service) failSourceWindow(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	if _, err := s.window.Incr(ctx, sourceKey(ip), s.params.IPWindow); err != nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "source window unavailable", "error": err.Error()})
	}
}

func sourceKey(ip string) string { return "login_fail:" + ip }

func resendKey(email string) string { return "verify_resend:" + email }

func (s *Service) recordAttempt(ctx context.Context, email, ip, userAgent, attemptType, status, reason, tenantID string) {
	err := s.store.Attempts(ctx).Append(ctx, &LoginAttempt{
		ID:            ids.New(),
		Email:         email,
		IP:            ip,
		UserAgent:     userAgent,
		AttemptType:   attemptType,
		Status:        status,
		FailureReason: reason,
		TenantID:      tenantID,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "attempt audit append failed", "error": err.Error()})
	}
}

func tenantGate(t *Tenant) error {
	switch t.Status {
	case TenantActive:
		return nil
	case TenantSuspended:
		return ErrTenantSuspended
	default:
		return ErrTenantInactive
	}
}

func roleRedirect(roleName string) string {
	switch roleName {
	case RoleTenantOwner, RoleAdmin:
		return "/admin"
	case RoleManager:
		return "/manage"
	case RoleEmployee, RoleStaff:
		return "/workspace"
	default:
		return "/"
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

type noopWindow struct{}

func (noopWindow) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, nil
}

func (noopWindow) Count(ctx context.Context, key string) (int64, error) { return 0, nil }
