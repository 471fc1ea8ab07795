package auth

import "time"

// Tenant is an isolated customer organization. Tenant status gates every
// user belonging to it regardless of the user's own status.
type Tenant struct {
	ID          string
	CompanyName string
	Language    string
	Locale      string
	Status      string
	MaxUsers    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tenant statuses.
const (
	TenantActive    = "active"
	TenantInactive  = "inactive"
	TenantSuspended = "suspended"
)

// User is an account owned by exactly one tenant. Lock and attempt fields
// are mutated only by the login path; users are retired via status, never
// deleted.
type User struct {
	ID                    string
	TenantID              string
	FullName              string
	Email                 string
	PasswordHash          string
	Status                string
	LoginAttempts         int
	LockedUntil           *time.Time
	LockReason            string
	PasswordResetRequired bool
	EmailVerifiedAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// User statuses.
const (
	UserPendingVerification = "pending_verification"
	UserActive              = "active"
	UserInactive            = "inactive"
	UserSuspended           = "suspended"
)

// Locked reports whether the account lock is still in force at the given
// instant.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Role is a named permission bundle. The set of roles is fixed and seeded at
// process start.
type Role struct {
	ID           string
	Name         string
	IsSystemRole bool
	CreatedAt    time.Time
}

// Builtin role names.
const (
	RoleTenantOwner = "tenant_owner"
	RoleAdmin       = "admin"
	RoleManager     = "manager"
	RoleEmployee    = "employee"
	RoleStaff       = "staff"
)

// UserRole grants one role to one user within one tenant. Grants are
// append/deactivate-only; a role change deactivates the old grant rather
// than editing it in place.
type UserRole struct {
	UserID     string
	RoleID     string
	TenantID   string
	IsActive   bool
	AssignedBy string
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// Permission is an atomic resource:action capability.
type Permission struct {
	ID       string
	Name     string
	Resource string
	Action   string
}

// RolePermission is a tenant-scoped grant or deny of a permission to a role.
type RolePermission struct {
	RoleID       string
	PermissionID string
	TenantID     string
	IsGranted    bool
}

// Session is one login's live credential. At most one active row exists per
// user; rows transition to a terminal status and are never deleted. Only the
// sha256 of the bearer token is stored.
type Session struct {
	ID             string
	TokenHash      string
	UserID         string
	TenantID       string
	Status         string
	IP             string
	UserAgent      string
	LoginMethod    string
	Restricted     bool
	ExpiresAt      time.Time
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Session statuses. Active is the only non-terminal state.
const (
	SessionActive      = "active"
	SessionExpired     = "expired"
	SessionInvalidated = "invalidated"
	SessionLoggedOut   = "logged_out"
)

// ResetToken is a one-time password-reset grant. Only the sha256 of the
// token is stored; the plaintext is transmitted once and never persisted.
type ResetToken struct {
	ID          string
	UserID      string
	TokenHash   string
	Status      string
	ExpiresAt   time.Time
	ResetMethod string
	InitiatedBy string
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// Reset token statuses.
const (
	ResetPending     = "pending"
	ResetUsed        = "used"
	ResetExpired     = "expired"
	ResetInvalidated = "invalidated"
)

// Reset methods.
const (
	ResetSelfService = "self_service"
	ResetByAdmin     = "admin"
)

// Verification is a one-time email-ownership proof. Superseded copies are
// marked expired when a new one is issued for the same user.
type Verification struct {
	ID         string
	UserID     string
	Token      string
	Status     string
	ExpiresAt  time.Time
	Attempts   int
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// Verification statuses.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationExpired  = "expired"
)

// LoginAttempt is an append-only audit record of one authentication attempt.
type LoginAttempt struct {
	ID            string
	Email         string
	IP            string
	UserAgent     string
	AttemptType   string
	Status        string
	FailureReason string
	TenantID      string
	CreatedAt     time.Time
}

// Attempt types.
const (
	AttemptLogin        = "login"
	AttemptResetRequest = "password_reset_request"
	AttemptVerification = "email_verification"
)

// Attempt outcomes.
const (
	AttemptSucceeded   = "success"
	AttemptFailed      = "failed"
	AttemptLocked      = "locked"
	AttemptRateLimited = "rate_limited"
)

// PermissionCheck is an append-only audit record of one authorization
// decision.
type PermissionCheck struct {
	ID              string
	UserID          string
	TenantID        string
	Permission      string
	ResourceContext string
	Granted         bool
	Reason          string
	CreatedAt       time.Time
}
