package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity core.
// Multi-step mutations with atomicity requirements are composite methods on
// Store itself so that implementations keep the transaction boundary in one
// place; simple per-entity access goes through the sub-stores.
type Store interface {
	Tenants(ctx context.Context) TenantStore
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Sessions(ctx context.Context) SessionStore
	ResetTokens(ctx context.Context) ResetTokenStore
	Verifications(ctx context.Context) VerificationStore
	Attempts(ctx context.Context) AttemptStore

	// CreateTenantBundle atomically creates tenant + owner user + owner role
	// grant + pending verification. Nothing persists on failure. A concurrent
	// duplicate email surfaces as ErrEmailExists.
	CreateTenantBundle(ctx context.Context, b *TenantBundle) error

	// RotateSession invalidates any active session for the user and inserts
	// the new one in a single transaction. When resetCounters is set, login
	// attempt and lock fields on the user row are cleared in the same
	// transaction.
	RotateSession(ctx context.Context, s *Session, resetCounters bool) error

	// RecordFailedLogin increments the user's attempt counter and, when the
	// threshold is reached, locks the account until now+lockFor. It returns
	// the new counter and whether this call tripped the lock. The
	// read-modify-write runs under a row lock.
	RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration, reason string) (attempts int, locked bool, err error)

	// CreateResetToken invalidates any pending reset token for the user and
	// inserts the new one atomically, so two valid tokens never coexist.
	CreateResetToken(ctx context.Context, t *ResetToken) error

	// ConsumeResetToken marks the token used, replaces the user's password
	// hash, clears lock and attempt state, drops the forced-reset flag, and
	// invalidates every active session for the user, all in one transaction.
	// It returns the number of sessions invalidated.
	ConsumeResetToken(ctx context.Context, tokenID, userID, passwordHash string) (int, error)

	// CompletePasswordChange replaces the user's password hash, clears lock
	// state and the forced-reset flag, invalidates every other active
	// session, and lifts the restriction on the calling session with a fresh
	// expiry, all in one transaction. It returns the number of sessions
	// invalidated.
	CompletePasswordChange(ctx context.Context, userID, sessionID, passwordHash string, expiresAt time.Time) (int, error)

	// CreateVerification expires any pending verification for the user and
	// inserts the new one atomically.
	CreateVerification(ctx context.Context, v *Verification) error

	// ConsumeVerification marks the verification verified and promotes the
	// owning user from pending_verification to active in one transaction.
	ConsumeVerification(ctx context.Context, verificationID, userID string, at time.Time) error
}

// TenantStore manages tenants.
type TenantStore interface {
	Find(ctx context.Context, id string) (*Tenant, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// UserStore manages user accounts.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleStore manages the fixed role catalog and per-tenant grants.
type RoleStore interface {
	Ensure(ctx context.Context, roles []Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	ActiveGrant(ctx context.Context, userID, tenantID string) (*UserRole, *Role, error)
	// ReplaceGrant deactivates the user's current grant in the tenant and
	// activates or creates the new one, preserving history.
	ReplaceGrant(ctx context.Context, grant *UserRole) error
}

// PermissionStore manages the permission catalog and tenant-scoped
// role-permission grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	GrantedForRole(ctx context.Context, roleID, tenantID string) ([]Permission, error)
	IsGranted(ctx context.Context, roleID, tenantID, permissionName string) (bool, error)
	SeedTenantGrants(ctx context.Context, tenantID string, grants []RolePermission) error
}

// SessionStore manages session rows outside the rotation transaction.
type SessionStore interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Touch(ctx context.Context, id string, at time.Time) error
	// InvalidateAll flips every active session for the user (except the
	// optional one) to invalidated and returns the count.
	InvalidateAll(ctx context.Context, userID, exceptID string) (int, error)
	CountActive(ctx context.Context, userID string) (int, error)
}

// ResetTokenStore reads reset tokens; lifecycle transitions happen through
// the composite Store methods.
type ResetTokenStore interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// VerificationStore reads verification rows; lifecycle transitions happen
// through the composite Store methods.
type VerificationStore interface {
	FindByToken(ctx context.Context, token string) (*Verification, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// AttemptStore appends immutable audit records.
type AttemptStore interface {
	Append(ctx context.Context, a *LoginAttempt) error
	AppendCheck(ctx context.Context, c *PermissionCheck) error
}

// TenantBundle is everything registration must persist atomically.
type TenantBundle struct {
	Tenant       *Tenant
	Owner        *User
	OwnerGrant   *UserRole
	Verification *Verification
}
