package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenbase.org/internal/audit"
	"tenbase.org/internal/ids"
	"tenbase.org/internal/obs"
)

// RegisterResult reports a committed registration. EmailDelayed is set when
// the verification email could not be handed off; the registration itself
// still succeeded.
type RegisterResult struct {
	UserID       string
	TenantID     string
	RedirectURL  string
	EmailDelayed bool
}

// Register creates tenant + owner account + owner role grant + verification
// token in a single transaction. Seeding and the verification email run
// after commit and are absorbed on failure; they never unwind the
// registration.
func (s *Service) Register(ctx context.Context, fullName, email, password, companyName, language, locale string) (*RegisterResult, error) {
	fullName = strings.TrimSpace(fullName)
	companyName = strings.TrimSpace(companyName)
	email = normalizeEmail(email)
	switch {
	case fullName == "":
		return nil, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	case companyName == "":
		return nil, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	case !validEmail(email):
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	case len(password) < s.params.MinPasswordLen:
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, s.params.MinPasswordLen)
	}
	if language == "" {
		language = "en"
	}
	if locale == "" {
		locale = "en-US"
	}

	// Fast pre-check; the unique constraint inside the transaction closes
	// the remaining race.
	if _, err := s.store.Users(ctx).FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ownerRole, err := s.store.Roles(ctx).FindByName(ctx, RoleTenantOwner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hash, err := HashPassword(password, s.params.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	verifyToken, err := RandomToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := s.now().UTC()
	bundle := &TenantBundle{
		Tenant: &Tenant{
			ID:          ids.New(),
			CompanyName: companyName,
			Language:    language,
			Locale:      locale,
			Status:      TenantActive,
			MaxUsers:    defaultMaxUsers,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	bundle.Owner = &User{
		ID:           ids.New(),
		TenantID:     bundle.Tenant.ID,
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Status:       UserPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	bundle.OwnerGrant = &UserRole{
		UserID:     bundle.Owner.ID,
		RoleID:     ownerRole.ID,
		TenantID:   bundle.Tenant.ID,
		IsActive:   true,
		AssignedBy: bundle.Owner.ID,
		CreatedAt:  now,
	}
	bundle.Verification = &Verification{
		ID:        ids.New(),
		UserID:    bundle.Owner.ID,
		Token:     verifyToken,
		Status:    VerificationPending,
		ExpiresAt: now.Add(s.params.VerificationTTL),
		CreatedAt: now,
	}

	if err := s.store.CreateTenantBundle(ctx, bundle); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	_ = audit.LogEvent(ctx, "auth.registered", map[string]any{
		"user_id": bundle.Owner.ID, "tenant_id": bundle.Tenant.ID,
	})
	obs.RegistrationsTotal.Inc()

	result := &RegisterResult{
		UserID:      bundle.Owner.ID,
		TenantID:    bundle.Tenant.ID,
		RedirectURL: "/verify-email",
	}

	// Post-commit, best-effort side effects.
	if s.seeder != nil {
		if err := s.seeder.SeedTenant(ctx, bundle.Tenant.ID); err != nil {
			obs.LogRequest(map[string]any{"level": "warn", "msg": "tenant seed failed", "tenant_id": bundle.Tenant.ID, "error": err.Error()})
		}
	}
	if s.notifier != nil {
		if err := s.notifier.VerificationEmail(ctx, email, verifyToken); err != nil {
			obs.LogRequest(map[string]any{"level": "warn", "msg": "verification email send failed", "error": err.Error()})
			result.EmailDelayed = true
		}
	} else {
		result.EmailDelayed = true
	}
	return result, nil
}

const defaultMaxUsers = 25
