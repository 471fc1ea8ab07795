package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenbase.org/internal/audit"
	"tenbase.org/internal/ids"
	"tenbase.org/internal/obs"
)

// RequestPasswordReset issues a self-service reset token. The response is
// identical whether or not the email exists; only the internal email send
// differs, which keeps account enumeration blind.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip, userAgent string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same outcome as the success path, minus the send.
			s.recordAttempt(ctx, email, ip, userAgent, AttemptResetRequest, AttemptFailed, "unknown email", "")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, err := s.issueResetToken(ctx, user, ResetSelfService, user.ID)
	if err != nil {
		return err
	}
	s.recordAttempt(ctx, email, ip, userAgent, AttemptResetRequest, AttemptSucceeded, "", user.TenantID)

	if s.notifier != nil {
		if err := s.notifier.PasswordResetEmail(ctx, user.Email, token); err != nil {
			obs.LogRequest(map[string]any{"level": "warn", "msg": "reset email send failed", "error": err.Error()})
		}
	}
	return nil
}

// AdminInitiatePasswordReset issues a reset token on behalf of an admin with
// the longer expiry and returns the plaintext token for delivery.
func (s *Service) AdminInitiatePasswordReset(ctx context.Context, userID, initiatedBy string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	token, err := s.issueResetToken(ctx, user, ResetByAdmin, initiatedBy)
	if err != nil {
		return "", err
	}
	_ = audit.LogEvent(ctx, "auth.reset.admin_initiated", map[string]any{
		"user_id": user.ID, "initiated_by": initiatedBy,
	})
	return token, nil
}

// issueResetToken creates a pending token, invalidating any prior pending
// one in the same transaction so two valid tokens never coexist.
func (s *Service) issueResetToken(ctx context.Context, user *User, method, initiatedBy string) (string, error) {
	token, err := RandomToken(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ttl := s.params.ResetTTL
	if method == ResetByAdmin {
		ttl = s.params.AdminResetTTL
	}
	now := s.now().UTC()
	rec := &ResetToken{
		ID:          ids.New(),
		UserID:      user.ID,
		TokenHash:   HashToken(token),
		Status:      ResetPending,
		ExpiresAt:   now.Add(ttl),
		ResetMethod: method,
		InitiatedBy: initiatedBy,
		CreatedAt:   now,
	}
	if err := s.store.CreateResetToken(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// CompletePasswordReset consumes a reset token: rehash the password, clear
// lock state, mark the token used, and log the user out everywhere, all in
// one transaction. A second call with the same token fails ErrInvalidToken.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if len(newPassword) < s.params.MinPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, s.params.MinPasswordLen)
	}

	rec, err := s.store.ResetTokens(ctx).FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec.Status != ResetPending {
		return ErrInvalidToken
	}
	now := s.now().UTC()
	if now.After(rec.ExpiresAt) {
		if err := s.store.ResetTokens(ctx).UpdateStatus(ctx, rec.ID, ResetExpired); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return ErrExpiredToken
	}

	hash, err := HashPassword(newPassword, s.params.BcryptCost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	killed, err := s.store.ConsumeResetToken(ctx, rec.ID, rec.UserID, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = audit.LogEvent(ctx, "auth.reset.completed", map[string]any{
		"user_id": rec.UserID, "method": rec.ResetMethod, "sessions_invalidated": killed,
	})
	obs.ResetsTotal.Inc()
	return nil
}

// ChangePasswordResult reports a completed session-authenticated password
// change.
type ChangePasswordResult struct {
	ExpiresAt           time.Time
	RoleName            string
	Permissions         []string
	RedirectURL         string
	SessionsInvalidated int
}

// ChangePassword rotates the password for an authenticated session after
// re-verifying the current one. It is the one operation a restricted session
// may perform: a successful change clears the forced-reset flag, lifts the
// restriction on the calling session with a fresh full-length expiry, and
// logs the user out everywhere else.
func (s *Service) ChangePassword(ctx context.Context, info *SessionInfo, currentPassword, newPassword string) (*ChangePasswordResult, error) {
	if info == nil || info.Session == nil || info.User == nil {
		return nil, ErrSessionExpired
	}
	if len(newPassword) < s.params.MinPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, s.params.MinPasswordLen)
	}
	if err := VerifyPassword(info.User.PasswordHash, currentPassword); err != nil {
		return nil, ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword, s.params.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	expiresAt := s.now().UTC().Add(s.params.SessionTTL)
	killed, err := s.store.CompletePasswordChange(ctx, info.User.ID, info.Session.ID, hash, expiresAt)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = audit.LogEvent(ctx, "auth.password.changed", map[string]any{
		"user_id": info.User.ID, "tenant_id": info.Tenant.ID, "sessions_invalidated": killed,
	})
	obs.PasswordChangesTotal.Inc()

	roleName, perms, err := s.Resolve(ctx, info.User.ID, info.Tenant.ID)
	if err != nil {
		return nil, err
	}
	return &ChangePasswordResult{
		ExpiresAt:           expiresAt,
		RoleName:            roleName,
		Permissions:         perms,
		RedirectURL:         roleRedirect(roleName),
		SessionsInvalidated: killed,
	}, nil
}

// VerifyResult reports a completed email verification.
type VerifyResult struct {
	UserID     string
	Email      string
	VerifiedAt time.Time
}

// VerifyEmail consumes a verification token and promotes the owning user
// from pending_verification to active.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*VerifyResult, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	rec, err := s.store.Verifications(ctx).FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec.Status == VerificationVerified {
		return nil, ErrAlreadyVerified
	}
	now := s.now().UTC()
	if rec.Status == VerificationExpired {
		return nil, ErrExpiredToken
	}
	if now.After(rec.ExpiresAt) {
		if err := s.store.Verifications(ctx).UpdateStatus(ctx, rec.ID, VerificationExpired); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, ErrExpiredToken
	}

	if err := s.store.ConsumeVerification(ctx, rec.ID, rec.UserID, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	user, err := s.store.Users(ctx).Find(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = audit.LogEvent(ctx, "auth.email.verified", map[string]any{
		"user_id": user.ID, "tenant_id": user.TenantID,
	})

	if s.notifier != nil {
		if err := s.notifier.WelcomeEmail(ctx, user.Email); err != nil {
			obs.LogRequest(map[string]any{"level": "warn", "msg": "welcome email send failed", "error": err.Error()})
		}
	}
	return &VerifyResult{UserID: user.ID, Email: user.Email, VerifiedAt: now}, nil
}

// ResendVerification re-issues a pending verification token. The response is
// uniform for unknown emails; the per-email window throttles abuse without
// revealing which addresses exist.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}

	count, err := s.window.Incr(ctx, resendKey(email), s.params.ResendWindow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count > s.params.ResendMax {
		return ErrRateLimited
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.EmailVerifiedAt != nil {
		return nil
	}

	token, err := s.issueVerification(ctx, user.ID)
	if err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.VerificationEmail(ctx, user.Email, token); err != nil {
			obs.LogRequest(map[string]any{"level": "warn", "msg": "verification email send failed", "error": err.Error()})
		}
	}
	return nil
}

// issueVerification creates a pending verification, expiring any prior
// pending row for the user in the same transaction.
func (s *Service) issueVerification(ctx context.Context, userID string) (string, error) {
	token, err := RandomToken(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	now := s.now().UTC()
	rec := &Verification{
		ID:        ids.New(),
		UserID:    userID,
		Token:     token,
		Status:    VerificationPending,
		ExpiresAt: now.Add(s.params.VerificationTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateVerification(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}
