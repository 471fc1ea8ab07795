package auth

import (
	"context"
	"errors"
	"fmt"

	"tenbase.org/internal/audit"
)

// SessionInfo is the resolved context of a validated bearer token.
type SessionInfo struct {
	Session *Session
	User    *User
	Tenant  *Tenant
}

// ValidateSession resolves a bearer token to its user and tenant. Unknown
// and dead tokens both fail with ErrSessionExpired so the boundary never
// leaks whether a token ever existed. A row found past its expiry is flipped
// to expired as a side effect; a live one gets its activity stamp touched.
func (s *Service) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	if token == "" {
		return nil, ErrSessionExpired
	}
	now := s.now().UTC()
	sessions := s.store.Sessions(ctx)

	session, err := sessions.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if session.Status != SessionActive {
		return nil, ErrSessionExpired
	}
	if now.After(session.ExpiresAt) {
		if err := sessions.UpdateStatus(ctx, session.ID, SessionExpired); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, ErrSessionExpired
	}

	user, err := s.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tenant, err := s.store.Tenants(ctx).Find(ctx, session.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tenantGate(tenant); err != nil {
		return nil, err
	}

	if err := sessions.Touch(ctx, session.ID, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	session.LastActivityAt = now
	return &SessionInfo{Session: session, User: user, Tenant: tenant}, nil
}

// Logout flips the matching active session to logged_out. A missing, expired,
// or already-dead token is treated as already logged out: failing here leaks
// information and helps nobody.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sessions := s.store.Sessions(ctx)
	session, err := sessions.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if session.Status != SessionActive {
		return nil
	}
	if err := sessions.UpdateStatus(ctx, session.ID, SessionLoggedOut); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{
		"user_id": session.UserID, "tenant_id": session.TenantID,
	})
	return nil
}

// InvalidateSessions kills every live session for the user except the given
// one and returns the count, for caller reporting after password changes and
// deactivations.
func (s *Service) InvalidateSessions(ctx context.Context, userID, exceptSessionID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	n, err := s.store.Sessions(ctx).InvalidateAll(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n > 0 {
		_ = audit.LogEvent(ctx, "auth.sessions.invalidated", map[string]any{
			"user_id": userID, "count": n,
		})
	}
	return n, nil
}
