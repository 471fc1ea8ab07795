package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tenbase.org/internal/ids"
	"tenbase.org/internal/obs"
)

// CheckResult is one authorization decision. Reason is set on denial.
type CheckResult struct {
	Granted bool
	Reason  string
}

// Resolve computes the effective permission set for a (user, tenant) pair:
// the user's single active role grant in the tenant, then every permission
// the tenant granted that role. No active grant yields an empty set, not an
// error; callers treat it as forbidden.
func (s *Service) Resolve(ctx context.Context, userID, tenantID string) (roleName string, perms []string, err error) {
	_, role, err := s.store.Roles(ctx).ActiveGrant(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	granted, err := s.store.Permissions(ctx).GrantedForRole(ctx, role.ID, tenantID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	perms = make([]string, 0, len(granted))
	for _, p := range granted {
		perms = append(perms, p.Name)
	}
	sort.Strings(perms)
	return role.Name, perms, nil
}

// CheckPermission evaluates one permission for a (user, tenant) pair and
// appends the decision to the permission audit trail. Evaluation is a pure
// query; there is no cache between the store and the decision.
func (s *Service) CheckPermission(ctx context.Context, userID, tenantID, permissionName, resourceContext string) (*CheckResult, error) {
	if userID == "" || tenantID == "" || permissionName == "" {
		return nil, fmt.Errorf("%w: user_id, tenant_id, and permission are required", ErrInvalidInput)
	}

	result := s.evaluate(ctx, userID, tenantID, permissionName)

	check := &PermissionCheck{
		ID:              ids.New(),
		UserID:          userID,
		TenantID:        tenantID,
		Permission:      permissionName,
		ResourceContext: resourceContext,
		Granted:         result.Granted,
		Reason:          result.Reason,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Attempts(ctx).AppendCheck(ctx, check); err != nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "permission audit append failed", "error": err.Error()})
	}
	obs.PermissionChecksTotal.WithLabelValues(grantedLabel(result.Granted)).Inc()
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, userID, tenantID, permissionName string) *CheckResult {
	_, role, err := s.store.Roles(ctx).ActiveGrant(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &CheckResult{Reason: "no active role in tenant"}
		}
		return &CheckResult{Reason: "role lookup failed"}
	}
	granted, err := s.store.Permissions(ctx).IsGranted(ctx, role.ID, tenantID, permissionName)
	if err != nil {
		return &CheckResult{Reason: "permission lookup failed"}
	}
	if !granted {
		return &CheckResult{Reason: fmt.Sprintf("role %s lacks %s", role.Name, permissionName)}
	}
	return &CheckResult{Granted: true}
}

func grantedLabel(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}
