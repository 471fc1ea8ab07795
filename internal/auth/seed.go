package auth

import (
	"context"
	"fmt"

	"tenbase.org/internal/ids"
)

// BuiltinRoles is the fixed role set, seeded once at process start and
// immutable thereafter.
var BuiltinRoles = []Role{
	{Name: RoleTenantOwner, IsSystemRole: true},
	{Name: RoleAdmin, IsSystemRole: true},
	{Name: RoleManager, IsSystemRole: true},
	{Name: RoleEmployee, IsSystemRole: true},
	{Name: RoleStaff, IsSystemRole: true},
}

// BuiltinPermissions is the seeded permission catalog.
var BuiltinPermissions = []Permission{
	{Name: "tenant:manage", Resource: "tenant", Action: "manage"},
	{Name: "user:create", Resource: "user", Action: "create"},
	{Name: "user:read", Resource: "user", Action: "read"},
	{Name: "user:update", Resource: "user", Action: "update"},
	{Name: "user:deactivate", Resource: "user", Action: "deactivate"},
	{Name: "role:assign", Resource: "role", Action: "assign"},
	{Name: "inventory:create", Resource: "inventory", Action: "create"},
	{Name: "inventory:read", Resource: "inventory", Action: "read"},
	{Name: "inventory:update", Resource: "inventory", Action: "update"},
	{Name: "inventory:delete", Resource: "inventory", Action: "delete"},
	{Name: "category:create", Resource: "category", Action: "create"},
	{Name: "category:read", Resource: "category", Action: "read"},
	{Name: "category:update", Resource: "category", Action: "update"},
	{Name: "category:delete", Resource: "category", Action: "delete"},
	{Name: "audit:read", Resource: "audit", Action: "read"},
	{Name: "report:read", Resource: "report", Action: "read"},
}

// defaultRoleGrants maps each builtin role to the permission names a fresh
// tenant grants it. Admin UI changes after that are out of scope here.
var defaultRoleGrants = map[string][]string{
	RoleTenantOwner: permissionNames(),
	RoleAdmin: {
		"user:create", "user:read", "user:update", "user:deactivate",
		"role:assign",
		"inventory:create", "inventory:read", "inventory:update", "inventory:delete",
		"category:create", "category:read", "category:update", "category:delete",
		"audit:read", "report:read",
	},
	RoleManager: {
		"user:read",
		"inventory:create", "inventory:read", "inventory:update",
		"category:create", "category:read", "category:update",
		"report:read",
	},
	RoleEmployee: {"inventory:read", "inventory:update", "category:read"},
	RoleStaff:    {"inventory:read", "category:read"},
}

func permissionNames() []string {
	names := make([]string, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		names = append(names, p.Name)
	}
	return names
}

// EnsureBuiltins idempotently seeds the role set and permission catalog.
// Called once at startup before the service takes traffic.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	roles := make([]Role, len(BuiltinRoles))
	copy(roles, BuiltinRoles)
	for i := range roles {
		roles[i].ID = ids.New()
	}
	if err := s.store.Roles(ctx).Ensure(ctx, roles); err != nil {
		return fmt.Errorf("ensure roles: %w", err)
	}

	perms := make([]Permission, len(BuiltinPermissions))
	copy(perms, BuiltinPermissions)
	for i := range perms {
		perms[i].ID = ids.New()
	}
	if err := s.store.Permissions(ctx).Ensure(ctx, perms); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}
	return nil
}

// GrantSeeder seeds default per-tenant role-permission grants after a
// registration commits. It implements TenantSeeder.
type GrantSeeder struct {
	store Store
}

// NewGrantSeeder constructs the default TenantSeeder.
func NewGrantSeeder(store Store) *GrantSeeder {
	return &GrantSeeder{store: store}
}

// SeedTenant writes one isGranted row per (role, permission) from the
// default grant table. Runs outside the registration transaction; a failure
// here is logged by the caller, never surfaced.
func (g *GrantSeeder) SeedTenant(ctx context.Context, tenantID string) error {
	permIDs, err := g.permissionIDsByName(ctx)
	if err != nil {
		return err
	}
	var grants []RolePermission
	for roleName, permNames := range defaultRoleGrants {
		role, err := g.store.Roles(ctx).FindByName(ctx, roleName)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", roleName, err)
		}
		for _, name := range permNames {
			id, ok := permIDs[name]
			if !ok {
				return fmt.Errorf("seed permission %s: %w", name, ErrNotFound)
			}
			grants = append(grants, RolePermission{
				RoleID:       role.ID,
				PermissionID: id,
				TenantID:     tenantID,
				IsGranted:    true,
			})
		}
	}
	return g.store.Permissions(ctx).SeedTenantGrants(ctx, tenantID, grants)
}

func (g *GrantSeeder) permissionIDsByName(ctx context.Context) (map[string]string, error) {
	perms, err := g.store.Permissions(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(perms))
	for _, p := range perms {
		byName[p.Name] = p.ID
	}
	return byName, nil
}
