package rbac

import "context"

// DirectoryReader reads the user and department rows the engine depends on
type DirectoryReader interface {
	GetUser(ctx context.Context, tenantID, userID int64) (*User, error)
	GetDepartment(ctx context.Context, tenantID, departmentID int64) (*Department, error)
	ListUserIDsByDepartment(ctx context.Context, tenantID, departmentID int64) ([]int64, error)
}

// DirectoryWriter changes a user's primary department
type DirectoryWriter interface {
	SetPrimaryDepartment(ctx context.Context, tenantID, userID int64, departmentID *int64) error
}

// CatalogReader resolves resource keys and permission codes
type CatalogReader interface {
	// GetResourceByKey returns the tenant-specific resource for key, falling back to a global one
	GetResourceByKey(ctx context.Context, tenantID int64, key string) (*Resource, error)
	GetPermissionByCode(ctx context.Context, code PermissionCode) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// RoleStore persists roles
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, tenantID, roleID int64) (*Role, error)
	GetRoleByCode(ctx context.Context, tenantID int64, code string) (*Role, error)
	GetRolesByIDs(ctx context.Context, tenantID int64, roleIDs []int64) ([]Role, error)
	ListRoles(ctx context.Context, tenantID int64) ([]Role, error)
	// LockRole returns the role and holds a row lock on it until the transaction ends
	LockRole(ctx context.Context, tenantID, roleID int64) (*Role, error)
	// CountRoleReferences returns how many member and permission rows reference the role
	CountRoleReferences(ctx context.Context, tenantID, roleID int64) (members, permissions int, err error)
	DeleteRole(ctx context.Context, tenantID, roleID int64) error
}

// MemberStore persists role memberships
type MemberStore interface {
	AddRoleMember(ctx context.Context, member *RoleMember) error
	// RemoveRoleMember reports whether a row was deleted
	RemoveRoleMember(ctx context.Context, tenantID, roleID int64, subject Subject) (bool, error)
	ListRoleMembers(ctx context.Context, tenantID, roleID int64) ([]RoleMember, error)
	ListRoleIDsForSubject(ctx context.Context, tenantID int64, subject Subject) ([]int64, error)
}

// GrantStore persists role permissions
type GrantStore interface {
	ListRolePermissions(ctx context.Context, tenantID, roleID int64) ([]RolePermissionView, error)
	// UpsertRolePermission updates the effect in place or inserts a new row
	UpsertRolePermission(ctx context.Context, rp *RolePermission) error
	// DeleteRolePermission reports whether a row was deleted
	DeleteRolePermission(ctx context.Context, tenantID, roleID, resourceID, permissionID int64) (bool, error)
	// ListGrants returns every grant of roleIDs on enabled resources visible to tenantID
	ListGrants(ctx context.Context, tenantID int64, roleIDs []int64) ([]Grant, error)
}

// MenuReader reads navigation metadata
type MenuReader interface {
	// ListMenus returns the enabled and visible menus
	ListMenus(ctx context.Context) ([]Menu, error)
}

// Store is the full authorization model store
type Store interface {
	DirectoryReader
	DirectoryWriter
	CatalogReader
	RoleStore
	MemberStore
	GrantStore
	MenuReader

	// RunInTx runs fn against a transactional view of the store.
	// fn's writes are committed together if it returns nil and discarded otherwise.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
