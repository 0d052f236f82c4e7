// Package rbac resolves and administers tenant-scoped, resource-level permissions.
//
// # Model
//
// A Resource is a MENU, UI_COMPONENT, PAGE_SECTION or API identified by a
// resource key. Resources with a nil TenantID are global and visible to every
// tenant; a tenant-specific row with the same key takes precedence.
//
// Permissions form a fixed catalog:
//
//	VIEW=10  USE=20  EDIT=30  APPROVE=40  EXECUTE=50
//
// A Role belongs to one tenant and is granted to Subjects, either a single
// user (UserSubject) or every user whose primary department matches
// (DepartmentSubject). A RolePermission binds (role, resource, permission)
// to an Effect, ALLOW or DENY.
//
// # Resolution
//
// A user's effective roles are the union of direct grants and grants to their
// primary department:
//
//	roles, err := rbac.NewRoleResolver(store).Resolve(ctx, tenantID, userID)
//
// PermissionChecker folds the grants of all effective roles into
// deny-overrides tuples and caches the result per (tenant, user):
//
//	checker := rbac.NewPermissionChecker(store, decisions)
//	decision, err := checker.CheckPermission(ctx, tenantID, userID, "menu.orders", rbac.PermissionView)
//	if err != nil {
//		return err
//	}
//	if !decision.Allowed {
//		// decision.Reason says why
//	}
//
// Any DENY on a tuple wins. No grant, an unknown resource and an unknown
// permission code are all a Deny decision, never an error. Holding the admin
// role does not bypass a DENY.
//
// # Mutations
//
// PermissionMutator applies a batch of grant changes to one role in a single
// transaction holding the role's row lock. The batch is validated in full
// before anything is written and returns a Diff of the grants that actually
// changed. RoleService creates and deletes roles and manages membership and
// primary departments.
//
// Every mutation commits first, then runs the Cascade to evict the cached
// decisions of the affected users, then emits an audit event. Eviction and
// audit failures are logged and never fail the committed mutation.
//
// # Caching
//
// Cached Decisions are protected against stale writes by an epoch per key:
// a recompute reads the epoch before touching the store, and its write is
// discarded if an eviction bumped the epoch in between. Concurrent misses for
// the same key and epoch share one recompute.
//
// # Storage
//
// PostgresStore is the production Store; MemoryStore enforces the same
// constraints in process. RunMigrations creates the schema and seeds the
// permission catalog.
package rbac
