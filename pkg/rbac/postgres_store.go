package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore handles authorization model persistence in PostgreSQL
type PostgresStore struct {
	db *sql.DB
	q  querier
	tx bool
}

// NewPostgresStore creates a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// RunInTx runs fn inside a transaction. Nested calls join the outer transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if err := fn(&PostgresStore{db: s.db, q: tx, tx: true}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, tenantID, userID int64) (*User, error) {
	query := `
		SELECT id, tenant_id, username, primary_department_id
		FROM users
		WHERE tenant_id = $1 AND id = $2
	`

	var user User
	var deptID sql.NullInt64
	err := s.q.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&user.ID, &user.TenantID, &user.Username, &deptID,
	)
	if err != nil {
		return nil, translatePQ(err, "get user", strconv.FormatInt(userID, 10))
	}
	if deptID.Valid {
		id := deptID.Int64
		user.PrimaryDepartmentID = &id
	}
	return &user, nil
}

// GetDepartment retrieves a department by ID
func (s *PostgresStore) GetDepartment(ctx context.Context, tenantID, departmentID int64) (*Department, error) {
	query := `SELECT id, tenant_id, name FROM departments WHERE tenant_id = $1 AND id = $2`

	var dept Department
	err := s.q.QueryRowContext(ctx, query, tenantID, departmentID).Scan(&dept.ID, &dept.TenantID, &dept.Name)
	if err != nil {
		return nil, translatePQ(err, "get department", strconv.FormatInt(departmentID, 10))
	}
	return &dept, nil
}

// ListUserIDsByDepartment returns users whose primary department is departmentID
func (s *PostgresStore) ListUserIDsByDepartment(ctx context.Context, tenantID, departmentID int64) ([]int64, error) {
	query := `
		SELECT id FROM users
		WHERE tenant_id = $1 AND primary_department_id = $2
		ORDER BY id
	`
	return s.queryIDs(ctx, "list department users", query, tenantID, departmentID)
}

// SetPrimaryDepartment reassigns a user's primary department; nil clears it
func (s *PostgresStore) SetPrimaryDepartment(ctx context.Context, tenantID, userID int64, departmentID *int64) error {
	query := `UPDATE users SET primary_department_id = $3 WHERE tenant_id = $1 AND id = $2`

	result, err := s.q.ExecContext(ctx, query, tenantID, userID, departmentID)
	if err != nil {
		return translatePQ(err, "set primary department", strconv.FormatInt(userID, 10))
	}
	return expectAffected(result, "set primary department", strconv.FormatInt(userID, 10))
}

// GetResourceByKey prefers the tenant's own resource over a global one with the same key
func (s *PostgresStore) GetResourceByKey(ctx context.Context, tenantID int64, key string) (*Resource, error) {
	query := `
		SELECT id, tenant_id, resource_type, resource_key, name, parent_resource_id, enabled
		FROM resources
		WHERE resource_key = $2 AND (tenant_id = $1 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST, id
		LIMIT 1
	`

	var res Resource
	var resTenant, parentID sql.NullInt64
	err := s.q.QueryRowContext(ctx, query, tenantID, key).Scan(
		&res.ID, &resTenant, &res.Type, &res.Key, &res.Name, &parentID, &res.Enabled,
	)
	if err != nil {
		return nil, translatePQ(err, "get resource", key)
	}
	if resTenant.Valid {
		id := resTenant.Int64
		res.TenantID = &id
	}
	if parentID.Valid {
		id := parentID.Int64
		res.ParentResourceID = &id
	}
	return &res, nil
}

// GetPermissionByCode retrieves a catalog entry
func (s *PostgresStore) GetPermissionByCode(ctx context.Context, code PermissionCode) (*Permission, error) {
	query := `SELECT id, code, sort_order FROM permissions WHERE code = $1`

	var perm Permission
	err := s.q.QueryRowContext(ctx, query, string(code)).Scan(&perm.ID, &perm.Code, &perm.SortOrder)
	if err != nil {
		return nil, translatePQ(err, "get permission", string(code))
	}
	return &perm, nil
}

// ListPermissions returns the catalog ordered by sort order
func (s *PostgresStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, code, sort_order FROM permissions ORDER BY sort_order, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// CreateRole creates a new role
func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (tenant_id, code, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now()
	err := s.q.QueryRowContext(ctx, query,
		role.TenantID, role.Code, role.Name, role.Description, now, now,
	).Scan(&role.ID)
	if err != nil {
		return translatePQ(err, "create role", role.Code)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

const roleColumns = `id, tenant_id, code, name, description, created_at, updated_at`

// GetRole retrieves a role by ID
func (s *PostgresStore) GetRole(ctx context.Context, tenantID, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND id = $2`
	return s.getRole(ctx, "get role", strconv.FormatInt(roleID, 10), query, tenantID, roleID)
}

// GetRoleByCode retrieves a role by its tenant-unique code
func (s *PostgresStore) GetRoleByCode(ctx context.Context, tenantID int64, code string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND code = $2`
	return s.getRole(ctx, "get role", code, query, tenantID, code)
}

// LockRole retrieves a role and locks its row for the rest of the transaction
func (s *PostgresStore) LockRole(ctx context.Context, tenantID, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	return s.getRole(ctx, "lock role", strconv.FormatInt(roleID, 10), query, tenantID, roleID)
}

func (s *PostgresStore) getRole(ctx context.Context, op, key, query string, args ...any) (*Role, error) {
	role, err := scanRole(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, translatePQ(err, op, key)
	}
	return role, nil
}

// GetRolesByIDs returns the roles among roleIDs that exist in tenantID
func (s *PostgresStore) GetRolesByIDs(ctx context.Context, tenantID int64, roleIDs []int64) ([]Role, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND id = ANY($2) ORDER BY id`
	return s.queryRoles(ctx, query, tenantID, pq.Array(roleIDs))
}

// ListRoles returns all roles of a tenant ordered by code
func (s *PostgresStore) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 ORDER BY code`
	return s.queryRoles(ctx, query, tenantID)
}

func (s *PostgresStore) queryRoles(ctx context.Context, query string, args ...any) ([]Role, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// CountRoleReferences counts member and permission rows that reference a role
func (s *PostgresStore) CountRoleReferences(ctx context.Context, tenantID, roleID int64) (int, int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM role_members WHERE tenant_id = $1 AND role_id = $2),
			(SELECT COUNT(*) FROM role_permissions WHERE tenant_id = $1 AND role_id = $2)
	`

	var members, permissions int
	if err := s.q.QueryRowContext(ctx, query, tenantID, roleID).Scan(&members, &permissions); err != nil {
		return 0, 0, fmt.Errorf("failed to count role references: %w", err)
	}
	return members, permissions, nil
}

// DeleteRole deletes a role; references make the foreign keys reject it
func (s *PostgresStore) DeleteRole(ctx context.Context, tenantID, roleID int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM roles WHERE tenant_id = $1 AND id = $2`, tenantID, roleID)
	if err != nil {
		return translatePQ(err, "delete role", strconv.FormatInt(roleID, 10))
	}
	return expectAffected(result, "delete role", strconv.FormatInt(roleID, 10))
}

// AddRoleMember inserts a membership; a duplicate is a conflict
func (s *PostgresStore) AddRoleMember(ctx context.Context, member *RoleMember) error {
	query := `
		INSERT INTO role_members (tenant_id, role_id, subject_type, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now()
	err := s.q.QueryRowContext(ctx, query,
		member.TenantID, member.RoleID,
		string(member.Subject.SubjectType()), member.Subject.SubjectID(), now,
	).Scan(&member.ID)
	if err != nil {
		return translatePQ(err, "add role member", member.Subject.String())
	}
	member.CreatedAt = now
	return nil
}

// RemoveRoleMember deletes a membership
func (s *PostgresStore) RemoveRoleMember(ctx context.Context, tenantID, roleID int64, subject Subject) (bool, error) {
	query := `
		DELETE FROM role_members
		WHERE tenant_id = $1 AND role_id = $2 AND subject_type = $3 AND subject_id = $4
	`

	result, err := s.q.ExecContext(ctx, query, tenantID, roleID, string(subject.SubjectType()), subject.SubjectID())
	if err != nil {
		return false, fmt.Errorf("failed to remove role member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListRoleMembers returns the members of a role
func (s *PostgresStore) ListRoleMembers(ctx context.Context, tenantID, roleID int64) ([]RoleMember, error) {
	query := `
		SELECT id, tenant_id, role_id, subject_type, subject_id, created_at
		FROM role_members
		WHERE tenant_id = $1 AND role_id = $2
		ORDER BY subject_type, subject_id
	`

	rows, err := s.q.QueryContext(ctx, query, tenantID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var members []RoleMember
	for rows.Next() {
		var m RoleMember
		var subjectType string
		var subjectID int64
		if err := rows.Scan(&m.ID, &m.TenantID, &m.RoleID, &subjectType, &subjectID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		if m.Subject, err = NewSubject(SubjectType(subjectType), subjectID); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListRoleIDsForSubject returns the roles bound directly to a subject
func (s *PostgresStore) ListRoleIDsForSubject(ctx context.Context, tenantID int64, subject Subject) ([]int64, error) {
	query := `
		SELECT role_id FROM role_members
		WHERE tenant_id = $1 AND subject_type = $2 AND subject_id = $3
		ORDER BY role_id
	`
	return s.queryIDs(ctx, "list subject roles", query, tenantID, string(subject.SubjectType()), subject.SubjectID())
}

// ListRolePermissions returns a role's grants with resource keys and permission codes
func (s *PostgresStore) ListRolePermissions(ctx context.Context, tenantID, roleID int64) ([]RolePermissionView, error) {
	query := `
		SELECT rp.id, rp.tenant_id, rp.role_id, rp.resource_id, rp.permission_id, rp.effect,
		       r.resource_key, r.resource_type, p.code
		FROM role_permissions rp
		JOIN resources r ON r.id = rp.resource_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.tenant_id = $1 AND rp.role_id = $2
		ORDER BY r.resource_key, p.sort_order
	`

	rows, err := s.q.QueryContext(ctx, query, tenantID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var views []RolePermissionView
	for rows.Next() {
		var v RolePermissionView
		if err := rows.Scan(
			&v.ID, &v.TenantID, &v.RoleID, &v.ResourceID, &v.PermissionID, &v.Effect,
			&v.ResourceKey, &v.ResourceType, &v.PermissionCode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// UpsertRolePermission updates the effect of an existing grant or inserts it
func (s *PostgresStore) UpsertRolePermission(ctx context.Context, rp *RolePermission) error {
	query := `
		INSERT INTO role_permissions (tenant_id, role_id, resource_id, permission_id, effect, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (tenant_id, role_id, resource_id, permission_id)
		DO UPDATE SET effect = EXCLUDED.effect, updated_at = NOW()
		RETURNING id
	`

	err := s.q.QueryRowContext(ctx, query,
		rp.TenantID, rp.RoleID, rp.ResourceID, rp.PermissionID, string(rp.Effect),
	).Scan(&rp.ID)
	if err != nil {
		return translatePQ(err, "upsert role permission", strconv.FormatInt(rp.ResourceID, 10))
	}
	return nil
}

// DeleteRolePermission deletes a grant if present
func (s *PostgresStore) DeleteRolePermission(ctx context.Context, tenantID, roleID, resourceID, permissionID int64) (bool, error) {
	query := `
		DELETE FROM role_permissions
		WHERE tenant_id = $1 AND role_id = $2 AND resource_id = $3 AND permission_id = $4
	`

	result, err := s.q.ExecContext(ctx, query, tenantID, roleID, resourceID, permissionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete role permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListGrants returns the grants of roleIDs on enabled resources visible to the tenant
func (s *PostgresStore) ListGrants(ctx context.Context, tenantID int64, roleIDs []int64) ([]Grant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT rp.role_id, r.resource_key, r.resource_type, p.code, rp.effect
		FROM role_permissions rp
		JOIN resources r ON r.id = rp.resource_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.tenant_id = $1
		  AND rp.role_id = ANY($2)
		  AND r.enabled = TRUE
		  AND (r.tenant_id = $1 OR r.tenant_id IS NULL)
		ORDER BY r.resource_key, p.sort_order, rp.role_id
	`

	rows, err := s.q.QueryContext(ctx, query, tenantID, pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.RoleID, &g.ResourceKey, &g.ResourceType, &g.PermissionCode, &g.Effect); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListMenus returns the enabled and visible menus
func (s *PostgresStore) ListMenus(ctx context.Context) ([]Menu, error) {
	query := `
		SELECT id, menu_key, parent_menu_key, name, path, icon, menu_group, sort_order, depth, is_visible, is_enabled
		FROM menus
		WHERE is_enabled = TRUE AND is_visible = TRUE
		ORDER BY sort_order, menu_key
	`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list menus: %w", err)
	}
	defer rows.Close()

	var menus []Menu
	for rows.Next() {
		var m Menu
		var parentKey, path, icon, group sql.NullString
		if err := rows.Scan(
			&m.ID, &m.MenuKey, &parentKey, &m.Name, &path, &icon, &group,
			&m.SortOrder, &m.Depth, &m.Visible, &m.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		m.ParentMenuKey = parentKey.String
		m.Path = path.String
		m.Icon = icon.String
		m.MenuGroup = group.String
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

func (s *PostgresStore) queryIDs(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to %s: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner) (*Role, error) {
	var role Role
	if err := row.Scan(
		&role.ID, &role.TenantID, &role.Code, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &role, nil
}

func expectAffected(result sql.Result, op, key string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return newError(ErrNotFound, op, key, "")
	}
	return nil
}
