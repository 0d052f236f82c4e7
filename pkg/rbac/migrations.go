package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dwp-platform/guard/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization model migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create departments and users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_departments_tenant_id ON departments(tenant_id);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					username VARCHAR(255) NOT NULL,
					primary_department_id BIGINT REFERENCES departments(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, username)
				);

				CREATE INDEX idx_users_primary_department ON users(tenant_id, primary_department_id);
			`,
		},
		{
			Version:     2,
			Description: "Create resources and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS resources (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT,
					resource_type VARCHAR(32) NOT NULL
						CHECK (resource_type IN ('MENU', 'UI_COMPONENT', 'PAGE_SECTION', 'API')),
					resource_key VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					parent_resource_id BIGINT REFERENCES resources(id) ON DELETE SET NULL,
					enabled BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX uq_resources_tenant_type_key
					ON resources(COALESCE(tenant_id, 0), resource_type, resource_key);
				CREATE INDEX idx_resources_key ON resources(resource_key);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(32) NOT NULL UNIQUE,
					sort_order INT NOT NULL DEFAULT 0
				);

				INSERT INTO permissions (code, sort_order) VALUES
					('VIEW', 10), ('USE', 20), ('EDIT', 30), ('APPROVE', 40), ('EXECUTE', 50)
				ON CONFLICT (code) DO NOTHING;
			`,
		},
		{
			Version:     3,
			Description: "Create roles and role_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					code VARCHAR(64) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, code)
				);

				CREATE TABLE IF NOT EXISTS role_members (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					subject_type VARCHAR(16) NOT NULL CHECK (subject_type IN ('USER', 'DEPARTMENT')),
					subject_id BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, role_id, subject_type, subject_id)
				);

				CREATE INDEX idx_role_members_subject ON role_members(tenant_id, subject_type, subject_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					resource_id BIGINT NOT NULL REFERENCES resources(id),
					permission_id BIGINT NOT NULL REFERENCES permissions(id),
					effect VARCHAR(8) NOT NULL CHECK (effect IN ('ALLOW', 'DENY')),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, role_id, resource_id, permission_id)
				);

				CREATE INDEX idx_role_permissions_role ON role_permissions(tenant_id, role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create menus table",
			SQL: `
				CREATE TABLE IF NOT EXISTS menus (
					id BIGSERIAL PRIMARY KEY,
					menu_key VARCHAR(255) NOT NULL UNIQUE,
					parent_menu_key VARCHAR(255),
					name VARCHAR(255) NOT NULL,
					path VARCHAR(512),
					icon VARCHAR(128),
					menu_group VARCHAR(64),
					sort_order INT NOT NULL DEFAULT 0,
					depth INT NOT NULL DEFAULT 0,
					is_visible BOOLEAN NOT NULL DEFAULT TRUE,
					is_enabled BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE INDEX idx_menus_parent ON menus(parent_menu_key);
			`,
		},
	}
}

// RunMigrations executes all pending authorization model migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return ApplyMigrations(ctx, db, "rbac_migrations", GetMigrations())
}

// ApplyMigrations runs every migration not yet recorded in table, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB, table string, migrations []Migration) error {
	logger := observability.FromContext(ctx).WithField("migrations", table)

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`, table))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version", table))
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", migration.Version, migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (version, description) VALUES ($1, $2)", table),
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// EnsureRole creates the role with code in tenantID unless it already exists
func EnsureRole(ctx context.Context, store RoleStore, tenantID int64, code, name string) (*Role, error) {
	existing, err := store.GetRoleByCode(ctx, tenantID, code)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	role := &Role{TenantID: tenantID, Code: code, Name: name}
	if err := store.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", code, err)
	}
	return role, nil
}
