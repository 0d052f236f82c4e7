package scope

import (
	"context"
	"database/sql"

	"github.com/dwp-platform/guard/pkg/rbac"
)

// GetMigrations returns the scope allow-list and scoped document migrations.
// The document tables are owned by the ingestion pipeline; they are created
// here so a fresh database can serve scoped reads.
func GetMigrations() []rbac.Migration {
	return []rbac.Migration{
		{
			Version:     1,
			Description: "Create tenant scope allow-lists",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_company_scopes (
					tenant_id BIGINT NOT NULL,
					code VARCHAR(4) NOT NULL,
					included BOOLEAN NOT NULL DEFAULT TRUE,
					source VARCHAR(32),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, code)
				);

				CREATE TABLE IF NOT EXISTS tenant_currency_scopes (
					tenant_id BIGINT NOT NULL,
					code VARCHAR(3) NOT NULL,
					included BOOLEAN NOT NULL DEFAULT TRUE,
					source VARCHAR(32),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, code)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create document header and open item tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS fi_doc_header (
					tenant_id BIGINT NOT NULL,
					bukrs VARCHAR(4) NOT NULL,
					belnr VARCHAR(10) NOT NULL,
					gjahr VARCHAR(4) NOT NULL,
					budat DATE NOT NULL,
					waers VARCHAR(5) NOT NULL,
					xblnr VARCHAR(16),
					status_code VARCHAR(16),
					PRIMARY KEY (tenant_id, bukrs, belnr, gjahr)
				);

				CREATE INDEX idx_fi_doc_header_budat ON fi_doc_header(tenant_id, budat DESC);

				CREATE TABLE IF NOT EXISTS fi_open_item (
					tenant_id BIGINT NOT NULL,
					bukrs VARCHAR(4) NOT NULL,
					belnr VARCHAR(10) NOT NULL,
					gjahr VARCHAR(4) NOT NULL,
					buzei VARCHAR(3) NOT NULL,
					item_type VARCHAR(16) NOT NULL,
					open_amount NUMERIC(18, 2) NOT NULL,
					currency VARCHAR(5) NOT NULL,
					due_date DATE,
					PRIMARY KEY (tenant_id, bukrs, belnr, gjahr, buzei)
				);

				CREATE INDEX idx_fi_open_item_due ON fi_open_item(tenant_id, due_date);
			`,
		},
		{
			Version:     3,
			Description: "Create agent case and action tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS agent_case (
					case_id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					bukrs VARCHAR(4),
					belnr VARCHAR(10),
					gjahr VARCHAR(4),
					buzei VARCHAR(3),
					case_type VARCHAR(32) NOT NULL,
					severity VARCHAR(16) NOT NULL,
					status VARCHAR(16) NOT NULL,
					detected_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_agent_case_detected ON agent_case(tenant_id, detected_at DESC);

				CREATE TABLE IF NOT EXISTS agent_action (
					action_id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					case_id BIGINT NOT NULL REFERENCES agent_case(case_id) ON DELETE CASCADE,
					action_type VARCHAR(32) NOT NULL,
					status VARCHAR(16) NOT NULL,
					planned_at TIMESTAMP
				);

				CREATE INDEX idx_agent_action_case ON agent_action(tenant_id, case_id);
			`,
		},
	}
}

// RunMigrations executes all pending scope migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return rbac.ApplyMigrations(ctx, db, "scope_migrations", GetMigrations())
}
