package scope

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Store persists tenant scope allow-lists
type Store interface {
	// ListEntries returns every entry of kind for the tenant, ordered by code
	ListEntries(ctx context.Context, tenantID int64, kind Kind) ([]Entry, error)

	// LockTenant serializes writers of one tenant's kind list until the transaction ends
	LockTenant(ctx context.Context, tenantID int64, kind Kind) error

	// ReplaceEntries marks exactly codes as included; every other entry becomes excluded
	ReplaceEntries(ctx context.Context, tenantID int64, kind Kind, codes []string, source string) error

	// RunInTx runs fn inside a transaction. Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindCompanyCode:
		return "tenant_company_scopes", nil
	case KindCurrency:
		return "tenant_currency_scopes", nil
	default:
		return "", fmt.Errorf("unknown scope kind %q", kind)
	}
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresStore handles scope persistence in PostgreSQL
type PostgresStore struct {
	db *sql.DB
	q  querier
	tx bool
}

// NewPostgresStore creates a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// RunInTx runs fn inside a transaction
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

// ListEntries retrieves a tenant's allow-list
func (s *PostgresStore) ListEntries(ctx context.Context, tenantID int64, kind Kind) ([]Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT code, included, source, updated_at
		FROM %s
		WHERE tenant_id = $1
		ORDER BY code
	`, table)

	rows, err := s.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var source sql.NullString
		if err := rows.Scan(&e.Code, &e.Included, &source, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scope entry: %w", err)
		}
		e.Source = source.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LockTenant takes a transaction-scoped advisory lock on the tenant's list.
// Row locks alone cannot fence a tenant whose list is still empty.
func (s *PostgresStore) LockTenant(ctx context.Context, tenantID int64, kind Kind) error {
	if !s.tx {
		return fmt.Errorf("lock tenant scope: not in a transaction")
	}
	_, err := s.q.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, $2))`,
		string(kind), tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to lock tenant scope: %w", err)
	}
	return nil
}

// ReplaceEntries includes exactly codes and excludes the rest
func (s *PostgresStore) ReplaceEntries(ctx context.Context, tenantID int64, kind Kind, codes []string, source string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if codes == nil {
		codes = []string{}
	}

	exclude := fmt.Sprintf(`
		UPDATE %s
		SET included = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND included AND NOT (code = ANY($2))
	`, table)
	if _, err := s.q.ExecContext(ctx, exclude, tenantID, pq.Array(codes)); err != nil {
		return fmt.Errorf("failed to exclude scope entries: %w", err)
	}

	if len(codes) == 0 {
		return nil
	}

	include := fmt.Sprintf(`
		INSERT INTO %s (tenant_id, code, included, source, created_at, updated_at)
		SELECT $1, code, TRUE, $3, NOW(), NOW() FROM unnest($2::text[]) AS code
		ON CONFLICT (tenant_id, code)
		DO UPDATE SET included = TRUE, source = EXCLUDED.source, updated_at = NOW()
	`, table)
	if _, err := s.q.ExecContext(ctx, include, tenantID, pq.Array(codes), source); err != nil {
		return fmt.Errorf("failed to include scope entries: %w", err)
	}
	return nil
}
