package scope

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
)

// scopeSource is what DocumentQueries needs from Resolver
type scopeSource interface {
	ResolveEnabledScope(ctx context.Context, tenantID int64) (*Scope, error)
}

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Query names used for logging and the short-circuit metric
const (
	QueryDocHeaders = "doc_headers"
	QueryOpenItems  = "open_items"
	QueryCases      = "cases"
	QueryActions    = "actions"
)

// DocumentQueries reads business documents restricted to the tenant's scope.
// A caller's filter is intersected with the scope first; when nothing is left
// the query is not issued and an empty slice is returned.
type DocumentQueries struct {
	db      rowQuerier
	scopes  scopeSource
	metrics *observability.Metrics
}

// NewDocumentQueries creates scoped document readers over db
func NewDocumentQueries(db *sql.DB, scopes scopeSource, metrics *observability.Metrics) *DocumentQueries {
	return &DocumentQueries{db: db, scopes: scopes, metrics: metrics}
}

func (q *DocumentQueries) shortCircuit(ctx context.Context, query string, tenantID int64) {
	q.metrics.RecordScopeShortCircuit(query)
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"query":     query,
	}).Debug("scope is empty, query skipped")
}

// rejectCurrencies fails queries over tables that carry no currency column
func rejectCurrencies(op string, filter DocFilter) error {
	if len(filter.Currencies) == 0 {
		return nil
	}
	return &rbac.Error{Kind: rbac.ErrInvalidInput, Op: op, Item: rbac.NoItem, Key: "currencies",
		Detail: "currency filter is not supported"}
}

// DocHeaders returns document headers in scope, newest posting date first.
// Headers are scoped by company code; a currency filter, when given, is
// intersected with the currency scope and applied to waers as well.
func (q *DocumentQueries) DocHeaders(ctx context.Context, tenantID int64, filter DocFilter) ([]DocHeader, error) {
	s, err := q.scopes.ResolveEnabledScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	codes := s.IntersectCompanyCodes(filter.CompanyCodes)
	var currencies []string
	if len(filter.Currencies) > 0 {
		currencies = s.IntersectCurrencies(filter.Currencies)
	}
	if len(codes) == 0 || (len(filter.Currencies) > 0 && len(currencies) == 0) {
		q.shortCircuit(ctx, QueryDocHeaders, tenantID)
		return []DocHeader{}, nil
	}

	where := "tenant_id = $1 AND bukrs = ANY($2)"
	args := []any{tenantID, pq.Array(codes)}
	if currencies != nil {
		where += " AND waers = ANY($3)"
		args = append(args, pq.Array(currencies))
	}
	args = append(args, filter.limit())

	query := fmt.Sprintf(`
		SELECT tenant_id, bukrs, belnr, gjahr, budat, waers, xblnr, status_code
		FROM fi_doc_header
		WHERE %s
		ORDER BY budat DESC
		LIMIT $%d
	`, where, len(args))
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document headers: %w", err)
	}
	defer rows.Close()

	headers := []DocHeader{}
	for rows.Next() {
		var h DocHeader
		var reference, status sql.NullString
		if err := rows.Scan(&h.TenantID, &h.CompanyCode, &h.DocumentNo, &h.FiscalYear,
			&h.PostingDate, &h.Currency, &reference, &status); err != nil {
			return nil, fmt.Errorf("failed to scan document header: %w", err)
		}
		h.Reference = reference.String
		h.StatusCode = status.String
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// OpenItems returns open items in both company-code and currency scope, earliest due date first
func (q *DocumentQueries) OpenItems(ctx context.Context, tenantID int64, filter DocFilter) ([]OpenItem, error) {
	s, err := q.scopes.ResolveEnabledScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	codes := s.IntersectCompanyCodes(filter.CompanyCodes)
	currencies := s.IntersectCurrencies(filter.Currencies)
	if len(codes) == 0 || len(currencies) == 0 {
		q.shortCircuit(ctx, QueryOpenItems, tenantID)
		return []OpenItem{}, nil
	}

	query := `
		SELECT tenant_id, bukrs, belnr, gjahr, buzei, item_type, open_amount, currency, due_date
		FROM fi_open_item
		WHERE tenant_id = $1 AND bukrs = ANY($2) AND currency = ANY($3)
		ORDER BY due_date ASC
		LIMIT $4
	`
	rows, err := q.db.QueryContext(ctx, query, tenantID, pq.Array(codes), pq.Array(currencies), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query open items: %w", err)
	}
	defer rows.Close()

	items := []OpenItem{}
	for rows.Next() {
		var it OpenItem
		var due sql.NullTime
		if err := rows.Scan(&it.TenantID, &it.CompanyCode, &it.DocumentNo, &it.FiscalYear, &it.LineItem,
			&it.ItemType, &it.OpenAmount, &it.Currency, &due); err != nil {
			return nil, fmt.Errorf("failed to scan open item: %w", err)
		}
		if due.Valid {
			t := due.Time
			it.DueDate = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Cases returns cases in scope, most recently detected first. Cases with no
// company code are tenant-wide and included whenever the scope is non-empty.
// Cases carry no currency, so a currency filter is rejected.
func (q *DocumentQueries) Cases(ctx context.Context, tenantID int64, filter DocFilter) ([]Case, error) {
	if err := rejectCurrencies("cases", filter); err != nil {
		return nil, err
	}
	s, err := q.scopes.ResolveEnabledScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	codes := s.IntersectCompanyCodes(filter.CompanyCodes)
	if len(codes) == 0 {
		q.shortCircuit(ctx, QueryCases, tenantID)
		return []Case{}, nil
	}

	query := `
		SELECT case_id, tenant_id, bukrs, belnr, gjahr, buzei, case_type, severity, status, detected_at
		FROM agent_case
		WHERE tenant_id = $1 AND (bukrs IS NULL OR bukrs = ANY($2))
		ORDER BY detected_at DESC
		LIMIT $3
	`
	rows, err := q.db.QueryContext(ctx, query, tenantID, pq.Array(codes), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	cases := []Case{}
	for rows.Next() {
		var c Case
		var bukrs, belnr, gjahr, buzei sql.NullString
		if err := rows.Scan(&c.CaseID, &c.TenantID, &bukrs, &belnr, &gjahr, &buzei,
			&c.CaseType, &c.Severity, &c.Status, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		c.CompanyCode = bukrs.String
		c.DocumentNo = belnr.String
		c.FiscalYear = gjahr.String
		c.LineItem = buzei.String
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// Actions returns actions whose case is in scope, latest planned first.
// A currency filter is rejected as for Cases.
func (q *DocumentQueries) Actions(ctx context.Context, tenantID int64, filter DocFilter) ([]Action, error) {
	if err := rejectCurrencies("actions", filter); err != nil {
		return nil, err
	}
	s, err := q.scopes.ResolveEnabledScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	codes := s.IntersectCompanyCodes(filter.CompanyCodes)
	if len(codes) == 0 {
		q.shortCircuit(ctx, QueryActions, tenantID)
		return []Action{}, nil
	}

	query := `
		SELECT a.action_id, a.tenant_id, a.case_id, a.action_type, a.status, a.planned_at, c.bukrs
		FROM agent_action a
		JOIN agent_case c ON c.case_id = a.case_id AND c.tenant_id = a.tenant_id
		WHERE a.tenant_id = $1 AND (c.bukrs IS NULL OR c.bukrs = ANY($2))
		ORDER BY a.planned_at DESC NULLS LAST
		LIMIT $3
	`
	rows, err := q.db.QueryContext(ctx, query, tenantID, pq.Array(codes), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		var planned sql.NullTime
		var bukrs sql.NullString
		if err := rows.Scan(&a.ActionID, &a.TenantID, &a.CaseID, &a.ActionType, &a.Status, &planned, &bukrs); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if planned.Valid {
			t := planned.Time
			a.PlannedAt = &t
		}
		a.CompanyCode = bukrs.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
