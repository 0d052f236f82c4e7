package scope

import (
	"slices"
	"strings"
	"time"
)

// Kind names one scope dimension
type Kind string

const (
	KindCompanyCode Kind = "COMPANY_CODE"
	KindCurrency    Kind = "CURRENCY"
)

// Entry is one row of a tenant's allow-list. Only included entries are in scope.
type Entry struct {
	Code      string    `json:"code"`
	Included  bool      `json:"included"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Scope is the set of business-data partitions a tenant may query.
// Codes are upper-cased and sorted. An empty set means nothing is visible.
type Scope struct {
	TenantID     int64    `json:"tenant_id"`
	CompanyCodes []string `json:"company_codes"`
	Currencies   []string `json:"currencies"`
}

// NewScope builds a scope from raw included codes
func NewScope(tenantID int64, companyCodes, currencies []string) *Scope {
	return &Scope{
		TenantID:     tenantID,
		CompanyCodes: Normalize(companyCodes),
		Currencies:   Normalize(currencies),
	}
}

// Normalize trims, upper-cases, drops blanks and dedupes codes, returning them sorted
func Normalize(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func included(entries []Entry) []string {
	var codes []string
	for _, e := range entries {
		if e.Included {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

// HasCompanyCode reports whether code is in the company-code scope
func (s *Scope) HasCompanyCode(code string) bool {
	return contains(s.CompanyCodes, code)
}

// HasCurrency reports whether code is in the currency scope
func (s *Scope) HasCurrency(code string) bool {
	return contains(s.Currencies, code)
}

func contains(sorted []string, code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	_, found := slices.BinarySearch(sorted, code)
	return found
}

// IntersectCompanyCodes narrows a caller's filter to the scope.
// An empty filter means "whatever the scope allows".
func (s *Scope) IntersectCompanyCodes(filter []string) []string {
	return intersect(s.CompanyCodes, filter)
}

// IntersectCurrencies narrows a caller's filter to the scope.
// An empty filter means "whatever the scope allows".
func (s *Scope) IntersectCurrencies(filter []string) []string {
	return intersect(s.Currencies, filter)
}

func intersect(scope, filter []string) []string {
	if len(filter) == 0 {
		return slices.Clone(scope)
	}
	out := []string{}
	for _, code := range Normalize(filter) {
		if _, found := slices.BinarySearch(scope, code); found {
			out = append(out, code)
		}
	}
	return out
}

// ReplaceResult describes what a scope replacement changed
type ReplaceResult struct {
	TenantID int64    `json:"tenantId"`
	Kind     Kind     `json:"kind"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
}

// Empty reports whether the replacement changed nothing
func (r *ReplaceResult) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

func diffCodes(tenantID int64, kind Kind, before, after []string) *ReplaceResult {
	result := &ReplaceResult{TenantID: tenantID, Kind: kind, Added: []string{}, Removed: []string{}}
	for _, c := range after {
		if _, found := slices.BinarySearch(before, c); !found {
			result.Added = append(result.Added, c)
		}
	}
	for _, c := range before {
		if _, found := slices.BinarySearch(after, c); !found {
			result.Removed = append(result.Removed, c)
		}
	}
	return result
}

// DocFilter narrows a document query. Empty code lists mean "the whole scope".
type DocFilter struct {
	CompanyCodes []string
	Currencies   []string
	Limit        int
}

// Query limits
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

func (f DocFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// DocHeader is an accounting document header
type DocHeader struct {
	TenantID    int64     `json:"tenant_id"`
	CompanyCode string    `json:"company_code"`
	DocumentNo  string    `json:"document_no"`
	FiscalYear  string    `json:"fiscal_year"`
	PostingDate time.Time `json:"posting_date"`
	Currency    string    `json:"currency"`
	Reference   string    `json:"reference,omitempty"`
	StatusCode  string    `json:"status_code,omitempty"`
}

// OpenItem is an unsettled line item
type OpenItem struct {
	TenantID    int64      `json:"tenant_id"`
	CompanyCode string     `json:"company_code"`
	DocumentNo  string     `json:"document_no"`
	FiscalYear  string     `json:"fiscal_year"`
	LineItem    string     `json:"line_item"`
	ItemType    string     `json:"item_type"`
	OpenAmount  string     `json:"open_amount"`
	Currency    string     `json:"currency"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Case is a detected anomaly. Cases without a company code are visible in every non-empty scope.
type Case struct {
	CaseID      int64     `json:"case_id"`
	TenantID    int64     `json:"tenant_id"`
	CompanyCode string    `json:"company_code,omitempty"`
	DocumentNo  string    `json:"document_no,omitempty"`
	FiscalYear  string    `json:"fiscal_year,omitempty"`
	LineItem    string    `json:"line_item,omitempty"`
	CaseType    string    `json:"case_type"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Action is a planned response to a case, scoped by its case's company code
type Action struct {
	ActionID    int64      `json:"action_id"`
	TenantID    int64      `json:"tenant_id"`
	CaseID      int64      `json:"case_id"`
	ActionType  string     `json:"action_type"`
	Status      string     `json:"status"`
	PlannedAt   *time.Time `json:"planned_at,omitempty"`
	CompanyCode string     `json:"company_code,omitempty"`
}
