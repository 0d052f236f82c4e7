package scope

import (
	"context"
	"strconv"
	"strings"

	"github.com/dwp-platform/guard/pkg/audit"
	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
)

// SourceAdmin marks entries written through Service
const SourceAdmin = "ADMIN"

const (
	opSetCompanyCodes = "set_company_codes"
	opSetCurrencies   = "set_currencies"
)

// Service replaces tenant scope allow-lists
type Service struct {
	store    Store
	resolver *Resolver
	sink     audit.Sink
	metrics  *observability.Metrics
}

// NewService creates a scope service. resolver is evicted after every change.
func NewService(store Store, resolver *Resolver, sink audit.Sink, metrics *observability.Metrics) *Service {
	return &Service{store: store, resolver: resolver, sink: sink, metrics: metrics}
}

// SetCompanyCodes replaces the tenant's enabled company codes. An empty list
// leaves the tenant with no visible company codes.
func (s *Service) SetCompanyCodes(ctx context.Context, tenantID int64, codes []string) (*ReplaceResult, error) {
	return s.replace(ctx, opSetCompanyCodes, tenantID, KindCompanyCode, codes, validCompanyCode, audit.EventTypeScopeCompanyCodes)
}

// SetCurrencies replaces the tenant's enabled currencies. An empty list
// leaves the tenant with no visible currencies.
func (s *Service) SetCurrencies(ctx context.Context, tenantID int64, codes []string) (*ReplaceResult, error) {
	return s.replace(ctx, opSetCurrencies, tenantID, KindCurrency, codes, validCurrency, audit.EventTypeScopeCurrencies)
}

// validCompanyCode accepts one to four ASCII uppercase letters or digits
func validCompanyCode(code string) bool {
	if len(code) == 0 || len(code) > 4 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// validCurrency accepts three-letter ISO 4217 codes
func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (s *Service) replace(ctx context.Context, op string, tenantID int64, kind Kind, raw []string, valid func(string) bool, eventType audit.EventType) (*ReplaceResult, error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"kind":      string(kind),
	})

	for i, code := range raw {
		normalized := strings.ToUpper(strings.TrimSpace(code))
		if !valid(normalized) {
			err := &rbac.Error{Kind: rbac.ErrInvalidInput, Op: op, Item: i, Key: code, Detail: "malformed code"}
			s.metrics.RecordMutation(op, err)
			return nil, err
		}
	}
	codes := Normalize(raw)

	var result *ReplaceResult
	err := s.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.LockTenant(ctx, tenantID, kind); err != nil {
			return err
		}
		before, err := tx.ListEntries(ctx, tenantID, kind)
		if err != nil {
			return err
		}
		result = diffCodes(tenantID, kind, Normalize(included(before)), codes)
		if result.Empty() {
			return nil
		}
		return tx.ReplaceEntries(ctx, tenantID, kind, codes, SourceAdmin)
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		logger.WithError(err).Warn("scope replacement rejected")
		return nil, err
	}
	if result.Empty() {
		return result, nil
	}

	if s.resolver != nil {
		if err := s.resolver.EvictTenant(ctx, tenantID); err != nil {
			logger.WithError(err).Error("failed to evict tenant scope, stale until TTL")
		}
	}

	logger.WithFields(map[string]interface{}{
		"added":   len(result.Added),
		"removed": len(result.Removed),
	}).Info("tenant scope replaced")

	audit.Emit(ctx, s.sink, s.metrics,
		audit.NewEvent(ctx, eventType, tenantID, "tenant", strconv.FormatInt(tenantID, 10), result))

	return result, nil
}
