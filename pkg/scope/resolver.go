package scope

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/dwp-platform/guard/pkg/cache"
	"github.com/dwp-platform/guard/pkg/observability"
)

const scopeCacheName = "scope"

// CacheKey returns the cache key of a tenant's resolved scope
func CacheKey(tenantID int64) string {
	return cache.Key(scopeCacheName, tenantID)
}

// entryReader is what Resolver needs from the store
type entryReader interface {
	ListEntries(ctx context.Context, tenantID int64, kind Kind) ([]Entry, error)
}

// Resolver resolves a tenant's enabled company codes and currencies
type Resolver struct {
	store   entryReader
	cache   cache.Cache[*Scope]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewResolver creates a resolver. A nil cache resolves from the store every time.
func NewResolver(store entryReader, c cache.Cache[*Scope], metrics *observability.Metrics) *Resolver {
	return &Resolver{store: store, cache: c, metrics: metrics}
}

// ResolveEnabledScope returns the tenant's included codes. The returned scope
// is shared and must not be modified.
func (r *Resolver) ResolveEnabledScope(ctx context.Context, tenantID int64) (*Scope, error) {
	logger := observability.FromContext(ctx).WithField("tenant_id", tenantID)

	if r.cache == nil {
		return r.compute(ctx, tenantID)
	}

	key := CacheKey(tenantID)
	s, err := r.cache.Get(ctx, key)
	if err == nil && s != nil {
		r.metrics.RecordCacheLookup(scopeCacheName, true)
		return s, nil
	}
	r.metrics.RecordCacheLookup(scopeCacheName, false)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logger.WithError(err).Warn("scope cache read failed, resolving from store")
	}

	epoch, epochErr := r.cache.Epoch(ctx, key)
	flight := key + "@nocache"
	if epochErr == nil {
		flight = fmt.Sprintf("%s@%d", key, epoch)
	} else {
		logger.WithError(epochErr).Warn("scope cache epoch read failed, result will not be cached")
	}

	flightCh := r.group.DoChan(flight, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), cache.FlightTimeout)
		defer cancel()

		s, err := r.compute(shared, tenantID)
		if err != nil {
			return nil, err
		}
		if epochErr == nil {
			stored, err := r.cache.Set(shared, key, epoch, s)
			switch {
			case err != nil:
				logger.WithError(err).Warn("scope cache write failed")
			case !stored:
				r.metrics.RecordStaleWrite(scopeCacheName)
			}
		}
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flightCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Scope), nil
	}
}

func (r *Resolver) compute(ctx context.Context, tenantID int64) (*Scope, error) {
	companies, err := r.store.ListEntries(ctx, tenantID, KindCompanyCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load company code scope: %w", err)
	}
	currencies, err := r.store.ListEntries(ctx, tenantID, KindCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency scope: %w", err)
	}

	s := NewScope(tenantID, included(companies), included(currencies))

	logger := observability.FromContext(ctx)
	if len(s.CompanyCodes) == 0 {
		logger.Warnf("tenant %d has no enabled company codes, scoped reads will be empty", tenantID)
	}
	if len(s.Currencies) == 0 {
		logger.Warnf("tenant %d has no enabled currencies, scoped reads will be empty", tenantID)
	}
	return s, nil
}

// IsCompanyCodeInScope reports whether code is enabled for the tenant
func (r *Resolver) IsCompanyCodeInScope(ctx context.Context, tenantID int64, code string) (bool, error) {
	s, err := r.ResolveEnabledScope(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return s.HasCompanyCode(code), nil
}

// IsCurrencyInScope reports whether code is enabled for the tenant
func (r *Resolver) IsCurrencyInScope(ctx context.Context, tenantID int64, code string) (bool, error) {
	s, err := r.ResolveEnabledScope(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return s.HasCurrency(code), nil
}

// EvictTenant drops the tenant's cached scope and fences in-flight recomputes
func (r *Resolver) EvictTenant(ctx context.Context, tenantID int64) error {
	if r.cache == nil {
		return nil
	}
	err := r.cache.Evict(ctx, CacheKey(tenantID))
	r.metrics.RecordEviction(scopeCacheName, err)
	return err
}
