package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dwp-platform/guard/pkg/cache"
	"github.com/dwp-platform/guard/pkg/observability"
)

// GrantTuple is the aggregated effect of all effective roles on one
// (resource type, resource key, permission code). DENY wins over ALLOW.
type GrantTuple struct {
	ResourceKey    string         `json:"resource_key"`
	ResourceType   ResourceType   `json:"resource_type"`
	PermissionCode PermissionCode `json:"permission_code"`
	Effect         Effect         `json:"effect"`
	AllowRoles     []int64        `json:"allow_roles,omitempty"`
	DenyRoles      []int64        `json:"deny_roles,omitempty"`
}

// Decisions is a user's complete derived authorization state, the unit that is cached
type Decisions struct {
	TenantID  int64                 `json:"tenant_id"`
	UserID    int64                 `json:"user_id"`
	Roles     []EffectiveRole       `json:"roles"`
	RoleCodes []string              `json:"role_codes"`
	Grants    map[string]GrantTuple `json:"grants"`
}

func tupleKey(t ResourceType, key string, code PermissionCode) string {
	return string(t) + "|" + key + "|" + string(code)
}

// Lookup merges the tuples for key and code across resource types
func (d *Decisions) Lookup(resourceKey string, code PermissionCode) (GrantTuple, bool) {
	merged := GrantTuple{ResourceKey: resourceKey, PermissionCode: code}
	found := false
	for _, t := range ResourceTypes {
		tuple, ok := d.Grants[tupleKey(t, resourceKey, code)]
		if !ok {
			continue
		}
		if !found {
			merged.ResourceType = tuple.ResourceType
		}
		found = true
		merged.AllowRoles = append(merged.AllowRoles, tuple.AllowRoles...)
		merged.DenyRoles = append(merged.DenyRoles, tuple.DenyRoles...)
	}
	if !found {
		return merged, false
	}
	merged.AllowRoles = uniqueSorted(merged.AllowRoles)
	merged.DenyRoles = uniqueSorted(merged.DenyRoles)
	merged.Effect = EffectAllow
	if len(merged.DenyRoles) > 0 {
		merged.Effect = EffectDeny
	}
	return merged, true
}

// AllowedKeys returns the keys of resources of type t on which code resolves to ALLOW
func (d *Decisions) AllowedKeys(t ResourceType, code PermissionCode) []string {
	var keys []string
	for _, tuple := range d.Grants {
		if tuple.ResourceType == t && tuple.PermissionCode == code && tuple.Effect == EffectAllow {
			keys = append(keys, tuple.ResourceKey)
		}
	}
	sort.Strings(keys)
	return keys
}

// Tuples returns every grant tuple sorted by key, type and code
func (d *Decisions) Tuples() []GrantTuple {
	tuples := make([]GrantTuple, 0, len(d.Grants))
	for _, tuple := range d.Grants {
		tuples = append(tuples, tuple)
	}
	sort.Slice(tuples, func(i, j int) bool {
		a, b := tuples[i], tuples[j]
		if a.ResourceKey != b.ResourceKey {
			return a.ResourceKey < b.ResourceKey
		}
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		return a.PermissionCode < b.PermissionCode
	})
	return tuples
}

// HasRole reports whether one of the effective roles has the given code
func (d *Decisions) HasRole(code string) bool {
	return slices.Contains(d.RoleCodes, code)
}

// aggregate folds grant rows into deny-overrides tuples
func aggregate(grants []Grant) map[string]GrantTuple {
	tuples := make(map[string]GrantTuple)
	for _, g := range grants {
		k := tupleKey(g.ResourceType, g.ResourceKey, g.PermissionCode)
		tuple, ok := tuples[k]
		if !ok {
			tuple = GrantTuple{ResourceKey: g.ResourceKey, ResourceType: g.ResourceType, PermissionCode: g.PermissionCode}
		}
		switch g.Effect {
		case EffectDeny:
			tuple.DenyRoles = append(tuple.DenyRoles, g.RoleID)
		case EffectAllow:
			tuple.AllowRoles = append(tuple.AllowRoles, g.RoleID)
		default:
			// An unrecognized effect never grants
			tuple.DenyRoles = append(tuple.DenyRoles, g.RoleID)
		}
		tuples[k] = tuple
	}
	for k, tuple := range tuples {
		tuple.AllowRoles = uniqueSorted(tuple.AllowRoles)
		tuple.DenyRoles = uniqueSorted(tuple.DenyRoles)
		tuple.Effect = EffectAllow
		if len(tuple.DenyRoles) > 0 {
			tuple.Effect = EffectDeny
		}
		tuples[k] = tuple
	}
	return tuples
}

func uniqueSorted(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Decision reasons
const (
	ReasonAllowed         = "allowed"
	ReasonExplicitDeny    = "explicit deny"
	ReasonNoGrant         = "no grant"
	ReasonNoRoles         = "no effective roles"
	ReasonUnknownCode     = "unknown permission code"
	ReasonResolutionError = "resolution error"
)

// Decision is the answer to a permission check
type Decision struct {
	Allowed      bool    `json:"allowed"`
	Effect       Effect  `json:"effect"`
	Reason       string  `json:"reason"`
	MatchedRoles []int64 `json:"matched_roles,omitempty"`
}

func deny(reason string, roles []int64) Decision {
	return Decision{Allowed: false, Effect: EffectDeny, Reason: reason, MatchedRoles: roles}
}

// decisionReader is what PermissionChecker needs from the store
type decisionReader interface {
	membershipReader
	GetRolesByIDs(ctx context.Context, tenantID int64, roleIDs []int64) ([]Role, error)
	ListGrants(ctx context.Context, tenantID int64, roleIDs []int64) ([]Grant, error)
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithAdminRoleCode sets the role code that HasAdminRole looks for
func WithAdminRoleCode(code string) CheckerOption {
	return func(pc *PermissionChecker) { pc.adminRoleCode = code }
}

// WithCheckerMetrics records decisions and cache lookups
func WithCheckerMetrics(m *observability.Metrics) CheckerOption {
	return func(pc *PermissionChecker) { pc.metrics = m }
}

const decisionsCacheName = "decisions"

// DecisionsKey is the cache key of a user's Decisions
func DecisionsKey(tenantID, userID int64) string {
	return cache.Key(decisionsCacheName, tenantID, userID)
}

// PermissionChecker resolves and caches per-user Decisions and answers permission checks
type PermissionChecker struct {
	store         decisionReader
	roles         *RoleResolver
	cache         cache.Cache[*Decisions]
	group         singleflight.Group
	adminRoleCode string
	metrics       *observability.Metrics
}

// NewPermissionChecker creates a checker; a nil cache disables caching
func NewPermissionChecker(store decisionReader, c cache.Cache[*Decisions], opts ...CheckerOption) *PermissionChecker {
	pc := &PermissionChecker{
		store:         store,
		roles:         NewRoleResolver(store),
		cache:         c,
		adminRoleCode: DefaultAdminRoleCode,
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// Roles returns the resolver used for effective roles
func (pc *PermissionChecker) Roles() *RoleResolver {
	return pc.roles
}

// CheckPermission decides whether the user holds code on the resource with resourceKey.
// No grant, an unknown resource and an unknown code all yield a Deny decision.
func (pc *PermissionChecker) CheckPermission(ctx context.Context, tenantID, userID int64, resourceKey string, code PermissionCode) (Decision, error) {
	if strings.TrimSpace(resourceKey) == "" || strings.TrimSpace(string(code)) == "" {
		return deny(ReasonNoGrant, nil), newError(ErrInvalidInput, "check permission", resourceKey+"/"+string(code), "resourceKey and permissionCode are required")
	}

	start := time.Now()
	code = PermissionCode(strings.ToUpper(string(code)))
	if !code.Valid() {
		pc.metrics.RecordDecision(string(EffectDeny), "input", time.Since(start).Seconds())
		return deny(ReasonUnknownCode, nil), nil
	}

	decisions, source, err := pc.load(ctx, tenantID, userID)
	if err != nil {
		return deny(ReasonResolutionError, nil), err
	}

	decision := decide(decisions, resourceKey, code)
	pc.metrics.RecordDecision(string(decision.Effect), source, time.Since(start).Seconds())

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"resource_key":    resourceKey,
		"permission_code": code,
		"effect":          decision.Effect,
		"reason":          decision.Reason,
	}).Debug("permission checked")

	return decision, nil
}

func decide(d *Decisions, resourceKey string, code PermissionCode) Decision {
	if len(d.Roles) == 0 {
		return deny(ReasonNoRoles, nil)
	}
	tuple, ok := d.Lookup(resourceKey, code)
	if !ok {
		return deny(ReasonNoGrant, nil)
	}
	if tuple.Effect == EffectDeny {
		return deny(ReasonExplicitDeny, tuple.DenyRoles)
	}
	return Decision{Allowed: true, Effect: EffectAllow, Reason: ReasonAllowed, MatchedRoles: tuple.AllowRoles}
}

// Decisions returns the user's derived authorization state, from cache when possible
func (pc *PermissionChecker) Decisions(ctx context.Context, tenantID, userID int64) (*Decisions, error) {
	d, _, err := pc.load(ctx, tenantID, userID)
	return d, err
}

// PermissionSet returns every aggregated grant of the user, sorted
func (pc *PermissionChecker) PermissionSet(ctx context.Context, tenantID, userID int64) ([]GrantTuple, error) {
	d, _, err := pc.load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return d.Tuples(), nil
}

// HasAdminRole reports whether the user holds the administrator role.
// Holding it does not bypass explicit denies in CheckPermission.
func (pc *PermissionChecker) HasAdminRole(ctx context.Context, tenantID, userID int64) (bool, error) {
	d, _, err := pc.load(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	return d.HasRole(pc.adminRoleCode), nil
}

// RequireAdmin returns ErrForbidden unless the user holds the administrator role
func (pc *PermissionChecker) RequireAdmin(ctx context.Context, tenantID, userID int64) error {
	ok, err := pc.HasAdminRole(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return newError(ErrForbidden, "require admin", strconv.FormatInt(userID, 10), "administrator role required")
	}
	return nil
}

// EvictUser drops the user's cached Decisions and fences in-flight recomputes
func (pc *PermissionChecker) EvictUser(ctx context.Context, tenantID, userID int64) error {
	if pc.cache == nil {
		return nil
	}
	err := pc.cache.Evict(ctx, DecisionsKey(tenantID, userID))
	pc.metrics.RecordEviction(decisionsCacheName, err)
	return err
}

// load returns Decisions and where they came from ("cache" or "store")
func (pc *PermissionChecker) load(ctx context.Context, tenantID, userID int64) (*Decisions, string, error) {
	logger := observability.FromContext(ctx)
	key := DecisionsKey(tenantID, userID)

	if pc.cache == nil {
		d, err := pc.compute(ctx, tenantID, userID)
		return d, "store", err
	}

	d, err := pc.cache.Get(ctx, key)
	if err == nil && d != nil {
		pc.metrics.RecordCacheLookup(decisionsCacheName, true)
		return d, "cache", nil
	}
	pc.metrics.RecordCacheLookup(decisionsCacheName, false)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logger.WithError(err).Warn("decision cache read failed, resolving from store")
	}

	// The epoch is part of the flight key so a caller arriving after an
	// eviction never joins a recompute that started before it.
	epoch, epochErr := pc.cache.Epoch(ctx, key)
	flight := key + "@nocache"
	if epochErr == nil {
		flight = fmt.Sprintf("%s@%d", key, epoch)
	} else {
		logger.WithError(epochErr).Warn("decision cache epoch read failed, result will not be cached")
	}

	// The shared recompute must not fail every joined caller when the
	// caller that started it goes away; each caller waits on its own ctx.
	flightCh := pc.group.DoChan(flight, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), cache.FlightTimeout)
		defer cancel()

		d, err := pc.compute(shared, tenantID, userID)
		if err != nil {
			return nil, err
		}
		if epochErr == nil {
			stored, err := pc.cache.Set(shared, key, epoch, d)
			switch {
			case err != nil:
				logger.WithError(err).Warn("decision cache write failed")
			case !stored:
				pc.metrics.RecordStaleWrite(decisionsCacheName)
				logger.Debug("decision cache write discarded after concurrent invalidation")
			}
		}
		return d, nil
	})
	select {
	case <-ctx.Done():
		return nil, "store", ctx.Err()
	case res := <-flightCh:
		if res.Err != nil {
			return nil, "store", res.Err
		}
		return res.Val.(*Decisions), "store", nil
	}
}

func (pc *PermissionChecker) compute(ctx context.Context, tenantID, userID int64) (*Decisions, error) {
	roles, err := pc.roles.Resolve(ctx, tenantID, userID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to resolve effective roles")
		return nil, err
	}

	d := &Decisions{
		TenantID:  tenantID,
		UserID:    userID,
		Roles:     roles,
		RoleCodes: []string{},
		Grants:    map[string]GrantTuple{},
	}
	if len(roles) == 0 {
		return d, nil
	}

	ids := RoleIDs(roles)
	roleRows, err := pc.store.GetRolesByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles: %w", err)
	}
	for _, r := range roleRows {
		d.RoleCodes = append(d.RoleCodes, r.Code)
	}
	sort.Strings(d.RoleCodes)

	grants, err := pc.store.ListGrants(ctx, tenantID, ids)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to load grants")
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	d.Grants = aggregate(grants)
	return d, nil
}
