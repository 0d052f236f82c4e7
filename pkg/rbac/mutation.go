package rbac

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dwp-platform/guard/pkg/audit"
	"github.com/dwp-platform/guard/pkg/observability"
)

// BatchItem sets or removes one grant of a role. A nil Effect deletes the grant.
type BatchItem struct {
	ResourceKey    string         `json:"resourceKey"`
	PermissionCode PermissionCode `json:"permissionCode"`
	Effect         *Effect        `json:"effect"`
}

// ChangeKind classifies a diff entry
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "ADDED"
	ChangeUpdated ChangeKind = "UPDATED"
	ChangeRemoved ChangeKind = "REMOVED"
)

// Change is one real change made by a batch
type Change struct {
	ResourceKey    string         `json:"resourceKey"`
	PermissionCode PermissionCode `json:"permissionCode"`
	Kind           ChangeKind     `json:"changeType"`
	Before         *Effect        `json:"beforeEffect,omitempty"`
	After          *Effect        `json:"afterEffect,omitempty"`
}

// Diff is the audit payload of a batch: only grants whose effect actually changed
type Diff struct {
	TenantID    int64          `json:"tenantId"`
	RoleID      int64          `json:"roleId"`
	RoleCode    string         `json:"roleCode"`
	Changes     []Change       `json:"changes"`
	Invalidated EvictionReport `json:"-"`
}

// Empty reports whether the batch changed nothing
func (d *Diff) Empty() bool {
	return len(d.Changes) == 0
}

// Counts returns the number of added, updated and removed grants
func (d *Diff) Counts() (added, updated, removed int) {
	for _, c := range d.Changes {
		switch c.Kind {
		case ChangeAdded:
			added++
		case ChangeUpdated:
			updated++
		case ChangeRemoved:
			removed++
		}
	}
	return added, updated, removed
}

// PermissionMutator applies batches of grant changes to a role
type PermissionMutator struct {
	store   Store
	cascade *Cascade
	sink    audit.Sink
	metrics *observability.Metrics
}

// NewPermissionMutator creates a mutator; sink and metrics may be nil
func NewPermissionMutator(store Store, cascade *Cascade, sink audit.Sink, metrics *observability.Metrics) *PermissionMutator {
	return &PermissionMutator{store: store, cascade: cascade, sink: sink, metrics: metrics}
}

type grantSlot struct {
	resourceID   int64
	permissionID int64
}

type resolvedItem struct {
	slot   grantSlot
	key    string
	code   PermissionCode
	effect *Effect
}

const opApplyBatch = "apply_role_permission_batch"

// ApplyRolePermissionBatch applies items to the role in one transaction holding
// the role's row lock. Every item is validated before anything is written, so a
// bad item aborts the whole batch. Items are applied in order; a later item for
// the same grant wins. After commit the role's users are evicted and the diff is
// audited.
func (m *PermissionMutator) ApplyRolePermissionBatch(ctx context.Context, tenantID, roleID int64, items []BatchItem) (*Diff, error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"role_id": roleID,
		"items":   len(items),
	})

	diff := &Diff{TenantID: tenantID, RoleID: roleID, Changes: []Change{}}

	err := m.store.RunInTx(ctx, func(tx Store) error {
		role, err := tx.LockRole(ctx, tenantID, roleID)
		if err != nil {
			if IsNotFound(err) {
				return newError(ErrNotFound, opApplyBatch, strconv.FormatInt(roleID, 10), "role does not exist")
			}
			return err
		}
		diff.RoleCode = role.Code

		resolved, err := resolveBatch(ctx, tx, tenantID, items)
		if err != nil {
			return err
		}

		current, err := tx.ListRolePermissions(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		before := make(map[grantSlot]Effect, len(current))
		for _, rp := range current {
			before[grantSlot{rp.ResourceID, rp.PermissionID}] = rp.Effect
		}

		state := make(map[grantSlot]Effect, len(before))
		for k, v := range before {
			state[k] = v
		}

		for _, item := range resolved {
			existing, exists := state[item.slot]

			if item.effect == nil {
				if !exists {
					continue
				}
				if _, err := tx.DeleteRolePermission(ctx, tenantID, roleID, item.slot.resourceID, item.slot.permissionID); err != nil {
					return err
				}
				delete(state, item.slot)
				continue
			}

			if exists && existing == *item.effect {
				continue
			}
			if err := tx.UpsertRolePermission(ctx, &RolePermission{
				TenantID:     tenantID,
				RoleID:       roleID,
				ResourceID:   item.slot.resourceID,
				PermissionID: item.slot.permissionID,
				Effect:       *item.effect,
			}); err != nil {
				return err
			}
			state[item.slot] = *item.effect
		}

		diff.Changes = diffGrants(before, state, resolved)
		return nil
	})
	m.metrics.RecordMutation(opApplyBatch, err)
	if err != nil {
		logger.WithError(err).Warn("role permission batch rejected")
		return nil, err
	}

	if diff.Empty() {
		logger.Debug("role permission batch changed nothing")
		return diff, nil
	}

	diff.Invalidated = m.cascade.InvalidateRole(ctx, tenantID, roleID)

	added, updated, removed := diff.Counts()
	logger.WithFields(map[string]interface{}{
		"added":   added,
		"updated": updated,
		"removed": removed,
		"evicted": len(diff.Invalidated.Users),
	}).Info("role permission batch applied")

	audit.Emit(ctx, m.sink, m.metrics,
		audit.NewEvent(ctx, audit.EventTypeRolePermissionBulkUpdate, tenantID, "role", strconv.FormatInt(roleID, 10), diff))

	return diff, nil
}

// resolveBatch validates every item and resolves keys and codes to IDs
func resolveBatch(ctx context.Context, tx CatalogReader, tenantID int64, items []BatchItem) ([]resolvedItem, error) {
	resources := make(map[string]*Resource)
	permissions := make(map[PermissionCode]*Permission)
	resolved := make([]resolvedItem, 0, len(items))

	for i, item := range items {
		key := strings.TrimSpace(item.ResourceKey)
		code := PermissionCode(strings.ToUpper(strings.TrimSpace(string(item.PermissionCode))))
		label := key + "/" + string(code)

		if key == "" {
			return nil, itemError(ErrInvalidInput, opApplyBatch, i, label, "resourceKey is required")
		}
		if code == "" {
			return nil, itemError(ErrInvalidInput, opApplyBatch, i, label, "permissionCode is required")
		}
		if item.Effect != nil && !item.Effect.Valid() {
			return nil, itemError(ErrInvalidInput, opApplyBatch, i, label,
				fmt.Sprintf("effect %q must be ALLOW or DENY", *item.Effect))
		}

		res, ok := resources[key]
		if !ok {
			r, err := tx.GetResourceByKey(ctx, tenantID, key)
			if IsNotFound(err) {
				return nil, itemError(ErrNotFound, opApplyBatch, i, label, "unknown resourceKey")
			} else if err != nil {
				return nil, err
			}
			res = r
			resources[key] = res
		}

		perm, ok := permissions[code]
		if !ok {
			p, err := tx.GetPermissionByCode(ctx, code)
			if IsNotFound(err) {
				return nil, itemError(ErrNotFound, opApplyBatch, i, label, "unknown permissionCode")
			} else if err != nil {
				return nil, err
			}
			perm = p
			permissions[code] = perm
		}

		resolved = append(resolved, resolvedItem{
			slot:   grantSlot{resourceID: res.ID, permissionID: perm.ID},
			key:    res.Key,
			code:   perm.Code,
			effect: item.Effect,
		})
	}
	return resolved, nil
}

// diffGrants compares the touched slots before and after, sorted by key then code
func diffGrants(before, after map[grantSlot]Effect, items []resolvedItem) []Change {
	seen := make(map[grantSlot]bool)
	changes := []Change{}

	for _, item := range items {
		if seen[item.slot] {
			continue
		}
		seen[item.slot] = true

		b, hadBefore := before[item.slot]
		a, hasAfter := after[item.slot]
		change := Change{ResourceKey: item.key, PermissionCode: item.code}

		switch {
		case !hadBefore && hasAfter:
			change.Kind = ChangeAdded
			change.After = EffectPtr(a)
		case hadBefore && !hasAfter:
			change.Kind = ChangeRemoved
			change.Before = EffectPtr(b)
		case hadBefore && hasAfter && a != b:
			change.Kind = ChangeUpdated
			change.Before = EffectPtr(b)
			change.After = EffectPtr(a)
		default:
			continue
		}
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].ResourceKey != changes[j].ResourceKey {
			return changes[i].ResourceKey < changes[j].ResourceKey
		}
		return changes[i].PermissionCode < changes[j].PermissionCode
	})
	return changes
}
