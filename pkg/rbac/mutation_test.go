package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/audit"
)

func mutationFixture(t *testing.T) (*fixture, *Role, int64) {
	t.Helper()
	f := newFixture(t)
	f.resource(ResourceMenu, "menu.orders")
	f.resource(ResourceAPI, "api.orders")
	user := f.store.AddUser(testTenant, "alice", nil)
	role := f.role(t, "ORDERS")
	f.member(t, role.ID, UserSubject{UserID: user})
	return f, role, user
}

func TestApplyRolePermissionBatch_Diff(t *testing.T) {
	f, role, _ := mutationFixture(t)
	ctx := context.Background()
	f.grant(t, role.ID, "menu.orders", PermissionView, EffectAllow)
	f.grant(t, role.ID, "menu.orders", PermissionEdit, EffectAllow)
	f.grant(t, role.ID, "api.orders", PermissionUse, EffectAllow)

	diff, err := f.mutator.ApplyRolePermissionBatch(ctx, testTenant, role.ID, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)}, // unchanged
		{ResourceKey: "menu.orders", PermissionCode: PermissionEdit, Effect: EffectPtr(EffectDeny)},  // updated
		{ResourceKey: "api.orders", PermissionCode: PermissionUse},                                   // removed
		{ResourceKey: "api.orders", PermissionCode: "execute", Effect: EffectPtr(EffectAllow)},       // added
		{ResourceKey: "api.orders", PermissionCode: PermissionApprove},                               // absent, no-op
	})
	require.NoError(t, err)

	assert.Equal(t, "ORDERS", diff.RoleCode)
	require.Len(t, diff.Changes, 3)
	assert.Equal(t, Change{ResourceKey: "api.orders", PermissionCode: PermissionExecute, Kind: ChangeAdded, After: EffectPtr(EffectAllow)}, diff.Changes[0])
	assert.Equal(t, Change{ResourceKey: "api.orders", PermissionCode: PermissionUse, Kind: ChangeRemoved, Before: EffectPtr(EffectAllow)}, diff.Changes[1])
	assert.Equal(t, Change{ResourceKey: "menu.orders", PermissionCode: PermissionEdit, Kind: ChangeUpdated, Before: EffectPtr(EffectAllow), After: EffectPtr(EffectDeny)}, diff.Changes[2])

	added, updated, removed := diff.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{added, updated, removed})

	perms, err := f.store.ListRolePermissions(ctx, testTenant, role.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 3)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeRolePermissionBulkUpdate, events[0].Type)
	assert.Same(t, diff, events[0].Payload)
}

func TestApplyRolePermissionBatch_DeletionIsIdempotent(t *testing.T) {
	f, role, _ := mutationFixture(t)
	ctx := context.Background()
	f.grant(t, role.ID, "menu.orders", PermissionView, EffectAllow)
	revoke := []BatchItem{{ResourceKey: "menu.orders", PermissionCode: PermissionView}}

	diff, err := f.mutator.ApplyRolePermissionBatch(ctx, testTenant, role.ID, revoke)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, ChangeRemoved, diff.Changes[0].Kind)
	require.Len(t, f.sink.Events(), 1)

	diff, err = f.mutator.ApplyRolePermissionBatch(ctx, testTenant, role.ID, revoke)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Len(t, f.sink.Events(), 1, "a no-op revoke is not audited")

	perms, err := f.store.ListRolePermissions(ctx, testTenant, role.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestApplyRolePermissionBatch_EvictsMembers(t *testing.T) {
	f, role, user := mutationFixture(t)
	ctx := context.Background()

	assert.False(t, f.allowed(t, user, "menu.orders", PermissionView))

	diff, err := f.mutator.ApplyRolePermissionBatch(ctx, testTenant, role.ID, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{user}, diff.Invalidated.Users)
	assert.True(t, f.allowed(t, user, "menu.orders", PermissionView))
}

func TestApplyRolePermissionBatch_NoChanges(t *testing.T) {
	f, role, _ := mutationFixture(t)
	f.grant(t, role.ID, "menu.orders", PermissionView, EffectAllow)

	diff, err := f.mutator.ApplyRolePermissionBatch(context.Background(), testTenant, role.ID, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
	})
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Empty(t, f.sink.Events())
}

func TestApplyRolePermissionBatch_LastItemWins(t *testing.T) {
	f, role, _ := mutationFixture(t)

	diff, err := f.mutator.ApplyRolePermissionBatch(context.Background(), testTenant, role.ID, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectDeny)},
	})
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, ChangeAdded, diff.Changes[0].Kind)
	assert.Equal(t, EffectDeny, *diff.Changes[0].After)
}

func TestApplyRolePermissionBatch_AllOrNothing(t *testing.T) {
	tests := []struct {
		name  string
		item  BatchItem
		kind  error
		index int
	}{
		{
			name: "unknown resource",
			item: BatchItem{ResourceKey: "menu.missing", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
			kind: ErrNotFound,
		},
		{
			name: "unknown permission code",
			item: BatchItem{ResourceKey: "menu.orders", PermissionCode: "DELETE", Effect: EffectPtr(EffectAllow)},
			kind: ErrNotFound,
		},
		{
			name: "invalid effect",
			item: BatchItem{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr("MAYBE")},
			kind: ErrInvalidInput,
		},
		{
			name: "missing resource key",
			item: BatchItem{PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
			kind: ErrInvalidInput,
		},
		{
			name: "missing permission code",
			item: BatchItem{ResourceKey: "menu.orders", Effect: EffectPtr(EffectAllow)},
			kind: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, role, _ := mutationFixture(t)
			ctx := context.Background()

			_, err := f.mutator.ApplyRolePermissionBatch(ctx, testTenant, role.ID, []BatchItem{
				{ResourceKey: "api.orders", PermissionCode: PermissionUse, Effect: EffectPtr(EffectAllow)},
				tt.item,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var rbacErr *Error
			require.True(t, errors.As(err, &rbacErr))
			assert.Equal(t, 1, rbacErr.Item)

			perms, err := f.store.ListRolePermissions(ctx, testTenant, role.ID)
			require.NoError(t, err)
			assert.Empty(t, perms)
			assert.Empty(t, f.sink.Events())
		})
	}
}

func TestApplyRolePermissionBatch_UnknownRole(t *testing.T) {
	f, _, _ := mutationFixture(t)

	_, err := f.mutator.ApplyRolePermissionBatch(context.Background(), testTenant, 424242, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
	})
	assert.True(t, IsNotFound(err))
}

func TestApplyRolePermissionBatch_RoleOfOtherTenant(t *testing.T) {
	f, role, _ := mutationFixture(t)

	_, err := f.mutator.ApplyRolePermissionBatch(context.Background(), 2, role.ID, []BatchItem{
		{ResourceKey: "menu.orders", PermissionCode: PermissionView, Effect: EffectPtr(EffectAllow)},
	})
	assert.True(t, IsNotFound(err))
}
