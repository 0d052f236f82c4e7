package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMenuForest_IncludesAncestors(t *testing.T) {
	menus := []Menu{
		{MenuKey: "admin", Name: "Admin", MenuGroup: MenuGroupManagement, SortOrder: 1},
		{MenuKey: "admin.security", ParentMenuKey: "admin", Name: "Security", SortOrder: 1},
		{MenuKey: "admin.security.roles", ParentMenuKey: "admin.security", Name: "Roles", Path: "/admin/roles", SortOrder: 2},
		{MenuKey: "admin.security.users", ParentMenuKey: "admin.security", Name: "Users", Path: "/admin/users", SortOrder: 1},
		{MenuKey: "apps", Name: "Apps", MenuGroup: MenuGroupApps, Path: "/apps"},
	}

	forest := BuildMenuForest(menus, []string{"admin.security.roles"})

	require.Len(t, forest.Roots, 1)
	root := forest.Roots[0]
	assert.Equal(t, "admin", root.MenuKey)
	require.Len(t, root.Children, 1)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "admin.security.roles", root.Children[0].Children[0].MenuKey)

	// Parents without a path take their first child's
	assert.Equal(t, "/admin/roles", root.Children[0].Path)
	assert.Equal(t, "/admin/roles", root.Path)

	assert.Equal(t, []string{"admin", "admin.security", "admin.security.roles"}, forest.Keys())
}

func TestBuildMenuForest_SortsAndGroups(t *testing.T) {
	menus := []Menu{
		{MenuKey: "b", Name: "B", SortOrder: 2, MenuGroup: MenuGroupApps},
		{MenuKey: "a", Name: "A", SortOrder: 2, MenuGroup: MenuGroupApps},
		{MenuKey: "c", Name: "C", SortOrder: 1, MenuGroup: MenuGroupManagement},
		{MenuKey: "d", Name: "D", SortOrder: 3},
		{MenuKey: "d.2", ParentMenuKey: "d", SortOrder: 2},
		{MenuKey: "d.1", ParentMenuKey: "d", SortOrder: 2},
	}

	forest := BuildMenuForest(menus, []string{"a", "b", "c", "d.1", "d.2"})

	assert.Equal(t, []string{"c", "a", "b", "d", "d.1", "d.2"}, forest.Keys())
	require.Len(t, forest.Groups, 3)
	assert.Equal(t, MenuGroupManagement, forest.Groups[0].Group)
	assert.Equal(t, "Management", forest.Groups[0].Name)
	assert.Equal(t, MenuGroupApps, forest.Groups[1].Group)
	assert.Len(t, forest.Groups[1].Roots, 2)
	assert.Equal(t, MenuGroupOther, forest.Groups[2].Group)
	assert.Equal(t, "Other", forest.Groups[2].Name)
}

func TestBuildMenuForest_Cycle(t *testing.T) {
	menus := []Menu{
		{MenuKey: "x", ParentMenuKey: "y"},
		{MenuKey: "y", ParentMenuKey: "x"},
	}

	forest := BuildMenuForest(menus, []string{"x"})

	assert.ElementsMatch(t, []string{"x", "y"}, forest.Keys())
	assert.Len(t, forest.Roots, 1)
}

func TestBuildMenuForest_MissingParentBecomesRoot(t *testing.T) {
	menus := []Menu{{MenuKey: "orphan", ParentMenuKey: "hidden", Path: "/orphan"}}

	forest := BuildMenuForest(menus, []string{"orphan", "not-a-menu"})

	require.Len(t, forest.Roots, 1)
	assert.Equal(t, "orphan", forest.Roots[0].MenuKey)
}

func TestMenuBuilder_ResolveMenuTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.resource(ResourceMenu, "orders")
	f.resource(ResourceMenu, "orders.list")
	f.resource(ResourceMenu, "orders.approve")
	f.resource(ResourceMenu, "reports")
	f.store.AddMenu(Menu{MenuKey: "orders", Name: "Orders", Visible: true, Enabled: true})
	f.store.AddMenu(Menu{MenuKey: "orders.list", ParentMenuKey: "orders", Path: "/orders", Visible: true, Enabled: true})
	f.store.AddMenu(Menu{MenuKey: "orders.approve", ParentMenuKey: "orders", Path: "/orders/approve", Visible: true, Enabled: true})
	f.store.AddMenu(Menu{MenuKey: "reports", Name: "Reports", Path: "/reports", Visible: false, Enabled: true})

	user := f.store.AddUser(testTenant, "alice", nil)
	role := f.role(t, "CLERK")
	f.member(t, role.ID, UserSubject{UserID: user})
	f.grant(t, role.ID, "orders.list", PermissionView, EffectAllow)
	f.grant(t, role.ID, "orders.approve", PermissionView, EffectDeny)
	f.grant(t, role.ID, "reports", PermissionView, EffectAllow)

	forest, err := f.menus.ResolveMenuTree(ctx, testTenant, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "orders.list"}, forest.Keys())
	assert.Equal(t, "/orders", forest.Roots[0].Path)
}

func TestMenuBuilder_NoRoles(t *testing.T) {
	f := newFixture(t)
	f.store.AddMenu(Menu{MenuKey: "orders", Visible: true, Enabled: true})
	user := f.store.AddUser(testTenant, "alice", nil)

	forest, err := f.menus.ResolveMenuTree(context.Background(), testTenant, user)
	require.NoError(t, err)
	assert.Empty(t, forest.Roots)
	assert.Empty(t, forest.Groups)
}
