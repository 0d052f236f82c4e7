package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/rbac"
	"github.com/dwp-platform/guard/pkg/scope"
)

func TestGrantCheckAndMenu(t *testing.T) {
	f := newCLIFixture(t)
	f.store.AddResource(rbac.Resource{Type: rbac.ResourceMenu, Key: "menu.reports", Name: "Reports", Enabled: true})
	f.store.AddMenu(rbac.Menu{MenuKey: "menu.reports", Name: "Reports", Path: "/reports", Visible: true, Enabled: true})
	userID := f.store.AddUser(testTenant, "u", nil)
	role := &rbac.Role{TenantID: testTenant, Code: "VIEWER", Name: "Viewer"}
	require.NoError(t, f.store.CreateRole(context.Background(), role))
	require.NoError(t, f.store.AddRoleMember(context.Background(), &rbac.RoleMember{
		TenantID: testTenant, RoleID: role.ID, Subject: rbac.UserSubject{UserID: userID},
	}))

	require.NoError(t, f.root.Execute([]string{"grant",
		"-tenant", "1", "-role", itoa(role.ID), "-resource", "menu.reports", "-code", "view"}))
	var diff rbac.Diff
	f.decode(t, &diff)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, rbac.ChangeAdded, diff.Changes[0].Kind)

	require.NoError(t, f.root.Execute([]string{"check",
		"-tenant", "1", "-user", itoa(userID), "-resource", "menu.reports"}))
	var decision rbac.Decision
	f.decode(t, &decision)
	assert.True(t, decision.Allowed)

	require.NoError(t, f.root.Execute([]string{"menu", "-tenant", "1", "-user", itoa(userID)}))
	assert.Contains(t, f.out.String(), "menu.reports")
}

func TestCheckRequiresFlags(t *testing.T) {
	err := newCLIFixture(t).root.Execute([]string{"check", "-tenant", "1"})
	assert.EqualError(t, err, "missing required flags: -user, -resource")
}

func TestGrantRejectsBadInput(t *testing.T) {
	f := newCLIFixture(t)

	err := f.root.Execute([]string{"grant", "-tenant", "1", "-role", "1", "-resource", "x", "-effect", "MAYBE"})
	assert.Error(t, err)

	err = f.root.Execute([]string{"grant", "-tenant", "1", "-role", "999", "-resource", "x"})
	assert.True(t, rbac.IsNotFound(err))
}

func TestScopeCommand(t *testing.T) {
	f := newCLIFixture(t)

	require.NoError(t, f.root.Execute([]string{"scope", "-tenant", "1"}))
	var s scope.Scope
	f.decode(t, &s)
	assert.Empty(t, s.CompanyCodes)

	require.NoError(t, f.root.Execute([]string{"scope", "-tenant", "1", "-company-codes", "1000,us01", "-currencies", "usd"}))
	f.decode(t, &s)
	assert.Equal(t, []string{"1000", "US01"}, s.CompanyCodes)
	assert.Equal(t, []string{"USD"}, s.Currencies)

	require.NoError(t, f.root.Execute([]string{"scope", "-tenant", "1", "-company-codes", ""}))
	s = scope.Scope{}
	f.decode(t, &s)
	assert.Empty(t, s.CompanyCodes)
	assert.Equal(t, []string{"USD"}, s.Currencies)

	err := f.root.Execute([]string{"scope", "-tenant", "1", "-currencies", "DOLLARS"})
	assert.True(t, rbac.IsInvalidInput(err))
}

func TestMigrateWithoutDatabase(t *testing.T) {
	assert.Error(t, newCLIFixture(t).root.Execute([]string{"migrate"}))
}

func TestHealthCommand(t *testing.T) {
	f := newCLIFixture(t)
	require.NoError(t, f.root.Execute([]string{"health"}))
	assert.Contains(t, f.out.String(), `"status": "healthy"`)
}
