//go:build integration

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/cache"
	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
	"github.com/dwp-platform/guard/pkg/scope"
)

func TestIntegration_EngineOverPostgres(t *testing.T) {
	db, cleanup := rbac.SetupPostgresContainer(t)
	defer cleanup()
	ctx := context.Background()

	e := Assemble(Dependencies{
		RBACStore:  rbac.NewPostgresStore(db),
		ScopeStore: scope.NewPostgresStore(db),
		Decisions:  cache.NewMemoryCache[*rbac.Decisions](64, time.Minute),
		Scopes:     cache.NewMemoryCache[*scope.Scope](64, time.Minute),
		Logger:     observability.NewNopLogger(),
		DB:         db,
	})
	require.NoError(t, e.Migrate(ctx))
	require.NoError(t, e.Migrate(ctx), "migrations are idempotent")

	tenantID := time.Now().UnixNano() % 1_000_000_000
	var userID int64
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO users (tenant_id, username) VALUES ($1, 'ops') RETURNING id`, tenantID).Scan(&userID))
	_, err := db.ExecContext(ctx,
		`INSERT INTO resources (tenant_id, resource_type, resource_key, name) VALUES ($1, 'API', 'api.cases.export', 'Export')`, tenantID)
	require.NoError(t, err)

	role, err := e.CreateRole(ctx, tenantID, "OPS", "Operations", "")
	require.NoError(t, err)
	_, err = e.AddRoleMember(ctx, tenantID, role.ID, rbac.UserSubject{UserID: userID})
	require.NoError(t, err)
	_, err = e.ApplyRolePermissionBatch(ctx, tenantID, role.ID, []rbac.BatchItem{
		{ResourceKey: "api.cases.export", PermissionCode: rbac.PermissionExecute, Effect: rbac.EffectPtr(rbac.EffectAllow)},
	})
	require.NoError(t, err)

	decision, err := e.CheckPermission(ctx, tenantID, userID, "api.cases.export", rbac.PermissionExecute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	require.NotNil(t, e.Documents())
	cases, err := e.Documents().Cases(ctx, tenantID, scope.DocFilter{})
	require.NoError(t, err)
	assert.Empty(t, cases)

	health := e.Health(ctx)
	assert.Equal(t, observability.StatusHealthy, health.Status)
}
