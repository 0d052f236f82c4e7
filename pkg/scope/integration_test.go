//go:build integration

package scope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/cache"
	"github.com/dwp-platform/guard/pkg/rbac"
)

func TestIntegration_ScopedReads(t *testing.T) {
	db, cleanup := rbac.SetupPostgresContainer(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db))

	tenantID := time.Now().UnixNano() % 1_000_000_000
	_, err := db.ExecContext(ctx, `
		INSERT INTO fi_doc_header (tenant_id, bukrs, belnr, gjahr, budat, waers)
		VALUES ($1, '1000', '5100000001', '2026', '2026-03-01', 'USD'),
		       ($1, '2000', '5100000002', '2026', '2026-03-02', 'EUR')`, tenantID)
	require.NoError(t, err)

	store := NewPostgresStore(db)
	resolver := NewResolver(store, cache.NewMemoryCache[*Scope](16, time.Minute), nil)
	service := NewService(store, resolver, nil, nil)
	queries := NewDocumentQueries(db, resolver, nil)

	headers, err := queries.DocHeaders(ctx, tenantID, DocFilter{})
	require.NoError(t, err)
	assert.Empty(t, headers, "no scope, nothing visible")

	_, err = service.SetCompanyCodes(ctx, tenantID, []string{"1000"})
	require.NoError(t, err)

	headers, err = queries.DocHeaders(ctx, tenantID, DocFilter{})
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.Equal(t, "1000", headers[0].CompanyCode)

	_, err = service.SetCompanyCodes(ctx, tenantID, []string{"1000", "2000"})
	require.NoError(t, err)

	headers, err = queries.DocHeaders(ctx, tenantID, DocFilter{})
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, "2000", headers[0].CompanyCode, "newest posting first")

	_, err = service.SetCompanyCodes(ctx, tenantID, nil)
	require.NoError(t, err)
	headers, err = queries.DocHeaders(ctx, tenantID, DocFilter{})
	require.NoError(t, err)
	assert.Empty(t, headers)
}
