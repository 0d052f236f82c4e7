// Package scope resolves which business-data partitions a tenant may query.
//
// A tenant's scope is two allow-lists, company codes and currencies. Only
// included entries count and codes are compared upper-cased. An empty list
// means nothing is visible: every scoped read in DocumentQueries returns an
// empty result without touching the database.
//
// Resolver caches the resolved Scope per tenant with the same epoch discipline
// as the permission decision cache. Service replaces a list in one transaction
// and evicts the tenant's cached scope after commit.
package scope
