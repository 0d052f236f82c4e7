// Package httputil provides the JSON responses and request middleware shared by
// HTTP surfaces built on the engine.
//
// # Middleware
//
// A typical stack in front of engine-guarded handlers:
//
//	stack := httputil.Chain(
//		httputil.LoggerMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.RequestIDMiddleware,
//		httputil.TrustedIdentityMiddleware,
//	)
//	mux.Handle("/admin/roles", stack(guard.RequireAdmin()(rolesHandler)))
//
// TrustedIdentityMiddleware does not authenticate. It must only be deployed
// behind a proxy that strips client supplied X-Tenant-ID and X-User-ID headers.
package httputil
