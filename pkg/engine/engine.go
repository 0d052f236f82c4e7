package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dwp-platform/guard/pkg/audit"
	"github.com/dwp-platform/guard/pkg/cache"
	"github.com/dwp-platform/guard/pkg/config"
	"github.com/dwp-platform/guard/pkg/contextkeys"
	"github.com/dwp-platform/guard/pkg/httputil"
	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
	"github.com/dwp-platform/guard/pkg/scope"
)

// redisPrefix namespaces every key the engine writes to a shared Redis
const redisPrefix = "guard:"

// Dependencies are the collaborators Assemble wires together.
// Nil caches disable caching; a nil DB disables document queries, migrations
// and the database health check.
type Dependencies struct {
	RBACStore     rbac.Store
	ScopeStore    scope.Store
	Decisions     cache.Cache[*rbac.Decisions]
	Scopes        cache.Cache[*scope.Scope]
	Sink          audit.Sink
	Metrics       *observability.Metrics
	Logger        *observability.Logger
	AdminRoleCode string
	DB            *sql.DB
}

// Engine is the in-process authorization and data-scope facade
type Engine struct {
	checker   *rbac.PermissionChecker
	menus     *rbac.MenuBuilder
	cascade   *rbac.Cascade
	mutator   *rbac.PermissionMutator
	roles     *rbac.RoleService
	resolver  *scope.Resolver
	scopes    *scope.Service
	documents *scope.DocumentQueries
	guard     *rbac.PermissionMiddleware

	sink     audit.Sink
	metrics  *observability.Metrics
	logger   *observability.Logger
	db       *sql.DB
	redis    *redis.Client
	registry *prometheus.Registry
}

// Assemble builds an Engine over already constructed dependencies
func Assemble(deps Dependencies) *Engine {
	if deps.Sink == nil {
		deps.Sink = audit.NoOpSink{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if deps.AdminRoleCode == "" {
		deps.AdminRoleCode = rbac.DefaultAdminRoleCode
	}

	checker := rbac.NewPermissionChecker(deps.RBACStore, deps.Decisions,
		rbac.WithAdminRoleCode(deps.AdminRoleCode),
		rbac.WithCheckerMetrics(deps.Metrics),
	)
	cascade := rbac.NewCascade(deps.RBACStore, checker, deps.Metrics)
	resolver := scope.NewResolver(deps.ScopeStore, deps.Scopes, deps.Metrics)

	e := &Engine{
		checker:  checker,
		menus:    rbac.NewMenuBuilder(checker, deps.RBACStore),
		cascade:  cascade,
		mutator:  rbac.NewPermissionMutator(deps.RBACStore, cascade, deps.Sink, deps.Metrics),
		roles:    rbac.NewRoleService(deps.RBACStore, cascade, deps.Sink, deps.Metrics, deps.AdminRoleCode),
		resolver: resolver,
		scopes:   scope.NewService(deps.ScopeStore, resolver, deps.Sink, deps.Metrics),
		guard:    rbac.NewPermissionMiddleware(checker),
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		db:       deps.DB,
	}
	if deps.DB != nil {
		e.documents = scope.NewDocumentQueries(deps.DB, resolver, deps.Metrics)
	}
	return e
}

// Option customizes New
type Option func(*options)

type options struct {
	logger *observability.Logger
}

// WithLogger replaces the default stdout JSON logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New connects to the configured Postgres, cache and audit sink and assembles an Engine
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		RBACStore:     rbac.NewPostgresStore(db),
		ScopeStore:    scope.NewPostgresStore(db),
		Logger:        logger,
		AdminRoleCode: cfg.Authz.AdminRoleCode,
		DB:            db,
	}

	var redisClient *redis.Client
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisOptions{
			URL:      cfg.Cache.RedisURL,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			PoolSize: cfg.Cache.RedisPoolSize,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		deps.Decisions = cache.NewRedisCache[*rbac.Decisions](redisClient, redisPrefix, cfg.Cache.DecisionTTL)
		deps.Scopes = cache.NewRedisCache[*scope.Scope](redisClient, redisPrefix, cfg.Cache.ScopeTTL)
	default:
		deps.Decisions = cache.NewMemoryCache[*rbac.Decisions](cfg.Cache.L1Size, cfg.Cache.DecisionTTL)
		deps.Scopes = cache.NewMemoryCache[*scope.Scope](cfg.Cache.L1Size, cfg.Cache.ScopeTTL)
	}

	var registry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		deps.Metrics = observability.NewMetrics(registry)
	}

	deps.Sink = newSink(cfg.Audit, logger)

	e := Assemble(deps)
	e.redis = redisClient
	e.registry = registry

	logger.WithFields(map[string]interface{}{
		"cache_backend": cfg.Cache.Backend,
		"audit_sink":    cfg.Audit.Sink,
		"metrics":       cfg.Observability.MetricsEnabled,
	}).Info("authorization engine started")

	return e, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newSink builds the configured audit sink. Kafka events are also logged so a
// broker outage never leaves a mutation without any audit trail.
func newSink(cfg config.AuditConfig, logger *observability.Logger) audit.Sink {
	switch cfg.Sink {
	case config.AuditSinkKafka:
		return audit.NewMultiSink(audit.NewLogSink(logger), audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	case config.AuditSinkNone:
		return audit.NoOpSink{}
	default:
		return audit.NewLogSink(logger)
	}
}

// context attaches the engine logger unless the caller already set one
func (e *Engine) context(ctx context.Context) context.Context {
	if _, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok {
		return ctx
	}
	return observability.WithLogger(ctx, e.logger)
}

// Migrate applies the authorization and scope schema migrations
func (e *Engine) Migrate(ctx context.Context) error {
	if e.db == nil {
		return errors.New("migrate: engine has no database")
	}
	ctx = e.context(ctx)
	if err := rbac.RunMigrations(ctx, e.db); err != nil {
		return fmt.Errorf("failed to migrate authorization schema: %w", err)
	}
	if err := scope.RunMigrations(ctx, e.db); err != nil {
		return fmt.Errorf("failed to migrate scope schema: %w", err)
	}
	return nil
}

// Health reports the state of the database and Redis
func (e *Engine) Health(ctx context.Context) observability.HealthStatus {
	return observability.NewHealthChecker(e.db, e.redis).Check(ctx)
}

// Registry returns the metrics registry, or nil when metrics are disabled
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Middleware returns net/http guards backed by the engine's permission checker
func (e *Engine) Middleware() *rbac.PermissionMiddleware {
	return e.guard
}

// HTTPStack returns the request plumbing to put in front of Middleware guards:
// logging, panic recovery, request IDs and trusted identity headers
func (e *Engine) HTTPStack() func(http.Handler) http.Handler {
	return httputil.Chain(
		httputil.LoggerMiddleware(e.logger),
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.TrustedIdentityMiddleware,
	)
}

// Documents returns scope-filtered document queries, or nil without a database
func (e *Engine) Documents() *scope.DocumentQueries {
	return e.documents
}

// Close releases the audit sink, Redis and database connections
func (e *Engine) Close() error {
	var errs []error
	if err := e.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit sink: %w", err))
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
