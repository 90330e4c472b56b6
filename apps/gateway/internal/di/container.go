package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/apps/gateway/internal/handler"
	"github.com/prohmpiriya/membership-gateway/apps/gateway/internal/proxy"
	"github.com/prohmpiriya/membership-gateway/pkg/access"
	"github.com/prohmpiriya/membership-gateway/pkg/audit"
	"github.com/prohmpiriya/membership-gateway/pkg/cache"
	"github.com/prohmpiriya/membership-gateway/pkg/config"
	"github.com/prohmpiriya/membership-gateway/pkg/credential"
	"github.com/prohmpiriya/membership-gateway/pkg/database"
	"github.com/prohmpiriya/membership-gateway/pkg/invitation"
	"github.com/prohmpiriya/membership-gateway/pkg/isolation"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
	"github.com/prohmpiriya/membership-gateway/pkg/ratelimit"
	pkgredis "github.com/prohmpiriya/membership-gateway/pkg/redis"
	"github.com/prohmpiriya/membership-gateway/pkg/telemetry"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// Container holds all dependencies for the gateway
type Container struct {
	Config *config.Config
	Log    *logger.Logger

	// Infrastructure, nil when the configuration does not need it
	DB    *database.PostgresDB
	Redis *pkgredis.Client
	Kafka *kgo.Client
	NATS  *nats.Conn

	// Pipeline stages
	Codec       *credential.Codec
	Resolver    *tenant.Resolver
	Validator   *access.Validator
	Enforcer    *isolation.Enforcer
	Limiter     *ratelimit.Limiter
	Recorder    *audit.Recorder
	AuditRules  []middleware.AuditRule
	Invitations *invitation.Service
	Router      *proxy.Router

	// Handlers
	HealthHandler        *handler.HealthHandler
	AuthHandler          *handler.AuthHandler
	InvitationHandler    *handler.InvitationHandler
	MembershipKeyHandler *handler.MembershipKeyHandler

	directory tenant.Directory
	closers   []func() error
}

// Option customizes container construction
type Option func(*Container)

// WithTenantDirectory replaces the configured tenant directory
func WithTenantDirectory(d tenant.Directory) Option {
	return func(c *Container) { c.directory = d }
}

// NewContainer connects the infrastructure the configuration asks for and
// builds every pipeline stage and handler on top of it. On error, whatever
// was already opened is closed.
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Container, error) {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Container{Config: cfg, Log: log}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.build(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg, log := c.Config, c.Log

	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		return fmt.Errorf("gateway metrics: %w", err)
	}

	if err = c.connect(ctx); err != nil {
		return err
	}

	if err = c.buildCodec(); err != nil {
		return err
	}
	if err = c.buildResolver(metrics); err != nil {
		return err
	}
	c.buildAccess(metrics)
	c.Enforcer = isolation.NewEnforcer(isolation.Config{
		Field:       cfg.Isolation.Field,
		QueryParam:  cfg.Isolation.QueryParam,
		MaxBodySize: cfg.Isolation.MaxBodySize,
	})
	if err = c.buildLimiter(ctx, metrics); err != nil {
		return err
	}
	if err = c.buildRecorder(metrics); err != nil {
		return err
	}
	if err = c.buildInvitations(ctx); err != nil {
		return err
	}
	if err = c.buildRouter(); err != nil {
		return err
	}

	checks := map[string]handler.Pinger{}
	if c.DB != nil {
		checks["postgres"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.AuthHandler = handler.NewAuthHandler(c.Codec, log)
	c.InvitationHandler = handler.NewInvitationHandler(c.Invitations)
	c.MembershipKeyHandler = handler.NewMembershipKeyHandler(cfg.Invitation.MembershipKeyBaseURL)

	return nil
}

func (c *Container) needsPostgres() bool {
	if c.directory == nil && c.Config.Tenant.Directory == "postgres" {
		return true
	}
	return c.Config.Audit.Enabled && hasSink(c.Config.Audit.Sinks, "postgres")
}

func (c *Container) needsRedis() bool {
	cfg := c.Config
	return cfg.JWT.RevocationEnabled ||
		cfg.Tenant.SharedCache ||
		len(cfg.Access.UsageRules) > 0 ||
		(cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis") ||
		cfg.Invitation.Store == "redis"
}

func (c *Container) connect(ctx context.Context) error {
	cfg := c.Config

	if c.needsPostgres() {
		pgCfg := database.DefaultPostgresConfig()
		pgCfg.Host = cfg.Database.Host
		pgCfg.Port = cfg.Database.Port
		pgCfg.User = cfg.Database.User
		pgCfg.Password = cfg.Database.Password
		pgCfg.Database = cfg.Database.DBName
		pgCfg.SSLMode = cfg.Database.SSLMode
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, pgCfg.DSN()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}

		db, err := database.NewPostgres(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.DB = db
		c.closers = append(c.closers, func() error { db.Close(); return nil })
		c.Log.Info("Connected to PostgreSQL", zap.String("host", cfg.Database.Host))
	}

	if c.needsRedis() {
		rdb, err := pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    pkgredis.DefaultConfig().MaxRetries,
			RetryInterval: pkgredis.DefaultConfig().RetryInterval,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, rdb.Close)
		c.Log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	}

	if cfg.Audit.Enabled && hasSink(cfg.Audit.Sinks, "kafka") {
		kc, err := audit.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return err
		}
		c.Kafka = kc
		c.closers = append(c.closers, func() error { kc.Close(); return nil })
		c.Log.Info("Kafka client ready", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.App.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		c.NATS = nc
		c.closers = append(c.closers, func() error { nc.Close(); return nil })
		c.Log.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	return nil
}

func (c *Container) buildCodec() error {
	cfg := c.Config.JWT

	var denylist credential.Denylist
	if cfg.RevocationEnabled {
		denylist = credential.NewRedisDenylist(c.Redis)
	}

	codec, err := credential.NewCodec(credential.Config{
		AccessSecret:    cfg.AccessSecret,
		RefreshSecret:   cfg.RefreshSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		BcryptCost:      cfg.BcryptCost,
		VerifyTimeout:   cfg.VerifyTimeout,
		Denylist:        denylist,
	})
	if err != nil {
		return fmt.Errorf("credential codec: %w", err)
	}
	c.Codec = codec
	return nil
}

func (c *Container) buildResolver(metrics *telemetry.GatewayMetrics) error {
	cfg := c.Config.Tenant

	directory := c.directory
	switch {
	case directory != nil:
	case cfg.Directory == "postgres":
		directory = tenant.NewPostgresDirectory(c.DB)
	default:
		directory = tenant.NewMemoryDirectory()
		c.Log.Warn("Using in-memory tenant directory")
	}

	local, err := cache.NewLocal(cfg.CacheMaxCost)
	if err != nil {
		return fmt.Errorf("tenant cache: %w", err)
	}
	c.closers = append(c.closers, func() error { local.Close(); return nil })

	var tenantCache cache.Cache = local
	if cfg.SharedCache {
		tenantCache = cache.NewTiered(local, cache.NewRedis(c.Redis, "tenant:"), cfg.LocalCacheTTL)
	}

	c.Resolver = tenant.NewResolver(tenant.ResolverConfig{
		Strategies: []tenant.Strategy{
			tenant.HeaderStrategy(),
			tenant.HostStrategy(cfg.BaseDomain, cfg.ReservedSubdomains),
			tenant.QueryStrategy(cfg.QueryParam),
			tenant.TokenClaimStrategy(c.Codec),
		},
		Directory:     directory,
		Cache:         tenantCache,
		CacheTTL:      cfg.CacheTTL,
		LookupTimeout: cfg.LookupTimeout,
		Logger:        c.Log,
		Metrics:       metrics,
	})

	if c.NATS != nil {
		inv := tenant.NewInvalidator(c.Resolver, c.Log)
		if err := inv.Subscribe(c.NATS, c.Config.NATS.TenantSubject); err != nil {
			return fmt.Errorf("tenant invalidation: %w", err)
		}
		c.closers = append(c.closers, inv.Close)
	}
	return nil
}

func (c *Container) buildAccess(metrics *telemetry.GatewayMetrics) {
	cfg := c.Config.Access

	features := make([]access.FeatureRule, 0, len(cfg.FeatureRules))
	for _, r := range cfg.FeatureRules {
		features = append(features, access.FeatureRule{PathPrefix: r.PathPrefix, Feature: r.Feature})
	}

	var accountant access.UsageAccountant
	if len(cfg.UsageRules) > 0 {
		usage := make([]access.UsageRule, 0, len(cfg.UsageRules))
		for _, r := range cfg.UsageRules {
			usage = append(usage, access.UsageRule{PathPrefix: r.PathPrefix, Metric: r.Metric})
		}
		accountant = access.NewRedisUsageAccountant(c.Redis, usage)
	}

	c.Validator = access.NewValidator(access.Config{
		FeatureRules:         features,
		Accountant:           accountant,
		UsageTimeout:         cfg.UsageTimeout,
		FailOpenOnUsageError: cfg.FailOpenOnUsageError,
		Logger:               c.Log,
		Metrics:              metrics,
	})
}

func (c *Container) buildLimiter(ctx context.Context, metrics *telemetry.GatewayMetrics) error {
	cfg := c.Config.RateLimit
	if !cfg.Enabled {
		return nil
	}

	var store ratelimit.Store
	switch cfg.Backend {
	case "redis":
		rs, err := ratelimit.NewRedisStore(ctx, c.Redis)
		if err != nil {
			return fmt.Errorf("rate limit store: %w", err)
		}
		store = rs
	default:
		ls := ratelimit.NewLocalStore(cfg.DefaultWindow)
		c.closers = append(c.closers, func() error { ls.Stop(); return nil })
		store = ls
	}

	rules := make([]ratelimit.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, ratelimit.Rule{PathPrefix: r.PathPrefix, Max: int64(r.Max), Window: r.Window})
	}

	c.Limiter = ratelimit.NewLimiter(ratelimit.Config{
		Store:         store,
		Rules:         rules,
		DefaultMax:    int64(cfg.DefaultMax),
		DefaultWindow: cfg.DefaultWindow,
		StoreTimeout:  cfg.StoreTimeout,
		Logger:        c.Log,
		Metrics:       metrics,
	})
	return nil
}

func (c *Container) buildRecorder(metrics *telemetry.GatewayMetrics) error {
	cfg := c.Config.Audit
	if !cfg.Enabled {
		return nil
	}

	var sinks audit.MultiSink
	for _, name := range cfg.Sinks {
		switch name {
		case "postgres":
			sinks = append(sinks, audit.NewPostgresSink(c.DB))
		case "kafka":
			sinks = append(sinks, audit.NewKafkaSink(c.Kafka, cfg.KafkaTopic))
		case "log":
			sinks = append(sinks, audit.NewLogSink(c.Log))
		default:
			return fmt.Errorf("unknown audit sink %q", name)
		}
	}

	var sink audit.Sink = sinks
	if len(sinks) == 1 {
		sink = sinks[0]
	}

	rc := audit.DefaultConfig(sink)
	rc.BufferSize = cfg.BufferSize
	rc.BatchSize = cfg.BatchSize
	rc.FlushInterval = cfg.FlushInterval
	rc.WriteTimeout = cfg.WriteTimeout
	rc.Logger = c.Log
	rc.Metrics = metrics
	c.Recorder = audit.NewRecorder(rc)

	for _, r := range cfg.Rules {
		c.AuditRules = append(c.AuditRules, middleware.AuditRule{
			Method:     r.Method,
			PathPrefix: r.PathPrefix,
			Action:     r.Action,
		})
	}
	return nil
}

func (c *Container) buildInvitations(ctx context.Context) error {
	cfg := c.Config.Invitation

	var store invitation.Store
	switch cfg.Store {
	case "redis":
		rs, err := invitation.NewRedisStore(ctx, c.Redis)
		if err != nil {
			return fmt.Errorf("invitation store: %w", err)
		}
		store = rs
	default:
		store = invitation.NewMemoryStore()
	}

	c.Invitations = invitation.NewService(invitation.Config{
		Store:          store,
		Codes:          c.Codec,
		DefaultTTL:     cfg.DefaultTTL,
		DefaultMaxUses: cfg.DefaultMaxUses,
		Logger:         c.Log,
	})
	return nil
}

func (c *Container) buildRouter() error {
	routes := make([]proxy.RouteConfig, 0, len(c.Config.Routes))
	for _, r := range c.Config.Routes {
		routes = append(routes, proxy.RouteConfig{
			PathPrefix:  r.PathPrefix,
			RequireAuth: r.RequireAuth,
			Service: proxy.ServiceConfig{
				Name:    serviceName(r.PathPrefix),
				BaseURL: r.URL,
			},
		})
	}

	rp, err := proxy.NewReverseProxy(proxy.ProxyConfig{Routes: routes}, c.Log)
	if err != nil {
		return fmt.Errorf("reverse proxy: %w", err)
	}
	c.Router = proxy.NewRouter(rp, middleware.Authenticate(c.Codec))
	return nil
}

// Close releases every connection in reverse order of opening. The audit
// recorder is drained first so buffered records reach their sinks.
func (c *Container) Close() error {
	var errs []error
	if c.Recorder != nil {
		if err := c.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit recorder: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func hasSink(sinks []string, name string) bool {
	for _, s := range sinks {
		if s == name {
			return true
		}
	}
	return false
}

// serviceName derives a downstream name from its prefix, "/api/v1/members" -> "members"
func serviceName(prefix string) string {
	trimmed := strings.Trim(prefix, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return "root"
	}
	return trimmed
}
