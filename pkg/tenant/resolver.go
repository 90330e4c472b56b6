package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/cache"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/telemetry"
)

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	// Strategies are tried in order; the first candidate wins
	Strategies []Strategy
	Directory  Directory
	// Cache is optional; nil disables caching
	Cache         cache.Cache
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	Logger        *logger.Logger
	Metrics       *telemetry.GatewayMetrics
}

// Resolver turns requests into tenant contexts
type Resolver struct {
	strategies    []Strategy
	directory     Directory
	cache         cache.Cache
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	log           *logger.Logger
	metrics       *telemetry.GatewayMetrics
	group         singleflight.Group
}

// NewResolver creates a new Resolver
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		strategies:    cfg.Strategies,
		directory:     cfg.Directory,
		cache:         cfg.Cache,
		cacheTTL:      cfg.CacheTTL,
		lookupTimeout: cfg.LookupTimeout,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = 5 * time.Minute
	}
	if r.lookupTimeout <= 0 {
		r.lookupTimeout = 2 * time.Second
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}
	return r
}

// Identify returns the first candidate produced by the strategy chain
func (r *Resolver) Identify(req *http.Request) (Identifier, error) {
	for _, strategy := range r.strategies {
		if id, ok := strategy(req); ok {
			return id, nil
		}
	}
	return Identifier{}, apperror.TenantIdentifierMissing()
}

// Resolve identifies and loads the tenant for req, rejecting inactive tenants
func (r *Resolver) Resolve(req *http.Request) (*Context, error) {
	ctx := req.Context()

	id, err := r.Identify(req)
	if err != nil {
		r.metrics.TenantResolved(ctx, "missing", "")
		return nil, err
	}

	tc, err := r.Load(ctx, id)
	if err != nil {
		outcome := "unavailable"
		if errors.Is(err, apperror.ErrTenantNotFound) {
			outcome = "not_found"
		}
		r.metrics.TenantResolved(ctx, outcome, string(id.Kind))
		return nil, err
	}

	if !tc.IsActive() {
		r.metrics.TenantResolved(ctx, "inactive", string(id.Kind))
		return nil, apperror.TenantInactive(string(tc.Status))
	}

	r.metrics.TenantResolved(ctx, "resolved", string(id.Kind))
	return tc, nil
}

// Load returns the tenant for id from the cache or the directory. Concurrent
// misses for the same key share a single directory read. Every caller gets
// its own copy of the context.
func (r *Resolver) Load(ctx context.Context, id Identifier) (*Context, error) {
	key := id.CacheKey()

	if data, ok := r.cacheGet(ctx, key); ok {
		var tc Context
		if err := json.Unmarshal(data, &tc); err == nil {
			return &tc, nil
		}
		r.log.WarnContext(ctx, "Discarding undecodable tenant cache entry", zap.String("key", key))
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.fetch(ctx, id)
	})

	select {
	case <-ctx.Done():
		return nil, apperror.ServiceUnavailable("Tenant lookup cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		var tc Context
		if err := json.Unmarshal(res.Val.([]byte), &tc); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, "Failed to decode tenant", err)
		}
		return &tc, nil
	}
}

// fetch reads the directory and populates the cache. It runs detached from
// the caller's cancellation so that one departing caller does not fail the
// others waiting on the same key.
func (r *Resolver) fetch(ctx context.Context, id Identifier) ([]byte, error) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
	defer cancel()

	lctx, span := telemetry.StartSpan(lctx, "tenant.directory.lookup",
		trace.WithAttributes(telemetry.IdentifierKindAttr(string(id.Kind))),
	)
	defer span.End()

	start := time.Now()
	tc, err := r.directory.Lookup(lctx, id)
	if err == nil && tc == nil {
		err = ErrNotFound
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory lookup failed")
	}

	switch {
	case err == nil:
		r.metrics.TenantLookupDuration(ctx, time.Since(start), "found")
	case errors.Is(err, ErrNotFound):
		r.metrics.TenantLookupDuration(ctx, time.Since(start), "not_found")
		return nil, apperror.TenantNotFound(id.Value)
	default:
		r.metrics.TenantLookupDuration(ctx, time.Since(start), "error")
		r.log.ErrorContext(ctx, "Tenant directory lookup failed",
			zap.String("identifier", id.String()),
			zap.Error(err),
		)
		return nil, apperror.ServiceUnavailable("Tenant directory unavailable", err)
	}

	data, err := json.Marshal(tc)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "Failed to encode tenant", err)
	}

	r.cacheSet(lctx, id.CacheKey(), data)
	if idKey := cacheKey(KindID, tc.ID); idKey != id.CacheKey() {
		r.cacheSet(lctx, idKey, data)
	}
	return data, nil
}

// Invalidate evicts every cache entry that may hold tc
func (r *Resolver) Invalidate(ctx context.Context, tc *Context) {
	if r.cache == nil {
		return
	}
	for _, key := range cacheKeys(tc) {
		if err := r.cache.Delete(ctx, key); err != nil {
			r.log.WarnContext(ctx, "Failed to evict tenant cache entry",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

func (r *Resolver) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.WarnContext(ctx, "Tenant cache read failed, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		r.metrics.TenantCacheLookup(ctx, false)
		return nil, false
	}
	r.metrics.TenantCacheLookup(ctx, ok)
	return data, ok
}

func (r *Resolver) cacheSet(ctx context.Context, key string, data []byte) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		r.log.WarnContext(ctx, "Tenant cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
