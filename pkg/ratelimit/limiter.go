package ratelimit

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/httppath"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/telemetry"
)

// Rule caps requests under PathPrefix at Max per Window
type Rule struct {
	PathPrefix string
	Max        int64
	Window     time.Duration
}

// Config configures a Limiter
type Config struct {
	Store Store
	Rules []Rule
	// DefaultMax and DefaultWindow apply to routes no rule matches.
	// A zero DefaultMax leaves those routes unlimited.
	DefaultMax    int64
	DefaultWindow time.Duration
	StoreTimeout  time.Duration
	Logger        *logger.Logger
	Metrics       *telemetry.GatewayMetrics
}

// Limiter applies per (tenant, route) limits
type Limiter struct {
	store         Store
	rules         []Rule
	defaultMax    int64
	defaultWindow time.Duration
	storeTimeout  time.Duration
	log           *logger.Logger
	metrics       *telemetry.GatewayMetrics
}

// NewLimiter creates a new Limiter
func NewLimiter(cfg Config) *Limiter {
	rules := append([]Rule(nil), cfg.Rules...)
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].PathPrefix) > len(rules[j].PathPrefix)
	})

	l := &Limiter{
		store:         cfg.Store,
		rules:         rules,
		defaultMax:    cfg.DefaultMax,
		defaultWindow: cfg.DefaultWindow,
		storeTimeout:  cfg.StoreTimeout,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
	}
	if l.defaultWindow <= 0 {
		l.defaultWindow = time.Minute
	}
	if l.storeTimeout <= 0 {
		l.storeTimeout = 100 * time.Millisecond
	}
	if l.log == nil {
		l.log = logger.NewNop()
	}
	return l
}

// Key is the counter key for a tenant and route
func Key(tenantID, routeKey string) string {
	return "tenant:" + tenantID + ":" + routeKey
}

// rule returns the limit for route and the key its counter is shared under
func (l *Limiter) rule(route string) (Rule, string, bool) {
	for _, r := range l.rules {
		if httppath.HasPrefix(route, r.PathPrefix) {
			return r, r.PathPrefix, true
		}
	}
	if l.defaultMax > 0 {
		key := httppath.Key(route)
		return Rule{PathPrefix: key, Max: l.defaultMax, Window: l.defaultWindow}, key, true
	}
	return Rule{}, "", false
}

// Allow takes one request from the tenant's window for route. A rejection is
// returned as a RATE_LIMIT_EXCEEDED error alongside the decision. Store
// failures admit the request.
func (l *Limiter) Allow(ctx context.Context, tenantID, route string) (Decision, error) {
	rule, routeKey, ok := l.rule(route)
	if !ok {
		return Decision{Allowed: true}, nil
	}

	sctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	d, err := l.store.Take(sctx, Key(tenantID, routeKey), rule.Max, rule.Window)
	if err != nil {
		l.log.WarnContext(ctx, "Rate limit store unavailable, admitting request",
			zap.String("tenant_id", tenantID),
			zap.String("route", routeKey),
			zap.Error(err),
		)
		return Decision{Allowed: true, Limit: rule.Max}, nil
	}

	l.metrics.RateLimitDecision(ctx, tenantID, routeKey, d.Allowed)
	if !d.Allowed {
		return d, apperror.RateLimitExceeded(rule.Max, RetryAfter(d.ResetIn))
	}
	return d, nil
}

// RetryAfter converts the remaining window to whole seconds, at least one
func RetryAfter(resetIn time.Duration) int64 {
	secs := int64(math.Ceil(resetIn.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
