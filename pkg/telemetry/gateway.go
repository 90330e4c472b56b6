package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var lookupBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2}

// GatewayMetrics holds the trust-boundary instruments. A nil *GatewayMetrics
// is valid and records nothing.
type GatewayMetrics struct {
	tenantResolutions metric.Int64Counter
	tenantCacheHits   metric.Int64Counter
	rateLimitDecision metric.Int64Counter
	accessDenials     metric.Int64Counter
	auditDropped      metric.Int64Counter
	tenantLookup      metric.Float64Histogram
}

// NewGatewayMetrics registers the gateway instruments on the global meter
func NewGatewayMetrics() (*GatewayMetrics, error) {
	return newGatewayMetrics(GetMeter())
}

func newGatewayMetrics(m metric.Meter) (*GatewayMetrics, error) {
	var g GatewayMetrics
	var errs []error

	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		errs = append(errs, err)
		return c
	}

	g.tenantResolutions = counter("gateway_tenant_resolutions_total", "Tenant resolutions by outcome")
	g.tenantCacheHits = counter("gateway_tenant_cache_hits_total", "Tenant cache lookups by hit or miss")
	g.rateLimitDecision = counter("gateway_rate_limit_decisions_total", "Rate limit decisions per tenant and route")
	g.accessDenials = counter("gateway_access_denials_total", "Requests denied by feature or usage gating")
	g.auditDropped = counter("gateway_audit_dropped_total", "Audit records dropped because the buffer was full")

	h, err := m.Float64Histogram("gateway_tenant_lookup_duration_seconds",
		metric.WithDescription("Tenant directory lookup latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lookupBuckets...),
	)
	errs = append(errs, err)
	g.tenantLookup = h

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &g, nil
}

func inc(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// TenantResolved counts a resolution outcome (resolved, missing, not_found, inactive, unavailable)
func (m *GatewayMetrics) TenantResolved(ctx context.Context, outcome, kind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{OutcomeAttr(outcome)}
	if kind != "" {
		attrs = append(attrs, IdentifierKindAttr(kind))
	}
	inc(ctx, m.tenantResolutions, attrs...)
}

// TenantCacheLookup counts a tenant cache hit or miss
func (m *GatewayMetrics) TenantCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	inc(ctx, m.tenantCacheHits, OutcomeAttr(result))
}

// TenantLookupDuration records a directory lookup latency
func (m *GatewayMetrics) TenantLookupDuration(ctx context.Context, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.tenantLookup.Record(ctx, d.Seconds(), metric.WithAttributes(OutcomeAttr(outcome)))
}

// RateLimitDecision counts an admit or reject decision
func (m *GatewayMetrics) RateLimitDecision(ctx context.Context, tenantID, route string, allowed bool) {
	if m == nil {
		return
	}
	decision := "reject"
	if allowed {
		decision = "admit"
	}
	inc(ctx, m.rateLimitDecision, TenantIDAttr(tenantID), RouteAttr(route), DecisionAttr(decision))
}

// AccessDenied counts a feature or usage denial by error code
func (m *GatewayMetrics) AccessDenied(ctx context.Context, tenantID, code string) {
	if m == nil {
		return
	}
	inc(ctx, m.accessDenials, TenantIDAttr(tenantID), ErrorCodeAttr(code))
}

// AuditDropped counts audit records dropped on a full buffer
func (m *GatewayMetrics) AuditDropped(ctx context.Context, action string) {
	if m == nil {
		return
	}
	inc(ctx, m.auditDropped, attribute.String("audit.action", action))
}
