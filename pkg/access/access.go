// Package access decides whether a resolved tenant may use a path: licensed
// features are gated by path prefix and metered usage is checked against the
// tenant's limit.
package access

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/httppath"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/telemetry"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// FeatureRule requires Feature for requests under PathPrefix. An empty
// Methods list applies the rule to every method.
type FeatureRule struct {
	PathPrefix string
	Feature    string
	Methods    []string
}

func (r FeatureRule) appliesTo(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Usage is a tenant's consumption of a metered resource
type Usage struct {
	Metric  string
	Current int64
	Limit   int64
}

// Exceeded reports whether the limit has been reached. A zero limit is unlimited.
func (u *Usage) Exceeded() bool {
	return u.Limit > 0 && u.Current >= u.Limit
}

// UsageAccountant reports usage for a tenant and path. A nil Usage means the
// path is not metered.
type UsageAccountant interface {
	Usage(ctx context.Context, tenantID, path string) (*Usage, error)
}

// Config configures a Validator
type Config struct {
	FeatureRules []FeatureRule
	// Accountant is optional; nil disables usage checks
	Accountant   UsageAccountant
	UsageTimeout time.Duration
	// FailOpenOnUsageError admits requests when the accountant fails
	FailOpenOnUsageError bool
	Logger               *logger.Logger
	Metrics              *telemetry.GatewayMetrics
}

// Validator checks feature licensing and usage limits
type Validator struct {
	rules        []FeatureRule
	accountant   UsageAccountant
	usageTimeout time.Duration
	failOpen     bool
	log          *logger.Logger
	metrics      *telemetry.GatewayMetrics
}

// NewValidator creates a new Validator
func NewValidator(cfg Config) *Validator {
	rules := append([]FeatureRule(nil), cfg.FeatureRules...)
	// Longest prefix first so the most specific rule wins.
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].PathPrefix) > len(rules[j].PathPrefix)
	})

	v := &Validator{
		rules:        rules,
		accountant:   cfg.Accountant,
		usageTimeout: cfg.UsageTimeout,
		failOpen:     cfg.FailOpenOnUsageError,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if v.usageTimeout <= 0 {
		v.usageTimeout = time.Second
	}
	if v.log == nil {
		v.log = logger.NewNop()
	}
	return v
}

// RequiredFeature returns the feature gating method and path, if any
func (v *Validator) RequiredFeature(method, path string) (string, bool) {
	for _, rule := range v.rules {
		if httppath.HasPrefix(path, rule.PathPrefix) && rule.appliesTo(method) {
			return rule.Feature, true
		}
	}
	return "", false
}

// Check returns nil when tc may access path
func (v *Validator) Check(ctx context.Context, tc *tenant.Context, method, path string) error {
	if feature, ok := v.RequiredFeature(method, path); ok && !tc.HasFeature(feature) {
		v.metrics.AccessDenied(ctx, tc.ID, string(apperror.CodeFeatureNotLicensed))
		return apperror.FeatureNotLicensed(feature)
	}

	if v.accountant == nil {
		return nil
	}

	uctx, cancel := context.WithTimeout(ctx, v.usageTimeout)
	defer cancel()

	usage, err := v.accountant.Usage(uctx, tc.ID, path)
	if err != nil {
		if v.failOpen {
			v.log.WarnContext(ctx, "Usage check failed, admitting request",
				zap.String("tenant_id", tc.ID),
				zap.String("path", path),
				zap.Error(err),
			)
			return nil
		}
		v.metrics.AccessDenied(ctx, tc.ID, string(apperror.CodeServiceUnavailable))
		return apperror.ServiceUnavailable("Usage accounting unavailable", err)
	}

	if usage != nil && usage.Exceeded() {
		v.metrics.AccessDenied(ctx, tc.ID, string(apperror.CodeUsageLimitExceeded))
		return apperror.UsageLimitExceeded(usage.Limit, usage.Current)
	}
	return nil
}
