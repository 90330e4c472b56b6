package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FeatureRule gates a path prefix behind a licensed feature.
// Format: "prefix=feature".
type FeatureRule struct {
	PathPrefix string
	Feature    string
}

// UsageRule maps a path prefix to a metered usage metric.
// Format: "prefix=metric".
type UsageRule struct {
	PathPrefix string
	Metric     string
}

// RateRule limits a path prefix per tenant.
// Format: "prefix=max/window", e.g. "/api/v1/auth=20/1m".
type RateRule struct {
	PathPrefix string
	Max        int
	Window     time.Duration
}

// AuditRule marks a method and path prefix as a privileged action.
// Format: "METHOD prefix=action"; METHOD may be "*".
type AuditRule struct {
	Method     string
	PathPrefix string
	Action     string
}

// RouteRule proxies a path prefix to a downstream service.
// Format: "prefix|url|auth" where auth is "auth" or "public".
type RouteRule struct {
	PathPrefix  string
	URL         string
	RequireAuth bool
}

// ParseFeatureRules parses a comma separated list of feature rules
func ParseFeatureRules(s string) ([]FeatureRule, error) {
	var rules []FeatureRule
	for _, item := range splitList(s) {
		prefix, feature, err := splitPair(item)
		if err != nil {
			return nil, fmt.Errorf("feature rule %q: %w", item, err)
		}
		rules = append(rules, FeatureRule{PathPrefix: prefix, Feature: feature})
	}
	return rules, nil
}

// ParseUsageRules parses a comma separated list of usage rules
func ParseUsageRules(s string) ([]UsageRule, error) {
	var rules []UsageRule
	for _, item := range splitList(s) {
		prefix, metric, err := splitPair(item)
		if err != nil {
			return nil, fmt.Errorf("usage rule %q: %w", item, err)
		}
		rules = append(rules, UsageRule{PathPrefix: prefix, Metric: metric})
	}
	return rules, nil
}

// ParseRateRules parses a comma separated list of rate rules
func ParseRateRules(s string) ([]RateRule, error) {
	var rules []RateRule
	for _, item := range splitList(s) {
		prefix, spec, err := splitPair(item)
		if err != nil {
			return nil, fmt.Errorf("rate rule %q: %w", item, err)
		}

		maxStr, windowStr, ok := strings.Cut(spec, "/")
		if !ok {
			return nil, fmt.Errorf("rate rule %q: expected max/window", item)
		}
		limit, err := strconv.Atoi(maxStr)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("rate rule %q: invalid max", item)
		}
		window, err := time.ParseDuration(windowStr)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("rate rule %q: invalid window", item)
		}

		rules = append(rules, RateRule{PathPrefix: prefix, Max: limit, Window: window})
	}
	return rules, nil
}

// ParseAuditRules parses a comma separated list of audit rules
func ParseAuditRules(s string) ([]AuditRule, error) {
	var rules []AuditRule
	for _, item := range splitList(s) {
		method, rest, ok := strings.Cut(item, " ")
		if !ok {
			return nil, fmt.Errorf("audit rule %q: expected METHOD prefix=action", item)
		}
		prefix, action, err := splitPair(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("audit rule %q: %w", item, err)
		}
		rules = append(rules, AuditRule{
			Method:     strings.ToUpper(method),
			PathPrefix: prefix,
			Action:     action,
		})
	}
	return rules, nil
}

// ParseRoutes parses a comma separated list of downstream routes
func ParseRoutes(s string) ([]RouteRule, error) {
	var routes []RouteRule
	for _, item := range splitList(s) {
		parts := strings.Split(item, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("route %q: expected prefix|url|auth", item)
		}

		prefix := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with /", item)
		}
		target, err := url.Parse(strings.TrimSpace(parts[1]))
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("route %q: invalid url", item)
		}

		var requireAuth bool
		switch strings.TrimSpace(parts[2]) {
		case "auth":
			requireAuth = true
		case "public":
		default:
			return nil, fmt.Errorf("route %q: auth must be auth or public", item)
		}

		routes = append(routes, RouteRule{
			PathPrefix:  prefix,
			URL:         target.String(),
			RequireAuth: requireAuth,
		})
	}
	return routes, nil
}

func splitPair(item string) (string, string, error) {
	key, value, ok := strings.Cut(item, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return "", "", fmt.Errorf("expected key=value")
	}
	return key, value, nil
}
