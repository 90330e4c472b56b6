package access

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/membership-gateway/pkg/httppath"
	pkgredis "github.com/prohmpiriya/membership-gateway/pkg/redis"
)

// UsageRule meters requests under PathPrefix against Metric
type UsageRule struct {
	PathPrefix string
	Metric     string
}

// RedisUsageAccountant reads usage counters maintained by the platform's
// metering services. The current value lives at usage:{tenant}:{metric} and
// limits in the hash usage:limits:{tenant}.
type RedisUsageAccountant struct {
	client *pkgredis.Client
	rules  []UsageRule
}

// NewRedisUsageAccountant creates a new RedisUsageAccountant
func NewRedisUsageAccountant(client *pkgredis.Client, rules []UsageRule) *RedisUsageAccountant {
	sorted := append([]UsageRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].PathPrefix) > len(sorted[j].PathPrefix)
	})
	return &RedisUsageAccountant{client: client, rules: sorted}
}

// Metric returns the metric path is metered against, if any
func (a *RedisUsageAccountant) Metric(path string) (string, bool) {
	for _, rule := range a.rules {
		if httppath.HasPrefix(path, rule.PathPrefix) {
			return rule.Metric, true
		}
	}
	return "", false
}

// Usage reads the current value and limit in a single round trip
func (a *RedisUsageAccountant) Usage(ctx context.Context, tenantID, path string) (*Usage, error) {
	metric, ok := a.Metric(path)
	if !ok {
		return nil, nil
	}

	pipe := a.client.Pipeline()
	current := pipe.Get(ctx, CounterKey(tenantID, metric))
	limit := pipe.HGet(ctx, LimitsKey(tenantID), metric)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read usage for %s: %w", metric, err)
	}

	usage := &Usage{Metric: metric}
	var err error
	if usage.Current, err = int64OrZero(current); err != nil {
		return nil, fmt.Errorf("invalid usage counter for %s: %w", metric, err)
	}
	if usage.Limit, err = int64OrZero(limit); err != nil {
		return nil, fmt.Errorf("invalid usage limit for %s: %w", metric, err)
	}
	return usage, nil
}

// CounterKey is the key holding a tenant's current usage of metric
func CounterKey(tenantID, metric string) string {
	return "usage:" + tenantID + ":" + metric
}

// LimitsKey is the hash holding a tenant's usage limits by metric
func LimitsKey(tenantID string) string {
	return "usage:limits:" + tenantID
}

func int64OrZero(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
