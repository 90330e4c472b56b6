// Package cache provides the byte-oriented caches used for tenant contexts: an
// in-process ristretto L1, a Redis L2 shared across gateway instances, and a
// tiered combination of the two.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a TTL. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
