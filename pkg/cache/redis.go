package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgredis "github.com/prohmpiriya/membership-gateway/pkg/redis"
)

// Redis is a cache shared by every gateway instance
type Redis struct {
	client *pkgredis.Client
	prefix string
}

// NewRedis creates a Redis cache. Keys are stored under prefix.
func NewRedis(client *pkgredis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, pkgredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis cache delete %s: %w", key, err)
	}
	return nil
}
