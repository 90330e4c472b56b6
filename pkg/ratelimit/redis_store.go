package ratelimit

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/prohmpiriya/membership-gateway/pkg/redis"
)

const takeScriptName = "ratelimit_take"

// takeScript rejects without incrementing once the counter reaches the limit,
// so rejected requests never extend or inflate the window. A key left without
// a TTL is given one to avoid a permanent lockout.
const takeScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current >= limit then
    local ttl = redis.call("PTTL", key)
    if ttl < 0 then
        redis.call("PEXPIRE", key, window)
        ttl = window
    end
    return {0, current, ttl}
end

current = redis.call("INCR", key)
if current == 1 then
    redis.call("PEXPIRE", key, window)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    redis.call("PEXPIRE", key, window)
    ttl = window
end
return {1, current, ttl}
`

// RedisStore is a Store shared by every gateway instance
type RedisStore struct {
	client *pkgredis.Client
}

// NewRedisStore loads the take script and returns a RedisStore
func NewRedisStore(ctx context.Context, client *pkgredis.Client) (*RedisStore, error) {
	if _, err := client.LoadScript(ctx, takeScriptName, takeScript); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Take admits a request for key if the current window has capacity
func (s *RedisStore) Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	result, err := s.client.EvalShaByName(ctx, takeScriptName, []string{key}, limit, window.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit take %s: %w", key, err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("rate limit take %s: unexpected result length %d", key, len(result))
	}

	allowed, _ := result[0].(int64)
	count, _ := result[1].(int64)
	ttl, _ := result[2].(int64)

	return Decision{
		Allowed: allowed == 1,
		Count:   count,
		Limit:   limit,
		ResetIn: time.Duration(ttl) * time.Millisecond,
	}, nil
}
